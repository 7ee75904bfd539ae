package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yoanbernabeu/hostdeploy/internal/constants"
	"github.com/yoanbernabeu/hostdeploy/internal/deploy"
	"github.com/yoanbernabeu/hostdeploy/internal/deployerr"
	"github.com/yoanbernabeu/hostdeploy/internal/metrics"
	"github.com/yoanbernabeu/hostdeploy/internal/runlog"
)

const (
	modeDeploy  = "deploy"
	modeCleanup = "cleanup"
)

// newOrchestrator builds the pipeline; tests replace it.
var newOrchestrator = func(log *runlog.Logger, rec *metrics.Recorder) *deploy.Orchestrator {
	return deploy.NewOrchestrator(log, deploy.WithMetrics(rec))
}

func runRoot(cmd *cobra.Command, _ []string) error {
	mode := modeDeploy
	if cleanupFlag {
		mode = modeCleanup
	}

	// Installed before the prompts so that Ctrl-C while answering ends the
	// run like any other interruption.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := NewCollector(cmd.InOrStdin(), cmd.OutOrStdout())
	run, err := collectContext(ctx, collector, mode)
	if err != nil {
		PrintError("%v", err)
		return err
	}

	log, err := runlog.Open(constants.LogFileName(mode, time.Now()))
	if err != nil {
		PrintError("%v", err)
		return err
	}
	setActiveLog(log)
	defer func() {
		setActiveLog(nil)
		_ = log.Sync()
	}()
	PrintInfo("Writing the %s log to %s (run %s)", mode, log.Path(), log.RunID())

	rec := metrics.New(mode)
	runErr := run(ctx, newOrchestrator(log, rec))
	rec.Finish(runErr)
	writeMetrics(rec)

	if runErr != nil {
		if errors.Is(runErr, deployerr.ErrInterrupted) {
			PrintError("%s interrupted, see %s", mode, log.Path())
		} else {
			log.Error(fmt.Sprintf("%s failed, see %s", mode, log.Path()), runErr)
		}
		return runErr
	}
	return nil
}

type runFunc func(ctx context.Context, o *deploy.Orchestrator) error

// collectContext runs collect until ctx ends. A prompt blocked on input is
// abandoned and the terminal mode restored.
func collectContext(ctx context.Context, c *Collector, mode string) (runFunc, error) {
	restore := c.saveTerminal()
	type answers struct {
		run runFunc
		err error
	}
	done := make(chan answers, 1)
	go func() {
		run, err := collect(c, mode)
		done <- answers{run, err}
	}()

	select {
	case a := <-done:
		return a.run, a.err
	case <-ctx.Done():
		restore()
		return nil, deployerr.Wrap(deployerr.ErrInterrupted, ctx.Err())
	}
}

func collect(c *Collector, mode string) (runFunc, error) {
	if mode == modeCleanup {
		req, err := c.Cleanup()
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, o *deploy.Orchestrator) error { return o.Cleanup(ctx, req) }, nil
	}

	req, err := c.Deployment()
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, o *deploy.Orchestrator) error { return o.Deploy(ctx, req) }, nil
}

func writeMetrics(rec *metrics.Recorder) {
	path := os.Getenv(constants.MetricsFileEnv)
	if path == "" {
		return
	}
	if err := rec.WriteFile(path); err != nil {
		PrintWarning("%v", err)
		return
	}
	PrintInfo("Metrics written to %s", path)
}
