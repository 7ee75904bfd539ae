package deploy

import (
	"context"
	"fmt"
	"time"

	"github.com/yoanbernabeu/hostdeploy/internal/constants"
	"github.com/yoanbernabeu/hostdeploy/internal/deployerr"
	"github.com/yoanbernabeu/hostdeploy/internal/provision"
	"github.com/yoanbernabeu/hostdeploy/internal/remote"
	"github.com/yoanbernabeu/hostdeploy/internal/runlog"
	"github.com/yoanbernabeu/hostdeploy/internal/scanner"
	"github.com/yoanbernabeu/hostdeploy/internal/security"
)

// Executor builds and starts the application on the remote host.
type Executor struct {
	runner *remote.Runner
	caps   *provision.Capabilities
	log    *runlog.Logger
	settle time.Duration
}

// NewExecutor returns an Executor. runner must carry caps.Sudo.
func NewExecutor(runner *remote.Runner, caps *provision.Capabilities, log *runlog.Logger) *Executor {
	return &Executor{runner: runner, caps: caps, log: log, settle: constants.SettleDelay}
}

// SetSettleDelay overrides the pause after start.
func (e *Executor) SetSettleDelay(d time.Duration) {
	e.settle = d
}

// Execute replaces whatever runs under the reserved names with a fresh build
// of the transferred tree. Failures are ErrDeploymentExecution.
func (e *Executor) Execute(ctx context.Context, desc *scanner.Descriptor, appPort int) error {
	state := NewDeployState(desc.Kind)

	err := e.execute(ctx, state, desc, appPort)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}

	e.log.Error(fmt.Sprintf("Deployment failed during %s", state.Phase), err)
	if state.WantsLogs() {
		e.captureLogs(ctx, desc)
	}
	return deployerr.Wrap(deployerr.ErrDeploymentExecution, err)
}

func (e *Executor) execute(ctx context.Context, state *DeployState, desc *scanner.Descriptor, appPort int) error {
	state.Advance(PhaseTeardown)
	removed, err := e.teardown(ctx)
	if err != nil {
		return err
	}
	state.PreviousRemoved = removed

	switch desc.Kind {
	case scanner.Compose:
		if err := e.compose(ctx, state, desc); err != nil {
			return err
		}
	default:
		if err := e.singleImage(ctx, state, appPort); err != nil {
			return err
		}
	}

	state.Advance(PhaseSettle)
	e.log.Info("Waiting %s for the application to settle", e.settle)
	if err := sleep(ctx, e.settle); err != nil {
		return err
	}

	state.Advance(PhaseDone)
	if state.PreviousRemoved {
		e.log.Success("Application started (%s), replacing the previous container", desc.Kind)
	} else {
		e.log.Success("Application started (%s)", desc.Kind)
	}
	return nil
}

// teardown removes the reserved container if any run left one behind.
func (e *Executor) teardown(ctx context.Context) (bool, error) {
	ids, err := e.runner.Output(ctx, containerIDsStep())
	if err != nil {
		return false, err
	}
	if ids == "" {
		e.log.Debug("no previous %s container", constants.ContainerName)
		return false, nil
	}

	e.log.Info("Removing previous container %s", constants.ContainerName)
	result, err := e.runner.Run(ctx, removeContainerStep())
	if err != nil {
		return false, err
	}
	return result != nil && result.ExitCode == 0, nil
}

func (e *Executor) compose(ctx context.Context, state *DeployState, desc *scanner.Descriptor) error {
	if !e.caps.HasCompose() {
		return fmt.Errorf("%s needs docker compose, which is not available", desc.File)
	}

	e.log.Info("Stopping previous compose project %s", constants.ComposeProject)
	if _, err := e.runner.Run(ctx, remote.Step{
		Name:       "compose down",
		Command:    composeCommand(e.caps.Compose, desc.File, "down --remove-orphans"),
		Policy:     remote.BestEffort,
		Privileged: true,
	}); err != nil {
		return err
	}

	state.Advance(PhaseBuild)
	e.log.Info("Building and starting services %v", desc.Services)
	_, err := e.runner.Run(ctx, remote.Step{
		Name:       "compose up",
		Command:    composeCommand(e.caps.Compose, desc.File, "up -d --build"),
		Policy:     remote.MustSucceed,
		Privileged: true,
		Stream:     true,
	})
	state.Advance(PhaseStart)
	return err
}

func (e *Executor) singleImage(ctx context.Context, state *DeployState, appPort int) error {
	publish, err := scanner.LoopbackPublish(appPort)
	if err != nil {
		return err
	}

	state.Advance(PhaseBuild)
	e.log.Info("Building image %s", constants.ImageName)
	if _, err := e.runner.Run(ctx, remote.Step{
		Name:       "docker build",
		Command:    fmt.Sprintf("cd %s && docker build -t %s .", security.ShellEscape(constants.RemoteAppDir), constants.ImageName),
		Policy:     remote.MustSucceed,
		Privileged: true,
		Stream:     true,
	}); err != nil {
		return err
	}

	state.Advance(PhaseStart)
	e.log.Info("Starting %s on %s", constants.ContainerName, publish)
	_, err = e.runner.Run(ctx, remote.Step{
		Name: "docker run",
		Command: fmt.Sprintf("docker run -d --name %s --restart unless-stopped -p %s %s",
			constants.ContainerName, publish, constants.ImageName),
		Policy:     remote.MustSucceed,
		Privileged: true,
	})
	return err
}

func (e *Executor) captureLogs(ctx context.Context, desc *scanner.Descriptor) {
	compose := ""
	if desc.Kind == scanner.Compose {
		compose = e.caps.Compose
	}
	e.log.Warn("Collecting the last %d lines of container output into %s", constants.ContainerLogLines, e.logPath())
	_, _ = e.runner.Run(ctx, containerLogsStep(compose, desc.File))
}

func (e *Executor) logPath() string {
	if p := e.log.Path(); p != "" {
		return p
	}
	return "the run log"
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
