// Package remote runs named shell steps on the target host, each under an
// explicit failure policy.
package remote

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/yoanbernabeu/hostdeploy/internal/runlog"
	"github.com/yoanbernabeu/hostdeploy/internal/security"
	"github.com/yoanbernabeu/hostdeploy/internal/ssh"
)

// Policy decides what a failed step means for the run.
type Policy int

const (
	// MustSucceed aborts the stage when the step fails.
	MustSucceed Policy = iota
	// BestEffort logs a warning and continues.
	BestEffort
)

func (p Policy) String() string {
	switch p {
	case MustSucceed:
		return "must-succeed"
	case BestEffort:
		return "best-effort"
	default:
		return "unknown"
	}
}

// Step is one remote command.
type Step struct {
	Name    string
	Command string
	Policy  Policy
	// Privileged steps run through the runner's sudo prefix.
	Privileged bool
	// Stream forwards output to the log while the command runs.
	Stream bool
}

// StepError reports a failed MustSucceed step.
type StepError struct {
	Step     string
	ExitCode int
	Output   string
	Err      error
}

func (e *StepError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Step, e.Err)
	}
	msg := fmt.Sprintf("%s failed (exit %d)", e.Step, e.ExitCode)
	if out := lastLines(e.Output, 5); out != "" {
		msg += ": " + out
	}
	return msg
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Runner executes steps over an ssh.Executor and records each one.
type Runner struct {
	exec ssh.Executor
	log  *runlog.Logger
	sudo string
}

// NewRunner returns a Runner without privilege escalation.
func NewRunner(exec ssh.Executor, log *runlog.Logger) *Runner {
	return &Runner{exec: exec, log: log}
}

// WithSudo returns a copy of the runner that wraps privileged steps with
// prefix (e.g. "sudo -n"). An empty prefix runs them as-is.
func (r *Runner) WithSudo(prefix string) *Runner {
	c := *r
	c.sudo = prefix
	return &c
}

// WithLogger returns a copy of the runner recording to log.
func (r *Runner) WithLogger(log *runlog.Logger) *Runner {
	c := *r
	c.log = log
	return &c
}

// Executor returns the underlying executor.
func (r *Runner) Executor() ssh.Executor {
	return r.exec
}

// Logger returns the logger steps are recorded to.
func (r *Runner) Logger() *runlog.Logger {
	return r.log
}

// Command returns the command line a step will actually run.
func (r *Runner) Command(step Step) string {
	if step.Privileged && r.sudo != "" {
		return r.sudo + " sh -c " + security.ShellEscape(step.Command)
	}
	return step.Command
}

// Run executes one step. A BestEffort failure is logged and returns a nil
// error; a MustSucceed failure returns a *StepError. Cancellation always
// returns an error.
func (r *Runner) Run(ctx context.Context, step Step) (*ssh.ExecResult, error) {
	return r.run(ctx, step, nil)
}

// RunInput is Run with in connected to the command's stdin.
func (r *Runner) RunInput(ctx context.Context, step Step, in io.Reader) (*ssh.ExecResult, error) {
	return r.run(ctx, step, in)
}

func (r *Runner) run(ctx context.Context, step Step, in io.Reader) (*ssh.ExecResult, error) {
	command := r.Command(step)
	r.log.Debug("[%s] $ %s", step.Policy, security.SanitizeCommandForLog(command))

	var (
		result *ssh.ExecResult
		err    error
	)
	switch {
	case in != nil:
		result, err = r.exec.ExecInput(ctx, command, in)
		if result != nil {
			r.log.Output(step.Name, result.Combined())
		}
	case step.Stream:
		result, err = r.exec.ExecStream(ctx, command, r.log.Writer(step.Name))
	default:
		result, err = r.exec.Exec(ctx, command)
		if result != nil {
			r.log.Output(step.Name, result.Combined())
		}
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, ctxErr
	}

	if err == nil && result != nil && result.ExitCode == 0 {
		return result, nil
	}

	stepErr := &StepError{Step: step.Name, Err: err}
	if result != nil {
		stepErr.ExitCode = result.ExitCode
		stepErr.Output = r.log.Scrub(result.Combined())
	}

	if step.Policy == BestEffort {
		r.log.Warn("%s did not succeed, continuing: %s", step.Name, stepErr.Error())
		return result, nil
	}
	return result, stepErr
}

// RunAll executes steps in order and stops at the first MustSucceed failure.
func (r *Runner) RunAll(ctx context.Context, steps ...Step) error {
	for _, step := range steps {
		if _, err := r.Run(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

// Check runs a read-only step and reports whether it exited 0. The step's
// policy is ignored: a non-zero exit is an answer, not a failure. Transport
// errors and cancellation are returned.
func (r *Runner) Check(ctx context.Context, check Step) (bool, error) {
	result, err := r.query(ctx, check)
	if err != nil {
		return false, err
	}
	return result.ExitCode == 0, nil
}

// Output runs a read-only step and returns its trimmed stdout. A non-zero
// exit yields an empty string.
func (r *Runner) Output(ctx context.Context, check Step) (string, error) {
	result, err := r.query(ctx, check)
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		return "", nil
	}
	return strings.TrimSpace(result.Stdout), nil
}

func (r *Runner) query(ctx context.Context, check Step) (*ssh.ExecResult, error) {
	command := r.Command(check)
	r.log.Debug("[check] $ %s", security.SanitizeCommandForLog(command))
	result, err := r.exec.Exec(ctx, command)
	if err != nil {
		return nil, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	r.log.Output(check.Name, result.Combined())
	return result, nil
}

func lastLines(s string, n int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " / ")
}
