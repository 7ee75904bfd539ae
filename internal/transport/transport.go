// Package transport mirrors the staged working copy to the remote
// application directory.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/yoanbernabeu/hostdeploy/internal/config"
	"github.com/yoanbernabeu/hostdeploy/internal/constants"
	"github.com/yoanbernabeu/hostdeploy/internal/deployerr"
	"github.com/yoanbernabeu/hostdeploy/internal/remote"
	"github.com/yoanbernabeu/hostdeploy/internal/runlog"
	"github.com/yoanbernabeu/hostdeploy/internal/security"
	"github.com/yoanbernabeu/hostdeploy/internal/ssh"
)

// Method is the mechanism used for a transfer.
type Method string

const (
	MethodRsync   Method = "rsync"
	MethodArchive Method = "archive"
)

// LocalRunner runs a local program and returns its combined output.
type LocalRunner func(ctx context.Context, name string, args ...string) (string, error)

// Transporter ships a directory to constants.RemoteAppDir on the target.
type Transporter struct {
	runner   *remote.Runner
	target   config.Target
	log      *runlog.Logger
	run      LocalRunner
	lookPath func(string) (string, error)
}

// New returns a Transporter using the local rsync binary when possible.
func New(runner *remote.Runner, target config.Target, log *runlog.Logger) *Transporter {
	return &Transporter{
		runner:   runner,
		target:   target,
		log:      log,
		run:      runLocal,
		lookPath: exec.LookPath,
	}
}

// Transfer mirrors localDir (without .git) to the remote application
// directory. Files deleted locally are deleted remotely by both methods.
func (t *Transporter) Transfer(ctx context.Context, localDir string) (Method, error) {
	if err := t.runner.RunAll(ctx, remote.Step{
		Name:    "create app directory",
		Command: "mkdir -p " + security.ShellEscape(constants.RemoteAppDir),
		Policy:  remote.MustSucceed,
	}); err != nil {
		return "", deployerr.Wrap(deployerr.ErrTransport, err)
	}

	method, err := t.choose(ctx)
	if err != nil {
		return "", deployerr.Wrap(deployerr.ErrTransport, err)
	}

	t.log.Info("Transferring %s to %s:~/%s via %s", localDir, t.target.Host, constants.RemoteAppDir, method)
	switch method {
	case MethodRsync:
		err = t.rsync(ctx, localDir)
	default:
		err = t.archive(ctx, localDir)
	}
	if err != nil {
		return method, deployerr.Wrap(deployerr.ErrTransport, err)
	}

	t.log.Success("Files transferred via %s", method)
	return method, nil
}

// choose prefers rsync when both ends have it. The system ssh runs in batch
// mode and cannot unlock a passphrase-protected key, so such keys use the
// archive stream over the already authenticated session.
func (t *Transporter) choose(ctx context.Context) (Method, error) {
	if t.target.Passphrase != "" {
		t.log.Debug("key is passphrase-protected, using archive transfer")
		return MethodArchive, nil
	}
	if _, err := t.lookPath("rsync"); err != nil {
		t.log.Debug("rsync not found locally")
		return MethodArchive, nil
	}
	ok, err := ssh.CommandExists(ctx, t.runner.Executor(), "rsync")
	if err != nil {
		return "", err
	}
	if !ok {
		t.log.Debug("rsync not found on %s", t.target.Host)
		return MethodArchive, nil
	}
	return MethodRsync, nil
}

// RsyncArgs returns the rsync argument list for localDir.
func (t *Transporter) RsyncArgs(localDir string) []string {
	sshCmd := []string{
		"ssh",
		"-p", strconv.Itoa(t.target.Port),
		"-o", "BatchMode=yes",
		"-o", "StrictHostKeyChecking=accept-new",
		"-o", "ConnectTimeout=" + strconv.Itoa(int(constants.ConnectTimeout.Seconds())),
	}
	if t.target.KeyPath != "" {
		sshCmd = append(sshCmd, "-i", security.ShellEscape(t.target.KeyPath))
	}

	return []string{
		"-az", "--delete",
		"--exclude", ".git",
		"-e", strings.Join(sshCmd, " "),
		strings.TrimRight(localDir, "/") + "/",
		fmt.Sprintf("%s:%s/", t.target.Address(), constants.RemoteAppDir),
	}
}

func (t *Transporter) rsync(ctx context.Context, localDir string) error {
	args := t.RsyncArgs(localDir)
	t.log.Debug("$ rsync %s", strings.Join(args, " "))

	out, err := t.run(ctx, "rsync", args...)
	t.log.Output("rsync", out)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("rsync failed: %w: %s", err, lastLine(t.log.Scrub(out)))
	}
	return nil
}

// archive streams a tarball into a fresh directory that then replaces the
// application directory.
func (t *Transporter) archive(ctx context.Context, localDir string) error {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(WriteArchive(pw, localDir))
	}()
	defer pr.Close()

	incoming := security.ShellEscape(constants.RemoteIncomingDir)
	app := security.ShellEscape(constants.RemoteAppDir)
	_, err := t.runner.RunInput(ctx, remote.Step{
		Name: "extract archive",
		Command: fmt.Sprintf("rm -rf %s && mkdir -p %s && tar xzf - -C %s && rm -rf %s && mv %s %s",
			incoming, incoming, incoming, app, incoming, app),
		Policy: remote.MustSucceed,
	}, pr)
	return err
}

func runLocal(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return string(output), fmt.Errorf("exit status %d", exitErr.ExitCode())
	}
	return string(output), err
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "\n"); i >= 0 {
		return s[i+1:]
	}
	return s
}
