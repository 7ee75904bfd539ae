package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/yoanbernabeu/hostdeploy/internal/config"
	"github.com/yoanbernabeu/hostdeploy/internal/constants"
	"github.com/yoanbernabeu/hostdeploy/internal/deployerr"
	"github.com/yoanbernabeu/hostdeploy/internal/ssh"
)

// Collector asks the operator for the run parameters, one line each.
type Collector struct {
	in  *bufio.Reader
	out io.Writer
	// fd is the terminal behind in, -1 when in is not a terminal.
	fd         int
	readSecret func(fd int) ([]byte, error)
}

// NewCollector returns a Collector reading answers from in. Secrets are read
// without echo when in is a terminal.
func NewCollector(in io.Reader, out io.Writer) *Collector {
	fd := -1
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd = int(f.Fd())
	}
	return &Collector{
		in:         bufio.NewReader(in),
		out:        out,
		fd:         fd,
		readSecret: term.ReadPassword,
	}
}

// saveTerminal returns a func that puts the terminal back in its current
// mode. An interrupted secret prompt would otherwise leave echo off.
func (c *Collector) saveTerminal() func() {
	if c.fd < 0 {
		return func() {}
	}
	state, err := term.GetState(c.fd)
	if err != nil {
		return func() {}
	}
	return func() { _ = term.Restore(c.fd, state) }
}

// Deployment asks for every deployment parameter. Defaults are applied but
// nothing is validated here.
func (c *Collector) Deployment() (*config.DeploymentRequest, error) {
	req := &config.DeploymentRequest{}
	var err error

	if req.RepoURL, err = c.ask("Git repository URL", ""); err != nil {
		return nil, err
	}
	if req.Token, err = c.secret("Access token (empty for a public repository)"); err != nil {
		return nil, err
	}
	if req.Branch, err = c.ask("Branch", constants.DefaultBranch); err != nil {
		return nil, err
	}
	if err := c.target(&req.SSHUser, &req.SSHHost, &req.SSHKeyPath); err != nil {
		return nil, err
	}

	port, err := c.ask("Application port", strconv.Itoa(constants.DefaultAppPort))
	if err != nil {
		return nil, err
	}
	if req.AppPort, err = strconv.Atoi(port); err != nil {
		return nil, deployerr.Wrap(deployerr.ErrInput, fmt.Errorf("application port %q is not a number", port))
	}

	req.ApplyDefaults()
	if req.KeyPassphrase, err = c.passphrase(req.SSHKeyPath); err != nil {
		return nil, err
	}
	return req, nil
}

// Cleanup asks for the SSH target only.
func (c *Collector) Cleanup() (*config.CleanupRequest, error) {
	req := &config.CleanupRequest{}
	if err := c.target(&req.SSHUser, &req.SSHHost, &req.SSHKeyPath); err != nil {
		return nil, err
	}

	req.ApplyDefaults()
	var err error
	if req.KeyPassphrase, err = c.passphrase(req.SSHKeyPath); err != nil {
		return nil, err
	}
	return req, nil
}

func (c *Collector) target(user, host, keyPath *string) error {
	var err error
	if *user, err = c.ask("SSH username", ""); err != nil {
		return err
	}
	if *host, err = c.ask("SSH host", ""); err != nil {
		return err
	}
	*keyPath, err = c.ask("SSH private key path (empty for ssh-agent or ~/.ssh defaults)", "")
	return err
}

// passphrase prompts only when keyPath is an encrypted key. Unreadable keys
// are left to request validation.
func (c *Collector) passphrase(keyPath string) (string, error) {
	if keyPath == "" {
		return "", nil
	}
	info, err := ssh.ValidateSSHKey(keyPath)
	if err != nil || !info.IsEncrypted {
		return "", nil
	}
	return c.secret(fmt.Sprintf("Passphrase for %s", info.Name))
}

// ask prints label and returns the trimmed answer, or def when it is empty.
func (c *Collector) ask(label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(c.out, "? %s [%s]: ", label, def)
	} else {
		fmt.Fprintf(c.out, "? %s: ", label)
	}

	answer, err := c.readLine()
	if err != nil {
		return "", err
	}
	if answer == "" {
		return def, nil
	}
	return answer, nil
}

func (c *Collector) secret(label string) (string, error) {
	fmt.Fprintf(c.out, "? %s: ", label)
	if c.fd < 0 {
		return c.readLine()
	}

	b, err := c.readSecret(c.fd)
	fmt.Fprintln(c.out)
	if err != nil {
		return "", deployerr.Wrap(deployerr.ErrInput, fmt.Errorf("failed to read %s: %w", strings.ToLower(label), err))
	}
	return strings.TrimSpace(string(b)), nil
}

// readLine returns the next answer. A closed input yields empty answers so
// defaults still apply.
func (c *Collector) readLine() (string, error) {
	line, err := c.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", deployerr.Wrap(deployerr.ErrInput, fmt.Errorf("failed to read answer: %w", err))
	}
	return strings.TrimSpace(line), nil
}
