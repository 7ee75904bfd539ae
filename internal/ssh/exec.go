package ssh

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
)

// ExecResult holds the result of a command execution
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Combined returns stdout followed by stderr, trimmed.
func (r *ExecResult) Combined() string {
	return strings.TrimSpace(strings.TrimSpace(r.Stdout) + "\n" + strings.TrimSpace(r.Stderr))
}

// Exec executes a command on the remote server. A non-zero exit status is
// reported through ExecResult.ExitCode, not as an error.
func (c *Client) Exec(ctx context.Context, command string) (*ExecResult, error) {
	return c.ExecInput(ctx, command, nil)
}

// ExecInput executes a command with stdin connected to in.
func (c *Client) ExecInput(ctx context.Context, command string, in io.Reader) (*ExecResult, error) {
	session, err := c.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if in != nil {
		session.Stdin = in
	}

	err = runSession(ctx, session, command)

	result := &ExecResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	return exitResult(result, err)
}

// ExecStream executes a command and writes its output line by line to out.
// Stdout and stderr are both forwarded.
func (c *Client) ExecStream(ctx context.Context, command string, out io.Writer) (*ExecResult, error) {
	session, err := c.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	stdout, err := session.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	var mu sync.Mutex
	w := &lockedWriter{w: out, mu: &mu}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); streamLines(stdout, w) }()
	go func() { defer wg.Done(); streamLines(stderr, w) }()

	err = runSession(ctx, session, command)
	wg.Wait()

	return exitResult(&ExecResult{}, err)
}

// runSession runs command and kills it if ctx is cancelled first.
func runSession(ctx context.Context, session *ssh.Session, command string) error {
	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		<-done
		return ctx.Err()
	}
}

func exitResult(result *ExecResult, err error) (*ExecResult, error) {
	if err == nil {
		return result, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitStatus()
		return result, nil
	}
	var missing *ssh.ExitMissingError
	if errors.As(err, &missing) {
		result.ExitCode = -1
		return result, nil
	}
	return result, fmt.Errorf("failed to execute command: %w", err)
}

type lockedWriter struct {
	w  io.Writer
	mu *sync.Mutex
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func streamLines(r io.Reader, w io.Writer) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			fmt.Fprintln(w, line)
		}
	}
	// Drain whatever is left so the remote side never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, r)
}
