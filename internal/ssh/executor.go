package ssh

import (
	"context"
	"io"
)

// Executor abstracts remote command execution for testability.
type Executor interface {
	Exec(ctx context.Context, command string) (*ExecResult, error)
	ExecInput(ctx context.Context, command string, in io.Reader) (*ExecResult, error)
	ExecStream(ctx context.Context, command string, out io.Writer) (*ExecResult, error)
	Close() error
}

var _ Executor = (*Client)(nil)
