package ssh

import (
	"context"
	"io"
	"strings"
	"sync"
)

// MockExecutor is a test double that records commands and returns configured results.
type MockExecutor struct {
	ExecFunc func(ctx context.Context, command string) (*ExecResult, error)
	// Inputs holds the stdin consumed by each ExecInput call, keyed by command.
	Inputs   map[string][]byte
	Commands []string
	Closed   bool

	mu sync.Mutex
}

// Exec records the command and delegates to ExecFunc.
func (m *MockExecutor) Exec(ctx context.Context, command string) (*ExecResult, error) {
	m.mu.Lock()
	m.Commands = append(m.Commands, command)
	m.mu.Unlock()
	if m.ExecFunc != nil {
		return m.ExecFunc(ctx, command)
	}
	return &ExecResult{Stdout: "", Stderr: "", ExitCode: 0}, nil
}

// ExecInput drains in, records it and delegates to ExecFunc.
func (m *MockExecutor) ExecInput(ctx context.Context, command string, in io.Reader) (*ExecResult, error) {
	var data []byte
	if in != nil {
		var err error
		if data, err = io.ReadAll(in); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	if m.Inputs == nil {
		m.Inputs = make(map[string][]byte)
	}
	m.Inputs[command] = data
	m.mu.Unlock()
	return m.Exec(ctx, command)
}

// ExecStream delegates to ExecFunc and writes the result's output lines to out.
func (m *MockExecutor) ExecStream(ctx context.Context, command string, out io.Writer) (*ExecResult, error) {
	result, err := m.Exec(ctx, command)
	if err != nil || result == nil {
		return result, err
	}
	streamLines(strings.NewReader(result.Stdout+result.Stderr), out)
	return &ExecResult{ExitCode: result.ExitCode}, nil
}

// Close marks the mock closed.
func (m *MockExecutor) Close() error {
	m.Closed = true
	return nil
}

// Ran reports whether a recorded command contains substr.
func (m *MockExecutor) Ran(substr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.Commands {
		if strings.Contains(c, substr) {
			return true
		}
	}
	return false
}
