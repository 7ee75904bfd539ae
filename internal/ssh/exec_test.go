package ssh

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestStreamLines(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "single line",
			input:    "hello world\n",
			expected: []string{"hello world"},
		},
		{
			name:     "multiple lines",
			input:    "line1\nline2\nline3\n",
			expected: []string{"line1", "line2", "line3"},
		},
		{
			name:     "no trailing newline",
			input:    "Step 1/4\nStep 2/4",
			expected: []string{"Step 1/4", "Step 2/4"},
		},
		{
			name:     "blank lines dropped",
			input:    "a\n\nb\n",
			expected: []string{"a", "b"},
		},
		{
			name:     "empty input",
			input:    "",
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			streamLines(strings.NewReader(tt.input), &buf)

			lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
			if len(tt.expected) == 0 {
				if buf.Len() != 0 {
					t.Errorf("expected no output, got %q", buf.String())
				}
				return
			}
			if len(lines) != len(tt.expected) {
				t.Fatalf("got %d lines, want %d: %q", len(lines), len(tt.expected), buf.String())
			}
			for i, exp := range tt.expected {
				if lines[i] != exp {
					t.Errorf("line %d = %q, want %q", i, lines[i], exp)
				}
			}
		})
	}
}

func TestStreamLines_LongLineIsNotSplit(t *testing.T) {
	longLine := strings.Repeat("x", 2000)
	var buf bytes.Buffer

	streamLines(strings.NewReader(longLine+"\n"), &buf)

	if buf.String() != longLine+"\n" {
		t.Errorf("long line was split or altered (len %d)", buf.Len())
	}
}

func TestExecResult_Combined(t *testing.T) {
	r := &ExecResult{Stdout: "out\n", Stderr: "err\n"}
	if got := r.Combined(); got != "out\nerr" {
		t.Errorf("Combined() = %q", got)
	}
	r = &ExecResult{Stderr: "only err\n"}
	if got := r.Combined(); got != "only err" {
		t.Errorf("Combined() = %q", got)
	}
}

func TestExitResult_PassesThroughTransportErrors(t *testing.T) {
	_, err := exitResult(&ExecResult{}, errors.New("channel closed"))
	if err == nil || !strings.Contains(err.Error(), "failed to execute command") {
		t.Errorf("expected wrapped error, got %v", err)
	}

	r, err := exitResult(&ExecResult{Stdout: "ok"}, nil)
	if err != nil || r.ExitCode != 0 {
		t.Errorf("exitResult(nil) = %+v, %v", r, err)
	}
}
