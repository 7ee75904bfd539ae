// Package runlog provides the per-run log: every record is appended to a
// plaintext file and mirrored to stdout.
package runlog

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/yoanbernabeu/hostdeploy/internal/security"
)

// Logger writes structured run records (timestamp, level, stage, message).
// Debug records go to the file only.
type Logger struct {
	z        *zap.Logger
	path     string
	runID    string
	redactor *security.Redactor
	file     *os.File
}

// Open creates the log file at path and returns a Logger writing to it and to
// stdout.
func Open(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}
	l := New(f, os.Stdout)
	l.path = path
	l.file = f
	return l, nil
}

// New returns a Logger writing debug and above to file and info and above to
// console. Used directly by tests.
func New(file, console io.Writer) *Logger {
	runID := uuid.NewString()
	// run_id is only carried by the file records.
	fileCore := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), zapcore.AddSync(file), zapcore.DebugLevel).
		With([]zapcore.Field{zap.String("run_id", runID)})
	consoleCore := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), zapcore.AddSync(console), zapcore.InfoLevel)

	return &Logger{
		z:        zap.New(zapcore.NewTee(fileCore, consoleCore)),
		runID:    runID,
		redactor: &security.Redactor{},
	}
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{z: zap.NewNop(), redactor: &security.Redactor{}}
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:          "ts",
		LevelKey:         "level",
		NameKey:          "stage",
		MessageKey:       "msg",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeTime:       zapcore.TimeEncoderOfLayout(time.RFC3339),
		EncodeDuration:   zapcore.StringDurationEncoder,
		EncodeName:       zapcore.FullNameEncoder,
		ConsoleSeparator: " ",
	}
}

// Path returns the log file path, empty for loggers not backed by a file.
func (l *Logger) Path() string {
	return l.path
}

// RunID returns the identifier attached to every record of this run.
func (l *Logger) RunID() string {
	return l.runID
}

// Redact registers a secret that must never appear in any record.
func (l *Logger) Redact(secret string) {
	l.redactor.Add(secret)
}

// Scrub applies the logger's redaction to s.
func (l *Logger) Scrub(s string) string {
	return l.redactor.Redact(s)
}

// Stage returns a Logger whose records are tagged with the given stage name.
// Redaction state is shared with the parent.
func (l *Logger) Stage(name string) *Logger {
	return &Logger{
		z:        l.z.Named(name),
		path:     l.path,
		runID:    l.runID,
		redactor: l.redactor,
	}
}

// Debug records detail that only belongs in the file (remote command output).
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.z.Debug(l.format(msg, args))
}

// Info records a progress line.
func (l *Logger) Info(msg string, args ...interface{}) {
	l.z.Info(l.format(msg, args))
}

// Success records a completed milestone. The line starts with SUCCESS.
func (l *Logger) Success(msg string, args ...interface{}) {
	l.z.Info("SUCCESS " + l.format(msg, args))
}

// Warn records a non-fatal problem.
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.z.Warn(l.format(msg, args))
}

// Error records a failure. The error text is redacted.
func (l *Logger) Error(msg string, err error) {
	if err == nil {
		l.z.Error(l.format(msg, nil))
		return
	}
	l.z.Error(l.format(msg, nil), zap.String("error", l.redactor.Redact(err.Error())))
}

// Output records multi-line command output at debug level, one record per line.
func (l *Logger) Output(label, output string) {
	output = strings.TrimRight(output, "\n")
	if strings.TrimSpace(output) == "" {
		return
	}
	for _, line := range strings.Split(output, "\n") {
		l.z.Debug(l.redactor.Redact(label + " | " + line))
	}
}

// Writer returns an io.Writer whose lines are recorded like Output.
func (l *Logger) Writer(label string) io.Writer {
	return writerFunc(func(p []byte) (int, error) {
		l.Output(label, string(p))
		return len(p), nil
	})
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

// Sync flushes the log and closes the file if Open created it.
func (l *Logger) Sync() error {
	_ = l.z.Sync()
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

func (l *Logger) format(msg string, args []interface{}) string {
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	return l.redactor.Redact(msg)
}
