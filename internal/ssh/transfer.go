package ssh

import (
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"strings"

	"github.com/yoanbernabeu/hostdeploy/internal/security"
)

// UploadContent writes content to remotePath.
// SECURITY: content travels base64-encoded so nothing in it reaches the shell.
func UploadContent(ctx context.Context, exec Executor, content, remotePath string) error {
	encoded := base64.StdEncoding.EncodeToString([]byte(content))

	cmd := fmt.Sprintf("mkdir -p %s && echo '%s' | base64 -d > %s",
		security.ShellEscape(path.Dir(remotePath)), encoded, security.ShellEscape(remotePath))

	result, err := exec.Exec(ctx, cmd)
	if err != nil {
		return fmt.Errorf("failed to upload content: %w", err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("failed to write %s: %s", remotePath, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// FileExists checks if a file exists on the remote server
func FileExists(ctx context.Context, exec Executor, remotePath string) (bool, error) {
	return remoteTest(ctx, exec, "-f", remotePath)
}

// DirectoryExists checks if a directory exists on the remote server
func DirectoryExists(ctx context.Context, exec Executor, remotePath string) (bool, error) {
	return remoteTest(ctx, exec, "-d", remotePath)
}

// CommandExists checks if a binary is on the remote PATH.
func CommandExists(ctx context.Context, exec Executor, name string) (bool, error) {
	result, err := exec.Exec(ctx, fmt.Sprintf("command -v %s", security.ShellEscape(name)))
	if err != nil {
		return false, err
	}
	return result.ExitCode == 0, nil
}

func remoteTest(ctx context.Context, exec Executor, flag, remotePath string) (bool, error) {
	result, err := exec.Exec(ctx, fmt.Sprintf("test %s %s", flag, security.ShellEscape(remotePath)))
	if err != nil {
		return false, err
	}
	return result.ExitCode == 0, nil
}
