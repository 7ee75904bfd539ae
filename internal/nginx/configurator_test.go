package nginx

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/yoanbernabeu/hostdeploy/internal/deployerr"
	"github.com/yoanbernabeu/hostdeploy/internal/remote"
	"github.com/yoanbernabeu/hostdeploy/internal/runlog"
	"github.com/yoanbernabeu/hostdeploy/internal/ssh"
)

func indexOf(cmds []string, substr string) int {
	for i, c := range cmds {
		if strings.Contains(c, substr) {
			return i
		}
	}
	return -1
}

func TestConfigurator_Configure(t *testing.T) {
	mock := &ssh.MockExecutor{}
	c := NewConfigurator(remote.NewRunner(mock, runlog.Nop()).WithSudo("sudo -n"), runlog.Nop())

	if err := c.Configure(context.Background(), SiteParams{ServerName: "example.com", AppPort: 8080}); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}

	order := []string{
		"mkdir -p 'hostdeploy' && echo",
		"base64 -d > 'hostdeploy/site.nginx'",
		"mv '\\''hostdeploy/site.nginx'\\'' '\\''/etc/nginx/sites-available/hostdeploy'\\''",
		"ln -sf",
		"server_names_hash_bucket_size",
		"nginx -t",
		"systemctl reload nginx || systemctl restart nginx",
	}
	last := -1
	for _, want := range order {
		i := indexOf(mock.Commands, want)
		if i < 0 {
			t.Fatalf("missing %q in %v", want, mock.Commands)
		}
		if i <= last {
			t.Errorf("%q ran out of order", want)
		}
		last = i
	}
	if strings.HasPrefix(mock.Commands[0], "sudo") {
		t.Error("upload into the home directory should not need sudo")
	}
	for _, cmd := range mock.Commands {
		if strings.Contains(cmd, "/tmp/") {
			t.Errorf("site file must not pass through a shared directory: %q", cmd)
		}
	}
	if !strings.HasPrefix(mock.Commands[indexOf(mock.Commands, "nginx -t")], "sudo -n sh -c") {
		t.Error("nginx -t should run privileged")
	}
}

func TestConfigurator_InvalidConfigIsFatal(t *testing.T) {
	mock := &ssh.MockExecutor{ExecFunc: func(ctx context.Context, command string) (*ssh.ExecResult, error) {
		if strings.Contains(command, "nginx -t") {
			return &ssh.ExecResult{ExitCode: 1, Stderr: "nginx: [emerg] unknown directive"}, nil
		}
		return &ssh.ExecResult{}, nil
	}}
	c := NewConfigurator(remote.NewRunner(mock, runlog.Nop()), runlog.Nop())

	err := c.Configure(context.Background(), SiteParams{ServerName: "example.com", AppPort: 8080})
	if !errors.Is(err, deployerr.ErrProxyConfig) {
		t.Fatalf("expected ErrProxyConfig, got %v", err)
	}
	if mock.Ran("systemctl reload") {
		t.Error("nginx must not be reloaded with an invalid configuration")
	}
}

func TestConfigurator_ReloadIsBestEffort(t *testing.T) {
	mock := &ssh.MockExecutor{ExecFunc: func(ctx context.Context, command string) (*ssh.ExecResult, error) {
		if strings.Contains(command, "systemctl") {
			return &ssh.ExecResult{ExitCode: 1, Stderr: "System has not been booted with systemd"}, nil
		}
		return &ssh.ExecResult{}, nil
	}}
	c := NewConfigurator(remote.NewRunner(mock, runlog.Nop()), runlog.Nop())

	if err := c.Configure(context.Background(), SiteParams{ServerName: "example.com", AppPort: 8080}); err != nil {
		t.Errorf("reload failure should only warn, got %v", err)
	}
}

func TestConfigurator_RejectsBadParamsBeforeRemoteWork(t *testing.T) {
	mock := &ssh.MockExecutor{}
	c := NewConfigurator(remote.NewRunner(mock, runlog.Nop()), runlog.Nop())

	err := c.Configure(context.Background(), SiteParams{ServerName: "bad host", AppPort: 8080})
	if !errors.Is(err, deployerr.ErrProxyConfig) {
		t.Fatalf("expected ErrProxyConfig, got %v", err)
	}
	if len(mock.Commands) != 0 {
		t.Errorf("no remote command expected, got %v", mock.Commands)
	}
}
