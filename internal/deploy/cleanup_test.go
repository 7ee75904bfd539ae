package deploy

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/yoanbernabeu/hostdeploy/internal/provision"
	"github.com/yoanbernabeu/hostdeploy/internal/remote"
	"github.com/yoanbernabeu/hostdeploy/internal/runlog"
	"github.com/yoanbernabeu/hostdeploy/internal/ssh"
)

// deployedHost simulates the resources left by a deployment.
type deployedHost struct {
	compose   bool
	container bool
	image     bool
	appDir    bool
	site      bool
	nginxOK   bool
}

func (h *deployedHost) exec(_ context.Context, cmd string) (*ssh.ExecResult, error) {
	exists := func(b bool) (*ssh.ExecResult, error) {
		if b {
			return &ssh.ExecResult{}, nil
		}
		return &ssh.ExecResult{ExitCode: 1}, nil
	}
	switch {
	case strings.Contains(cmd, "test -f 'hostdeploy/app/docker-compose.yml'"):
		return exists(h.compose && h.appDir)
	case strings.Contains(cmd, "test -f"):
		return exists(false)
	case strings.Contains(cmd, "down --remove-orphans"):
		h.compose = false
	case strings.Contains(cmd, "docker ps -aq"):
		if h.container {
			return &ssh.ExecResult{Stdout: "3f2a9c1b7d4e\n"}, nil
		}
	case strings.Contains(cmd, "docker rm -f"):
		h.container = false
	case strings.Contains(cmd, "docker image inspect"):
		return exists(h.image)
	case strings.Contains(cmd, "docker rmi"):
		h.image = false
	case strings.Contains(cmd, "test -d 'hostdeploy'"):
		return exists(h.appDir)
	case strings.Contains(cmd, "rm -rf 'hostdeploy'"):
		h.appDir = false
	case strings.Contains(cmd, "test -e '/etc/nginx/sites-available/hostdeploy'"):
		return exists(h.site)
	case strings.Contains(cmd, "rm -f '/etc/nginx/sites-available/hostdeploy'"):
		h.site = false
	case strings.Contains(cmd, "nginx -t"):
		return exists(h.nginxOK)
	}
	return &ssh.ExecResult{}, nil
}

func newTestCleaner(host *deployedHost, caps *provision.Capabilities) (*Cleaner, *ssh.MockExecutor, *bytes.Buffer) {
	mock := &ssh.MockExecutor{ExecFunc: host.exec}
	var console bytes.Buffer
	log := runlog.New(&bytes.Buffer{}, &console)
	runner := remote.NewRunner(mock, log).WithSudo(caps.Sudo)
	return NewCleaner(runner, caps, log), mock, &console
}

func fullyDeployed() *deployedHost {
	return &deployedHost{compose: true, container: true, image: true, appDir: true, site: true, nginxOK: true}
}

func TestCleaner_RemovesEverything(t *testing.T) {
	host := fullyDeployed()
	c, mock, _ := newTestCleaner(host, rootCaps())

	res, err := c.Clean(context.Background())
	if err != nil {
		t.Fatalf("Clean() error = %v", err)
	}

	if host.compose || host.container || host.image || host.appDir || host.site {
		t.Errorf("resources left behind: %+v", *host)
	}
	if len(res.Removed) != 5 {
		t.Errorf("Removed = %q, want 5 entries", res.Removed)
	}
	if !mock.Ran("systemctl reload nginx") {
		t.Error("nginx should be reloaded after removing the site")
	}
}

func TestCleaner_Idempotent(t *testing.T) {
	host := fullyDeployed()
	c, _, _ := newTestCleaner(host, rootCaps())
	if _, err := c.Clean(context.Background()); err != nil {
		t.Fatalf("first Clean() error = %v", err)
	}

	c, mock, console := newTestCleaner(host, rootCaps())
	res, err := c.Clean(context.Background())
	if err != nil {
		t.Fatalf("second Clean() error = %v", err)
	}
	if len(res.Removed) != 0 {
		t.Errorf("second run removed %q", res.Removed)
	}
	for _, cmd := range []string{"docker rm -f", "docker rmi", "rm -rf", "rm -f"} {
		if mock.Ran(cmd) {
			t.Errorf("second run should not run %q", cmd)
		}
	}
	if !strings.Contains(console.String(), "container hostdeploy-app not found, skipping") {
		t.Errorf("missing skip line: %q", console.String())
	}
	if strings.Contains(console.String(), "WARN") {
		t.Errorf("nothing to remove should not warn: %q", console.String())
	}
}

func TestCleaner_NothingInstalled(t *testing.T) {
	caps := &provision.Capabilities{User: "deploy", Sudo: provision.SudoPrefix}
	c, mock, _ := newTestCleaner(&deployedHost{}, caps)

	res, err := c.Clean(context.Background())
	if err != nil {
		t.Fatalf("Clean() error = %v", err)
	}
	if mock.Ran("docker") || mock.Ran("nginx -t") {
		t.Errorf("no docker or nginx commands expected, got %q", mock.Commands)
	}
	if len(res.Skipped) != 4 {
		t.Errorf("Skipped = %q, want docker, app dir, site, nginx", res.Skipped)
	}
}

func TestCleaner_InvalidNginxNotReloaded(t *testing.T) {
	host := fullyDeployed()
	host.nginxOK = false
	c, mock, console := newTestCleaner(host, rootCaps())

	if _, err := c.Clean(context.Background()); err != nil {
		t.Fatalf("Clean() error = %v", err)
	}
	if mock.Ran("systemctl reload") {
		t.Error("nginx should not be reloaded with an invalid configuration")
	}
	if !strings.Contains(console.String(), "invalid configuration") {
		t.Errorf("missing warning: %q", console.String())
	}
}

func TestCleaner_FailuresAreBestEffort(t *testing.T) {
	host := fullyDeployed()
	mock := &ssh.MockExecutor{ExecFunc: func(ctx context.Context, cmd string) (*ssh.ExecResult, error) {
		if strings.Contains(cmd, "docker rmi") {
			return &ssh.ExecResult{Stderr: "image is being used by stopped container", ExitCode: 1}, nil
		}
		return host.exec(ctx, cmd)
	}}
	var console bytes.Buffer
	log := runlog.New(&bytes.Buffer{}, &console)
	c := NewCleaner(remote.NewRunner(mock, log), rootCaps(), log)

	res, err := c.Clean(context.Background())
	if err != nil {
		t.Fatalf("Clean() error = %v", err)
	}
	if host.appDir || host.site {
		t.Error("later steps should still run after a failed removal")
	}
	for _, r := range res.Removed {
		if strings.HasPrefix(r, "image") {
			t.Errorf("failed image removal counted as removed: %q", res.Removed)
		}
	}
	if len(res.Failed) != 1 || res.Failed[0] != "image hostdeploy-app:latest" {
		t.Errorf("Failed = %q, want the image", res.Failed)
	}
	out := console.String()
	if !strings.Contains(out, "could not remove image hostdeploy-app:latest") {
		t.Errorf("missing failure line: %q", out)
	}
	if strings.Contains(out, "SUCCESS Cleanup finished") {
		t.Errorf("incomplete cleanup reported as success: %q", out)
	}
}

// sudoDenied fails every escalated command the way sudo -n does without a
// cached credential.
func sudoDenied(host *deployedHost) func(context.Context, string) (*ssh.ExecResult, error) {
	return func(ctx context.Context, cmd string) (*ssh.ExecResult, error) {
		if strings.HasPrefix(cmd, "sudo -n") {
			return &ssh.ExecResult{Stderr: "sudo: a password is required\n", ExitCode: 1}, nil
		}
		return host.exec(ctx, cmd)
	}
}

func TestCleaner_WithoutPrivilege(t *testing.T) {
	host := fullyDeployed()
	caps := &provision.Capabilities{User: "deploy", Sudo: provision.SudoPrefix, Docker: true, Compose: provision.ComposePlugin, Nginx: true}
	mock := &ssh.MockExecutor{ExecFunc: sudoDenied(host)}
	var console bytes.Buffer
	log := runlog.New(&bytes.Buffer{}, &console)
	c := NewCleaner(remote.NewRunner(mock, log).WithSudo(caps.Sudo), caps, log).
		WithoutPrivilege(errors.New("user cannot run sudo -n"))

	res, err := c.Clean(context.Background())
	if err != nil {
		t.Fatalf("Clean() error = %v", err)
	}
	if len(res.Removed) != 0 {
		t.Errorf("Removed = %q, want nothing", res.Removed)
	}
	for _, s := range res.Skipped {
		if strings.HasPrefix(s, "container") || strings.HasPrefix(s, "image") {
			t.Errorf("%s reported as not found while it still exists", s)
		}
	}
	want := []string{
		"compose project hostdeploy",
		"container hostdeploy-app",
		"image hostdeploy-app:latest",
		"application directory hostdeploy",
		"nginx site hostdeploy",
	}
	if strings.Join(res.Failed, "|") != strings.Join(want, "|") {
		t.Errorf("Failed = %q, want %q", res.Failed, want)
	}
	if mock.Ran("sudo -n") {
		t.Errorf("no escalated command should run: %q", mock.Commands)
	}

	out := console.String()
	for _, line := range []string{"Privileged steps cannot run", "could not remove container hostdeploy-app", "Cleanup incomplete"} {
		if !strings.Contains(out, line) {
			t.Errorf("missing %q in %q", line, out)
		}
	}
	if strings.Contains(out, "not found, skipping") || strings.Contains(out, "SUCCESS") {
		t.Errorf("misleading output: %q", out)
	}
}

func TestCleaner_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	host := fullyDeployed()
	mock := &ssh.MockExecutor{ExecFunc: func(c context.Context, cmd string) (*ssh.ExecResult, error) {
		if strings.Contains(cmd, "docker rm -f") {
			cancel()
		}
		return host.exec(c, cmd)
	}}
	log := runlog.New(&bytes.Buffer{}, &bytes.Buffer{})
	c := NewCleaner(remote.NewRunner(mock, log), rootCaps(), log)

	if _, err := c.Clean(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Clean() error = %v, want context.Canceled", err)
	}
	if mock.Ran("rm -rf") {
		t.Error("nothing should run after cancellation")
	}
}

func TestCleaner_Sudo(t *testing.T) {
	caps := &provision.Capabilities{User: "deploy", Sudo: provision.SudoPrefix, Docker: true, Compose: provision.ComposeLegacy, Nginx: true}
	c, mock, _ := newTestCleaner(fullyDeployed(), caps)

	if _, err := c.Clean(context.Background()); err != nil {
		t.Fatalf("Clean() error = %v", err)
	}
	if !mock.Ran("sudo -n sh -c 'docker rm -f hostdeploy-app'") {
		t.Errorf("container removal should be escalated: %q", mock.Commands)
	}
	if !mock.Ran("docker-compose -p hostdeploy") {
		t.Errorf("legacy compose should be used: %q", mock.Commands)
	}
}
