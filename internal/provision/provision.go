// Package provision makes sure the remote host can build, run and proxy the
// application.
package provision

import (
	"context"
	"fmt"

	"github.com/yoanbernabeu/hostdeploy/internal/deployerr"
	"github.com/yoanbernabeu/hostdeploy/internal/remote"
	"github.com/yoanbernabeu/hostdeploy/internal/runlog"
	"github.com/yoanbernabeu/hostdeploy/internal/security"
)

// SudoPrefix escalates privileges without ever prompting.
const SudoPrefix = "sudo -n"

// Compose commands, in preference order.
const (
	ComposePlugin = "docker compose"
	ComposeLegacy = "docker-compose"
)

// Capabilities is what later stages may rely on.
type Capabilities struct {
	User string
	Root bool
	// Sudo is the prefix for privileged commands, empty for root.
	Sudo    string
	Docker  bool
	Compose string
	Nginx   bool
	// DockerVersion is the server version reported by the engine, if known.
	DockerVersion string
}

// HasCompose reports whether a compose command is available.
func (c *Capabilities) HasCompose() bool {
	return c.Compose != ""
}

func (c *Capabilities) String() string {
	compose := c.Compose
	if compose == "" {
		compose = "none"
	}
	return fmt.Sprintf("root=%t docker=%t compose=%s nginx=%t", c.Root, c.Docker, compose, c.Nginx)
}

// Installer inspects and installs the container runtime and the proxy.
type Installer struct {
	runner *remote.Runner
	log    *runlog.Logger
}

// New returns an Installer.
func New(runner *remote.Runner, log *runlog.Logger) *Installer {
	return &Installer{runner: runner, log: log}
}

// Inspect reports what is installed without changing anything.
func (i *Installer) Inspect(ctx context.Context) (*Capabilities, error) {
	caps := &Capabilities{}

	uid, err := i.runner.Output(ctx, remote.Step{Name: "id", Command: "id -u"})
	if err != nil {
		return nil, err
	}
	if caps.User, err = i.runner.Output(ctx, remote.Step{Name: "id", Command: "id -un"}); err != nil {
		return nil, err
	}
	caps.Root = uid == "0"
	if !caps.Root {
		caps.Sudo = SudoPrefix
	}
	r := i.runner.WithSudo(caps.Sudo)

	if caps.Docker, err = r.Check(ctx, remote.Step{Name: "docker", Command: "command -v docker"}); err != nil {
		return nil, err
	}
	if caps.Docker {
		if caps.Compose, err = i.detectCompose(ctx, r); err != nil {
			return nil, err
		}
	}
	if caps.Nginx, err = r.Check(ctx, remote.Step{Name: "nginx", Command: "command -v nginx || test -x /usr/sbin/nginx"}); err != nil {
		return nil, err
	}

	i.log.Debug("capabilities: %s", caps)
	return caps, nil
}

func (i *Installer) detectCompose(ctx context.Context, r *remote.Runner) (string, error) {
	for _, cmd := range []string{ComposePlugin, ComposeLegacy} {
		ok, err := r.Check(ctx, remote.Step{Name: "compose", Command: cmd + " version", Privileged: true})
		if err != nil {
			return "", err
		}
		if ok {
			return cmd, nil
		}
	}
	return "", nil
}

// Ensure installs whatever Inspect finds missing. Any failed install is
// ErrProvisioning.
func (i *Installer) Ensure(ctx context.Context) (*Capabilities, error) {
	caps, err := i.Inspect(ctx)
	if err != nil {
		return nil, deployerr.Wrap(deployerr.ErrProvisioning, err)
	}
	if caps.Root {
		i.log.Info("Connected as root")
	} else {
		i.log.Info("Connected as a regular user, privileged steps use %q", caps.Sudo)
		if err := i.CheckSudo(ctx); err != nil {
			return nil, deployerr.Wrap(deployerr.ErrProvisioning, err)
		}
	}
	r := i.runner.WithSudo(caps.Sudo)

	if caps.Docker {
		i.log.Info("Docker is installed")
	} else {
		i.log.Info("Installing Docker")
		if err := r.RunAll(ctx,
			remote.Step{Name: "install docker", Command: "curl -fsSL https://get.docker.com | sh", Policy: remote.MustSucceed, Privileged: true, Stream: true},
			remote.Step{Name: "enable docker", Command: "systemctl enable --now docker", Policy: remote.BestEffort, Privileged: true},
		); err != nil {
			return nil, deployerr.Wrap(deployerr.ErrProvisioning, err)
		}
		caps.Docker = true
		i.log.Success("Docker installed")
	}

	if !caps.Root && caps.User != "" {
		// BestEffort: only cancellation comes back as an error.
		if _, err := r.Run(ctx, remote.Step{
			Name:       "docker group",
			Command:    "usermod -aG docker " + security.ShellEscape(caps.User),
			Policy:     remote.BestEffort,
			Privileged: true,
		}); err != nil {
			return nil, deployerr.Wrap(deployerr.ErrProvisioning, err)
		}
	}

	if err := i.ensureCompose(ctx, r, caps); err != nil {
		return nil, deployerr.Wrap(deployerr.ErrProvisioning, err)
	}

	if caps.Nginx {
		i.log.Info("nginx is installed")
	} else {
		i.log.Info("Installing nginx")
		if err := r.RunAll(ctx,
			remote.Step{Name: "apt update", Command: "apt-get update", Policy: remote.MustSucceed, Privileged: true, Stream: true},
			remote.Step{Name: "install nginx", Command: "DEBIAN_FRONTEND=noninteractive apt-get install -y nginx", Policy: remote.MustSucceed, Privileged: true, Stream: true},
		); err != nil {
			return nil, deployerr.Wrap(deployerr.ErrProvisioning, err)
		}
		caps.Nginx = true
		i.log.Success("nginx installed")
	}

	if version, err := r.Output(ctx, remote.Step{Name: "docker version", Command: "docker version --format '{{.Server.Version}}'", Privileged: true}); err == nil {
		caps.DockerVersion = version
	}

	i.log.Success("Remote environment ready (%s)", caps)
	return caps, nil
}

func (i *Installer) ensureCompose(ctx context.Context, r *remote.Runner, caps *Capabilities) error {
	if caps.Compose == "" {
		// Docker may have been installed just now, with the plugin.
		compose, err := i.detectCompose(ctx, r)
		if err != nil {
			return err
		}
		caps.Compose = compose
	}
	if caps.Compose != "" {
		i.log.Info("Compose available as %q", caps.Compose)
		return nil
	}

	i.log.Info("Installing docker-compose")
	if err := r.RunAll(ctx,
		remote.Step{Name: "apt update", Command: "apt-get update", Policy: remote.MustSucceed, Privileged: true, Stream: true},
		remote.Step{Name: "install compose", Command: "DEBIAN_FRONTEND=noninteractive apt-get install -y docker-compose", Policy: remote.MustSucceed, Privileged: true, Stream: true},
	); err != nil {
		return err
	}
	compose, err := i.detectCompose(ctx, r)
	if err != nil {
		return err
	}
	if compose == "" {
		return fmt.Errorf("docker-compose was installed but neither %q nor %q works", ComposePlugin, ComposeLegacy)
	}
	caps.Compose = compose
	i.log.Success("Compose installed (%s)", compose)
	return nil
}

// CheckSudo fails when the user cannot escalate without a password.
func (i *Installer) CheckSudo(ctx context.Context) error {
	ok, err := i.runner.Check(ctx, remote.Step{Name: "sudo", Command: SudoPrefix + " true"})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("user cannot run %s; grant passwordless sudo or connect as root", SudoPrefix)
	}
	return nil
}
