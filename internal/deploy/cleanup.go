package deploy

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/yoanbernabeu/hostdeploy/internal/constants"
	"github.com/yoanbernabeu/hostdeploy/internal/nginx"
	"github.com/yoanbernabeu/hostdeploy/internal/provision"
	"github.com/yoanbernabeu/hostdeploy/internal/remote"
	"github.com/yoanbernabeu/hostdeploy/internal/runlog"
	"github.com/yoanbernabeu/hostdeploy/internal/security"
	"github.com/yoanbernabeu/hostdeploy/internal/ssh"
)

// CleanupResult lists what a cleanup removed, what it found absent and
// what it could not remove.
type CleanupResult struct {
	Removed []string
	Skipped []string
	Failed  []string
}

// Cleaner removes every resource a deployment creates. Each step only runs
// when its resource exists, and none of them can fail the run.
type Cleaner struct {
	runner *remote.Runner
	caps   *provision.Capabilities
	log    *runlog.Logger
	result *CleanupResult
	// noSudo is set when privileged steps cannot run.
	noSudo error
}

// NewCleaner returns a Cleaner. runner must carry caps.Sudo.
func NewCleaner(runner *remote.Runner, caps *provision.Capabilities, log *runlog.Logger) *Cleaner {
	return &Cleaner{runner: runner, caps: caps, log: log}
}

// WithoutPrivilege makes the cleaner leave privileged resources in place
// and report them as failed with reason.
func (c *Cleaner) WithoutPrivilege(reason error) *Cleaner {
	c.noSudo = reason
	return c
}

// Clean tears down the application and its proxy site. Only cancellation is
// returned as an error.
func (c *Cleaner) Clean(ctx context.Context) (*CleanupResult, error) {
	c.result = &CleanupResult{}
	if c.noSudo != nil {
		c.log.Warn("Privileged steps cannot run (%v), privileged resources are left in place", c.noSudo)
	}

	if c.caps.Docker {
		if err := c.docker(ctx); err != nil {
			return c.result, err
		}
	} else {
		c.skip("docker")
	}

	appDir := path.Dir(constants.RemoteAppDir)
	dirExists := func(ctx context.Context) (bool, error) {
		return ssh.DirectoryExists(ctx, c.runner.Executor(), appDir)
	}
	if err := c.remove(ctx, "application directory "+appDir, dirExists,
		remote.Step{Name: "remove app dir", Command: "rm -rf " + security.ShellEscape(appDir), Policy: remote.BestEffort, Privileged: true},
	); err != nil {
		return c.result, err
	}

	siteExists := func(ctx context.Context) (bool, error) {
		return c.runner.Check(ctx, remote.Step{
			Name: "find site",
			Command: fmt.Sprintf("test -e %s || test -L %s",
				security.ShellEscape(constants.NginxAvailablePath()), security.ShellEscape(constants.NginxEnabledPath())),
		})
	}
	if err := c.remove(ctx, "nginx site "+constants.SiteName, siteExists, nginx.RemoveSiteSteps()...); err != nil {
		return c.result, err
	}

	switch {
	case !c.caps.Nginx:
		c.skip("nginx")
	case c.noSudo != nil:
		c.log.Warn("Not reloading nginx: %v", c.noSudo)
	default:
		if err := c.reloadNginx(ctx); err != nil {
			return c.result, err
		}
	}

	r := c.result
	if len(r.Failed) > 0 {
		c.log.Warn("Cleanup incomplete: %d removed, %d not found, %d could not be removed (%s)",
			len(r.Removed), len(r.Skipped), len(r.Failed), strings.Join(r.Failed, ", "))
		return r, nil
	}
	c.log.Success("Cleanup finished: %d removed, %d not found", len(r.Removed), len(r.Skipped))
	return r, nil
}

func (c *Cleaner) docker(ctx context.Context) error {
	if c.noSudo != nil {
		// Every docker lookup is privileged: absence cannot be told apart
		// from a refused sudo.
		if c.caps.HasCompose() {
			c.fail("compose project "+constants.ComposeProject, c.noSudo)
		}
		c.fail("container "+constants.ContainerName, c.noSudo)
		c.fail("image "+constants.ImageName, c.noSudo)
		return nil
	}

	if c.caps.HasCompose() {
		file, err := c.remoteComposeFile(ctx)
		if err != nil {
			return err
		}
		if file == "" {
			c.skip("compose project " + constants.ComposeProject)
		} else {
			found := func(context.Context) (bool, error) { return true, nil }
			if err := c.remove(ctx, "compose project "+constants.ComposeProject, found, remote.Step{
				Name:       "compose down",
				Command:    composeCommand(c.caps.Compose, file, "down --remove-orphans"),
				Policy:     remote.BestEffort,
				Privileged: true,
			}); err != nil {
				return err
			}
		}
	}

	containerExists := func(ctx context.Context) (bool, error) {
		ids, err := c.runner.Output(ctx, containerIDsStep())
		return ids != "", err
	}
	if err := c.remove(ctx, "container "+constants.ContainerName, containerExists, removeContainerStep()); err != nil {
		return err
	}

	imageExists := func(ctx context.Context) (bool, error) {
		return c.runner.Check(ctx, imageExistsStep())
	}
	return c.remove(ctx, "image "+constants.ImageName, imageExists, removeImageStep())
}

// remoteComposeFile returns the compose file left by the last deployment.
func (c *Cleaner) remoteComposeFile(ctx context.Context) (string, error) {
	for _, name := range constants.ComposeFiles {
		ok, err := ssh.FileExists(ctx, c.runner.Executor(), path.Join(constants.RemoteAppDir, name))
		if err := c.interrupted(ctx, err); err != nil {
			return "", err
		}
		if ok {
			return name, nil
		}
	}
	return "", nil
}

func (c *Cleaner) reloadNginx(ctx context.Context) error {
	ok, err := c.runner.Check(ctx, nginx.TestStep())
	if err := c.interrupted(ctx, err); err != nil {
		return err
	}
	if !ok {
		c.log.Warn("nginx -t reports an invalid configuration, not reloading")
		return nil
	}
	_, err = c.runner.Run(ctx, nginx.ReloadStep(remote.BestEffort))
	return err
}

// remove runs steps when exists reports the resource and records it as
// removed only if every step exits 0.
func (c *Cleaner) remove(ctx context.Context, what string, exists func(context.Context) (bool, error), steps ...remote.Step) error {
	ok, err := exists(ctx)
	if err := c.interrupted(ctx, err); err != nil {
		return err
	}
	if !ok {
		c.skip(what)
		return nil
	}
	if c.noSudo != nil && privileged(steps) {
		c.fail(what, c.noSudo)
		return nil
	}

	c.log.Info("Removing %s", what)
	var failed error
	for _, step := range steps {
		result, err := c.runner.Run(ctx, step)
		if err != nil {
			return err
		}
		if failed == nil && (result == nil || result.ExitCode != 0) {
			failed = fmt.Errorf("%s did not exit 0", step.Name)
		}
	}
	if failed != nil {
		c.fail(what, failed)
		return nil
	}
	c.result.Removed = append(c.result.Removed, what)
	return nil
}

func privileged(steps []remote.Step) bool {
	for _, step := range steps {
		if step.Privileged {
			return true
		}
	}
	return false
}

func (c *Cleaner) skip(what string) {
	c.log.Info("%s not found, skipping", what)
	c.result.Skipped = append(c.result.Skipped, what)
}

func (c *Cleaner) fail(what string, err error) {
	c.log.Warn("could not remove %s: %v", what, err)
	c.result.Failed = append(c.result.Failed, what)
}

// interrupted keeps cancellation and downgrades any other lookup error to a
// warning.
func (c *Cleaner) interrupted(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		c.log.Warn("existence check failed, treating as absent: %v", err)
	}
	return nil
}
