package nginx

import (
	"context"
	"fmt"

	"github.com/yoanbernabeu/hostdeploy/internal/constants"
	"github.com/yoanbernabeu/hostdeploy/internal/deployerr"
	"github.com/yoanbernabeu/hostdeploy/internal/remote"
	"github.com/yoanbernabeu/hostdeploy/internal/runlog"
	"github.com/yoanbernabeu/hostdeploy/internal/ssh"
)

// Configurator installs the site on the remote host.
type Configurator struct {
	runner *remote.Runner
	log    *runlog.Logger
	gen    *ConfigGenerator
}

// NewConfigurator returns a Configurator. runner must already carry the
// privilege prefix.
func NewConfigurator(runner *remote.Runner, log *runlog.Logger) *Configurator {
	return &Configurator{runner: runner, log: log, gen: NewConfigGenerator()}
}

// Configure renders, uploads, enables, validates and reloads the site. A
// configuration rejected by nginx -t is ErrProxyConfig and nginx is not
// reloaded.
func (c *Configurator) Configure(ctx context.Context, params SiteParams) error {
	site, err := c.gen.GenerateSiteConfig(params)
	if err != nil {
		return deployerr.Wrap(deployerr.ErrProxyConfig, err)
	}
	c.log.Info("Configuring nginx for %s -> 127.0.0.1:%d", params.ServerName, params.AppPort)
	c.log.Output("site", site)

	if err := ssh.UploadContent(ctx, c.runner.Executor(), site, constants.NginxUpload); err != nil {
		return deployerr.Wrap(deployerr.ErrProxyConfig, err)
	}

	steps := append(InstallSiteSteps(constants.NginxUpload), HashBucketStep(), TestStep())
	if err := c.runner.RunAll(ctx, steps...); err != nil {
		return deployerr.Wrap(deployerr.ErrProxyConfig, fmt.Errorf("nginx rejected the configuration: %w", err))
	}

	if _, err := c.runner.Run(ctx, ReloadStep(remote.BestEffort)); err != nil {
		return deployerr.Wrap(deployerr.ErrProxyConfig, err)
	}

	c.log.Success("nginx proxies http://%s/ to 127.0.0.1:%d", params.ServerName, params.AppPort)
	return nil
}
