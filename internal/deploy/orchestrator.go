package deploy

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/yoanbernabeu/hostdeploy/internal/config"
	"github.com/yoanbernabeu/hostdeploy/internal/constants"
	"github.com/yoanbernabeu/hostdeploy/internal/deployerr"
	"github.com/yoanbernabeu/hostdeploy/internal/dockerapi"
	"github.com/yoanbernabeu/hostdeploy/internal/git"
	"github.com/yoanbernabeu/hostdeploy/internal/metrics"
	"github.com/yoanbernabeu/hostdeploy/internal/nginx"
	"github.com/yoanbernabeu/hostdeploy/internal/provision"
	"github.com/yoanbernabeu/hostdeploy/internal/remote"
	"github.com/yoanbernabeu/hostdeploy/internal/runlog"
	"github.com/yoanbernabeu/hostdeploy/internal/scanner"
	"github.com/yoanbernabeu/hostdeploy/internal/ssh"
	"github.com/yoanbernabeu/hostdeploy/internal/transport"
)

// Session is an open connection to the target host.
type Session interface {
	ssh.Executor
	Ping(ctx context.Context) error
	DialRemote(network, addr string) (net.Conn, error)
}

// Stager brings the local working copy up to date.
type Stager interface {
	Stage(ctx context.Context, req *config.DeploymentRequest) (*git.StagedRepo, error)
}

// DialFunc connects to target.
type DialFunc func(ctx context.Context, target config.Target) (Session, error)

// TransferFunc mirrors dir to the application directory of the host behind
// runner.
type TransferFunc func(ctx context.Context, runner *remote.Runner, target config.Target, dir string) (transport.Method, error)

// DockerFunc opens an Engine API client over the session. The returned close
// func is always safe to call.
type DockerFunc func(s Session) (ContainerLister, func(), error)

// Orchestrator runs the deploy and cleanup pipelines. Stages run in a fixed
// order and the first failure stops the run.
type Orchestrator struct {
	log       *runlog.Logger
	metrics   *metrics.Recorder
	stager    Stager
	dial      DialFunc
	transfer  TransferFunc
	docker    DockerFunc
	settle    time.Duration
	publicURL string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStager replaces the git stager.
func WithStager(s Stager) Option {
	return func(o *Orchestrator) { o.stager = s }
}

// WithDialer replaces the SSH dialer.
func WithDialer(dial DialFunc) Option {
	return func(o *Orchestrator) { o.dial = dial }
}

// WithTransfer replaces the file transporter.
func WithTransfer(transfer TransferFunc) Option {
	return func(o *Orchestrator) { o.transfer = transfer }
}

// WithDocker replaces the Engine API client factory.
func WithDocker(docker DockerFunc) Option {
	return func(o *Orchestrator) { o.docker = docker }
}

// WithMetrics records stage timings into rec.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(o *Orchestrator) { o.metrics = rec }
}

// WithSettleDelay overrides the pause after the application starts.
func WithSettleDelay(d time.Duration) Option {
	return func(o *Orchestrator) { o.settle = d }
}

// WithPublicURL overrides the URL of the final public check.
func WithPublicURL(url string) Option {
	return func(o *Orchestrator) { o.publicURL = url }
}

// NewOrchestrator returns an Orchestrator using git, SSH and the transporter.
func NewOrchestrator(log *runlog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		log:      log,
		dial:     DialSSH,
		transfer: transferFiles,
		docker:   engineClient,
		settle:   constants.SettleDelay,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.stager == nil {
		o.stager = git.NewStager(constants.StagingDir, log.Stage("stager"))
	}
	return o
}

// DialSSH connects with public-key authentication and confirms the remote
// shell answers.
func DialSSH(ctx context.Context, target config.Target) (Session, error) {
	client := ssh.NewClient(target.Host, target.User, target.Port, target.KeyPath,
		ssh.WithTimeout(constants.ConnectTimeout),
		ssh.WithPassphrase(target.Passphrase),
	)
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func transferFiles(ctx context.Context, runner *remote.Runner, target config.Target, dir string) (transport.Method, error) {
	return transport.New(runner, target, runner.Logger()).Transfer(ctx, dir)
}

func engineClient(s Session) (ContainerLister, func(), error) {
	c, err := dockerapi.New(s.DialRemote)
	if err != nil {
		return nil, func() {}, err
	}
	return c, func() { c.Close() }, nil
}

// Deploy runs the whole pipeline for req.
func (o *Orchestrator) Deploy(ctx context.Context, req *config.DeploymentRequest) error {
	req.ApplyDefaults()
	o.log.Redact(req.Token)
	o.log.Redact(req.KeyPassphrase)

	if errs := config.ValidateDeploymentRequest(req); errs.HasErrors() {
		return deployerr.Wrap(deployerr.ErrInput, errs)
	}
	o.log.Info("Deploying %s", req)

	var staged *git.StagedRepo
	if err := o.stage(ctx, "stage", func() (err error) {
		staged, err = o.stager.Stage(ctx, req)
		return err
	}); err != nil {
		return err
	}

	// The descriptor is checked before any connection is made.
	var desc *scanner.Descriptor
	if err := o.stage(ctx, "preflight", func() (err error) {
		desc, err = scanner.New(staged.Path).Detect()
		if err != nil {
			return err
		}
		log := o.log.Stage("preflight")
		log.Info("Found %s (%s)", desc.File, desc.Kind)
		for _, w := range desc.Warnings {
			log.Warn("%s", w)
		}
		if w := desc.CheckAppPort(req.AppPort); w != "" {
			log.Warn("%s", w)
		}
		return nil
	}); err != nil {
		return err
	}

	target := req.Target()
	session, err := o.connect(ctx, target)
	if err != nil {
		return err
	}
	defer session.Close()
	runner := remote.NewRunner(session, o.log.Stage("remote"))

	if err := o.stage(ctx, "transport", func() error {
		method, err := o.transfer(ctx, runner.WithLogger(o.log.Stage("transport")), target, staged.Path)
		if err != nil {
			return deployerr.Wrap(deployerr.ErrTransport, err)
		}
		o.log.Stage("transport").Success("Files transferred to %s:~/%s (%s)", req.SSHHost, constants.RemoteAppDir, method)
		return nil
	}); err != nil {
		return err
	}

	var caps *provision.Capabilities
	if err := o.stage(ctx, "provision", func() (err error) {
		log := o.log.Stage("provision")
		caps, err = provision.New(runner.WithLogger(log), log).Ensure(ctx)
		return err
	}); err != nil {
		return err
	}
	privileged := runner.WithSudo(caps.Sudo)

	if err := o.stage(ctx, "execute", func() error {
		log := o.log.Stage("execute")
		exec := NewExecutor(privileged.WithLogger(log), caps, log)
		exec.SetSettleDelay(o.settle)
		return exec.Execute(ctx, desc, req.AppPort)
	}); err != nil {
		return err
	}

	if err := o.stage(ctx, "proxy", func() error {
		log := o.log.Stage("proxy")
		return nginx.NewConfigurator(privileged.WithLogger(log), log).
			Configure(ctx, nginx.SiteParams{ServerName: req.SSHHost, AppPort: req.AppPort})
	}); err != nil {
		return err
	}

	if err := o.stage(ctx, "report", func() error {
		log := o.log.Stage("report")
		lister, closeDocker, err := o.docker(session)
		if err != nil {
			log.Debug("engine API client unavailable: %v", err)
			lister = nil
		}
		if closeDocker != nil {
			defer closeDocker()
		}
		reporter := NewReporter(privileged.WithLogger(log), caps, lister, log)
		if o.publicURL != "" {
			reporter.SetPublicURL(o.publicURL)
		}
		_, err = reporter.Report(ctx, desc, req.SSHHost, req.AppPort)
		return err
	}); err != nil {
		return err
	}

	o.log.Success("deployment of %s is live at http://%s/", req.RepoURL, req.SSHHost)
	return nil
}

// Cleanup removes the application, its image and its proxy site from the
// host. Nothing is installed.
func (o *Orchestrator) Cleanup(ctx context.Context, req *config.CleanupRequest) error {
	req.ApplyDefaults()
	o.log.Redact(req.KeyPassphrase)

	if errs := config.ValidateCleanupRequest(req); errs.HasErrors() {
		return deployerr.Wrap(deployerr.ErrInput, errs)
	}

	target := req.Target()
	o.log.Info("Cleaning up %s", target.Address())
	session, err := o.connect(ctx, target)
	if err != nil {
		return err
	}
	defer session.Close()
	runner := remote.NewRunner(session, o.log.Stage("remote"))

	var (
		caps   *provision.Capabilities
		noSudo error
	)
	if err := o.stage(ctx, "inspect", func() (err error) {
		log := o.log.Stage("inspect")
		installer := provision.New(runner.WithLogger(log), log)
		caps, err = installer.Inspect(ctx)
		if err != nil {
			return deployerr.Wrap(deployerr.ErrProvisioning, err)
		}
		log.Info("Remote environment: %s", caps)
		if caps.Root {
			return nil
		}
		if noSudo = installer.CheckSudo(ctx); noSudo != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			log.Warn("Privileged cleanup steps will be skipped: %v", noSudo)
		}
		return nil
	}); err != nil {
		return err
	}

	var result *CleanupResult
	if err := o.stage(ctx, "cleanup", func() (err error) {
		log := o.log.Stage("cleanup")
		cleaner := NewCleaner(runner.WithSudo(caps.Sudo).WithLogger(log), caps, log)
		if noSudo != nil {
			cleaner.WithoutPrivilege(noSudo)
		}
		result, err = cleaner.Clean(ctx)
		return err
	}); err != nil {
		return err
	}

	if len(result.Failed) > 0 {
		o.log.Warn("cleanup of %s incomplete, still present: %s", target.Host, strings.Join(result.Failed, ", "))
		return nil
	}
	o.log.Success("cleanup of %s complete", target.Host)
	return nil
}

func (o *Orchestrator) connect(ctx context.Context, target config.Target) (Session, error) {
	var session Session
	err := o.stage(ctx, "connect", func() (err error) {
		log := o.log.Stage("connect")
		log.Info("Connecting to %s:%d", target.Address(), target.Port)
		session, err = o.dial(ctx, target)
		if err != nil {
			return deployerr.Wrap(deployerr.ErrUnreachableHost,
				fmt.Errorf("%s: %w (check the SSH key, user, host and firewall)", target.Address(), err))
		}
		log.Success("Connected to %s", target.Host)
		return nil
	})
	return session, err
}

// stage runs fn as a named stage. Cancellation always surfaces as
// ErrInterrupted.
func (o *Orchestrator) stage(ctx context.Context, name string, fn func() error) error {
	done := func(error) {}
	if o.metrics != nil {
		done = o.metrics.Stage(name)
	}

	err := fn()
	if err == nil {
		err = ctx.Err()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = deployerr.Wrap(deployerr.ErrInterrupted, ctxErr)
	}
	done(err)

	if err != nil {
		o.log.Stage(name).Error(fmt.Sprintf("%s failed", name), err)
	}
	return err
}
