package deploy

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/yoanbernabeu/hostdeploy/internal/constants"
	"github.com/yoanbernabeu/hostdeploy/internal/dockerapi"
	"github.com/yoanbernabeu/hostdeploy/internal/provision"
	"github.com/yoanbernabeu/hostdeploy/internal/remote"
	"github.com/yoanbernabeu/hostdeploy/internal/runlog"
	"github.com/yoanbernabeu/hostdeploy/internal/scanner"
	"github.com/yoanbernabeu/hostdeploy/internal/security"
)

// ContainerLister lists containers on the remote engine.
type ContainerLister interface {
	ServerVersion(ctx context.Context) (string, error)
	Containers(ctx context.Context, name string) ([]dockerapi.ContainerSummary, error)
	ProjectContainers(ctx context.Context, project string) ([]dockerapi.ContainerSummary, error)
}

// Report holds the diagnostics of a finished deployment. Nothing in it is
// fatal.
type Report struct {
	DockerVersion string
	Containers    []string
	// LoopbackStatus and ProxyStatus are HTTP codes as printed by curl on the
	// remote host, "000" or empty when nothing answered.
	LoopbackStatus string
	ProxyStatus    string
	PublicStatus   int
	PublicErr      error
}

// PublicOK reports whether the public check got a non-5xx answer.
func (r *Report) PublicOK() bool {
	return r.PublicErr == nil && r.PublicStatus > 0 && r.PublicStatus < 500
}

// Reporter records what is running after a deployment and checks it from the
// remote host and from this machine.
type Reporter struct {
	runner    *remote.Runner
	caps      *provision.Capabilities
	docker    ContainerLister
	log       *runlog.Logger
	client    *http.Client
	publicURL string
}

// NewReporter returns a Reporter. docker may be nil, in which case the CLI
// is used for the container listing.
func NewReporter(runner *remote.Runner, caps *provision.Capabilities, docker ContainerLister, log *runlog.Logger) *Reporter {
	return &Reporter{
		runner: runner,
		caps:   caps,
		docker: docker,
		log:    log,
		client: &http.Client{Timeout: constants.PublicCheckTimeout},
	}
}

// SetPublicURL overrides the URL of the public check (default http://<host>/).
func (r *Reporter) SetPublicURL(url string) {
	r.publicURL = url
}

// Report collects the diagnostics. Only cancellation is returned as an error.
func (r *Reporter) Report(ctx context.Context, desc *scanner.Descriptor, host string, appPort int) (*Report, error) {
	rep := &Report{}

	rep.DockerVersion = r.dockerVersion(ctx)
	r.log.Info("Docker engine %s", orNone(rep.DockerVersion))

	rep.Containers = r.containers(ctx, desc)
	if len(rep.Containers) == 0 {
		r.log.Warn("No container found for %s", constants.ReservedName)
	}
	for _, c := range rep.Containers {
		r.log.Info("Container %s", c)
	}
	if err := ctx.Err(); err != nil {
		return rep, err
	}

	var err error
	if rep.LoopbackStatus, err = r.runner.Output(ctx, loopbackCheckStep(appPort)); err != nil && ctx.Err() != nil {
		return rep, ctx.Err()
	}
	r.log.Info("Application on 127.0.0.1:%d answered %s", appPort, orNone(rep.LoopbackStatus))

	if rep.ProxyStatus, err = r.runner.Output(ctx, proxyCheckStep(host)); err != nil && ctx.Err() != nil {
		return rep, ctx.Err()
	}
	r.log.Info("nginx answered %s for Host %s", orNone(rep.ProxyStatus), host)

	rep.PublicStatus, rep.PublicErr = r.checkPublic(ctx, host)
	if err := ctx.Err(); err != nil {
		return rep, err
	}
	switch {
	case rep.PublicErr != nil:
		r.log.Warn("WARNING http://%s/ is not reachable from here: %v", host, rep.PublicErr)
	case !rep.PublicOK():
		r.log.Warn("WARNING http://%s/ answered %d", host, rep.PublicStatus)
	default:
		r.log.Info("http://%s/ answered %d", host, rep.PublicStatus)
	}
	return rep, nil
}

func (r *Reporter) dockerVersion(ctx context.Context) string {
	if r.caps != nil && r.caps.DockerVersion != "" {
		return r.caps.DockerVersion
	}
	if r.docker != nil {
		if v, err := r.docker.ServerVersion(ctx); err == nil {
			return v
		}
	}
	v, _ := r.runner.Output(ctx, remote.Step{
		Name:       "docker version",
		Command:    "docker version --format '{{.Server.Version}}'",
		Privileged: true,
	})
	return v
}

// containers lists through the Engine API and falls back to the CLI.
func (r *Reporter) containers(ctx context.Context, desc *scanner.Descriptor) []string {
	compose := desc.Kind == scanner.Compose
	if r.docker != nil {
		var (
			list []dockerapi.ContainerSummary
			err  error
		)
		if compose {
			list, err = r.docker.ProjectContainers(ctx, constants.ComposeProject)
		} else {
			list, err = r.docker.Containers(ctx, constants.ContainerName)
		}
		if err == nil {
			out := make([]string, len(list))
			for i, c := range list {
				out[i] = c.String()
			}
			return out
		}
		r.log.Debug("engine API unavailable, using the docker CLI: %v", err)
	}

	filter := "name=^" + constants.ContainerName + "$"
	if compose {
		filter = "label=com.docker.compose.project=" + constants.ComposeProject
	}
	out, _ := r.runner.Output(ctx, remote.Step{
		Name:       "docker ps",
		Command:    fmt.Sprintf("docker ps -a --filter %s --format '{{.ID}} {{.Names}} image={{.Image}} state={{.State}} ({{.Status}}) ports={{.Ports}}'", filter),
		Privileged: true,
	})
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

func (r *Reporter) checkPublic(ctx context.Context, host string) (int, error) {
	url := r.publicURL
	if url == "" {
		url = "http://" + host + "/"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

func loopbackCheckStep(port int) remote.Step {
	return remote.Step{
		Name:    "loopback check",
		Command: fmt.Sprintf("curl -s -o /dev/null -w '%%{http_code}' --max-time 5 http://127.0.0.1:%d/", port),
	}
}

func proxyCheckStep(host string) remote.Step {
	return remote.Step{
		Name: "proxy check",
		Command: fmt.Sprintf("curl -s -o /dev/null -w '%%{http_code}' --max-time 5 -H %s http://127.0.0.1/",
			security.ShellEscape("Host: "+host)),
	}
}

func orNone(s string) string {
	if s == "" {
		return "nothing"
	}
	return s
}
