// Package scanner finds the container descriptor of a staged repository.
package scanner

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/go-connections/nat"

	"github.com/yoanbernabeu/hostdeploy/internal/constants"
	"github.com/yoanbernabeu/hostdeploy/internal/deployerr"
)

// Kind is the deployment mode implied by the descriptor.
type Kind int

const (
	// SingleImage deploys one container built from a Dockerfile.
	SingleImage Kind = iota
	// Compose deploys a multi-service compose project.
	Compose
)

func (k Kind) String() string {
	if k == Compose {
		return "compose"
	}
	return "single-image"
}

// Descriptor describes how the repository wants to be run.
type Descriptor struct {
	Kind Kind
	// File is the descriptor name relative to the repository root.
	File string
	// Services lists compose service names, sorted.
	Services []string
	// Exposed lists the Dockerfile EXPOSE ports.
	Exposed []nat.Port
	// Warnings are non-fatal findings worth logging.
	Warnings []string
}

// Scanner inspects a local working copy.
type Scanner struct {
	projectPath string
}

// New creates a new Scanner for the given project path
func New(projectPath string) *Scanner {
	if projectPath == "" {
		projectPath = "."
	}
	return &Scanner{projectPath: projectPath}
}

// Detect returns the descriptor of the project. A compose file wins over a
// Dockerfile. No usable descriptor is ErrMissingDescriptor.
func (s *Scanner) Detect() (*Descriptor, error) {
	for _, name := range constants.ComposeFiles {
		if !s.isFile(name) {
			continue
		}
		desc, err := s.parseCompose(name)
		if err != nil {
			return nil, deployerr.Wrap(deployerr.ErrMissingDescriptor, err)
		}
		return desc, nil
	}

	if s.isFile(constants.Dockerfile) {
		return s.parseDockerfile()
	}

	return nil, deployerr.Wrap(deployerr.ErrMissingDescriptor,
		fmt.Errorf("no %s or %s found in %s", constants.Dockerfile, strings.Join(constants.ComposeFiles, "/"), s.projectPath))
}

// CheckAppPort returns a warning when the Dockerfile declares EXPOSE ports
// and none of them is the application port.
func (d *Descriptor) CheckAppPort(port int) string {
	if d.Kind != SingleImage || len(d.Exposed) == 0 {
		return ""
	}
	for _, p := range d.Exposed {
		if p.Int() == port {
			return ""
		}
	}
	exposed := make([]string, len(d.Exposed))
	for i, p := range d.Exposed {
		exposed[i] = string(p)
	}
	return fmt.Sprintf("%s exposes %s but the application port is %d",
		d.File, strings.Join(exposed, ", "), port)
}

func (s *Scanner) isFile(name string) bool {
	info, err := os.Stat(filepath.Join(s.projectPath, name))
	return err == nil && info.Mode().IsRegular()
}

func (s *Scanner) parseDockerfile() (*Descriptor, error) {
	desc := &Descriptor{Kind: SingleImage, File: constants.Dockerfile}

	data, err := os.ReadFile(filepath.Join(s.projectPath, constants.Dockerfile))
	if err != nil {
		return nil, deployerr.Wrap(deployerr.ErrMissingDescriptor, err)
	}

	var specs []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 || !strings.EqualFold(fields[0], "EXPOSE") {
			continue
		}
		for _, f := range fields[1:] {
			// Build args are resolved at build time.
			if strings.Contains(f, "$") {
				continue
			}
			specs = append(specs, f)
		}
	}

	if len(specs) > 0 {
		exposed, _, err := nat.ParsePortSpecs(specs)
		if err != nil {
			desc.Warnings = append(desc.Warnings, fmt.Sprintf("cannot parse EXPOSE in %s: %v", constants.Dockerfile, err))
		}
		for p := range exposed {
			desc.Exposed = append(desc.Exposed, p)
		}
		nat.Sort(desc.Exposed, func(a, b nat.Port) bool { return a.Int() < b.Int() })
	}

	return desc, nil
}
