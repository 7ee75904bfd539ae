package scanner

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/docker/go-connections/nat"
	"gopkg.in/yaml.v3"
)

// composeFile is the subset of the compose format the deployer reads.
type composeFile struct {
	Services map[string]composeService `yaml:"services"`
}

type composeService struct {
	Image string        `yaml:"image"`
	Ports []composePort `yaml:"ports"`
}

// composePort accepts both the short ("127.0.0.1:8080:80") and the long
// (target/published/host_ip) port syntax.
type composePort struct {
	Spec string
}

func (p *composePort) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		p.Spec = value.Value
		return nil
	case yaml.MappingNode:
		var long struct {
			Target    string `yaml:"target"`
			Published string `yaml:"published"`
			HostIP    string `yaml:"host_ip"`
			Protocol  string `yaml:"protocol"`
		}
		if err := value.Decode(&long); err != nil {
			return err
		}
		spec := long.Target
		if long.Published != "" {
			spec = long.Published + ":" + spec
			if long.HostIP != "" {
				spec = long.HostIP + ":" + spec
			}
		}
		if long.Protocol != "" {
			spec += "/" + long.Protocol
		}
		p.Spec = spec
		return nil
	default:
		return fmt.Errorf("line %d: unsupported port entry", value.Line)
	}
}

func (s *Scanner) parseCompose(name string) (*Descriptor, error) {
	data, err := os.ReadFile(filepath.Join(s.projectPath, name))
	if err != nil {
		return nil, err
	}

	var file composeFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%s is not valid YAML: %w", name, err)
	}
	if len(file.Services) == 0 {
		return nil, fmt.Errorf("%s declares no services", name)
	}

	desc := &Descriptor{Kind: Compose, File: name}
	for svc := range file.Services {
		desc.Services = append(desc.Services, svc)
	}
	sort.Strings(desc.Services)

	for _, svc := range desc.Services {
		for _, port := range file.Services[svc].Ports {
			if w := publicBinding(svc, port.Spec); w != "" {
				desc.Warnings = append(desc.Warnings, w)
			}
		}
	}
	return desc, nil
}

// publicBinding returns a warning when spec publishes a host port on a
// non-loopback interface.
func publicBinding(service, spec string) string {
	if strings.Contains(spec, "$") {
		return fmt.Sprintf("service %q port %q uses variables and was not checked", service, spec)
	}
	mappings, err := nat.ParsePortSpec(spec)
	if err != nil {
		return fmt.Sprintf("service %q has an unparsable port %q: %v", service, spec, err)
	}
	for _, m := range mappings {
		if m.Binding.HostPort == "" {
			continue
		}
		if isLoopback(m.Binding.HostIP) {
			continue
		}
		return fmt.Sprintf("service %q publishes %s on all interfaces, bypassing the reverse proxy; bind it to 127.0.0.1", service, spec)
	}
	return ""
}

func isLoopback(hostIP string) bool {
	ip := net.ParseIP(strings.Trim(hostIP, "[]"))
	return ip != nil && ip.IsLoopback()
}

// LoopbackPublish returns the docker run publish spec binding port on the
// loopback interface only, validated with the same parser.
func LoopbackPublish(port int) (string, error) {
	spec := "127.0.0.1:" + strconv.Itoa(port) + ":" + strconv.Itoa(port)
	mappings, err := nat.ParsePortSpec(spec)
	if err != nil {
		return "", err
	}
	if len(mappings) != 1 || !isLoopback(mappings[0].Binding.HostIP) {
		return "", fmt.Errorf("publish spec %q is not loopback-bound", spec)
	}
	return spec, nil
}
