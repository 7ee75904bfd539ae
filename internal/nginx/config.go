// Package nginx renders and installs the reverse-proxy site for the
// deployed application.
package nginx

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/yoanbernabeu/hostdeploy/internal/security"
)

// SiteParams are the only inputs of the site template.
type SiteParams struct {
	ServerName string
	AppPort    int
}

// Validate rejects parameters that would produce a broken server block.
func (p SiteParams) Validate() error {
	if err := security.ValidateHost(p.ServerName); err != nil {
		return fmt.Errorf("server name: %w", err)
	}
	if err := security.ValidatePort(p.AppPort); err != nil {
		return fmt.Errorf("app port: %w", err)
	}
	return nil
}

const siteTemplate = `# Managed by hostdeploy. Changes are overwritten on the next deployment.
server {
    listen 80;
    server_name {{ .ServerName }};

    client_max_body_size 50m;

    location / {
        proxy_pass http://127.0.0.1:{{ .AppPort }};
        proxy_http_version 1.1;
        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
        proxy_set_header X-Forwarded-Proto $scheme;
        proxy_read_timeout 60s;
    }
}
`

var siteTmpl = template.Must(template.New("site").Option("missingkey=error").Parse(siteTemplate))

// ConfigGenerator generates nginx configuration files
type ConfigGenerator struct{}

// NewConfigGenerator creates a new nginx config generator
func NewConfigGenerator() *ConfigGenerator {
	return &ConfigGenerator{}
}

// GenerateSiteConfig renders the server block for params.
func (g *ConfigGenerator) GenerateSiteConfig(params SiteParams) (string, error) {
	if err := params.Validate(); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := siteTmpl.Execute(&buf, params); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	out := buf.String()
	if strings.Contains(out, "{{") || strings.Contains(out, "<no value>") {
		return "", fmt.Errorf("rendered site still contains unresolved placeholders")
	}
	return out, nil
}
