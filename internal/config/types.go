package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/yoanbernabeu/hostdeploy/internal/constants"
)

// DeploymentRequest holds the operator's answers for one run.
type DeploymentRequest struct {
	RepoURL    string
	Token      string
	Branch     string
	SSHUser    string
	SSHHost    string
	SSHKeyPath string
	AppPort    int

	// KeyPassphrase unlocks an encrypted SSHKeyPath. Never logged.
	KeyPassphrase string
}

// CleanupRequest holds the SSH target for cleanup mode.
type CleanupRequest struct {
	SSHUser       string
	SSHHost       string
	SSHKeyPath    string
	KeyPassphrase string
}

// ApplyDefaults fills omitted values: branch main, port 5000, and ~/
// expansion of the key path.
func (r *DeploymentRequest) ApplyDefaults() {
	r.RepoURL = strings.TrimSpace(r.RepoURL)
	r.Branch = strings.TrimSpace(r.Branch)
	if r.Branch == "" {
		r.Branch = constants.DefaultBranch
	}
	if r.AppPort == 0 {
		r.AppPort = constants.DefaultAppPort
	}
	r.SSHKeyPath = ExpandHome(strings.TrimSpace(r.SSHKeyPath))
}

// ApplyDefaults expands the key path.
func (r *CleanupRequest) ApplyDefaults() {
	r.SSHKeyPath = ExpandHome(strings.TrimSpace(r.SSHKeyPath))
}

// Target returns the SSH target of the request.
func (r *DeploymentRequest) Target() Target {
	return Target{User: r.SSHUser, Host: r.SSHHost, Port: constants.DefaultSSHPort, KeyPath: r.SSHKeyPath, Passphrase: r.KeyPassphrase}
}

// Target returns the SSH target of the request.
func (r *CleanupRequest) Target() Target {
	return Target{User: r.SSHUser, Host: r.SSHHost, Port: constants.DefaultSSHPort, KeyPath: r.SSHKeyPath, Passphrase: r.KeyPassphrase}
}

// Target identifies a remote host and how to authenticate to it.
type Target struct {
	User       string
	Host       string
	Port       int
	KeyPath    string
	Passphrase string
}

// Address returns user@host.
func (t Target) Address() string {
	return t.User + "@" + t.Host
}

// UsesToken reports whether the token applies to RepoURL. Only http(s)
// remotes take it; other schemes and an empty token clone anonymously.
func (r *DeploymentRequest) UsesToken() bool {
	if r.Token == "" {
		return false
	}
	u, err := url.Parse(r.RepoURL)
	return err == nil && (u.Scheme == "https" || u.Scheme == "http")
}

// String renders the request for logs with the token masked.
func (r *DeploymentRequest) String() string {
	token := "(none)"
	if r.Token != "" {
		token = "****"
	}
	key := r.SSHKeyPath
	if key == "" {
		key = "(agent/default)"
	}
	return fmt.Sprintf("repo=%s branch=%s token=%s target=%s@%s key=%s port=%d",
		r.RepoURL, r.Branch, token, r.SSHUser, r.SSHHost, key, r.AppPort)
}

// ExpandHome expands a leading ~/ to the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, strings.TrimPrefix(path, "~"))
	}
	return path
}
