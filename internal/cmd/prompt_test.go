package cmd

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	gossh "golang.org/x/crypto/ssh"

	"github.com/yoanbernabeu/hostdeploy/internal/deployerr"
)

func answers(lines ...string) *strings.Reader {
	return strings.NewReader(strings.Join(lines, "\n") + "\n")
}

func TestCollector_DeploymentDefaults(t *testing.T) {
	var out bytes.Buffer
	c := NewCollector(answers("https://github.com/acme/app.git", "", "", "deploy", "203.0.113.7", "", ""), &out)

	req, err := c.Deployment()
	if err != nil {
		t.Fatalf("Deployment() error = %v", err)
	}

	if req.RepoURL != "https://github.com/acme/app.git" {
		t.Errorf("RepoURL = %q", req.RepoURL)
	}
	if req.Token != "" {
		t.Errorf("Token = %q, want empty", req.Token)
	}
	if req.Branch != "main" {
		t.Errorf("Branch = %q, want main", req.Branch)
	}
	if req.SSHUser != "deploy" || req.SSHHost != "203.0.113.7" {
		t.Errorf("target = %s@%s", req.SSHUser, req.SSHHost)
	}
	if req.SSHKeyPath != "" {
		t.Errorf("SSHKeyPath = %q, want empty", req.SSHKeyPath)
	}
	if req.AppPort != 5000 {
		t.Errorf("AppPort = %d, want 5000", req.AppPort)
	}

	prompts := out.String()
	for _, want := range []string{"? Git repository URL: ", "? Branch [main]: ", "? Application port [5000]: "} {
		if !strings.Contains(prompts, want) {
			t.Errorf("missing prompt %q in %q", want, prompts)
		}
	}
	if strings.Index(prompts, "SSH username") > strings.Index(prompts, "SSH host") {
		t.Error("prompts are out of order")
	}
}

func TestCollector_DeploymentValues(t *testing.T) {
	home, _ := os.UserHomeDir()
	c := NewCollector(answers(
		"  https://gitlab.com/acme/app.git  ",
		"glpat-secret",
		"release/2.x",
		"root",
		"example.com",
		"~/.ssh/deploy_missing",
		"8080",
	), &bytes.Buffer{})

	req, err := c.Deployment()
	if err != nil {
		t.Fatalf("Deployment() error = %v", err)
	}
	if req.RepoURL != "https://gitlab.com/acme/app.git" {
		t.Errorf("RepoURL = %q", req.RepoURL)
	}
	if req.Token != "glpat-secret" || req.Branch != "release/2.x" || req.AppPort != 8080 {
		t.Errorf("unexpected request %+v", *req)
	}
	if req.SSHKeyPath != filepath.Join(home, ".ssh/deploy_missing") {
		t.Errorf("SSHKeyPath = %q, want ~ expanded", req.SSHKeyPath)
	}
	if req.KeyPassphrase != "" {
		t.Error("missing key should not trigger a passphrase prompt")
	}
}

func TestCollector_InvalidPort(t *testing.T) {
	c := NewCollector(answers("https://github.com/acme/app.git", "", "", "deploy", "example.com", "", "http"), &bytes.Buffer{})

	_, err := c.Deployment()
	if !errors.Is(err, deployerr.ErrInput) {
		t.Errorf("Deployment() error = %v, want ErrInput", err)
	}
}

func TestCollector_ClosedInput(t *testing.T) {
	c := NewCollector(strings.NewReader(""), &bytes.Buffer{})

	req, err := c.Deployment()
	if err != nil {
		t.Fatalf("Deployment() error = %v", err)
	}
	if req.RepoURL != "" || req.Branch != "main" || req.AppPort != 5000 {
		t.Errorf("unexpected request %+v", *req)
	}
}

func TestCollector_Cleanup(t *testing.T) {
	var out bytes.Buffer
	c := NewCollector(answers("deploy", "example.com", ""), &out)

	req, err := c.Cleanup()
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if req.SSHUser != "deploy" || req.SSHHost != "example.com" || req.SSHKeyPath != "" {
		t.Errorf("unexpected request %+v", *req)
	}
	if strings.Contains(out.String(), "repository") || strings.Contains(out.String(), "port") {
		t.Errorf("cleanup should only ask for the SSH target: %q", out.String())
	}
}

func writeEncryptedKey(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	block, err := gossh.MarshalPrivateKeyWithPassphrase(priv, "", []byte("correct horse"))
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCollector_PassphraseForEncryptedKey(t *testing.T) {
	key := writeEncryptedKey(t)
	var out bytes.Buffer
	c := NewCollector(answers("deploy", "example.com", key, "correct horse"), &out)

	req, err := c.Cleanup()
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if req.KeyPassphrase != "correct horse" {
		t.Errorf("KeyPassphrase = %q", req.KeyPassphrase)
	}
	if !strings.Contains(out.String(), "Passphrase for id_ed25519") {
		t.Errorf("missing passphrase prompt: %q", out.String())
	}
}

func TestCollector_SecretsFromTerminal(t *testing.T) {
	var out bytes.Buffer
	c := NewCollector(answers("https://github.com/acme/app.git", "main", "deploy", "example.com", "", ""), &out)
	c.fd = 0
	c.readSecret = func(int) ([]byte, error) { return []byte("ghp_hidden"), nil }

	req, err := c.Deployment()
	if err != nil {
		t.Fatalf("Deployment() error = %v", err)
	}
	if req.Token != "ghp_hidden" {
		t.Errorf("Token = %q", req.Token)
	}
	if req.Branch != "main" || req.SSHUser != "deploy" {
		t.Errorf("hidden input should not consume a line: %+v", *req)
	}
	if strings.Contains(out.String(), "ghp_hidden") {
		t.Error("secret echoed to the output")
	}
}

func TestCollector_SecretReadError(t *testing.T) {
	c := NewCollector(answers("https://github.com/acme/app.git"), &bytes.Buffer{})
	c.fd = 0
	c.readSecret = func(int) ([]byte, error) { return nil, errors.New("inappropriate ioctl for device") }

	if _, err := c.Deployment(); !errors.Is(err, deployerr.ErrInput) {
		t.Errorf("Deployment() error = %v, want ErrInput", err)
	}
}
