package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultTimeout bounds the TCP connect and SSH handshake.
const DefaultTimeout = 10 * time.Second

// Client represents an SSH client connection
type Client struct {
	Host    string
	User    string
	Port    int
	KeyPath string
	opts    options
	client  *ssh.Client
}

type options struct {
	timeout        time.Duration
	passphrase     string
	knownHostsPath string
	agentSocket    string
}

// Option configures a Client.
type Option func(*options)

// WithTimeout sets the connect and handshake timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithPassphrase sets the passphrase of an encrypted private key.
func WithPassphrase(passphrase string) Option {
	return func(o *options) { o.passphrase = passphrase }
}

// WithKnownHosts overrides the known_hosts file (default ~/.ssh/known_hosts).
func WithKnownHosts(path string) Option {
	return func(o *options) { o.knownHostsPath = path }
}

// WithAgentSocket overrides the ssh-agent socket (default $SSH_AUTH_SOCK).
func WithAgentSocket(path string) Option {
	return func(o *options) { o.agentSocket = path }
}

// NewClient creates a new SSH client
func NewClient(host, user string, port int, keyPath string, opts ...Option) *Client {
	if port == 0 {
		port = 22
	}
	o := options{
		timeout:     DefaultTimeout,
		agentSocket: os.Getenv("SSH_AUTH_SOCK"),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Client{
		Host:    host,
		User:    user,
		Port:    port,
		KeyPath: keyPath,
		opts:    o,
	}
}

// Connect establishes an SSH connection. Authentication is public-key only
// (key file, agent, default keys) so it never blocks on a prompt.
func (c *Client) Connect(ctx context.Context) error {
	auth, err := c.authMethods()
	if err != nil {
		return err
	}

	hostKeyCallback, err := c.hostKeyCallback()
	if err != nil {
		return fmt.Errorf("host key verification failed: %w", err)
	}

	config := &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.opts.timeout,
	}

	addr := c.Addr()
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	// The handshake shares the connect budget.
	_ = conn.SetDeadline(time.Now().Add(c.opts.timeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	c.client = ssh.NewClient(sshConn, chans, reqs)
	return nil
}

// Addr returns host:port.
func (c *Client) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Close closes the SSH connection
func (c *Client) Close() error {
	if c.client != nil {
		err := c.client.Close()
		c.client = nil
		return err
	}
	return nil
}

// Ping runs a no-op command to confirm the shell channel works.
func (c *Client) Ping(ctx context.Context) error {
	result, err := c.Exec(ctx, "true")
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("no-op command exited with %d", result.ExitCode)
	}
	return nil
}

// DialRemote opens a connection from the remote host, e.g. to a unix socket.
func (c *Client) DialRemote(network, addr string) (net.Conn, error) {
	if c.client == nil {
		return nil, fmt.Errorf("not connected")
	}
	return c.client.Dial(network, addr)
}

// NewSession creates a new SSH session
func (c *Client) NewSession() (*ssh.Session, error) {
	if c.client == nil {
		return nil, fmt.Errorf("not connected")
	}
	return c.client.NewSession()
}

func (c *Client) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if c.KeyPath != "" {
		signer, err := loadSigner(c.KeyPath, c.opts.passphrase)
		if err != nil {
			return nil, fmt.Errorf("failed to load private key: %w", err)
		}
		return append(methods, ssh.PublicKeys(signer)), nil
	}

	if c.opts.agentSocket != "" {
		if conn, err := net.Dial("unix", c.opts.agentSocket); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	var signers []ssh.Signer
	keys, _ := DiscoverSSHKeys()
	for _, key := range keys {
		if key.IsEncrypted {
			continue
		}
		signer, err := loadSigner(key.Path, "")
		if err == nil {
			signers = append(signers, signer)
		}
	}
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("no SSH key given, no ssh-agent available and no usable key in ~/.ssh")
	}
	return methods, nil
}

func loadSigner(path, passphrase string) (ssh.Signer, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	if passphrase != "" {
		signer, err := ssh.ParsePrivateKeyWithPassphrase(key, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt private key: %w", err)
		}
		return signer, nil
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return signer, nil
}

// hostKeyCallback verifies host keys against known_hosts. Unknown hosts are
// recorded on first contact; a changed key is always rejected.
func (c *Client) hostKeyCallback() (ssh.HostKeyCallback, error) {
	path := c.opts.knownHostsPath
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine home directory: %w", err)
		}
		path = filepath.Join(homeDir, ".ssh", "known_hosts")
	}

	if err := ensureKnownHostsFile(path); err != nil {
		return nil, err
	}

	callback, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read known_hosts: %w", err)
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := callback(hostname, remote, key)
		var keyErr *knownhosts.KeyError
		if errors.As(err, &keyErr) && len(keyErr.Want) == 0 {
			return appendKnownHost(path, hostname, key)
		}
		return err
	}, nil
}

func ensureKnownHostsFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open known_hosts: %w", err)
	}
	return f.Close()
}

func appendKnownHost(path, hostname string, key ssh.PublicKey) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to record host key: %w", err)
	}
	defer f.Close()

	line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
	if _, err := fmt.Fprintln(f, line); err != nil {
		return fmt.Errorf("failed to record host key: %w", err)
	}
	return nil
}
