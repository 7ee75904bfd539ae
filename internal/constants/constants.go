package constants

import (
	"path/filepath"
	"time"
)

// Reserved names. hostdeploy assumes these are exclusively its own on the
// target host.
const (
	ReservedName   = "hostdeploy"
	ContainerName  = ReservedName + "-app"
	ImageName      = ContainerName + ":latest"
	ComposeProject = ReservedName
	SiteName       = ReservedName
)

// Remote paths. RemoteAppDir and NginxUpload are relative to the SSH user's
// home directory.
const (
	RemoteAppDir      = "hostdeploy/app"
	RemoteIncomingDir = RemoteAppDir + ".incoming"
	NginxConf         = "/etc/nginx/nginx.conf"
	NginxAvailableDir = "/etc/nginx/sites-available"
	NginxEnabledDir   = "/etc/nginx/sites-enabled"
	NginxUpload       = "hostdeploy/site.nginx"
)

// Local paths, relative to the working directory.
const (
	StagingDir = ".hostdeploy/repo"
)

// Request defaults
const (
	DefaultBranch  = "main"
	DefaultAppPort = 5000
	DefaultSSHPort = 22
)

// Timeouts and delays
const (
	ConnectTimeout     = 10 * time.Second
	PublicCheckTimeout = 8 * time.Second
	SettleDelay        = 3 * time.Second
	ContainerLogLines  = 100
)

// Recognized descriptors in the staged repository.
const (
	Dockerfile = "Dockerfile"
)

// ComposeFiles lists the multi-service descriptor names, in lookup order.
var ComposeFiles = []string{"docker-compose.yml", "docker-compose.yaml"}

// MetricsFileEnv names the optional metrics textfile destination.
const MetricsFileEnv = "HOSTDEPLOY_METRICS_FILE"

// NginxAvailablePath returns the sites-available path for the reserved site.
func NginxAvailablePath() string {
	return filepath.Join(NginxAvailableDir, SiteName)
}

// NginxEnabledPath returns the sites-enabled path for the reserved site.
func NginxEnabledPath() string {
	return filepath.Join(NginxEnabledDir, SiteName)
}

// LogFileName returns the run log name for a mode started at t.
func LogFileName(mode string, t time.Time) string {
	return mode + "_" + t.Format("20060102_150405") + ".log"
}
