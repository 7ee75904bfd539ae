package cmd

import (
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/yoanbernabeu/hostdeploy/internal/runlog"
)

var (
	// Version is set at build time
	Version = "dev"

	cleanupFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "hostdeploy",
	Short: "Deploy a git repository to a single host behind nginx",
	Long: `hostdeploy deploys a containerized application from a git repository
to one Linux host over SSH.

It asks for the repository, branch, SSH target and application port, then:
  1. clones or updates the repository locally
  2. checks for a Dockerfile or docker-compose.yml
  3. copies the files to ~/hostdeploy/app on the host
  4. installs Docker, Compose and nginx when missing
  5. builds and starts the application on 127.0.0.1:<port>
  6. configures nginx to proxy http://<host>/ to it

Every step is written to deploy_<timestamp>.log in the current directory.

Cleanup mode (--cleanup) removes the container, image, application
directory and nginx site from the host.`,
	Version:       Version,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRoot,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command, used to generate documentation.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.Flags().BoolVar(&cleanupFlag, "cleanup", false, "Remove everything a deployment created on the host")

	rootCmd.SetVersionTemplate(`hostdeploy {{.Version}}
`)
}

var (
	activeMu  sync.Mutex
	activeLog *runlog.Logger
)

// setActiveLog routes the Print helpers through log; nil restores plain
// console output.
func setActiveLog(log *runlog.Logger) {
	activeMu.Lock()
	defer activeMu.Unlock()
	activeLog = log
}

func currentLog() *runlog.Logger {
	activeMu.Lock()
	defer activeMu.Unlock()
	return activeLog
}

// PrintError prints a formatted error message
func PrintError(msg string, args ...interface{}) {
	if log := currentLog(); log != nil {
		log.Error(fmt.Sprintf(msg, args...), nil)
		return
	}
	fmt.Fprintf(os.Stderr, "❌ "+msg+"\n", args...)
}

// PrintSuccess prints a success message
func PrintSuccess(msg string, args ...interface{}) {
	if log := currentLog(); log != nil {
		log.Success(msg, args...)
		return
	}
	fmt.Printf("✅ "+msg+"\n", args...)
}

// PrintInfo prints an info message
func PrintInfo(msg string, args ...interface{}) {
	if log := currentLog(); log != nil {
		log.Info(msg, args...)
		return
	}
	fmt.Printf("ℹ️  "+msg+"\n", args...)
}

// PrintWarning prints a warning message
func PrintWarning(msg string, args ...interface{}) {
	if log := currentLog(); log != nil {
		log.Warn(msg, args...)
		return
	}
	fmt.Printf("⚠️  "+msg+"\n", args...)
}
