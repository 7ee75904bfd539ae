package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/yoanbernabeu/hostdeploy/internal/security"
)

// ValidationError represents a request validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors holds multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// ValidateDeploymentRequest checks a resolved request before any stage runs.
func ValidateDeploymentRequest(r *DeploymentRequest) ValidationErrors {
	var errors ValidationErrors

	if err := security.ValidateRepoURL(r.RepoURL); err != nil {
		errors = append(errors, ValidationError{Field: "repository", Message: err.Error()})
	}

	if err := security.ValidateBranch(r.Branch); err != nil {
		errors = append(errors, ValidationError{Field: "branch", Message: err.Error()})
	}

	if err := security.ValidatePort(r.AppPort); err != nil {
		errors = append(errors, ValidationError{Field: "port", Message: err.Error()})
	}

	errors = append(errors, validateTarget(r.SSHUser, r.SSHHost, r.SSHKeyPath)...)
	return errors
}

// ValidateCleanupRequest checks the SSH target of a cleanup run.
func ValidateCleanupRequest(r *CleanupRequest) ValidationErrors {
	return validateTarget(r.SSHUser, r.SSHHost, r.SSHKeyPath)
}

func validateTarget(user, host, keyPath string) ValidationErrors {
	var errors ValidationErrors

	if err := security.ValidateUnixUser(user); err != nil {
		errors = append(errors, ValidationError{Field: "ssh user", Message: err.Error()})
	}

	if err := security.ValidateHost(host); err != nil {
		errors = append(errors, ValidationError{Field: "ssh host", Message: err.Error()})
	}

	if keyPath != "" {
		info, err := os.Stat(keyPath)
		switch {
		case err != nil:
			errors = append(errors, ValidationError{Field: "ssh key", Message: fmt.Sprintf("key file not found: %s", keyPath)})
		case info.IsDir():
			errors = append(errors, ValidationError{Field: "ssh key", Message: fmt.Sprintf("key path is a directory: %s", keyPath)})
		}
	}

	return errors
}
