// Package deployerr defines the failure kinds a deployment run can end with.
//
// Each kind is a sentinel; Wrap attaches a kind to an underlying error so that
// both remain reachable through errors.Is.
package deployerr

import (
	"errors"
	"fmt"
)

var (
	ErrInput               = errors.New("input error")
	ErrStaging             = errors.New("staging error")
	ErrMissingDescriptor   = errors.New("missing descriptor")
	ErrUnreachableHost     = errors.New("unreachable host")
	ErrTransport           = errors.New("transport error")
	ErrProvisioning        = errors.New("provisioning error")
	ErrDeploymentExecution = errors.New("deployment execution error")
	ErrProxyConfig         = errors.New("proxy config error")
	ErrInterrupted         = errors.New("interrupted")
)

var kinds = []error{
	ErrInput,
	ErrStaging,
	ErrMissingDescriptor,
	ErrUnreachableHost,
	ErrTransport,
	ErrProvisioning,
	ErrDeploymentExecution,
	ErrProxyConfig,
	ErrInterrupted,
}

// Wrap tags err with kind. A nil err yields the bare kind.
func Wrap(kind, err error) error {
	if err == nil {
		return kind
	}
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// Kind returns the first failure kind found in err's chain, or nil.
func Kind(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
