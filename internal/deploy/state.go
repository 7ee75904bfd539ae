package deploy

import (
	"fmt"

	"github.com/yoanbernabeu/hostdeploy/internal/scanner"
)

// DeployPhase represents a phase of the remote deployment.
type DeployPhase int

const (
	PhaseInit DeployPhase = iota
	PhaseTeardown
	PhaseBuild
	PhaseStart
	PhaseSettle
	PhaseDone
)

func (p DeployPhase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseTeardown:
		return "teardown-previous"
	case PhaseBuild:
		return "build"
	case PhaseStart:
		return "start"
	case PhaseSettle:
		return "settle"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// DeployState tracks how far a deployment got, to decide what to collect
// when it fails.
type DeployState struct {
	Phase DeployPhase
	Kind  scanner.Kind
	// PreviousRemoved is true when a container from an earlier run was removed.
	PreviousRemoved bool
}

// NewDeployState creates a new deploy state for the given descriptor kind.
func NewDeployState(kind scanner.Kind) *DeployState {
	return &DeployState{Phase: PhaseInit, Kind: kind}
}

// Advance moves to phase.
func (s *DeployState) Advance(phase DeployPhase) {
	s.Phase = phase
}

// WantsLogs reports whether container logs can explain a failure in the
// current phase. Compose builds and starts in one step, so its logs are
// useful from the build phase on.
func (s *DeployState) WantsLogs() bool {
	if s.Kind == scanner.Compose {
		return s.Phase >= PhaseBuild
	}
	return s.Phase >= PhaseStart
}
