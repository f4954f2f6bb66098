package capture

import (
	"errors"
	"fmt"
)

var (
	// ErrLaunch reports that the browser engine could not be started.
	ErrLaunch = errors.New("browser launch failed")
	// ErrNavigationTimeout reports that the page never became ready.
	ErrNavigationTimeout = errors.New("navigation timeout")
)

type Phase string

const (
	PhaseLaunch     Phase = "launch"
	PhaseNavigate   Phase = "navigate"
	PhaseReady      Phase = "ready"
	PhaseInteract   Phase = "interact"
	PhaseScreenshot Phase = "screenshot"
	PhaseStore      Phase = "store"
)

// PhaseError is a fatal capture failure tagged with the phase that failed.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s phase failed: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

func phaseError(phase Phase, sentinel error, err error) error {
	if sentinel != nil {
		err = fmt.Errorf("%w: %w", sentinel, err)
	}
	return &PhaseError{Phase: phase, Err: err}
}
