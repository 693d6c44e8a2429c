package session

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/coal/gazelink/internal/calibration"
)

// State is the connection state of a session.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Recording
	ShuttingDown
	Closed
)

var stateNames = [...]string{
	Disconnected: "disconnected",
	Connecting:   "connecting",
	Connected:    "connected",
	Recording:    "recording",
	ShuttingDown: "shutting_down",
	Closed:       "closed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state_%d", int(s))
}

var (
	// ErrNotConnected is returned by operations that need a live tracker
	// link before Connect or after shutdown.
	ErrNotConnected = errors.New("tracker not connected")

	// ErrInvalidFileName is returned by Connect when the data file name is
	// not 1-8 letters, digits or underscores.
	ErrInvalidFileName = errors.New("invalid data file name")

	// ErrInterrupted is returned by UI waits and calibration when the
	// participant pressed Ctrl+C. The session has been shut down by then.
	ErrInterrupted = calibration.ErrInterrupted
)

var fileNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,8}$`)

func validateFileName(name string) error {
	if !fileNamePattern.MatchString(name) {
		return fmt.Errorf("%w %q: use 1-8 letters, digits or underscores", ErrInvalidFileName, name)
	}
	return nil
}

// CleanupStepError is a shutdown step that failed. Shutdown logs it and moves
// on to the next step.
type CleanupStepError struct {
	Step string
	Err  error
}

func (e *CleanupStepError) Error() string {
	return fmt.Sprintf("cleanup step %q: %v", e.Step, e.Err)
}

func (e *CleanupStepError) Unwrap() error { return e.Err }
