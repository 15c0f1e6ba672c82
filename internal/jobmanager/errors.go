package jobmanager

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedMode is returned by Enqueue for an unknown mode.
	ErrUnsupportedMode = errors.New("unsupported mode")

	// ErrMissingOption is returned by Enqueue when a backend is missing
	// something it needs, e.g. a command.
	ErrMissingOption = errors.New("missing required option")
)

// InvalidStateError is returned when attempting an invalid Job state
// transition.
type InvalidStateError struct {
	from Status
	to   Status
}

func (e InvalidStateError) Error() string {
	return fmt.Sprintf("cannot go from %s to %s", e.from, e.to)
}

func NewInvalidStateError(from, to Status) InvalidStateError {
	return InvalidStateError{from, to}
}

// SubmitError is returned when a Job fails to submit. The Job has already
// left the pending queue and is handed back here; it is never resubmitted.
type SubmitError struct {
	Job Job
	Err error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("submit job %d: %v", e.Job.ID(), e.Err)
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}
