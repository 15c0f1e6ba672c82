package jobmanager

import "sync/atomic"

type Status int

const (
	// StatusInit indicates the job has been created but not submitted.
	StatusInit Status = iota

	// StatusRunning indicates the job has been submitted and hasn't been seen
	// to finish yet.
	StatusRunning

	// StatusDone indicates the job has finished. Done says nothing about
	// success: a failed, cancelled or non-zero exit job is also Done.
	StatusDone
)

// NOTE: This slice needs to be kept in sync with any changes to the Status
// values.
var statuses = []string{
	"Init",
	"Running",
	"Done",
}

// String implements the Stringer interface for Status and returns a string
// representation of the Status by using the int value to index into a slice.
func (s Status) String() string {
	if int(s) < 0 || int(s) >= len(statuses) {
		return "Unknown"
	}

	return statuses[s]
}

// AtomicStatus is a wrapper around an atomic.Int32 to provide atomic
// operations on a Status. Background jobs finish on their own goroutine, so
// reads of a Job's status can race with its process exiting.
type AtomicStatus struct {
	v atomic.Int32
}

// Load atomically loads the Status value.
func (a *AtomicStatus) Load() Status {
	return Status(a.v.Load())
}

// Store atomically stores the Status value.
func (a *AtomicStatus) Store(s Status) {
	a.v.Store(int32(s))
}

// CompareAndSwap performs an atomic compare-and-swap operation with an old and
// new Status.
func (a *AtomicStatus) CompareAndSwap(o, n Status) bool {
	return a.v.CompareAndSwap(int32(o), int32(n))
}
