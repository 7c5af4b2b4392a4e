package task

import (
	"errors"
	"fmt"
)

// Error definitions for the task package.
var (
	// ErrTerminalState is returned when a transition is attempted on a task that
	// is already COMPLETED, FAILED or CANCELLED.
	ErrTerminalState = errors.New("task is in a terminal state")

	// ErrStateNotFound is returned by a TaskStateStore when no snapshot exists
	// for a task id, including when the snapshot has expired.
	ErrStateNotFound = errors.New("task state not found")

	// ErrVersionConflict is returned by a TaskStateStore when the stored snapshot
	// was written by someone else since it was loaded.
	ErrVersionConflict = errors.New("task state version conflict")

	// ErrEmptyStepName is returned when registering an executor without a name.
	ErrEmptyStepName = errors.New("step executor name cannot be empty")

	// ErrDuplicateStep is returned when two executors share a name.
	ErrDuplicateStep = errors.New("step executor already registered")

	// ErrInvalidSubmission is returned when a submission fails validation.
	ErrInvalidSubmission = errors.New("invalid task submission")
)

// VersionConflictError reports the version a store holds for a task when a
// save is rejected. It matches ErrVersionConflict.
type VersionConflictError struct {
	TaskID string
	Stored int64
	Have   int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("%v: task %s stored version %d, have %d", ErrVersionConflict, e.TaskID, e.Stored, e.Have)
}

func (e *VersionConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}

// StoredVersion extracts the stored version from a conflict returned by Save.
func StoredVersion(err error) (int64, bool) {
	var conflict *VersionConflictError
	if errors.As(err, &conflict) {
		return conflict.Stored, true
	}
	return 0, false
}
