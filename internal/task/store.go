package task

import (
	"context"
	"time"
)

// Persistence defaults.
const (
	DefaultKeyPrefix = "task_state:"
	DefaultStateTTL  = 7 * 24 * time.Hour
)

// TaskStateStore persists state machine snapshots keyed by task id.
type TaskStateStore interface {
	// Save upserts the snapshot of m. It fails with ErrVersionConflict when the
	// stored version differs from m.Version, and increments m.Version on success.
	Save(ctx context.Context, m *TaskStateMachine) error

	// Load returns the latest snapshot, or ErrStateNotFound when none exists or
	// it has expired.
	Load(ctx context.Context, taskID string) (*TaskStateMachine, error)
}

// TaskStateRepository adds the query and maintenance operations used by the
// submission runner and the HTTP API.
type TaskStateRepository interface {
	TaskStateStore

	// Delete removes a snapshot. Deleting a missing snapshot is not an error.
	Delete(ctx context.Context, taskID string) error

	// List returns the snapshots matching f ordered by creation time, along with
	// the total number of matches before pagination.
	List(ctx context.Context, f ListFilter) ([]*TaskStateMachine, int, error)
}

// ExpiredStatePurger is implemented by stores that need expired snapshots
// removed explicitly.
type ExpiredStatePurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// ListFilter narrows a List call. Zero values match everything.
type ListFilter struct {
	Statuses      []TaskStatus
	TaskType      string
	UpdatedBefore time.Time
	Limit         int
	Offset        int
}

// Matches reports whether m satisfies the filter, ignoring pagination.
func (f ListFilter) Matches(m *TaskStateMachine) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if m.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.TaskType != "" && (m.Context == nil || m.Context.TaskType != f.TaskType) {
		return false
	}
	if !f.UpdatedBefore.IsZero() && !m.UpdatedAt.Before(f.UpdatedBefore) {
		return false
	}
	return true
}

// Page applies Offset and Limit to an already-filtered, ordered slice.
func (f ListFilter) Page(states []*TaskStateMachine) []*TaskStateMachine {
	if f.Offset >= len(states) {
		return []*TaskStateMachine{}
	}
	states = states[max(f.Offset, 0):]
	if f.Limit > 0 && f.Limit < len(states) {
		states = states[:f.Limit]
	}
	return states
}
