package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStoreError_MatchesSentinels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{name: "wrapped not found", err: fmt.Errorf("load: %w", ErrNotFound), target: ErrNotFound, want: true},
		{
			name:   "store error wrapping not found",
			err:    NewStoreError("task_state", "load", "no row", ErrNotFound),
			target: ErrNotFound,
			want:   true,
		},
		{
			name:   "store error wrapping duplicate",
			err:    NewStoreError("task_state", "save", "conflict", fmt.Errorf("%w: pk", ErrDuplicate)),
			target: ErrDuplicate,
			want:   true,
		},
		{name: "duplicate is not not-found", err: ErrDuplicate, target: ErrNotFound, want: false},
		{name: "nil", err: nil, target: ErrNotFound, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestStoreError(t *testing.T) {
	t.Parallel()

	t.Run("with wrapped error", func(t *testing.T) {
		t.Parallel()

		cause := errors.New("connection refused")
		err := NewStoreError("task_state", "save", "could not write snapshot", cause)

		assert.Equal(t,
			"save operation on task_state failed: could not write snapshot: connection refused",
			err.Error())
		assert.ErrorIs(t, err, cause)

		var storeErr *StoreError
		assert.True(t, errors.As(fmt.Errorf("outer: %w", err), &storeErr))
		assert.Equal(t, "save", storeErr.Operation)
	})

	t.Run("without wrapped error", func(t *testing.T) {
		t.Parallel()

		err := NewStoreError("task_state", "list", "bad filter", nil)
		assert.Equal(t, "list operation on task_state failed: bad filter", err.Error())
		assert.Nil(t, err.Unwrap())
	})
}
