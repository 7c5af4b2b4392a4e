package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/phrazzld/agentrun/internal/platform/logger"
	"github.com/phrazzld/agentrun/internal/store"
	"github.com/phrazzld/agentrun/internal/task"
)

// TaskStateStore implements task.TaskStateRepository on the task_states
// table. Each row holds one JSONB snapshot plus the columns List filters on.
type TaskStateStore struct {
	db     *sql.DB
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewTaskStateStore creates a TaskStateStore. A zero ttl uses task.DefaultStateTTL.
func NewTaskStateStore(db *sql.DB, keyPrefix string, ttl time.Duration) *TaskStateStore {
	if ttl <= 0 {
		ttl = task.DefaultStateTTL
	}
	return &TaskStateStore{
		db:     db,
		prefix: keyPrefix,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *TaskStateStore) key(taskID string) string {
	return s.prefix + taskID
}

// Save implements task.TaskStateStore. The stored version is locked and
// compared inside a transaction; a concurrent first write loses on the
// primary key and reports a version conflict.
func (s *TaskStateStore) Save(ctx context.Context, m *task.TaskStateMachine) error {
	log := logger.FromContextOrDefault(ctx)
	key := s.key(m.TaskID)
	now := s.now()
	next := m.Version + 1

	snapshot := *m
	snapshot.Version = next
	data, err := snapshot.Marshal()
	if err != nil {
		return err
	}

	taskType := ""
	if m.Context != nil {
		taskType = m.Context.TaskType
	}

	err = store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx store.DBTX) error {
		var storedVersion int64
		var expiresAt time.Time
		err := tx.QueryRowContext(ctx,
			`SELECT version, expires_at FROM task_states WHERE state_key = $1 FOR UPDATE`,
			key,
		).Scan(&storedVersion, &expiresAt)

		exists := true
		switch {
		case errors.Is(err, sql.ErrNoRows):
			exists = false
		case err != nil:
			return MapError(err)
		}

		var current int64
		if exists && !now.After(expiresAt) {
			current = storedVersion
		}
		if current != m.Version {
			return &task.VersionConflictError{TaskID: m.TaskID, Stored: current, Have: m.Version}
		}

		if exists {
			_, err = tx.ExecContext(ctx, `
				UPDATE task_states
				SET task_type = $2, status = $3, version = $4, snapshot = $5,
				    created_at = $6, updated_at = $7, expires_at = $8
				WHERE state_key = $1`,
				key, taskType, string(m.Status), next, data,
				m.CreatedAt, now, now.Add(s.ttl),
			)
			return MapError(err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO task_states
			    (state_key, task_id, task_type, status, version, snapshot, created_at, updated_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			key, m.TaskID, taskType, string(m.Status), next, data,
			m.CreatedAt, now, now.Add(s.ttl),
		)
		if IsUniqueViolation(err) {
			return fmt.Errorf("%w: task %s was created concurrently", task.ErrVersionConflict, m.TaskID)
		}
		return MapError(err)
	})
	if err != nil {
		if !errors.Is(err, task.ErrVersionConflict) {
			log.ErrorContext(ctx, "failed to save task state",
				"task_id", m.TaskID,
				"status", m.Status,
				"error", err)
		}
		return err
	}

	m.Version = next
	return nil
}

// Load implements task.TaskStateStore.
func (s *TaskStateStore) Load(ctx context.Context, taskID string) (*task.TaskStateMachine, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM task_states WHERE state_key = $1 AND expires_at >= $2`,
		s.key(taskID), s.now(),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", task.ErrStateNotFound, taskID)
	}
	if err != nil {
		return nil, store.NewStoreError("task_state", "load", "failed to load snapshot", MapError(err))
	}
	return task.UnmarshalTaskStateMachine(data)
}

// Delete implements task.TaskStateRepository.
func (s *TaskStateStore) Delete(ctx context.Context, taskID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM task_states WHERE state_key = $1`, s.key(taskID)); err != nil {
		return store.NewStoreError("task_state", "delete", "failed to delete snapshot",
			fmt.Errorf("%w: %w", store.ErrDeleteFailed, MapError(err)))
	}
	return nil
}

// List implements task.TaskStateRepository.
func (s *TaskStateStore) List(ctx context.Context, f task.ListFilter) ([]*task.TaskStateMachine, int, error) {
	where, args := buildListWhere(f, s.now())

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM task_states WHERE `+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, store.NewStoreError("task_state", "list", "failed to count snapshots", MapError(err))
	}

	query := `SELECT snapshot FROM task_states WHERE ` + where + ` ORDER BY created_at, task_id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, store.NewStoreError("task_state", "list", "failed to query snapshots", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	states := make([]*task.TaskStateMachine, 0)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, 0, store.NewStoreError("task_state", "list", "failed to scan snapshot", err)
		}
		m, err := task.UnmarshalTaskStateMachine(data)
		if err != nil {
			return nil, 0, err
		}
		states = append(states, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, store.NewStoreError("task_state", "list", "failed to iterate snapshots", err)
	}
	return states, total, nil
}

// buildListWhere renders the filter as a WHERE clause with positional args.
func buildListWhere(f task.ListFilter, now time.Time) (string, []any) {
	args := []any{now}
	clauses := []string{"expires_at >= $1"}

	if len(f.Statuses) > 0 {
		placeholders := make([]string, 0, len(f.Statuses))
		for _, status := range f.Statuses {
			args = append(args, string(status))
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		clauses = append(clauses, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if f.TaskType != "" {
		args = append(args, f.TaskType)
		clauses = append(clauses, fmt.Sprintf("task_type = $%d", len(args)))
	}
	if !f.UpdatedBefore.IsZero() {
		args = append(args, f.UpdatedBefore)
		clauses = append(clauses, fmt.Sprintf("updated_at < $%d", len(args)))
	}
	return strings.Join(clauses, " AND "), args
}

// PurgeExpired implements task.ExpiredStatePurger.
func (s *TaskStateStore) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM task_states WHERE expires_at < $1`, s.now())
	if err != nil {
		return 0, store.NewStoreError("task_state", "purge", "failed to purge expired snapshots", MapError(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

var (
	_ task.TaskStateRepository = (*TaskStateStore)(nil)
	_ task.ExpiredStatePurger  = (*TaskStateStore)(nil)
)
