package postgres

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/agentrun/internal/task"
)

const testTTL = time.Hour

var fixedNow = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*TaskStateStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := NewTaskStateStore(db, task.DefaultKeyPrefix, testTTL)
	s.now = func() time.Time { return fixedNow }
	return s, mock
}

func newMachine(taskID string) *task.TaskStateMachine {
	tc := task.NewTaskContext(taskID)
	tc.TaskType = "GAODE"
	return task.NewTaskStateMachine(taskID, tc)
}

var (
	selectVersionSQL = regexp.QuoteMeta(`SELECT version, expires_at FROM task_states WHERE state_key = $1 FOR UPDATE`)
	selectSnapshot   = regexp.QuoteMeta(`SELECT snapshot FROM task_states WHERE state_key = $1 AND expires_at >= $2`)
)

func TestTaskStateStore_Save(t *testing.T) {
	t.Parallel()

	t.Run("inserts a new snapshot", func(t *testing.T) {
		t.Parallel()

		s, mock := newMockStore(t)
		m := newMachine("t1")

		mock.ExpectBegin()
		mock.ExpectQuery(selectVersionSQL).
			WithArgs("task_state:t1").
			WillReturnRows(sqlmock.NewRows([]string{"version", "expires_at"}))
		mock.ExpectExec("INSERT INTO task_states").
			WithArgs("task_state:t1", "t1", "GAODE", "PENDING", int64(1),
				sqlmock.AnyArg(), sqlmock.AnyArg(), fixedNow, fixedNow.Add(testTTL)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, s.Save(context.Background(), m))
		assert.Equal(t, int64(1), m.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("updates when versions match", func(t *testing.T) {
		t.Parallel()

		s, mock := newMockStore(t)
		m := newMachine("t1")
		m.Version = 1
		require.NoError(t, m.MarkRunning())

		mock.ExpectBegin()
		mock.ExpectQuery(selectVersionSQL).
			WithArgs("task_state:t1").
			WillReturnRows(sqlmock.NewRows([]string{"version", "expires_at"}).
				AddRow(int64(1), fixedNow.Add(time.Minute)))
		mock.ExpectExec("UPDATE task_states").
			WithArgs("task_state:t1", "GAODE", "RUNNING", int64(2),
				sqlmock.AnyArg(), sqlmock.AnyArg(), fixedNow, fixedNow.Add(testTTL)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, s.Save(context.Background(), m))
		assert.Equal(t, int64(2), m.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("version conflict", func(t *testing.T) {
		t.Parallel()

		s, mock := newMockStore(t)
		m := newMachine("t1")
		m.Version = 1

		mock.ExpectBegin()
		mock.ExpectQuery(selectVersionSQL).
			WithArgs("task_state:t1").
			WillReturnRows(sqlmock.NewRows([]string{"version", "expires_at"}).
				AddRow(int64(3), fixedNow.Add(time.Minute)))
		mock.ExpectRollback()

		err := s.Save(context.Background(), m)
		assert.ErrorIs(t, err, task.ErrVersionConflict)
		assert.Equal(t, int64(1), m.Version, "version is untouched on failure")
		stored, ok := task.StoredVersion(err)
		assert.True(t, ok)
		assert.Equal(t, int64(3), stored)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("expired row counts as absent", func(t *testing.T) {
		t.Parallel()

		s, mock := newMockStore(t)
		m := newMachine("t1")

		mock.ExpectBegin()
		mock.ExpectQuery(selectVersionSQL).
			WithArgs("task_state:t1").
			WillReturnRows(sqlmock.NewRows([]string{"version", "expires_at"}).
				AddRow(int64(4), fixedNow.Add(-time.Minute)))
		mock.ExpectExec("UPDATE task_states").
			WithArgs("task_state:t1", "GAODE", "PENDING", int64(1),
				sqlmock.AnyArg(), sqlmock.AnyArg(), fixedNow, fixedNow.Add(testTTL)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, s.Save(context.Background(), m))
		assert.Equal(t, int64(1), m.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("concurrent insert", func(t *testing.T) {
		t.Parallel()

		s, mock := newMockStore(t)
		m := newMachine("t1")

		mock.ExpectBegin()
		mock.ExpectQuery(selectVersionSQL).
			WithArgs("task_state:t1").
			WillReturnRows(sqlmock.NewRows([]string{"version", "expires_at"}))
		mock.ExpectExec("INSERT INTO task_states").
			WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "task_states_pkey"})
		mock.ExpectRollback()

		err := s.Save(context.Background(), m)
		assert.ErrorIs(t, err, task.ErrVersionConflict)
		assert.Equal(t, int64(0), m.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error", func(t *testing.T) {
		t.Parallel()

		s, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(selectVersionSQL).WillReturnError(sql.ErrConnDone)
		mock.ExpectRollback()

		err := s.Save(context.Background(), newMachine("t1"))
		assert.ErrorIs(t, err, sql.ErrConnDone)
		assert.NotErrorIs(t, err, task.ErrVersionConflict)
	})
}

func TestTaskStateStore_Load(t *testing.T) {
	t.Parallel()

	t.Run("found", func(t *testing.T) {
		t.Parallel()

		s, mock := newMockStore(t)
		stored := newMachine("t1")
		stored.Version = 2
		require.NoError(t, stored.MarkRunning())
		require.NoError(t, stored.MarkStepExecuted(task.StepFrameExtract))
		data, err := stored.Marshal()
		require.NoError(t, err)

		mock.ExpectQuery(selectSnapshot).
			WithArgs("task_state:t1", fixedNow).
			WillReturnRows(sqlmock.NewRows([]string{"snapshot"}).AddRow(data))

		m, err := s.Load(context.Background(), "t1")
		require.NoError(t, err)
		assert.Equal(t, task.TaskStatusRunning, m.Status)
		assert.Equal(t, int64(2), m.Version)
		assert.True(t, m.IsStepExecuted(task.StepFrameExtract))
		assert.Equal(t, "GAODE", m.Context.TaskType)
	})

	t.Run("missing or expired", func(t *testing.T) {
		t.Parallel()

		s, mock := newMockStore(t)
		mock.ExpectQuery(selectSnapshot).
			WithArgs("task_state:gone", fixedNow).
			WillReturnRows(sqlmock.NewRows([]string{"snapshot"}))

		_, err := s.Load(context.Background(), "gone")
		assert.ErrorIs(t, err, task.ErrStateNotFound)
	})
}

func TestTaskStateStore_List(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)

	first := newMachine("a")
	first.Version = 1
	second := newMachine("b")
	second.Version = 1
	dataA, err := first.Marshal()
	require.NoError(t, err)
	dataB, err := second.Marshal()
	require.NoError(t, err)

	where := `expires_at >= $1 AND status IN ($2, $3) AND task_type = $4`
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM task_states WHERE ` + where)).
		WithArgs(fixedNow, "PENDING", "RUNNING", "GAODE").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT snapshot FROM task_states WHERE ` + where +
		` ORDER BY created_at, task_id LIMIT $5 OFFSET $6`)).
		WithArgs(fixedNow, "PENDING", "RUNNING", "GAODE", 2, 5).
		WillReturnRows(sqlmock.NewRows([]string{"snapshot"}).AddRow(dataA).AddRow(dataB))

	states, total, err := s.List(context.Background(), task.ListFilter{
		Statuses: []task.TaskStatus{task.TaskStatusPending, task.TaskStatusRunning},
		TaskType: "GAODE",
		Limit:    2,
		Offset:   5,
	})
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	require.Len(t, states, 2)
	assert.Equal(t, "a", states[0].TaskID)
	assert.Equal(t, "b", states[1].TaskID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildListWhere(t *testing.T) {
	t.Parallel()

	before := fixedNow.Add(-time.Hour)

	tests := []struct {
		name      string
		filter    task.ListFilter
		wantWhere string
		wantArgs  []any
	}{
		{
			name:      "empty filter",
			filter:    task.ListFilter{},
			wantWhere: "expires_at >= $1",
			wantArgs:  []any{fixedNow},
		},
		{
			name:      "stuck task query",
			filter:    task.ListFilter{Statuses: []task.TaskStatus{task.TaskStatusRunning}, UpdatedBefore: before},
			wantWhere: "expires_at >= $1 AND status IN ($2) AND updated_at < $3",
			wantArgs:  []any{fixedNow, "RUNNING", before},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			where, args := buildListWhere(tt.filter, fixedNow)
			assert.Equal(t, tt.wantWhere, where)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestTaskStateStore_DeleteAndPurge(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM task_states WHERE state_key = $1`)).
		WithArgs("task_state:t1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM task_states WHERE expires_at < $1`)).
		WithArgs(fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, s.Delete(context.Background(), "t1"), "deleting a missing snapshot is not an error")

	n, err := s.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
