package natsbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/phrazzld/agentrun/internal/task"
)

// KVStateStore implements task.TaskStateRepository on a JetStream key-value
// bucket. Expiry is delegated to the bucket TTL.
type KVStateStore struct {
	bucket bucket
	prefix string
	logger *slog.Logger
}

// NewKVStateStore opens (creating if needed) the bucket and returns a store
// whose snapshots expire after ttl.
func NewKVStateStore(
	ctx context.Context,
	js jetstream.JetStream,
	bucketName, keyPrefix string,
	ttl time.Duration,
	logger *slog.Logger,
) (*KVStateStore, error) {
	if ttl <= 0 {
		ttl = task.DefaultStateTTL
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucketName,
		Description: "agentrun task state snapshots",
		TTL:         ttl,
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open key-value bucket %s: %w", bucketName, err)
	}
	return newKVStateStore(jsBucket{kv: kv}, keyPrefix, logger), nil
}

func newKVStateStore(b bucket, keyPrefix string, logger *slog.Logger) *KVStateStore {
	return &KVStateStore{
		bucket: b,
		prefix: sanitizeKey(keyPrefix),
		logger: logger.With("component", "kv_state_store"),
	}
}

// sanitizeKey maps characters outside the key alphabet: ':' becomes a token
// separator, anything else becomes '_'.
func sanitizeKey(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '/', r == '=', r == '.':
			return r
		case r == ':':
			return '.'
		default:
			return '_'
		}
	}, s)
}

func (s *KVStateStore) key(taskID string) string {
	return s.prefix + sanitizeKey(taskID)
}

// Save implements task.TaskStateStore. The snapshot version is checked
// against the stored one and the write is conditioned on the bucket
// revision, so a concurrent writer between the two still loses.
func (s *KVStateStore) Save(ctx context.Context, m *task.TaskStateMachine) error {
	key := s.key(m.TaskID)

	data, revision, err := s.bucket.Get(ctx, key)
	exists := true
	switch {
	case errors.Is(err, errKeyNotFound):
		exists = false
	case err != nil:
		return fmt.Errorf("failed to read task state %s: %w", m.TaskID, err)
	}

	var current int64
	if exists {
		stored, err := task.UnmarshalTaskStateMachine(data)
		if err != nil {
			// An unreadable snapshot cannot be resumed; the revision check
			// still guards the overwrite.
			s.logger.WarnContext(ctx, "overwriting unreadable task state", "task_id", m.TaskID, "error", err)
			current = m.Version
		} else {
			current = stored.Version
		}
	}
	if current != m.Version {
		return &task.VersionConflictError{TaskID: m.TaskID, Stored: current, Have: m.Version}
	}

	next := m.Version + 1
	snapshot := *m
	snapshot.Version = next
	encoded, err := snapshot.Marshal()
	if err != nil {
		return err
	}

	if exists {
		_, err = s.bucket.Update(ctx, key, encoded, revision)
	} else {
		_, err = s.bucket.Create(ctx, key, encoded)
	}
	switch {
	case errors.Is(err, errRevisionMismatch), errors.Is(err, errKeyExists):
		return fmt.Errorf("%w: task %s was written concurrently", task.ErrVersionConflict, m.TaskID)
	case err != nil:
		s.logger.ErrorContext(ctx, "failed to save task state", "task_id", m.TaskID, "error", err)
		return fmt.Errorf("failed to write task state %s: %w", m.TaskID, err)
	}

	m.Version = next
	return nil
}

// Load implements task.TaskStateStore.
func (s *KVStateStore) Load(ctx context.Context, taskID string) (*task.TaskStateMachine, error) {
	data, _, err := s.bucket.Get(ctx, s.key(taskID))
	if errors.Is(err, errKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", task.ErrStateNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read task state %s: %w", taskID, err)
	}
	return task.UnmarshalTaskStateMachine(data)
}

// Delete implements task.TaskStateRepository.
func (s *KVStateStore) Delete(ctx context.Context, taskID string) error {
	if err := s.bucket.Delete(ctx, s.key(taskID)); err != nil {
		return fmt.Errorf("failed to delete task state %s: %w", taskID, err)
	}
	return nil
}

// List implements task.TaskStateRepository by scanning the bucket. Keys
// outside the store prefix are ignored.
func (s *KVStateStore) List(ctx context.Context, f task.ListFilter) ([]*task.TaskStateMachine, int, error) {
	keys, err := s.bucket.Keys(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list task state keys: %w", err)
	}

	matched := make([]*task.TaskStateMachine, 0)
	for _, key := range keys {
		if !strings.HasPrefix(key, s.prefix) {
			continue
		}
		data, _, err := s.bucket.Get(ctx, key)
		if errors.Is(err, errKeyNotFound) {
			// Deleted or expired since the key listing.
			continue
		}
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read task state %s: %w", key, err)
		}
		m, err := task.UnmarshalTaskStateMachine(data)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping undecodable task state", "key", key, "error", err)
			continue
		}
		if f.Matches(m) {
			matched = append(matched, m)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].TaskID < matched[j].TaskID
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	return f.Page(matched), len(matched), nil
}

var _ task.TaskStateRepository = (*KVStateStore)(nil)
