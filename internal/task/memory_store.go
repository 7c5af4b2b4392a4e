package task

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type memoryEntry struct {
	data      []byte
	version   int64
	expiresAt time.Time
}

// MemoryStateStore is an in-process TaskStateRepository. Snapshots are stored
// as encoded JSON so callers never share state with the store.
type MemoryStateStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	prefix  string
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStateStore creates an in-memory store. A zero ttl uses DefaultStateTTL.
func NewMemoryStateStore(keyPrefix string, ttl time.Duration) *MemoryStateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &MemoryStateStore{
		entries: make(map[string]memoryEntry),
		prefix:  keyPrefix,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryStateStore) key(taskID string) string {
	return s.prefix + taskID
}

// Save implements TaskStateStore.
func (s *MemoryStateStore) Save(ctx context.Context, m *TaskStateMachine) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.key(m.TaskID)
	now := s.now()
	current, exists := s.entries[key]
	if exists && now.After(current.expiresAt) {
		exists = false
	}
	var currentVersion int64
	if exists {
		currentVersion = current.version
	}
	if currentVersion != m.Version {
		return &VersionConflictError{TaskID: m.TaskID, Stored: currentVersion, Have: m.Version}
	}

	next := m.Version + 1
	m.Version = next
	data, err := m.Marshal()
	if err != nil {
		m.Version = next - 1
		return err
	}
	s.entries[key] = memoryEntry{data: data, version: next, expiresAt: now.Add(s.ttl)}
	return nil
}

// Load implements TaskStateStore.
func (s *MemoryStateStore) Load(ctx context.Context, taskID string) (*TaskStateMachine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	entry, ok := s.entries[s.key(taskID)]
	s.mu.RUnlock()
	if !ok || s.now().After(entry.expiresAt) {
		return nil, fmt.Errorf("%w: %s", ErrStateNotFound, taskID)
	}
	return UnmarshalTaskStateMachine(entry.data)
}

// Delete implements TaskStateRepository.
func (s *MemoryStateStore) Delete(ctx context.Context, taskID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.entries, s.key(taskID))
	s.mu.Unlock()
	return nil
}

// List implements TaskStateRepository.
func (s *MemoryStateStore) List(ctx context.Context, f ListFilter) ([]*TaskStateMachine, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	s.mu.RLock()
	now := s.now()
	matched := make([]*TaskStateMachine, 0)
	for _, entry := range s.entries {
		if now.After(entry.expiresAt) {
			continue
		}
		m, err := UnmarshalTaskStateMachine(entry.data)
		if err != nil {
			s.mu.RUnlock()
			return nil, 0, err
		}
		if f.Matches(m) {
			matched = append(matched, m)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].TaskID < matched[j].TaskID
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	return f.Page(matched), len(matched), nil
}

// PurgeExpired implements ExpiredStatePurger.
func (s *MemoryStateStore) PurgeExpired(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var purged int64
	for key, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, key)
			purged++
		}
	}
	return purged, nil
}

var (
	_ TaskStateRepository = (*MemoryStateStore)(nil)
	_ ExpiredStatePurger  = (*MemoryStateStore)(nil)
)
