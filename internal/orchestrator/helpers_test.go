package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/phrazzld/agentrun/internal/task"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// stubStep is a configurable StepExecutor that counts its invocations.
type stubStep struct {
	name      string
	calls     atomic.Int32
	ExecuteFn func(ctx context.Context, tc *task.TaskContext, req task.StepRequest) (*task.StepResult, error)
	BuildFn   func(tc *task.TaskContext) (task.StepRequest, error)
}

func newStubStep(name string, fn func(ctx context.Context, tc *task.TaskContext, req task.StepRequest) (*task.StepResult, error)) *stubStep {
	return &stubStep{name: name, ExecuteFn: fn}
}

func (s *stubStep) Name() string { return s.name }

func (s *stubStep) Execute(ctx context.Context, tc *task.TaskContext, req task.StepRequest) (*task.StepResult, error) {
	s.calls.Add(1)
	if s.ExecuteFn == nil {
		return &task.StepResult{}, nil
	}
	return s.ExecuteFn(ctx, tc, req)
}

func (s *stubStep) BuildRequest(tc *task.TaskContext) (task.StepRequest, error) {
	if s.BuildFn == nil {
		return task.StepRequest{StepName: s.name}, nil
	}
	return s.BuildFn(tc)
}

// stubStore wraps a MemoryStateStore with overridable Save and Load.
type stubStore struct {
	*task.MemoryStateStore
	SaveFn func(ctx context.Context, m *task.TaskStateMachine) error
	LoadFn func(ctx context.Context, taskID string) (*task.TaskStateMachine, error)
}

func newStubStore() *stubStore {
	return &stubStore{MemoryStateStore: task.NewMemoryStateStore(task.DefaultKeyPrefix, 0)}
}

func (s *stubStore) Save(ctx context.Context, m *task.TaskStateMachine) error {
	if s.SaveFn != nil {
		return s.SaveFn(ctx, m)
	}
	return s.MemoryStateStore.Save(ctx, m)
}

func (s *stubStore) Load(ctx context.Context, taskID string) (*task.TaskStateMachine, error) {
	if s.LoadFn != nil {
		return s.LoadFn(ctx, taskID)
	}
	return s.MemoryStateStore.Load(ctx, taskID)
}

type metricEvent struct {
	kind   string
	metric string
	tags   map[string]string
}

// recordingMetrics captures every metrics event.
type recordingMetrics struct {
	mu     sync.Mutex
	events []metricEvent
}

func (m *recordingMetrics) Timing(metric string, _ int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, metricEvent{kind: "timing", metric: metric, tags: tags})
}

func (m *recordingMetrics) IncrementCounter(metric string, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, metricEvent{kind: "counter", metric: metric, tags: tags})
}

func (m *recordingMetrics) find(kind, metric string) []metricEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []metricEvent
	for _, e := range m.events {
		if e.kind == kind && e.metric == metric {
			out = append(out, e)
		}
	}
	return out
}

type panickingMetrics struct{}

func (panickingMetrics) Timing(string, int64, map[string]string) { panic("sink down") }

func (panickingMetrics) IncrementCounter(string, map[string]string) { panic("sink down") }

type recordingNotifier struct {
	mu          sync.Mutex
	completions []Completion
}

func (n *recordingNotifier) NotifyCompletion(_ context.Context, c Completion) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completions = append(n.completions, c)
	return nil
}

func (n *recordingNotifier) all() []Completion {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Completion(nil), n.completions...)
}

func newTestOrchestrator(
	t *testing.T,
	cfg Config,
	store task.TaskStateStore,
	steps []task.StepExecutor,
	opts ...Option,
) *Orchestrator {
	t.Helper()
	o, err := New(cfg, steps, store, testLogger(), opts...)
	require.NoError(t, err)
	return o
}

func loadState(t *testing.T, store task.TaskStateStore, taskID string) *task.TaskStateMachine {
	t.Helper()
	sm, err := store.Load(context.Background(), taskID)
	require.NoError(t, err)
	return sm
}
