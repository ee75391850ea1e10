package scheduler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avetra/flowbot/internal/actions"
	"github.com/avetra/flowbot/internal/engine"
	"github.com/avetra/flowbot/internal/store"
	"github.com/avetra/flowbot/internal/trigger"
	"github.com/avetra/flowbot/internal/vars"
	"github.com/avetra/flowbot/pkg/schema"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockWorkflowStore satisfies store.Store for scheduler tests.
type mockWorkflowStore struct {
	store.Store
	mu        sync.Mutex
	workflows []*store.Workflow
	runs      []*store.Run
}

func (m *mockWorkflowStore) ListWorkflows(_ context.Context, filter store.WorkflowFilter) ([]*store.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*store.Workflow
	for _, wf := range m.workflows {
		if filter.Status != nil && wf.Status != *filter.Status {
			continue
		}
		result = append(result, wf)
	}
	return result, nil
}

func (m *mockWorkflowStore) GetWorkflow(_ context.Context, id string) (*store.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, wf := range m.workflows {
		if wf.ID == id {
			return wf, nil
		}
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %s not found", id)
}

func (m *mockWorkflowStore) RecordRun(_ context.Context, run *store.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	m.runs = append(m.runs, &cp)
	return nil
}

func (m *mockWorkflowStore) recordedRuns() []*store.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*store.Run(nil), m.runs...)
}

// countingNotifier counts notifications per owner.
type countingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *countingNotifier) Notify(_ context.Context, _, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return nil
}

func (n *countingNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

// blockingHandler parks until released.
type blockingHandler struct {
	release chan struct{}
	started chan struct{}
	once    sync.Once
}

func (b *blockingHandler) Type() string { return "block" }

func (b *blockingHandler) Execute(_ context.Context, _ map[string]string, _ *vars.Store) actions.Result {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return actions.OK("released at last, finally done")
}

func newTestScheduler(t *testing.T, st *mockWorkflowStore, n *countingNotifier, handlers ...actions.Handler) *WorkflowScheduler {
	t.Helper()
	registry := actions.NewRegistry()
	for _, h := range handlers {
		require.NoError(t, registry.Register(h))
	}
	executor := engine.NewExecutor(registry, discardLogger())
	runner := engine.NewRunner(executor, st, n, discardLogger())
	pool := engine.NewWorkerPool(4, discardLogger())
	t.Cleanup(pool.Shutdown)
	evaluator := trigger.NewEvaluator(nil, discardLogger())
	return NewWorkflowScheduler(st, evaluator, runner, pool, n, time.Hour, discardLogger())
}

// okHandler succeeds immediately.
type okHandler struct{}

func (okHandler) Type() string { return "noop" }

func (okHandler) Execute(_ context.Context, _ map[string]string, _ *vars.Store) actions.Result {
	return actions.OK("done")
}

func activeWorkflow(id string, triggerConfig string) *store.Workflow {
	return &store.Workflow{
		ID:            id,
		OwnerID:       "owner-1",
		Name:          "wf " + id,
		TriggerType:   schema.TriggerInterval,
		TriggerConfig: json.RawMessage(triggerConfig),
		Steps:         []schema.Step{{Name: "noop", Type: "noop"}},
		Status:        schema.WorkflowActive,
		CreatedAt:     time.Now().UTC(),
	}
}

func TestEvaluatePassRunsDueWorkflows(t *testing.T) {
	st := &mockWorkflowStore{workflows: []*store.Workflow{
		activeWorkflow("wf_a", `{"interval_minutes":5}`),
	}}
	n := &countingNotifier{}
	s := newTestScheduler(t, st, n, okHandler{})

	s.evaluatePass(context.Background())
	s.pool.Wait()

	runs := st.recordedRuns()
	require.Len(t, runs, 1)
	assert.Equal(t, "wf_a", runs[0].WorkflowID)
	assert.Equal(t, schema.RunCompleted, runs[0].Status)

	// The owner gets a per-step summary.
	msgs := n.all()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "finished: completed")
	assert.Contains(t, msgs[0], "✓ step 1 (noop)")
}

func TestEvaluatePassIsolatesBrokenTrigger(t *testing.T) {
	st := &mockWorkflowStore{workflows: []*store.Workflow{
		activeWorkflow("wf_broken", `{"interval_minutes":"five"}`),
		activeWorkflow("wf_ok", `{"interval_minutes":5}`),
	}}
	n := &countingNotifier{}
	s := newTestScheduler(t, st, n, okHandler{})

	s.evaluatePass(context.Background())
	s.pool.Wait()

	// The malformed config never fires and never stops the healthy one.
	runs := st.recordedRuns()
	require.Len(t, runs, 1)
	assert.Equal(t, "wf_ok", runs[0].WorkflowID)
}

func TestEvaluatePassSkipsPausedWorkflows(t *testing.T) {
	paused := activeWorkflow("wf_paused", `{"interval_minutes":5}`)
	paused.Status = schema.WorkflowPaused
	st := &mockWorkflowStore{workflows: []*store.Workflow{paused}}
	n := &countingNotifier{}
	s := newTestScheduler(t, st, n, okHandler{})

	s.evaluatePass(context.Background())
	s.pool.Wait()

	assert.Empty(t, st.recordedRuns())
}

func TestInflightGuardPreventsOverlap(t *testing.T) {
	wf := activeWorkflow("wf_slow", `{"interval_minutes":5}`)
	wf.Steps = []schema.Step{{Name: "slow", Type: "block"}}
	st := &mockWorkflowStore{workflows: []*store.Workflow{wf}}
	n := &countingNotifier{}
	blocker := &blockingHandler{release: make(chan struct{}), started: make(chan struct{})}
	s := newTestScheduler(t, st, n, blocker)

	ctx := context.Background()
	s.evaluatePass(ctx)
	<-blocker.started

	// Second pass while the first run is still executing: must not start
	// a second run of the same workflow.
	s.evaluatePass(ctx)

	close(blocker.release)
	s.pool.Wait()

	assert.Len(t, st.recordedRuns(), 1)
}

func TestRunNowBypassesTrigger(t *testing.T) {
	wf := activeWorkflow("wf_manual", `{}`)
	wf.TriggerType = schema.TriggerManual
	st := &mockWorkflowStore{workflows: []*store.Workflow{wf}}
	n := &countingNotifier{}
	s := newTestScheduler(t, st, n, okHandler{})

	// The scheduler never fires a manual workflow on its own.
	s.evaluatePass(context.Background())
	s.pool.Wait()
	assert.Empty(t, st.recordedRuns())

	// An explicit request runs it.
	require.NoError(t, s.RunNow(context.Background(), "wf_manual"))
	s.pool.Wait()
	runs := st.recordedRuns()
	require.Len(t, runs, 1)
	assert.Equal(t, schema.RunCompleted, runs[0].Status)
}

func TestRunNowRejectsPaused(t *testing.T) {
	wf := activeWorkflow("wf_paused", `{}`)
	wf.TriggerType = schema.TriggerManual
	wf.Status = schema.WorkflowPaused
	st := &mockWorkflowStore{workflows: []*store.Workflow{wf}}
	s := newTestScheduler(t, st, &countingNotifier{}, okHandler{})

	err := s.RunNow(context.Background(), "wf_paused")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not active")
}

func TestRunNowUnknownWorkflow(t *testing.T) {
	st := &mockWorkflowStore{}
	s := newTestScheduler(t, st, &countingNotifier{}, okHandler{})

	err := s.RunNow(context.Background(), "wf_missing")
	require.Error(t, err)
}

func TestStartStopLifecycle(t *testing.T) {
	st := &mockWorkflowStore{}
	s := newTestScheduler(t, st, &countingNotifier{}, okHandler{})

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))

	s.Stop()
	// Stop is idempotent.
	s.Stop()

	// Restart after stop works.
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
}
