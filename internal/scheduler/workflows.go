package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/avetra/flowbot/internal/engine"
	"github.com/avetra/flowbot/internal/metrics"
	"github.com/avetra/flowbot/internal/notify"
	"github.com/avetra/flowbot/internal/store"
	"github.com/avetra/flowbot/internal/trigger"
	"github.com/avetra/flowbot/pkg/schema"
)

// DefaultTick is the evaluation interval when none is configured.
const DefaultTick = 30 * time.Second

// WorkflowScheduler periodically evaluates every active workflow's trigger
// and launches runs for the ones that fire. Evaluation errors are isolated
// per workflow: one broken trigger config never stops the rest of the pass.
type WorkflowScheduler struct {
	store     store.Store
	evaluator *trigger.Evaluator
	runner    *engine.Runner
	pool      *engine.WorkerPool
	notifier  notify.Notifier
	tick      time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	inflight map[string]struct{} // workflow IDs with a run in progress
}

// NewWorkflowScheduler creates a scheduler ticking at the given interval.
func NewWorkflowScheduler(
	st store.Store,
	evaluator *trigger.Evaluator,
	runner *engine.Runner,
	pool *engine.WorkerPool,
	notifier notify.Notifier,
	tick time.Duration,
	logger *slog.Logger,
) *WorkflowScheduler {
	if tick <= 0 {
		tick = DefaultTick
	}
	return &WorkflowScheduler{
		store:     st,
		evaluator: evaluator,
		runner:    runner,
		pool:      pool,
		notifier:  notifier,
		tick:      tick,
		logger:    logger,
		inflight:  make(map[string]struct{}),
	}
}

// Start launches the tick loop. It returns immediately; the first evaluation
// pass runs right away rather than waiting a full tick.
func (s *WorkflowScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return schema.NewError(schema.ErrCodeConflict, "workflow scheduler already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx)
	s.logger.Info("workflow scheduler started", slog.Duration("tick", s.tick))
	return nil
}

// Stop cancels the loop and waits for it to exit. In-flight runs continue on
// the worker pool; draining them is the pool's Shutdown.
func (s *WorkflowScheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("workflow scheduler stopped")
}

func (s *WorkflowScheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.evaluatePass(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evaluatePass(ctx)
		}
	}
}

// evaluatePass checks every active workflow once.
func (s *WorkflowScheduler) evaluatePass(ctx context.Context) {
	started := time.Now()
	defer func() {
		metrics.TickDuration.WithLabelValues("workflows").Observe(time.Since(started).Seconds())
	}()

	active := schema.WorkflowActive
	workflows, err := s.store.ListWorkflows(ctx, store.WorkflowFilter{Status: &active})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list active workflows", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, wf := range workflows {
		select {
		case <-ctx.Done():
			return
		default:
		}

		fire, injected, err := s.evaluator.ShouldFire(ctx, wf, now)
		if err != nil {
			metrics.TriggerErrors.Inc()
			s.logger.WarnContext(ctx, "trigger evaluation failed, workflow skipped",
				slog.String("workflow_id", wf.ID),
				slog.String("trigger_type", string(wf.TriggerType)),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !fire {
			continue
		}

		metrics.TriggerFires.WithLabelValues(string(wf.TriggerType)).Inc()
		s.launch(ctx, wf, injected)
	}
}

// launch starts a run on the worker pool, unless one is already in flight
// for this workflow. The in-flight guard is what keeps a slow run from
// overlapping with the next tick's firing of the same workflow.
func (s *WorkflowScheduler) launch(ctx context.Context, wf *store.Workflow, injected map[string]any) {
	if !s.tryAcquire(wf.ID) {
		s.logger.InfoContext(ctx, "run already in flight, skipping",
			slog.String("workflow_id", wf.ID))
		return
	}

	err := s.pool.Submit(ctx, func(ctx context.Context) {
		defer s.release(wf.ID)
		s.run(ctx, wf, injected)
	})
	if err != nil {
		s.release(wf.ID)
		s.logger.WarnContext(ctx, "failed to submit run",
			slog.String("workflow_id", wf.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *WorkflowScheduler) run(ctx context.Context, wf *store.Workflow, injected map[string]any) {
	run, err := s.runner.Execute(ctx, wf, injected)
	if err != nil {
		s.logger.ErrorContext(ctx, "workflow run failed to persist",
			slog.String("workflow_id", wf.ID),
			slog.String("error", err.Error()),
		)
	}
	if run == nil {
		return
	}
	s.notifyResult(ctx, wf, run)
}

// notifyResult sends the owner a per-step summary of the finished run.
func (s *WorkflowScheduler) notifyResult(ctx context.Context, wf *store.Workflow, run *store.Run) {
	var b strings.Builder
	fmt.Fprintf(&b, "Workflow %q finished: %s (run #%d)\n", wf.Name, run.Status, wf.RunCount+1)
	for _, step := range run.Steps {
		mark := "✓"
		if !step.Success {
			mark = "✗"
		}
		fmt.Fprintf(&b, "%s step %d (%s)\n", mark, step.Step, step.Name)
	}

	if err := s.notifier.Notify(ctx, wf.OwnerID, strings.TrimRight(b.String(), "\n")); err != nil {
		metrics.NotifyFailures.Inc()
		s.logger.WarnContext(ctx, "run summary notification failed",
			slog.String("workflow_id", wf.ID),
			slog.String("error", err.Error()),
		)
	}
}

// RunNow fires a workflow immediately, bypassing trigger evaluation but not
// the in-flight guard. This is the entry point for manual triggers.
func (s *WorkflowScheduler) RunNow(ctx context.Context, workflowID string) error {
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if wf.Status != schema.WorkflowActive {
		return schema.NewErrorf(schema.ErrCodeConflict, "workflow %s is %s, not active", workflowID, wf.Status)
	}

	if !s.tryAcquire(wf.ID) {
		return schema.NewErrorf(schema.ErrCodeConflict, "workflow %s already has a run in flight", workflowID)
	}

	err = s.pool.Submit(ctx, func(ctx context.Context) {
		defer s.release(wf.ID)
		s.run(ctx, wf, nil)
	})
	if err != nil {
		s.release(wf.ID)
		return err
	}

	metrics.TriggerFires.WithLabelValues(string(schema.TriggerManual)).Inc()
	return nil
}

func (s *WorkflowScheduler) tryAcquire(workflowID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[workflowID]; busy {
		return false
	}
	s.inflight[workflowID] = struct{}{}
	return true
}

func (s *WorkflowScheduler) release(workflowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, workflowID)
}
