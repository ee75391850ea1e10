package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/avetra/flowbot/internal/logging"
	"github.com/avetra/flowbot/internal/metrics"
	"github.com/avetra/flowbot/internal/notify"
	"github.com/avetra/flowbot/internal/store"
	"github.com/avetra/flowbot/internal/vars"
	"github.com/avetra/flowbot/pkg/schema"
)

// outputPreviewLen bounds per-step output previews in the run log.
const outputPreviewLen = 200

// Runner executes a workflow's ordered steps against one fresh variable
// store, applying the branching and halting policy, and persists the
// resulting execution log together with the workflow's run stats.
type Runner struct {
	executor *Executor
	store    store.Store
	notifier notify.Notifier
	logger   *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(executor *Executor, st store.Store, notifier notify.Notifier, logger *slog.Logger) *Runner {
	return &Runner{
		executor: executor,
		store:    st,
		notifier: notifier,
		logger:   logger,
	}
}

// Execute runs every step of the workflow in order. injected carries data
// describing the event that caused the trigger to fire (may be nil).
//
// The final status is:
//   - completed: all steps ran, or a condition step short-circuited;
//   - halted: a data-producing step failed or returned nothing usable, or a
//     failed step had the legacy stop_on_failure flag set;
//   - failed: the run loop itself panicked.
//
// The run is persisted and the workflow's run_count/last_run_at advance
// atomically with it, whatever the outcome.
func (r *Runner) Execute(ctx context.Context, wf *store.Workflow, injected map[string]any) (*store.Run, error) {
	runID := "run_" + uuid.NewString()[:10]
	started := time.Now().UTC()

	ctx = logging.WithWorkflowID(ctx, wf.ID)
	ctx = logging.WithRunID(ctx, runID)
	ctx = logging.WithOwnerID(ctx, wf.OwnerID)

	seed := map[string]any{
		"_workflow_id": wf.ID,
		"_owner_id":    wf.OwnerID,
		"_timestamp":   started.Format(time.RFC3339),
	}
	for k, v := range injected {
		seed[k] = v
	}
	vs := vars.New(seed)

	run := &store.Run{
		ID:         runID,
		WorkflowID: wf.ID,
		OwnerID:    wf.OwnerID,
		Status:     schema.RunRunning,
		StartedAt:  started,
	}

	r.runSteps(ctx, wf, vs, run)

	finished := time.Now().UTC()
	run.FinishedAt = &finished

	if err := r.store.RecordRun(ctx, run); err != nil {
		return run, schema.NewErrorf(schema.ErrCodeStore, "record run %s: %s", runID, err.Error()).WithCause(err)
	}

	metrics.WorkflowRuns.WithLabelValues(string(run.Status)).Inc()
	r.logger.InfoContext(ctx, "workflow run finished",
		slog.String("status", string(run.Status)),
		slog.Int("steps_executed", len(run.Steps)),
	)
	return run, nil
}

// runSteps executes the step loop. A panic anywhere inside it is recovered
// at this boundary: the run is marked failed with the error recorded, and
// the scheduler keeps ticking.
func (r *Runner) runSteps(ctx context.Context, wf *store.Workflow, vs *vars.Store, run *store.Run) {
	defer func() {
		if rec := recover(); rec != nil {
			run.Status = schema.RunFailed
			run.Error = fmt.Sprintf("run aborted: %v", rec)
			r.logger.ErrorContext(ctx, "workflow run panicked", slog.Any("panic", rec))
		}
	}()

	for i, step := range wf.Steps {
		idx := i + 1
		r.logger.InfoContext(ctx, "executing step",
			slog.Int("step", idx),
			slog.String("name", step.Name),
			slog.String("type", step.Type),
		)

		result := r.executor.Execute(ctx, step, vs)

		run.Steps = append(run.Steps, store.StepOutcome{
			Step:          idx,
			Name:          step.Name,
			Type:          step.Type,
			Success:       result.Success,
			OutputPreview: preview(result.Output),
		})

		vs.Set(fmt.Sprintf("step_%d_output", idx), result.Output)
		vs.Set(fmt.Sprintf("step_%d_success", idx), result.Success)

		// A failed condition is a normal short-circuit, not a halt.
		if step.Type == schema.StepCondition {
			if passed, ok := result.Extra["condition_passed"].(bool); ok && !passed {
				r.logger.InfoContext(ctx, "condition not met, skipping remaining steps", slog.Int("step", idx))
				run.Status = schema.RunCompleted
				return
			}
		}

		// Halting policy: a data-producing step that failed or returned
		// nothing usable stops the run before downstream steps consume
		// empty or error text as real data.
		if schema.IsDataProducing(step.Type) &&
			(!result.Success || len(strings.TrimSpace(result.Output)) < schema.MinUsableOutput) {
			run.Status = schema.RunHalted
			r.notifyHalt(ctx, wf, idx, step, result.Output)
			return
		}

		// Legacy per-step override.
		if !result.Success && step.StopOnFailure {
			r.logger.WarnContext(ctx, "step failed with stop_on_failure", slog.Int("step", idx))
			run.Status = schema.RunHalted
			return
		}
	}

	run.Status = schema.RunCompleted
}

// notifyHalt tells the owner exactly which step broke and what it returned.
// A notification failure is logged and counted, never propagated.
func (r *Runner) notifyHalt(ctx context.Context, wf *store.Workflow, idx int, step schema.Step, output string) {
	reason := strings.TrimSpace(output)
	if reason == "" {
		reason = "no output returned"
	}
	text := fmt.Sprintf("Workflow %q halted at step %d (%s): %s",
		wf.Name, idx, step.Name, preview(reason))

	r.logger.WarnContext(ctx, "workflow halted",
		slog.Int("step", idx),
		slog.String("step_name", step.Name),
	)
	if err := r.notifier.Notify(ctx, wf.OwnerID, text); err != nil {
		metrics.NotifyFailures.Inc()
		r.logger.WarnContext(ctx, "halt notification failed", slog.String("error", err.Error()))
	}
}

func preview(s string) string {
	if len(s) <= outputPreviewLen {
		return s
	}
	return s[:outputPreviewLen]
}
