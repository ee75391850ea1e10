package store

import (
	"context"
	"time"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Workflows
	CreateWorkflow(ctx context.Context, wf *Workflow) error
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error)
	UpdateWorkflowStatus(ctx context.Context, id string, status string) error
	DeleteWorkflow(ctx context.Context, id string) error

	// Runs. RecordRun atomically inserts the finished run and advances the
	// owning workflow's run_count and last_run_at in one transaction.
	RecordRun(ctx context.Context, run *Run) error
	ListRuns(ctx context.Context, workflowID string, limit int) ([]*Run, error)

	// Scheduled messages
	CreateScheduledMessage(ctx context.Context, msg *ScheduledMessage) error
	ListDueMessages(ctx context.Context, now time.Time) ([]*ScheduledMessage, error)
	ListMessages(ctx context.Context, ownerID string) ([]*ScheduledMessage, error)
	MarkMessageDelivered(ctx context.Context, id string, deliveredAt time.Time) error
	RescheduleMessage(ctx context.Context, id string, deliveredAt, nextRun time.Time) error
	DeleteScheduledMessage(ctx context.Context, id string) error

	// Event cursors (restart-safe positions for external pollers)
	GetEventCursor(ctx context.Context, name string) (int64, error)
	SetEventCursor(ctx context.Context, name string, value int64) error

	// Health and lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
