package store

import (
	"encoding/json"
	"time"

	"github.com/avetra/flowbot/pkg/schema"
)

// Workflow is the persisted representation of an automation.
// Steps and TriggerConfig are decoded once at load time; the engine only
// writes back run_count, last_run_at and the status transitions it causes.
type Workflow struct {
	ID            string                `json:"id"`
	OwnerID       string                `json:"owner_id"`
	Name          string                `json:"name"`
	Description   string                `json:"description,omitempty"`
	TriggerType   schema.TriggerType    `json:"trigger_type"`
	TriggerConfig json.RawMessage       `json:"trigger_config"`
	Steps         []schema.Step         `json:"steps"`
	Variables     map[string]any        `json:"variables,omitempty"` // informational snapshot, not required for correctness
	Status        schema.WorkflowStatus `json:"status"`
	RunCount      int64                 `json:"run_count"`
	LastRunAt     *time.Time            `json:"last_run_at,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

// StepOutcome is one entry of a run's execution log.
type StepOutcome struct {
	Step          int    `json:"step"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	Success       bool   `json:"success"`
	OutputPreview string `json:"output_preview"`
}

// Run is the immutable record of one execution attempt of a workflow.
type Run struct {
	ID         string           `json:"id"`
	WorkflowID string           `json:"workflow_id"`
	OwnerID    string           `json:"owner_id"`
	Status     schema.RunStatus `json:"status"`
	Steps      []StepOutcome    `json:"steps_log"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// Scheduled message lifecycle states.
const (
	MessageActive    = "active"
	MessageDelivered = "delivered"
)

// ScheduledMessage is a one-shot or recurring message awaiting delivery.
// A one-shot message transitions active -> delivered exactly once; a
// recurring message stays active and advances run_at on each delivery.
type ScheduledMessage struct {
	ID                string     `json:"id"`
	OwnerID           string     `json:"owner_id"`
	Message           string     `json:"message"`
	CronExpr          string     `json:"cron_expr,omitempty"`
	RunAt             *time.Time `json:"run_at,omitempty"`
	Repeat            bool       `json:"repeat"`
	RepeatIntervalMin int        `json:"repeat_interval_min,omitempty"`
	Status            string     `json:"status"`
	RunCount          int64      `json:"run_count"`
	LastRunAt         *time.Time `json:"last_run_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// WorkflowFilter specifies criteria for listing workflows.
type WorkflowFilter struct {
	Status  *schema.WorkflowStatus `json:"status,omitempty"`
	OwnerID string                 `json:"owner_id,omitempty"`
	Limit   int                    `json:"limit,omitempty"`
}
