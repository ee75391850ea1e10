package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/avetra/flowbot/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/flowbot.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Ping verifies the database is reachable. Feeds the health endpoint.
func (s *LibSQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- Workflows ---

func (s *LibSQLStore) CreateWorkflow(ctx context.Context, wf *Workflow) error {
	steps, err := json.Marshal(wf.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	variables, err := marshalMapOrDefault(wf.Variables)
	if err != nil {
		return fmt.Errorf("marshal variables: %w", err)
	}
	triggerConfig := string(wf.TriggerConfig)
	if triggerConfig == "" {
		triggerConfig = "{}"
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, owner_id, name, description, trigger_type, trigger_config, steps, variables, status, run_count, last_run_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.OwnerID, wf.Name, wf.Description, string(wf.TriggerType), triggerConfig,
		string(steps), string(variables), string(wf.Status), wf.RunCount,
		nullTime(wf.LastRunAt), timeOrNow(wf.CreatedAt), timeOrNow(wf.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name, description, trigger_type, trigger_config, steps, variables, status, run_count, last_run_at, created_at, updated_at
		 FROM workflows WHERE id = ?`, id,
	)
	wf, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	return wf, err
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error) {
	query := `SELECT id, owner_id, name, description, trigger_type, trigger_config, steps, variables, status, run_count, last_run_at, created_at, updated_at
	          FROM workflows WHERE 1=1`
	var args []any
	if filter.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*filter.Status))
	}
	if filter.OwnerID != "" {
		query += ` AND owner_id = ?`
		args = append(args, filter.OwnerID)
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []*Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

func (s *LibSQLStore) UpdateWorkflowStatus(ctx context.Context, id string, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

// --- Runs ---

// RecordRun inserts the finished run and advances the workflow's run stats
// in one transaction, so restart recovery never sees a run without its
// run_count/last_run_at update or vice versa.
func (s *LibSQLStore) RecordRun(ctx context.Context, run *Run) error {
	stepsLog, err := json.Marshal(run.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps_log: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record run: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO workflow_runs (id, workflow_id, owner_id, status, steps_log, started_at, finished_at, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.WorkflowID, run.OwnerID, string(run.Status), string(stepsLog),
		run.StartedAt, nullTime(run.FinishedAt), nullStr(run.Error),
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert run: %w", err)
	}

	finished := time.Now().UTC()
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE workflows SET run_count = run_count + 1, last_run_at = ?, updated_at = ? WHERE id = ?`,
		finished, finished, run.WorkflowID,
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("update run stats: %w", err)
	}

	return tx.Commit()
}

func (s *LibSQLStore) ListRuns(ctx context.Context, workflowID string, limit int) ([]*Run, error) {
	query := `SELECT id, workflow_id, owner_id, status, steps_log, started_at, finished_at, error
	          FROM workflow_runs WHERE workflow_id = ? ORDER BY started_at DESC`
	args := []any{workflowID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r := &Run{}
		var (
			status, stepsLog string
			finishedAt       sql.NullTime
			errText          sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.WorkflowID, &r.OwnerID, &status, &stepsLog,
			&r.StartedAt, &finishedAt, &errText); err != nil {
			return nil, err
		}
		r.Status = schema.RunStatus(status)
		if err := json.Unmarshal([]byte(stepsLog), &r.Steps); err != nil {
			return nil, fmt.Errorf("decode steps_log for run %s: %w", r.ID, err)
		}
		if finishedAt.Valid {
			r.FinishedAt = &finishedAt.Time
		}
		r.Error = errText.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// --- Scheduled messages ---

func (s *LibSQLStore) CreateScheduledMessage(ctx context.Context, msg *ScheduledMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_messages (id, owner_id, message, cron_expr, run_at, repeat, repeat_interval_min, status, run_count, last_run_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.OwnerID, msg.Message, nullStr(msg.CronExpr), nullTime(msg.RunAt),
		boolToInt(msg.Repeat), msg.RepeatIntervalMin, msg.Status, msg.RunCount,
		nullTime(msg.LastRunAt), timeOrNow(msg.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) ListDueMessages(ctx context.Context, now time.Time) ([]*ScheduledMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, message, cron_expr, run_at, repeat, repeat_interval_min, status, run_count, last_run_at, created_at
		 FROM scheduled_messages
		 WHERE status = ? AND (run_at IS NULL OR run_at <= ?)`,
		MessageActive, now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *LibSQLStore) ListMessages(ctx context.Context, ownerID string) ([]*ScheduledMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, message, cron_expr, run_at, repeat, repeat_interval_min, status, run_count, last_run_at, created_at
		 FROM scheduled_messages WHERE owner_id = ? ORDER BY created_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// MarkMessageDelivered finalizes a one-shot message. The status guard makes
// the transition idempotent: a message already delivered is not delivered
// again for the same due time.
func (s *LibSQLStore) MarkMessageDelivered(ctx context.Context, id string, deliveredAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_messages
		 SET status = ?, run_count = run_count + 1, last_run_at = ?
		 WHERE id = ? AND status = ?`,
		MessageDelivered, deliveredAt, id, MessageActive,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled message", id)
}

// RescheduleMessage advances a recurring message to its next due time in a
// single statement, atomically with the delivery bookkeeping.
func (s *LibSQLStore) RescheduleMessage(ctx context.Context, id string, deliveredAt, nextRun time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_messages
		 SET run_count = run_count + 1, last_run_at = ?, run_at = ?
		 WHERE id = ? AND status = ?`,
		deliveredAt, nextRun, id, MessageActive,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled message", id)
}

func (s *LibSQLStore) DeleteScheduledMessage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_messages WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled message", id)
}

// --- Event cursors ---

func (s *LibSQLStore) GetEventCursor(ctx context.Context, name string) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM event_cursors WHERE name = ?`, name,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return value, err
}

func (s *LibSQLStore) SetEventCursor(ctx context.Context, name string, value int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO event_cursors (name, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		name, value,
	)
	return err
}

// --- Scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*Workflow, error) {
	wf := &Workflow{}
	var (
		triggerType, triggerConfig, steps, variables, status string
		lastRunAt                                            sql.NullTime
	)
	err := row.Scan(&wf.ID, &wf.OwnerID, &wf.Name, &wf.Description, &triggerType,
		&triggerConfig, &steps, &variables, &status, &wf.RunCount, &lastRunAt,
		&wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		return nil, err
	}

	wf.TriggerType = schema.TriggerType(triggerType)
	wf.TriggerConfig = json.RawMessage(triggerConfig)
	wf.Status = schema.WorkflowStatus(status)
	if err := json.Unmarshal([]byte(steps), &wf.Steps); err != nil {
		return nil, fmt.Errorf("decode steps for workflow %s: %w", wf.ID, err)
	}
	if variables != "" {
		if err := json.Unmarshal([]byte(variables), &wf.Variables); err != nil {
			return nil, fmt.Errorf("decode variables for workflow %s: %w", wf.ID, err)
		}
	}
	if lastRunAt.Valid {
		wf.LastRunAt = &lastRunAt.Time
	}
	return wf, nil
}

func scanMessages(rows *sql.Rows) ([]*ScheduledMessage, error) {
	var msgs []*ScheduledMessage
	for rows.Next() {
		m := &ScheduledMessage{}
		var (
			cronExpr         sql.NullString
			runAt, lastRunAt sql.NullTime
			repeat           int
		)
		if err := rows.Scan(&m.ID, &m.OwnerID, &m.Message, &cronExpr, &runAt, &repeat,
			&m.RepeatIntervalMin, &m.Status, &m.RunCount, &lastRunAt, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.CronExpr = cronExpr.String
		m.Repeat = repeat != 0
		if runAt.Valid {
			m.RunAt = &runAt.Time
		}
		if lastRunAt.Valid {
			m.LastRunAt = &lastRunAt.Time
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// --- Nullable helpers ---

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if m == nil {
		return json.RawMessage(`{}`), nil
	}
	return json.Marshal(m)
}

var _ Store = (*LibSQLStore)(nil)
