package trigger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/avetra/flowbot/internal/market"
	"github.com/avetra/flowbot/internal/store"
	"github.com/avetra/flowbot/pkg/schema"
)

// EventSource reports external events (e.g. on-chain whale transfers) for an
// on_chain_event trigger. When an event matches, it returns the event data
// to inject into the run's variable store.
type EventSource interface {
	Check(ctx context.Context, cfg *schema.OnChainEventTrigger) (bool, map[string]any, error)
}

// Evaluator decides, per trigger kind, whether a workflow should fire now.
// Each decision is a pure function of (config, last_run_at, now) plus the
// external signal for price and event triggers.
type Evaluator struct {
	quotes market.QuoteSource
	parser cron.Parser
	logger *slog.Logger

	mu      sync.RWMutex
	sources map[string]EventSource // event_type -> source
}

// NewEvaluator creates an Evaluator. quotes may be nil when no price
// collaborator is configured; price_threshold workflows then never fire.
func NewEvaluator(quotes market.QuoteSource, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		quotes:  quotes,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:  logger,
		sources: make(map[string]EventSource),
	}
}

// RegisterEventSource binds an EventSource to an event type.
func (e *Evaluator) RegisterEventSource(eventType string, src EventSource) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sources[eventType] = src
}

// ShouldFire reports whether the workflow's trigger condition holds at now,
// plus any event data to inject into the run. A structurally invalid trigger
// config is an error the caller logs and skips: "never fires", not a crash.
func (e *Evaluator) ShouldFire(ctx context.Context, wf *store.Workflow, now time.Time) (bool, map[string]any, error) {
	cfg, err := schema.DecodeTriggerConfig(wf.TriggerType, wf.TriggerConfig)
	if err != nil {
		return false, nil, err
	}

	switch wf.TriggerType {
	case schema.TriggerInterval:
		return e.intervalDue(cfg.Interval, wf.LastRunAt, now), nil, nil

	case schema.TriggerCron:
		return e.cronDue(cfg.Cron, wf, now)

	case schema.TriggerPriceThreshold:
		return e.priceCrossed(ctx, cfg.PriceThreshold, wf, now), nil, nil

	case schema.TriggerTimeOnce:
		// Fires at most once ever.
		return wf.LastRunAt == nil && !now.Before(cfg.TimeOnce.At), nil, nil

	case schema.TriggerManual:
		// Only fires via an explicit run request, never via the scheduler.
		return false, nil, nil

	case schema.TriggerOnChainEvent:
		return e.eventMatched(ctx, cfg.OnChainEvent)

	default:
		return false, nil, schema.NewErrorf(schema.ErrCodeTrigger, "unknown trigger type %q", wf.TriggerType)
	}
}

// intervalDue is idempotent: a missed tick just means the workflow fires on
// the next tick that satisfies the inequality.
func (e *Evaluator) intervalDue(cfg *schema.IntervalTrigger, lastRunAt *time.Time, now time.Time) bool {
	if lastRunAt == nil {
		return true
	}
	return now.Sub(*lastRunAt) >= time.Duration(cfg.IntervalMinutes)*time.Minute
}

func (e *Evaluator) cronDue(cfg *schema.CronTrigger, wf *store.Workflow, now time.Time) (bool, map[string]any, error) {
	sched, err := e.parser.Parse(cfg.Expression)
	if err != nil {
		return false, nil, schema.NewErrorf(schema.ErrCodeTrigger,
			"parse cron expression %q: %s", cfg.Expression, err.Error()).WithCause(err)
	}

	base := wf.CreatedAt
	if wf.LastRunAt != nil {
		base = *wf.LastRunAt
	}
	return !sched.Next(base).After(now), nil, nil
}

// priceCrossed asks the quote collaborator for the current price. A fetch
// failure means "does not fire" this tick; it never errors the evaluation pass.
func (e *Evaluator) priceCrossed(ctx context.Context, cfg *schema.PriceThresholdTrigger, wf *store.Workflow, _ time.Time) bool {
	if e.quotes == nil {
		return false
	}
	quote, err := e.quotes.Quote(ctx, cfg.Ticker)
	if err != nil {
		e.logger.WarnContext(ctx, "price fetch failed, trigger skipped this tick",
			slog.String("workflow_id", wf.ID),
			slog.String("ticker", cfg.Ticker),
			slog.String("error", err.Error()),
		)
		return false
	}

	switch cfg.Direction {
	case "below":
		return quote.Price <= cfg.Threshold
	case "above":
		return quote.Price >= cfg.Threshold
	default:
		return false
	}
}

func (e *Evaluator) eventMatched(ctx context.Context, cfg *schema.OnChainEventTrigger) (bool, map[string]any, error) {
	e.mu.RLock()
	src, ok := e.sources[cfg.EventType]
	e.mu.RUnlock()
	if !ok {
		return false, nil, schema.NewErrorf(schema.ErrCodeTrigger,
			"no event source registered for %q", cfg.EventType)
	}
	return src.Check(ctx, cfg)
}
