package schema

import (
	"encoding/json"
	"strings"
	"time"
)

// TriggerType enumerates the kinds of workflow triggers.
type TriggerType string

const (
	TriggerInterval       TriggerType = "interval"
	TriggerCron           TriggerType = "cron"
	TriggerPriceThreshold TriggerType = "price_threshold"
	TriggerTimeOnce       TriggerType = "time_once"
	TriggerManual         TriggerType = "manual"
	TriggerOnChainEvent   TriggerType = "on_chain_event"
)

// WorkflowStatus is the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowActive WorkflowStatus = "active"
	WorkflowPaused WorkflowStatus = "paused"
)

// RunStatus is the terminal (or in-flight) state of one execution attempt.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunHalted    RunStatus = "halted"
	RunFailed    RunStatus = "failed"
)

// Step is one unit of work in a workflow, identified by a type and a config bag.
// Config values may contain {{variable}} placeholders resolved at execution time.
type Step struct {
	Name          string            `json:"name"`
	Type          string            `json:"type"`
	Config        map[string]string `json:"config,omitempty"`
	StopOnFailure bool              `json:"stop_on_failure,omitempty"`
}

// Step types handled by the built-in registry. The registry is open:
// embedders may register additional types.
const (
	StepAIAnalyze       StepType = "ai_analyze"
	StepWebScrape       StepType = "web_scrape"
	StepStockLookup     StepType = "stock_lookup"
	StepYoutubeResearch StepType = "youtube_research"
	StepSentiment       StepType = "sentiment"
	StepHTTPRequest     StepType = "http_request"
	StepSendMessage     StepType = "send_message"
	StepCondition       StepType = "condition"
	StepDelay           StepType = "delay"
	StepTransform       StepType = "transform"
)

// StepType is the declared kind of a step.
type StepType = string

// dataProducing is the set of step types whose job is fetching or deriving
// data that later steps consume. A failed or near-empty result from one of
// these halts the run instead of letting downstream steps consume garbage.
var dataProducing = map[string]bool{
	StepAIAnalyze:       true,
	StepWebScrape:       true,
	StepStockLookup:     true,
	StepYoutubeResearch: true,
	StepSentiment:       true,
	StepHTTPRequest:     true,
}

// IsDataProducing reports whether a step type is subject to the halting policy.
func IsDataProducing(stepType string) bool {
	return dataProducing[stepType]
}

// MinUsableOutput is the minimum trimmed output length a data-producing step
// must return for the run to continue.
const MinUsableOutput = 10

// --- Trigger configs (typed variants, decoded once at load) ---

// IntervalTrigger fires when now - last_run_at >= IntervalMinutes (or on the
// first evaluation ever).
type IntervalTrigger struct {
	IntervalMinutes int `json:"interval_minutes"`
}

func (t IntervalTrigger) Validate() error {
	if t.IntervalMinutes <= 0 {
		return NewError(ErrCodeValidation, "interval trigger requires interval_minutes > 0")
	}
	return nil
}

// CronTrigger fires when the cron schedule's next time after the last run
// has passed.
type CronTrigger struct {
	Expression string `json:"expression"`
}

func (t CronTrigger) Validate() error {
	if strings.TrimSpace(t.Expression) == "" {
		return NewError(ErrCodeValidation, "cron trigger requires a non-empty expression")
	}
	return nil
}

// PriceThresholdTrigger fires when the asset's current price crosses
// Threshold in Direction ("below": price <= threshold, "above": price >= threshold).
type PriceThresholdTrigger struct {
	Ticker    string  `json:"ticker"`
	Threshold float64 `json:"threshold"`
	Direction string  `json:"direction"`
}

func (t PriceThresholdTrigger) Validate() error {
	if strings.TrimSpace(t.Ticker) == "" {
		return NewError(ErrCodeValidation, "price_threshold trigger requires a ticker")
	}
	if t.Direction != "above" && t.Direction != "below" {
		return NewErrorf(ErrCodeValidation, "price_threshold direction must be \"above\" or \"below\", got %q", t.Direction)
	}
	return nil
}

// TimeOnceTrigger fires at most once ever, when now >= At and the workflow
// has never run.
type TimeOnceTrigger struct {
	At time.Time `json:"at"`
}

func (t TimeOnceTrigger) Validate() error {
	if t.At.IsZero() {
		return NewError(ErrCodeValidation, "time_once trigger requires an \"at\" timestamp")
	}
	return nil
}

// ManualTrigger never fires via the scheduler; only via an explicit run request.
type ManualTrigger struct{}

func (ManualTrigger) Validate() error { return nil }

// OnChainEventTrigger fires when an external event source reports a matching
// on-chain event (e.g. a whale transfer above MinAlgo).
type OnChainEventTrigger struct {
	EventType    string  `json:"event_type"`
	MinAlgo      float64 `json:"min_algo,omitempty"`
	WatchAddress string  `json:"watch_address,omitempty"`
}

func (t OnChainEventTrigger) Validate() error {
	if strings.TrimSpace(t.EventType) == "" {
		return NewError(ErrCodeValidation, "on_chain_event trigger requires an event_type")
	}
	return nil
}

// TriggerConfig is the decoded, kind-specific trigger configuration.
// Exactly one field is set, matching the workflow's TriggerType.
type TriggerConfig struct {
	Interval       *IntervalTrigger
	Cron           *CronTrigger
	PriceThreshold *PriceThresholdTrigger
	TimeOnce       *TimeOnceTrigger
	Manual         *ManualTrigger
	OnChainEvent   *OnChainEventTrigger
}

// DecodeTriggerConfig parses and validates a raw trigger config for its
// declared kind. A structurally invalid config returns an error; callers
// treat that as "never fires", not a crash.
func DecodeTriggerConfig(kind TriggerType, raw json.RawMessage) (*TriggerConfig, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	cfg := &TriggerConfig{}

	decode := func(dst any) error {
		dec := json.NewDecoder(strings.NewReader(string(raw)))
		if err := dec.Decode(dst); err != nil {
			return NewErrorf(ErrCodeValidation, "malformed %s trigger config: %s", kind, err.Error()).WithCause(err)
		}
		return nil
	}

	switch kind {
	case TriggerInterval:
		t := &IntervalTrigger{}
		if err := decode(t); err != nil {
			return nil, err
		}
		if err := t.Validate(); err != nil {
			return nil, err
		}
		cfg.Interval = t
	case TriggerCron:
		t := &CronTrigger{}
		if err := decode(t); err != nil {
			return nil, err
		}
		if err := t.Validate(); err != nil {
			return nil, err
		}
		cfg.Cron = t
	case TriggerPriceThreshold:
		t := &PriceThresholdTrigger{}
		if err := decode(t); err != nil {
			return nil, err
		}
		if err := t.Validate(); err != nil {
			return nil, err
		}
		cfg.PriceThreshold = t
	case TriggerTimeOnce:
		t := &TimeOnceTrigger{}
		if err := decode(t); err != nil {
			return nil, err
		}
		if err := t.Validate(); err != nil {
			return nil, err
		}
		cfg.TimeOnce = t
	case TriggerManual:
		cfg.Manual = &ManualTrigger{}
	case TriggerOnChainEvent:
		t := &OnChainEventTrigger{}
		if err := decode(t); err != nil {
			return nil, err
		}
		if err := t.Validate(); err != nil {
			return nil, err
		}
		cfg.OnChainEvent = t
	default:
		return nil, NewErrorf(ErrCodeValidation, "unknown trigger type %q", kind)
	}

	return cfg, nil
}
