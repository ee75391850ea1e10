package actions

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/avetra/flowbot/internal/notify"
	"github.com/avetra/flowbot/internal/vars"
	"github.com/avetra/flowbot/pkg/schema"
)

// maxDelaySeconds caps the delay step to bound worst-case run duration.
const maxDelaySeconds = 300

// SendMessageHandler delivers a message to the workflow owner via the Notifier.
type SendMessageHandler struct {
	notifier notify.Notifier
}

// NewSendMessageHandler creates a send_message handler.
func NewSendMessageHandler(n notify.Notifier) *SendMessageHandler {
	return &SendMessageHandler{notifier: n}
}

func (h *SendMessageHandler) Type() string { return schema.StepSendMessage }

func (h *SendMessageHandler) Execute(ctx context.Context, config map[string]string, store *vars.Store) Result {
	msg := config["message"]
	owner := config["owner_id"]
	if owner == "" {
		if v, ok := store.Get("_owner_id"); ok {
			owner = vars.Stringify(v)
		}
	}
	if owner == "" {
		return Fail("no owner_id to send to")
	}
	if err := h.notifier.Notify(ctx, owner, msg); err != nil {
		return Fail("send failed: " + err.Error())
	}
	return OK("message sent to " + owner)
}

// DelayHandler waits a configured number of seconds, capped at maxDelaySeconds.
type DelayHandler struct{}

// NewDelayHandler creates a delay handler.
func NewDelayHandler() *DelayHandler { return &DelayHandler{} }

func (h *DelayHandler) Type() string { return schema.StepDelay }

func (h *DelayHandler) Execute(ctx context.Context, config map[string]string, _ *vars.Store) Result {
	seconds := 5
	if v := config["seconds"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Fail("invalid seconds value: " + v)
		}
		seconds = n
	}
	if seconds > maxDelaySeconds {
		seconds = maxDelaySeconds
	}
	if seconds < 0 {
		seconds = 0
	}

	timer := time.NewTimer(time.Duration(seconds) * time.Second)
	defer timer.Stop()

	select {
	case <-timer.C:
		return OK(fmt.Sprintf("waited %ds", seconds))
	case <-ctx.Done():
		return Fail("delay cancelled: " + ctx.Err().Error())
	}
}

// ConditionHandler evaluates a boolean expression against the run's
// variables. A failed condition is a normal short-circuit, not an error:
// the handler always succeeds and reports the verdict in Extra.
type ConditionHandler struct {
	eval ConditionEvaluator
}

// NewConditionHandler creates a condition handler backed by the given evaluator.
func NewConditionHandler(eval ConditionEvaluator) *ConditionHandler {
	return &ConditionHandler{eval: eval}
}

func (h *ConditionHandler) Type() string { return schema.StepCondition }

func (h *ConditionHandler) Execute(ctx context.Context, config map[string]string, store *vars.Store) Result {
	expression := config["condition"]
	passed, err := h.eval.Evaluate(ctx, expression, store.Snapshot())
	if err != nil {
		// An unevaluable condition does not pass. The run continues or
		// short-circuits exactly as with a false verdict.
		passed = false
	}
	return Result{
		Success: true,
		Output:  strconv.FormatBool(passed),
		Extra:   map[string]any{"condition_passed": passed},
	}
}
