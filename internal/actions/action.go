package actions

import (
	"context"

	"github.com/avetra/flowbot/internal/vars"
)

// Result is the uniform outcome of one step execution. Handlers never return
// Go errors to the run loop: a failure is a Result with Success=false and a
// human-readable Output.
type Result struct {
	Success bool           `json:"success"`
	Output  string         `json:"output"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// Fail builds a failed Result with the given output text.
func Fail(output string) Result {
	return Result{Success: false, Output: output}
}

// OK builds a successful Result with the given output text.
func OK(output string) Result {
	return Result{Success: true, Output: output}
}

// Handler executes one step type. Config values arrive already interpolated
// against the run's variable store. Implementations must convert their own
// failures (including I/O timeouts) into a failed Result and must be safe to
// call at most once per step per run; the engine performs no retries.
type Handler interface {
	Type() string
	Execute(ctx context.Context, config map[string]string, store *vars.Store) Result
}

// ConditionEvaluator evaluates a boolean expression against the run's
// variables. Implemented by the engine's sandboxed expression evaluator.
type ConditionEvaluator interface {
	Evaluate(ctx context.Context, expression string, env map[string]any) (bool, error)
}
