package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/avetra/flowbot/internal/actions"
	"github.com/avetra/flowbot/internal/vars"
	"github.com/avetra/flowbot/pkg/schema"
)

// Executor dispatches a step's declared type to its registered handler.
// Config values are interpolated against the run's variable store before
// the handler sees them; unknown types and handler panics become failed
// Results so a single misbehaving action never crashes the run loop.
type Executor struct {
	registry *actions.Registry
	logger   *slog.Logger
}

// NewExecutor creates an Executor over the given handler registry.
func NewExecutor(registry *actions.Registry, logger *slog.Logger) *Executor {
	return &Executor{registry: registry, logger: logger}
}

// Execute runs one step and returns its uniform Result.
func (e *Executor) Execute(ctx context.Context, step schema.Step, store *vars.Store) (result actions.Result) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "handler panicked",
				slog.String("step_type", step.Type),
				slog.Any("panic", r),
			)
			result = actions.Fail(fmt.Sprintf("handler panic: %v", r))
		}
	}()

	handler, err := e.registry.Get(step.Type)
	if err != nil {
		return actions.Fail("unknown action type: " + step.Type)
	}

	config := make(map[string]string, len(step.Config))
	for k, v := range step.Config {
		config[k] = store.Interpolate(v)
	}

	return handler.Execute(ctx, config, store)
}
