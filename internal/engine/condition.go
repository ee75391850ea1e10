package engine

import (
	"context"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/avetra/flowbot/pkg/schema"
)

// ExprCondition evaluates condition-step expressions with expr-lang/expr:
// a sandboxed comparison/boolean grammar over the run's variables, never a
// general-purpose code evaluator. Thread-safe: compiled programs are cached
// and reused across goroutines.
type ExprCondition struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewExprCondition creates a new condition evaluator.
func NewExprCondition() *ExprCondition {
	return &ExprCondition{
		cache: make(map[string]*vm.Program),
	}
}

// Evaluate compiles (or retrieves from cache) the expression and runs it
// against the given variables. References to undefined variables resolve to
// nil rather than erroring, since conditions routinely mention outputs of
// steps that were skipped.
func (e *ExprCondition) Evaluate(_ context.Context, expression string, env map[string]any) (bool, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return false, schema.NewError(schema.ErrCodeValidation, "empty condition expression")
	}

	prg, err := e.getOrCompile(expression)
	if err != nil {
		return false, err
	}

	if env == nil {
		env = map[string]any{}
	}
	out, err := vm.Run(prg, env)
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeExecution,
			"condition evaluation failed for %q: %s", expression, err.Error()).WithCause(err)
	}

	return truthy(out), nil
}

func (e *ExprCondition) getOrCompile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring the write lock.
	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	// Compiled without a typed environment so one cached program serves
	// every run's variable set.
	prg, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"condition compile error in %q: %s", expression, err.Error()).WithCause(err)
	}

	e.cache[expression] = prg
	return prg, nil
}

// truthy coerces an expression result to a boolean verdict.
func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case nil:
		return false
	case string:
		return val != ""
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	default:
		return true
	}
}
