package actions

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/itchyny/gojq"

	"github.com/avetra/flowbot/internal/vars"
	"github.com/avetra/flowbot/pkg/schema"
)

// TransformHandler reshapes data for later steps. Two modes:
//
//   - template: the interpolated "template" config value becomes the output.
//   - jq: a gojq program in "jq" is applied to the JSON in "input"
//     (typically "{{step_N_output}}"), and the first result becomes the output.
//
// When both are present, jq wins.
type TransformHandler struct{}

// NewTransformHandler creates a transform handler.
func NewTransformHandler() *TransformHandler { return &TransformHandler{} }

func (h *TransformHandler) Type() string { return schema.StepTransform }

func (h *TransformHandler) Execute(ctx context.Context, config map[string]string, _ *vars.Store) Result {
	if prog := config["jq"]; prog != "" {
		return h.applyJQ(ctx, prog, config["input"])
	}
	return OK(config["template"])
}

func (h *TransformHandler) applyJQ(ctx context.Context, program, input string) Result {
	query, err := gojq.Parse(program)
	if err != nil {
		return Fail("invalid jq program: " + err.Error())
	}

	var doc any
	if strings.TrimSpace(input) == "" {
		doc = nil
	} else if err := json.Unmarshal([]byte(input), &doc); err != nil {
		return Fail("transform input is not valid JSON: " + truncate(err.Error(), 200))
	}

	iter := query.RunWithContext(ctx, doc)
	v, ok := iter.Next()
	if !ok {
		return OK("")
	}
	if err, isErr := v.(error); isErr {
		return Fail("jq evaluation failed: " + err.Error())
	}

	if s, isStr := v.(string); isStr {
		return OK(s)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return Fail("encode jq result: " + err.Error())
	}
	return OK(string(out))
}
