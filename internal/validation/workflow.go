package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/avetra/flowbot/internal/store"
	"github.com/avetra/flowbot/pkg/schema"
)

// workflowSchemaJSON is the JSON Schema guarding the persistence boundary.
// Embedded as a constant to avoid filesystem dependencies.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://flowbot.dev/schemas/workflow.json",
  "type": "object",
  "required": ["owner_id", "name", "trigger_type", "steps"],
  "properties": {
    "id": { "type": "string" },
    "owner_id": {
      "type": "string",
      "minLength": 1
    },
    "name": {
      "type": "string",
      "minLength": 1,
      "maxLength": 200
    },
    "description": { "type": "string" },
    "trigger_type": {
      "type": "string",
      "enum": ["interval", "cron", "price_threshold", "time_once", "manual", "on_chain_event"]
    },
    "trigger_config": {},
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    },
    "variables": { "type": "object" },
    "status": {
      "type": "string",
      "enum": ["active", "paused"]
    },
    "run_count": { "type": "integer" },
    "last_run_at": {},
    "created_at": {},
    "updated_at": {}
  },
  "$defs": {
    "step": {
      "type": "object",
      "required": ["name", "type"],
      "properties": {
        "name": {
          "type": "string",
          "minLength": 1
        },
        "type": {
          "type": "string",
          "minLength": 1
        },
        "config": {
          "type": "object",
          "additionalProperties": { "type": "string" }
        },
        "stop_on_failure": { "type": "boolean" }
      },
      "additionalProperties": false
    }
  }
}`

// WorkflowValidator validates workflows before they reach the store, using
// JSON Schema Draft 2020-12 for shape and the typed trigger decoders for the
// kind-specific config. Safe for concurrent use.
type WorkflowValidator struct {
	workflowSchema *jsonschema.Schema
}

// NewWorkflowValidator compiles the embedded workflow schema.
func NewWorkflowValidator() (*WorkflowValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource("https://flowbot.dev/schemas/workflow.json", doc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}

	compiled, err := c.Compile("https://flowbot.dev/schemas/workflow.json")
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}
	return &WorkflowValidator{workflowSchema: compiled}, nil
}

// Validate checks a workflow's shape, its trigger config against the declared
// trigger kind, and its steps against the set of known action types.
func (v *WorkflowValidator) Validate(wf *store.Workflow, knownTypes func(string) bool) error {
	if wf == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow is nil")
	}

	doc, err := toJSONValue(wf)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize workflow").WithCause(err)
	}
	if err := v.workflowSchema.Validate(doc); err != nil {
		return toFlowError(err)
	}

	if _, err := schema.DecodeTriggerConfig(wf.TriggerType, wf.TriggerConfig); err != nil {
		return err
	}

	// Unknown step types are caught here rather than mid-run.
	if knownTypes != nil {
		for i, step := range wf.Steps {
			if !knownTypes(step.Type) {
				return schema.NewErrorf(schema.ErrCodeValidation,
					"step %d (%s) has unknown action type %q", i+1, step.Name, step.Type)
			}
		}
	}

	return nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toFlowError converts a jsonschema.ValidationError into a FlowError listing
// each violation with its instance location.
func toFlowError(err error) *schema.FlowError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}
	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
