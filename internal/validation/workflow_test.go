package validation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avetra/flowbot/internal/store"
	"github.com/avetra/flowbot/pkg/schema"
)

func validWorkflow() *store.Workflow {
	return &store.Workflow{
		OwnerID:       "owner-1",
		Name:          "daily briefing",
		TriggerType:   schema.TriggerInterval,
		TriggerConfig: json.RawMessage(`{"interval_minutes":1440}`),
		Steps: []schema.Step{
			{Name: "fetch", Type: schema.StepStockLookup, Config: map[string]string{"ticker": "AAPL"}},
			{Name: "notify", Type: schema.StepSendMessage, Config: map[string]string{"message": "{{step_1_output}}"}},
		},
		Status: schema.WorkflowActive,
	}
}

func knownBuiltins(stepType string) bool {
	switch stepType {
	case schema.StepStockLookup, schema.StepSendMessage, schema.StepCondition,
		schema.StepDelay, schema.StepHTTPRequest, schema.StepTransform:
		return true
	}
	return false
}

func TestValidWorkflowPasses(t *testing.T) {
	v, err := NewWorkflowValidator()
	require.NoError(t, err)

	assert.NoError(t, v.Validate(validWorkflow(), knownBuiltins))
}

func TestNilWorkflowRejected(t *testing.T) {
	v, err := NewWorkflowValidator()
	require.NoError(t, err)

	assert.Error(t, v.Validate(nil, nil))
}

func TestEmptyStepsRejected(t *testing.T) {
	v, err := NewWorkflowValidator()
	require.NoError(t, err)

	wf := validWorkflow()
	wf.Steps = nil
	err = v.Validate(wf, knownBuiltins)
	require.Error(t, err)
}

func TestMissingOwnerRejected(t *testing.T) {
	v, err := NewWorkflowValidator()
	require.NoError(t, err)

	wf := validWorkflow()
	wf.OwnerID = ""
	assert.Error(t, v.Validate(wf, knownBuiltins))
}

func TestUnknownTriggerTypeRejected(t *testing.T) {
	v, err := NewWorkflowValidator()
	require.NoError(t, err)

	wf := validWorkflow()
	wf.TriggerType = "telepathy"
	assert.Error(t, v.Validate(wf, knownBuiltins))
}

func TestTriggerConfigCheckedAgainstKind(t *testing.T) {
	v, err := NewWorkflowValidator()
	require.NoError(t, err)

	// Structurally fine JSON, semantically wrong for an interval trigger.
	wf := validWorkflow()
	wf.TriggerConfig = json.RawMessage(`{"interval_minutes":0}`)
	err = v.Validate(wf, knownBuiltins)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interval_minutes")
}

func TestUnknownStepTypeRejected(t *testing.T) {
	v, err := NewWorkflowValidator()
	require.NoError(t, err)

	wf := validWorkflow()
	wf.Steps = append(wf.Steps, schema.Step{Name: "teleport", Type: "teleport"})
	err = v.Validate(wf, knownBuiltins)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown action type")
}

func TestStepMissingNameRejected(t *testing.T) {
	v, err := NewWorkflowValidator()
	require.NoError(t, err)

	wf := validWorkflow()
	wf.Steps[0].Name = ""
	assert.Error(t, v.Validate(wf, knownBuiltins))
}

func TestNilKnownTypesSkipsHandlerCheck(t *testing.T) {
	v, err := NewWorkflowValidator()
	require.NoError(t, err)

	wf := validWorkflow()
	wf.Steps = append(wf.Steps, schema.Step{Name: "custom", Type: "embedder_custom"})
	assert.NoError(t, v.Validate(wf, nil))
}
