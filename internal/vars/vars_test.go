package vars

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStore_GetSet(t *testing.T) {
	s := New(map[string]any{"_workflow_id": "wf_1"})

	v, ok := s.Get("_workflow_id")
	assert.True(t, ok)
	assert.Equal(t, "wf_1", v)

	_, ok = s.Get("missing")
	assert.False(t, ok)

	s.Set("step_1_output", "42")
	v, ok = s.Get("step_1_output")
	assert.True(t, ok)
	assert.Equal(t, "42", v)
}

func TestStore_Interpolate_Basic(t *testing.T) {
	s := New(map[string]any{"ticker": "AAPL", "price": 42.5})

	assert.Equal(t, "AAPL is at 42.5", s.Interpolate("{{ticker}} is at {{price}}"))
}

func TestStore_Interpolate_MissingLeftUntouched(t *testing.T) {
	s := New(nil)
	s.Set("step_1_output", "data")

	// step_2_output may not exist if a branch was skipped; the placeholder
	// must survive verbatim rather than erroring.
	got := s.Interpolate("a={{step_1_output}} b={{step_2_output}}")
	assert.Equal(t, "a=data b={{step_2_output}}", got)
}

func TestStore_Interpolate_NoPlaceholders(t *testing.T) {
	s := New(nil)
	assert.Equal(t, "plain text", s.Interpolate("plain text"))
}

func TestStore_Interpolate_Unclosed(t *testing.T) {
	s := New(map[string]any{"x": "1"})
	assert.Equal(t, "ok {{x", s.Interpolate("ok {{x"))
}

func TestStore_Interpolate_BoolAndInt(t *testing.T) {
	s := New(map[string]any{"step_1_success": true, "count": 3})
	assert.Equal(t, "true/3", s.Interpolate("{{step_1_success}}/{{count}}"))
}

func TestStore_Snapshot_IsCopy(t *testing.T) {
	s := New(map[string]any{"a": 1})
	snap := s.Snapshot()
	snap["a"] = 2

	v, _ := s.Get("a")
	assert.Equal(t, 1, v)
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "42", Stringify(42))
	assert.Equal(t, "42.5", Stringify(42.5))
	assert.Equal(t, "false", Stringify(false))
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "txt", Stringify("txt"))
}
