package actions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avetra/flowbot/internal/vars"
)

type stubHandler struct {
	typ string
}

func (h *stubHandler) Type() string { return h.typ }

func (h *stubHandler) Execute(_ context.Context, _ map[string]string, _ *vars.Store) Result {
	return OK("stub")
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(&stubHandler{typ: "custom"}))

	h, err := r.Get("custom")
	require.NoError(t, err)
	assert.Equal(t, "custom", h.Type())
	assert.True(t, r.Has("custom"))
	assert.Equal(t, 1, r.Count())
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(&stubHandler{typ: "custom"}))
	err := r.Register(&stubHandler{typ: "custom"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistryRejectsNilAndEmpty(t *testing.T) {
	r := NewRegistry()

	assert.Error(t, r.Register(nil))
	assert.Error(t, r.Register(&stubHandler{typ: ""}))
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get("nope")
	require.Error(t, err)
	assert.False(t, r.Has("nope"))
}

func TestRegistryTypesSorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubHandler{typ: "zeta"}))
	require.NoError(t, r.Register(&stubHandler{typ: "alpha"}))
	require.NoError(t, r.Register(&stubHandler{typ: "mid"}))

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, r.Types())
}
