package actions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avetra/flowbot/internal/vars"
)

func TestTransformTemplateMode(t *testing.T) {
	h := NewTransformHandler()

	// Config values arrive already interpolated.
	res := h.Execute(context.Background(), map[string]string{
		"template": "price is 123.45",
	}, vars.New(nil))

	require.True(t, res.Success)
	assert.Equal(t, "price is 123.45", res.Output)
}

func TestTransformJQExtractsField(t *testing.T) {
	h := NewTransformHandler()

	res := h.Execute(context.Background(), map[string]string{
		"jq":    ".quote.price",
		"input": `{"quote":{"price":187.4,"ticker":"AAPL"}}`,
	}, vars.New(nil))

	require.True(t, res.Success)
	assert.Equal(t, "187.4", res.Output)
}

func TestTransformJQStringResultUnquoted(t *testing.T) {
	h := NewTransformHandler()

	res := h.Execute(context.Background(), map[string]string{
		"jq":    ".ticker",
		"input": `{"ticker":"AAPL"}`,
	}, vars.New(nil))

	require.True(t, res.Success)
	assert.Equal(t, "AAPL", res.Output)
}

func TestTransformJQWinsOverTemplate(t *testing.T) {
	h := NewTransformHandler()

	res := h.Execute(context.Background(), map[string]string{
		"jq":       ".a",
		"input":    `{"a":1}`,
		"template": "ignored",
	}, vars.New(nil))

	require.True(t, res.Success)
	assert.Equal(t, "1", res.Output)
}

func TestTransformJQInvalidProgram(t *testing.T) {
	h := NewTransformHandler()

	res := h.Execute(context.Background(), map[string]string{
		"jq":    ".[whoops",
		"input": `{}`,
	}, vars.New(nil))

	assert.False(t, res.Success)
	assert.Contains(t, res.Output, "invalid jq program")
}

func TestTransformJQBadInput(t *testing.T) {
	h := NewTransformHandler()

	res := h.Execute(context.Background(), map[string]string{
		"jq":    ".a",
		"input": "not json",
	}, vars.New(nil))

	assert.False(t, res.Success)
	assert.Contains(t, res.Output, "not valid JSON")
}

func TestTransformEmptyConfig(t *testing.T) {
	h := NewTransformHandler()

	res := h.Execute(context.Background(), map[string]string{}, vars.New(nil))

	require.True(t, res.Success)
	assert.Equal(t, "", res.Output)
}
