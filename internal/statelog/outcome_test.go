package statelog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/disburse/internal/model"
)

func TestOutcomeEncode_Canonical(t *testing.T) {
	a := NewOutcome("café").With("b", 2).With("a", []string{"x", "y"})
	b := Outcome{"a": []any{"x", "y"}, "b": int64(2), KeyMessage: "café"}

	ea, err := a.Encode()
	require.NoError(t, err)
	eb, err := b.Encode()
	require.NoError(t, err)

	assert.Equal(t, `{"a":["x","y"],"b":2,"message":"café"}`, string(ea))
	assert.Equal(t, ea, eb)
}

func TestOutcomeEncode_NamedTypes(t *testing.T) {
	o := NewOutcome("m").
		With("method", model.MethodCheck).
		With("nested", Outcome{"<tag>": "&"})

	b, err := o.Encode()
	require.NoError(t, err)
	assert.Equal(t, `{"message":"m","method":"check","nested":{"<tag>":"&"}}`, string(b))
}

func TestOutcomeEncode_RejectsFloats(t *testing.T) {
	_, err := NewOutcome("m").With("amount", 1.5).Encode()
	assert.Error(t, err)
}

func TestDecodeOutcome(t *testing.T) {
	o, err := DecodeOutcome([]byte(`{"message":"ok","count":3}`))
	require.NoError(t, err)
	assert.Equal(t, "ok", o.Message())

	again, err := o.Encode()
	require.NoError(t, err)
	assert.Equal(t, `{"count":3,"message":"ok"}`, string(again))

	empty, err := DecodeOutcome(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.Empty(t, Outcome{}.Message())
}
