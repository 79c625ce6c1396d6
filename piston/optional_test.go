package piston

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptional_ZeroValueIsAbsent(t *testing.T) {
	var o Optional[int64]
	_, ok := o.Get()
	assert.False(t, ok)
	assert.False(t, o.IsSet())
	assert.True(t, o.IsZero())
	assert.Nil(t, o.Ptr())
	assert.Equal(t, int64(7), o.Or(7))
}

func TestOptional_ZeroValueCanBePresent(t *testing.T) {
	o := Some[int64](0)
	v, ok := o.Get()
	assert.True(t, ok)
	assert.Equal(t, int64(0), v)
	require.NotNil(t, o.Ptr())
	assert.Equal(t, int64(0), *o.Ptr())
}

func TestOptional_FromPtr(t *testing.T) {
	assert.False(t, FromPtr[string](nil).IsSet())

	s := "in"
	assert.Equal(t, Some("in"), FromPtr(&s))
}

func TestOptional_JSON(t *testing.T) {
	type doc struct {
		Kept    Optional[string] `json:"kept"`
		Omitted Optional[string] `json:"omitted,omitzero"`
		Zero    Optional[int]    `json:"zero,omitzero"`
	}

	data, err := json.Marshal(doc{Zero: Some(0)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kept": null, "zero": 0}`, string(data))

	var got doc
	require.NoError(t, json.Unmarshal([]byte(`{"kept": "x", "zero": null}`), &got))
	assert.Equal(t, Some("x"), got.Kept)
	assert.False(t, got.Omitted.IsSet())
	assert.False(t, got.Zero.IsSet())

	assert.Error(t, json.Unmarshal([]byte(`{"zero": "nope"}`), &got))
}
