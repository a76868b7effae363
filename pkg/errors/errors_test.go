package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New(ErrorTypeValidation, "bad input")
	assert.Equal(t, "validation: bad input", err.Error())
	assert.NotEmpty(t, err.Stack)
}

func TestWrap(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := Wrap(cause, ErrorTypeFile, "failed to write spill")

	assert.Equal(t, "file: failed to write spill: disk full", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Nil(t, Wrap(nil, ErrorTypeFile, "ignored"))
}

func TestWrapPreservesInnerStack(t *testing.T) {
	inner := New(ErrorTypeQuery, "bad statement")
	outer := Wrap(inner, ErrorTypeChunk, "chunk 3 failed")

	require.NotEmpty(t, outer.Stack)
	assert.Equal(t, inner.Stack, outer.Stack)
	assert.True(t, IsType(outer, ErrorTypeChunk))
}

func TestWithDetail(t *testing.T) {
	err := New(ErrorTypeChunk, "chunk failed").
		WithDetail("chunk", 3).
		WithDetail("rows", 1024)

	v, ok := err.Detail("chunk")
	require.True(t, ok)
	assert.Equal(t, 3, v)

	_, ok = err.Detail("absent")
	assert.False(t, ok)
}

func TestIsType(t *testing.T) {
	err := New(ErrorTypeRouting, "no route")
	assert.True(t, IsType(err, ErrorTypeRouting))
	assert.False(t, IsType(err, ErrorTypeQuery))
	assert.False(t, IsType(fmt.Errorf("plain"), ErrorTypeRouting))

	wrapped := fmt.Errorf("outer: %w", err)
	assert.True(t, IsType(wrapped, ErrorTypeRouting))
}
