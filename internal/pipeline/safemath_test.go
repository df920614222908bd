package pipeline

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeDiv(t *testing.T) {
	v, ok := SafeDiv(10, 4, -1)
	assert.True(t, ok)
	assert.Equal(t, 2.5, v)

	v, ok = SafeDiv(10, 0, -1)
	assert.False(t, ok)
	assert.Equal(t, -1.0, v)

	_, ok = SafeDiv(math.NaN(), 2, 0)
	assert.False(t, ok)

	_, ok = SafeDiv(10, math.Inf(1), 0)
	assert.False(t, ok)
}

func TestSafePctChange(t *testing.T) {
	v, ok := SafePctChange(150, 100, 0)
	assert.True(t, ok)
	assert.InDelta(t, 50, v, 1e-9)

	v, ok = SafePctChange(150, 0, -1)
	assert.False(t, ok)
	assert.Equal(t, -1.0, v)
}

func TestSafeRatio(t *testing.T) {
	v, ok := SafeRatio(30, 20, 1)
	assert.True(t, ok)
	assert.Equal(t, 1.5, v)

	// Negative inputs clamp instead of producing a nonsense ratio.
	v, ok = SafeRatio(-5, 20, 1)
	assert.True(t, ok)
	assert.Equal(t, 0.0, v)

	v, ok = SafeRatio(5, 0, 1)
	assert.False(t, ok)
	assert.Equal(t, 1.0, v)
}
