package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDPoolAcquireIsDense(t *testing.T) {
	p := NewIDPool()

	a := p.Acquire("a")
	b := p.Acquire("b")
	c := p.Acquire("c")
	assert.Equal(t, uint32(0), a)
	assert.Equal(t, uint32(1), b)
	assert.Equal(t, uint32(2), c)
	assert.Equal(t, 3, p.InUse())

	assert.Equal(t, "b", p.Owner(b))
	assert.Nil(t, p.Owner(99), "unknown ids have no owner")
}

func TestIDPoolRecyclesReleasedIDs(t *testing.T) {
	p := NewIDPool()

	p.Acquire("first")
	second := p.Acquire("second")
	p.Acquire("third")

	require.NoError(t, p.Release(second))
	assert.Nil(t, p.Owner(second))
	assert.Equal(t, 2, p.InUse())

	// The freed slot is handed out again before the pool grows.
	reused := p.Acquire("fourth")
	assert.Equal(t, second, reused)
	assert.Equal(t, "fourth", p.Owner(reused))
	assert.Equal(t, 3, p.InUse())
}

func TestIDPoolReleaseBounds(t *testing.T) {
	p := NewIDPool()
	id := p.Acquire("only")

	assert.Error(t, p.Release(42), "never-acquired ids are rejected")

	require.NoError(t, p.Release(id))
	assert.NoError(t, p.Release(id), "releasing twice is harmless")
	assert.Equal(t, 0, p.InUse())
}
