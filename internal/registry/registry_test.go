package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAcquireSharesOneInstancePerKey(t *testing.T) {
	r := New[*int]()
	built := 0
	factory := func() *int { built++; v := built; return &v }

	a := r.Acquire("k1", factory)
	b := r.Acquire("k1", factory)
	c := r.Acquire("k2", factory)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, built)
	assert.Equal(t, 2, r.Len())
}

func TestReleaseDropsOnLastReference(t *testing.T) {
	r := New[string]()
	r.Acquire("k", func() string { return "v" })
	r.Acquire("k", func() string { return "other" })

	dropped := 0
	r.Release("k", func(string) { dropped++ })
	assert.Zero(t, dropped)
	assert.Equal(t, 1, r.Len())

	r.Release("k", func(string) { dropped++ })
	assert.Equal(t, 1, dropped)
	assert.Zero(t, r.Len())

	// Releasing an absent key is a no-op.
	r.Release("k", func(string) { dropped++ })
	assert.Equal(t, 1, dropped)
}
