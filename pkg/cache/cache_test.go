package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetGetDelete(t *testing.T) {
	c := NewInMemoryCache[string, int](0)

	c.Set("a", 1, 0)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, c.Size())

	c.Delete("a")
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestExpiry(t *testing.T) {
	c := NewInMemoryCache[string, string](0)
	c.Set("k", "v", 20*time.Millisecond)

	_, ok := c.Get("k")
	assert.True(t, ok)

	time.Sleep(40 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok, "entry must expire after its ttl")
}

func TestDefaultTTL(t *testing.T) {
	c := NewInMemoryCache[string, string](20 * time.Millisecond)
	c.Set("k", "v", 0) // falls back to the default

	time.Sleep(40 * time.Millisecond)
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestClear(t *testing.T) {
	c := NewInMemoryCache[int, int](0)
	c.Set(1, 1, 0)
	c.Set(2, 2, 0)
	c.Clear()
	assert.Equal(t, 0, c.Size())
}
