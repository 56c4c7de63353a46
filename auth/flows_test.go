package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlowCache(t *testing.T) {
	cache := NewFlowCache[int](time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	id := cache.Put("a@example.com", 7)
	assert.Equal(t, 1, cache.Len())

	_, err := cache.Take(id, "b@example.com")
	assert.ErrorIs(t, err, ErrFlowNotFound, "wrong owner")

	id = cache.Put("a@example.com", 8)
	v, err := cache.Take(id, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, 8, v)

	_, err = cache.Take(id, "a@example.com")
	assert.ErrorIs(t, err, ErrFlowNotFound, "single use")

	id = cache.Put("a@example.com", 9)
	now = now.Add(2 * time.Minute)
	_, err = cache.Take(id, "a@example.com")
	assert.ErrorIs(t, err, ErrFlowNotFound, "expired")

	cache.Put("c@example.com", 1)
	now = now.Add(2 * time.Minute)
	assert.Zero(t, cache.Len())
}
