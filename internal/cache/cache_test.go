package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/mediascribe/internal/resolver"
)

var sample = resolver.ResolvedMedia{
	DirectURL:   "https://cdn.example.com/v.mp4",
	Title:       "Sample",
	CanPreview:  true,
	Uploader:    "someone",
	DurationSec: 42,
}

func TestMemoryPutGet(t *testing.T) {
	c := NewMemory(time.Minute)
	ctx := context.Background()

	_, ok := c.Get(ctx, "missing")
	assert.False(t, ok)

	c.Put(ctx, "https://example.com/v", sample)
	got, ok := c.Get(ctx, "https://example.com/v")
	require.True(t, ok)
	assert.Equal(t, sample, got)
}

func TestMemoryEntriesExpire(t *testing.T) {
	c := NewMemory(15 * time.Millisecond)
	ctx := context.Background()

	c.Put(ctx, "k", sample)
	_, ok := c.Get(ctx, "k")
	require.True(t, ok)

	time.Sleep(30 * time.Millisecond)
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok, "expired entries must read as misses")
}

func TestMemoryPutRefreshesTTL(t *testing.T) {
	c := NewMemory(40 * time.Millisecond)
	ctx := context.Background()

	c.Put(ctx, "k", sample)
	time.Sleep(25 * time.Millisecond)
	c.Put(ctx, "k", sample)
	time.Sleep(25 * time.Millisecond)

	_, ok := c.Get(ctx, "k")
	assert.True(t, ok, "overwriting an entry restarts its TTL")
}

func TestNopNeverStores(t *testing.T) {
	var c Nop
	ctx := context.Background()

	c.Put(ctx, "k", sample)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}
