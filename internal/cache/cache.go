// Package cache provides the short-TTL metadata cache that sits in front of
// the resolver. Implementations satisfy resolver.MetadataCache.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/your-org/mediascribe/internal/resolver"
)

// Memory is an in-process TTL cache. Expired entries are dropped lazily on
// the next read; there is no background sweeper to coordinate.
type Memory struct {
	ttl     time.Duration
	entries sync.Map // key -> *memoryEntry
}

type memoryEntry struct {
	media     resolver.ResolvedMedia
	expiresAt time.Time
}

// NewMemory constructs a Memory cache whose entries live for ttl.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl}
}

// Get implements resolver.MetadataCache.
func (m *Memory) Get(_ context.Context, key string) (resolver.ResolvedMedia, bool) {
	v, ok := m.entries.Load(key)
	if !ok {
		return resolver.ResolvedMedia{}, false
	}
	entry := v.(*memoryEntry)
	if time.Now().After(entry.expiresAt) {
		m.entries.Delete(key)
		return resolver.ResolvedMedia{}, false
	}
	return entry.media, true
}

// Put implements resolver.MetadataCache. An existing entry is overwritten
// and its TTL restarts.
func (m *Memory) Put(_ context.Context, key string, media resolver.ResolvedMedia) {
	m.entries.Store(key, &memoryEntry{media: media, expiresAt: time.Now().Add(m.ttl)})
}

// Nop stores nothing. It backs deployments that disable caching.
type Nop struct{}

// Get implements resolver.MetadataCache.
func (Nop) Get(context.Context, string) (resolver.ResolvedMedia, bool) {
	return resolver.ResolvedMedia{}, false
}

// Put implements resolver.MetadataCache.
func (Nop) Put(context.Context, string, resolver.ResolvedMedia) {}
