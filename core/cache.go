// Copyright 2025 Jelly Terra <jellyterra@proton.me>
// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0
// that can be found in the LICENSE file and https://mozilla.org/MPL/2.0/.

package core

import (
	"sync"
	"sync/atomic"
	"time"
)

type cacheEntry[V any] struct {
	Time     int64
	Val      V
	lastUsed atomic.Int64
}

// Cache keeps values for Lifetime after they were stored. Entries idle for
// longer than Lifetime are purged at most once per Lifetime.
type Cache[V any] struct {
	Lifetime time.Duration
	Now      func() time.Time

	lastCheck atomic.Int64

	entries   map[string]*cacheEntry[V]
	cacheLock sync.RWMutex
}

func NewCache[V any](lifetime time.Duration) *Cache[V] {
	return &Cache[V]{
		Lifetime: lifetime,
		Now:      time.Now,
		entries:  map[string]*cacheEntry[V]{},
	}
}

func (c *Cache[V]) purge(now int64) {
	lifetime := int64(c.Lifetime)
	if now < c.lastCheck.Load()+lifetime {
		return
	}

	c.cacheLock.Lock()
	defer c.cacheLock.Unlock()

	// Another caller may have purged while we waited for the lock.
	if now < c.lastCheck.Load()+lifetime {
		return
	}
	c.lastCheck.Store(now)

	for k, v := range c.entries {
		if now > v.lastUsed.Load()+lifetime {
			delete(c.entries, k)
		}
	}
}

func (c *Cache[V]) Get(key string) (v V, ok bool) {
	now := c.Now().UnixNano()
	c.purge(now)

	c.cacheLock.RLock()
	entry, exist := c.entries[key]
	c.cacheLock.RUnlock()
	if !exist || now > entry.Time+int64(c.Lifetime) {
		return v, false
	}

	entry.lastUsed.Store(now)
	return entry.Val, true
}

func (c *Cache[V]) Set(key string, v V) {
	now := c.Now().UnixNano()
	entry := &cacheEntry[V]{Time: now, Val: v}
	entry.lastUsed.Store(now)

	c.cacheLock.Lock()
	c.entries[key] = entry
	c.cacheLock.Unlock()
}

func (c *Cache[V]) Delete(key string) {
	c.cacheLock.Lock()
	delete(c.entries, key)
	c.cacheLock.Unlock()
}
