// Copyright 2025 Jelly Terra <jellyterra@proton.me>
// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0
// that can be found in the LICENSE file and https://mozilla.org/MPL/2.0/.

package core

import (
	"testing"
	"time"
)

func TestCache_Expiry(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewCache[string](time.Minute)
	c.Now = func() time.Time { return now }

	c.Set("example.org", "zone1")
	if v, ok := c.Get("example.org"); !ok || v != "zone1" {
		t.Fatalf("expected hit, got %q %v", v, ok)
	}

	now = now.Add(30 * time.Second)
	if _, ok := c.Get("example.org"); !ok {
		t.Fatal("expected entry to be alive before its lifetime")
	}

	now = now.Add(31 * time.Second)
	if _, ok := c.Get("example.org"); ok {
		t.Fatal("expected entry to expire after its lifetime")
	}
}

func TestCache_Delete(t *testing.T) {
	c := NewCache[int](time.Minute)
	c.Set("a", 1)
	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected deleted entry to be gone")
	}
}

func TestCache_PurgeDropsIdleEntries(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewCache[int](time.Minute)
	c.Now = func() time.Time { return now }

	c.Set("a", 1)
	c.Set("b", 2)
	now = now.Add(2 * time.Minute)
	c.Get("a")

	c.cacheLock.RLock()
	n := len(c.entries)
	c.cacheLock.RUnlock()
	if n != 0 {
		t.Errorf("expected idle entries to be purged, %d left", n)
	}
}
