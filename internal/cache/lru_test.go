package cache

import (
	"testing"
	"time"
)

func TestLRUCacheExpiresEntries(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewLRUCache[int](10, time.Minute)
	c.now = func() time.Time { return now }

	c.Set("stats:USD", 1)
	if v, ok := c.Get("stats:USD"); !ok || v != 1 {
		t.Fatalf("expected hit, got %v %v", v, ok)
	}

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("stats:USD"); ok {
		t.Fatal("expected entry to expire")
	}
}

func TestLRUCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache[string](2, time.Hour)
	c.Set("a", "1")
	c.Set("b", "2")
	c.Get("a")
	c.Set("c", "3")

	if _, ok := c.Get("b"); ok {
		t.Fatal("b should have been evicted")
	}
	if c.Size() != 2 {
		t.Fatalf("size = %d", c.Size())
	}
}

func TestPurgeAndManagerCleanup(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewLRUCache[int](10, time.Second)
	c.now = func() time.Time { return now }
	c.Set("a", 1)
	c.Set("b", 2)

	m := NewManager()
	m.Register(c)
	now = now.Add(time.Minute)
	if n := m.CleanNow(); n != 2 {
		t.Fatalf("cleaned %d entries, want 2", n)
	}

	c.Set("c", 3)
	c.Purge()
	if c.Size() != 0 {
		t.Fatalf("size after purge = %d", c.Size())
	}

	m.StartCleanup(time.Millisecond)
	m.Stop()
	m.Stop()
}

func TestSetIfGenerationRefusesStaleValues(t *testing.T) {
	c := NewLRUCache[int](10, time.Hour)

	gen := c.Generation()
	c.Purge()
	if c.SetIfGeneration("stats", 1, gen) {
		t.Fatal("value computed before purge must be refused")
	}
	if _, ok := c.Get("stats"); ok {
		t.Fatal("stale value was stored")
	}

	if !c.SetIfGeneration("stats", 2, c.Generation()) {
		t.Fatal("current generation should be accepted")
	}
	if v, ok := c.Get("stats"); !ok || v != 2 {
		t.Fatalf("got %v %v", v, ok)
	}
}
