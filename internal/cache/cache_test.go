package cache

import (
	"sync/atomic"
	"testing"
	"time"
)

func eventually(t *testing.T, timeout time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error(msg)
}

func TestPutGet(t *testing.T) {
	c := New[int, string](Options{TTL: time.Minute, MaxMultiplier: 4})
	defer c.Close()

	c.Put(1, "one", 0)
	v, ok := c.Get(1)
	if !ok || v != "one" {
		t.Fatalf("Get = %q, %v", v, ok)
	}
	if _, ok := c.Get(2); ok {
		t.Error("unexpected hit for missing key")
	}
	hits, misses := c.Stats()
	if hits != 1 || misses != 1 {
		t.Errorf("stats = %d/%d, want 1/1", hits, misses)
	}
}

func TestGet_ExtendsWindowByReads(t *testing.T) {
	base := time.Minute
	c := New[int, string](Options{TTL: base, MaxMultiplier: 4})
	defer c.Close()

	c.Put(1, "hot", 0)
	if got := c.TTL(1); got != base {
		t.Fatalf("ttl after put = %v, want %v", got, base)
	}
	c.Get(1)
	if got := c.TTL(1); got != 2*base {
		t.Errorf("ttl after 1 read = %v, want %v", got, 2*base)
	}
	for range 10 {
		c.Get(1)
	}
	if got := c.TTL(1); got != 4*base {
		t.Errorf("ttl after many reads = %v, want capped %v", got, 4*base)
	}

	// Put resets the read count.
	c.Put(1, "hot", 1)
	if got := c.TTL(1); got != base {
		t.Errorf("ttl after re-put = %v, want %v", got, base)
	}
}

func TestExpiry_InvokesEvictCallback(t *testing.T) {
	c := New[int, string](Options{TTL: 30 * time.Millisecond})
	defer c.Close()

	var evicted atomic.Int32
	c.OnEvict(func(k int, v string) {
		if k == 5 && v == "five" {
			evicted.Add(1)
		}
	})
	c.Put(5, "five", 0)

	eventually(t, 2*time.Second, func() bool { return evicted.Load() == 1 }, "expired entry was not evicted")
	if c.Len() != 0 {
		t.Errorf("len = %d, want 0", c.Len())
	}
}

func TestReclaimHook_KeepsEntryAlive(t *testing.T) {
	c := New[int, string](Options{TTL: 20 * time.Millisecond})
	defer c.Close()

	var pinned atomic.Bool
	pinned.Store(true)
	var evicted atomic.Int32
	c.SetReclaimHook(func(int, string) bool { return pinned.Load() })
	c.OnEvict(func(int, string) { evicted.Add(1) })

	c.Put(1, "locked", 0)
	time.Sleep(120 * time.Millisecond)
	if evicted.Load() != 0 {
		t.Fatal("pinned entry must not be evicted")
	}
	eventually(t, time.Second, func() bool { return c.Has(1) }, "pinned entry should be resident")

	pinned.Store(false)
	eventually(t, 2*time.Second, func() bool { return evicted.Load() > 0 }, "entry should be evicted once unpinned")
}

func TestGetVersion_MismatchIsMiss(t *testing.T) {
	c := New[int, string](Options{TTL: time.Minute, VerifyVersion: true})
	defer c.Close()

	c.Put(1, "v3", 3)
	if _, ok := c.GetVersion(1, 3); !ok {
		t.Fatal("matching version should hit")
	}
	if _, ok := c.GetVersion(1, 4); ok {
		t.Fatal("stale version should miss")
	}
	if c.Has(1) {
		t.Error("stale entry should be dropped")
	}
}

func TestGetVersion_IgnoredWithoutVerify(t *testing.T) {
	c := New[int, string](Options{TTL: time.Minute})
	defer c.Close()

	c.Put(1, "v3", 3)
	if _, ok := c.GetVersion(1, 9); !ok {
		t.Error("version is not checked unless VerifyVersion is set")
	}
}
