package registry_test

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/mediacat/internal/cache"
	"github.com/starford/mediacat/internal/models"
	"github.com/starford/mediacat/internal/registry"
	"github.com/starford/mediacat/internal/registry/registrytest"
)

// countingBackend counts backend loads.
type countingBackend struct {
	*registry.Memory
	loads atomic.Int32
	delay time.Duration
}

func (b *countingBackend) GetNodeByID(ctx context.Context, id models.NodeID) (*models.Node, error) {
	b.loads.Add(1)
	time.Sleep(b.delay)
	return b.Memory.GetNodeByID(ctx, id)
}

func newCached(backend registry.Registry, opts cache.Options, pinned func(models.NodeID) bool) *registry.Cached {
	return registry.NewCached(backend, opts, pinned, slog.Default())
}

func TestCached(t *testing.T) {
	registrytest.Run(t, func(t *testing.T) registry.Registry {
		return newCached(registry.NewMemory(), cache.DefaultOptions(), nil)
	})
}

func TestCached_SharesLiveNode(t *testing.T) {
	ctx := context.Background()
	reg := newCached(registry.NewMemory(), cache.DefaultOptions(), nil)
	defer reg.Close()

	n := models.NewNode(1, "a", "object.item", nil)
	if err := reg.SaveNode(ctx, n, nil); err != nil {
		t.Fatal(err)
	}
	a, _ := reg.GetNodeByID(ctx, 1)
	b, _ := reg.GetNodeByID(ctx, 1)
	if a != b || a != n {
		t.Error("readers of the same id must share one live node")
	}
}

func TestCached_ConcurrentMissLoadsOnce(t *testing.T) {
	ctx := context.Background()
	backend := &countingBackend{Memory: registry.NewMemory(), delay: 20 * time.Millisecond}
	if err := backend.SaveNode(ctx, models.NewNode(3, "x", "object.item", nil), nil); err != nil {
		t.Fatal(err)
	}
	reg := newCached(backend, cache.DefaultOptions(), nil)
	defer reg.Close()

	var wg sync.WaitGroup
	got := make([]*models.Node, 8)
	for i := range got {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := reg.GetNodeByID(ctx, 3)
			if err != nil {
				t.Error(err)
				return
			}
			got[i] = n
		}()
	}
	wg.Wait()

	if loads := backend.loads.Load(); loads != 1 {
		t.Errorf("backend loads = %d, want 1", loads)
	}
	for _, n := range got[1:] {
		if n != got[0] {
			t.Fatal("concurrent readers received different instances")
		}
	}
}

func TestCached_PinnedNodeStaysResident(t *testing.T) {
	ctx := context.Background()
	var pinned atomic.Bool
	pinned.Store(true)
	reg := newCached(registry.NewMemory(), cache.Options{TTL: 20 * time.Millisecond}, func(models.NodeID) bool {
		return pinned.Load()
	})
	defer reg.Close()

	n := models.NewNode(5, "locked", "object.container", nil)
	if err := reg.SaveNode(ctx, n, nil); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	got, err := reg.GetNodeByID(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if got != n {
		t.Error("pinned node was evicted and reloaded")
	}

	pinned.Store(false)
	deadline := time.Now().Add(2 * time.Second)
	for reg.Resident(5) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if reg.Resident(5) {
		t.Error("node should expire once unpinned")
	}
}

func TestCached_UnregisterDropsEntry(t *testing.T) {
	ctx := context.Background()
	reg := newCached(registry.NewMemory(), cache.DefaultOptions(), nil)
	defer reg.Close()

	n := models.NewNode(2, "b", "object.item", nil)
	_ = reg.SaveNode(ctx, n, nil)
	if err := reg.UnregisterNode(ctx, n); err != nil {
		t.Fatal(err)
	}
	if reg.Resident(2) {
		t.Error("unregistered node still cached")
	}
}

func TestCached_PinnedNodeKeepsIdentityAcrossExpiry(t *testing.T) {
	ctx := context.Background()
	backend := &countingBackend{Memory: registry.NewMemory()}
	reg := newCached(backend, cache.Options{TTL: 5 * time.Millisecond}, func(models.NodeID) bool { return true })
	defer reg.Close()

	n := models.NewNode(7, "busy", "object.container", nil)
	if err := reg.SaveNode(ctx, n, nil); err != nil {
		t.Fatal(err)
	}

	// Readers spin across many expiry cycles; each must see the saved node.
	stop := time.After(150 * time.Millisecond)
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				got, err := reg.GetNodeByID(ctx, 7)
				if err != nil {
					t.Error(err)
					return
				}
				if got != n {
					t.Error("reader received a second instance of a pinned node")
					return
				}
			}
		}()
	}
	wg.Wait()
	if loads := backend.loads.Load(); loads != 0 {
		t.Errorf("backend loads = %d, want 0", loads)
	}
}

func TestCached_UnpinnedNodeIsReleased(t *testing.T) {
	ctx := context.Background()
	backend := &countingBackend{Memory: registry.NewMemory()}
	reg := newCached(backend, cache.Options{TTL: 10 * time.Millisecond}, nil)
	defer reg.Close()

	n := models.NewNode(8, "idle", "object.item", nil)
	if err := reg.SaveNode(ctx, n, nil); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for backend.loads.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("expired node was never reloaded from the backend")
		}
		time.Sleep(20 * time.Millisecond)
		if _, err := reg.GetNodeByID(ctx, 8); err != nil {
			t.Fatal(err)
		}
	}
}
