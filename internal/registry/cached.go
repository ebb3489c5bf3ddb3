package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/starford/mediacat/internal/cache"
	"github.com/starford/mediacat/internal/checksum"
	"github.com/starford/mediacat/internal/metrics"
	"github.com/starford/mediacat/internal/models"
)

const metasCacheSize = 4096

// Cached decorates a backend with the time-windowed node cache. All tree
// code goes through it so that every reader of an id shares one live node.
type Cached struct {
	backend Registry
	nodes   *cache.Cache[models.NodeID, *models.Node]
	metas   *lru.Cache[string, models.Attributes]
	loads   singleflight.Group
	logger  *slog.Logger

	// live holds every node handed out until the cache lets go of it. A miss
	// that races an expiry still finds the node here, so one id never has
	// two live instances.
	liveMu sync.Mutex
	live   map[models.NodeID]*models.Node
}

var _ Registry = (*Cached)(nil)

// NewCached wraps backend. pinned reports whether a node is in the middle of
// a locked sequence; such nodes are kept resident past their expiry.
func NewCached(backend Registry, opts cache.Options, pinned func(models.NodeID) bool, logger *slog.Logger) *Cached {
	metas, _ := lru.New[string, models.Attributes](metasCacheSize)
	c := &Cached{
		backend: backend,
		nodes:   cache.New[models.NodeID, *models.Node](opts),
		metas:   metas,
		logger:  logger,
		live:    make(map[models.NodeID]*models.Node),
	}
	c.nodes.OnEvict(c.forget)
	if pinned != nil {
		c.nodes.SetReclaimHook(func(id models.NodeID, _ *models.Node) bool {
			if pinned(id) {
				logger.Debug("registry: keeping locked node resident", slog.String("id", id.String()))
				return true
			}
			return false
		})
	}
	return c
}

// Backend returns the decorated registry.
func (c *Cached) Backend() Registry { return c.backend }

// Resident reports whether id is currently cached.
func (c *Cached) Resident(id models.NodeID) bool { return c.nodes.Has(id) }

func (c *Cached) AllocateNodeID(ctx context.Context) (models.NodeID, error) {
	id, err := c.backend.AllocateNodeID(ctx)
	if err != nil {
		metrics.RecordRegistryError("allocate")
	}
	return id, err
}

func (c *Cached) SaveNode(ctx context.Context, n *models.Node, change models.Change) error {
	if err := c.backend.SaveNode(ctx, n, change); err != nil {
		metrics.RecordRegistryError("save")
		return err
	}
	c.liveMu.Lock()
	c.live[n.ID] = n
	c.nodes.Put(n.ID, n, n.Version())
	c.liveMu.Unlock()
	return nil
}

// keep caches a node loaded from the backend unless a live instance of its
// id already exists, and returns the instance readers must share.
func (c *Cached) keep(n *models.Node) *models.Node {
	c.liveMu.Lock()
	defer c.liveMu.Unlock()
	if cur, ok := c.live[n.ID]; ok {
		n = cur
	}
	c.live[n.ID] = n
	c.nodes.Put(n.ID, n, n.Version())
	return n
}

// forget drops n from the live set once the cache has evicted it for good.
func (c *Cached) forget(id models.NodeID, n *models.Node) {
	c.liveMu.Lock()
	defer c.liveMu.Unlock()
	if c.live[id] == n && !c.nodes.Has(id) {
		delete(c.live, id)
	}
}

// revive re-caches a live node the cache dropped.
func (c *Cached) revive(id models.NodeID) (*models.Node, bool) {
	c.liveMu.Lock()
	defer c.liveMu.Unlock()
	n, ok := c.live[id]
	if ok {
		c.nodes.Put(id, n, n.Version())
	}
	return n, ok
}

func (c *Cached) GetNodeByID(ctx context.Context, id models.NodeID) (*models.Node, error) {
	if n, ok := c.nodes.Get(id); ok {
		metrics.RecordCacheLookup(true)
		return n, nil
	}
	metrics.RecordCacheLookup(false)

	v, err, _ := c.loads.Do(id.String(), func() (any, error) {
		if n, ok := c.nodes.Get(id); ok {
			return n, nil
		}
		if n, ok := c.revive(id); ok {
			return n, nil
		}
		n, err := c.backend.GetNodeByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return c.keep(n), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Node), nil
}

func (c *Cached) UnregisterNode(ctx context.Context, n *models.Node) error {
	c.liveMu.Lock()
	delete(c.live, n.ID)
	c.nodes.Delete(n.ID)
	c.liveMu.Unlock()
	if err := c.backend.UnregisterNode(ctx, n); err != nil {
		metrics.RecordRegistryError("unregister")
		return err
	}
	return nil
}

func (c *Cached) GetMetas(ctx context.Context, path string, mtime time.Time) (models.Attributes, error) {
	key := checksum.ContentKey(path, mtime)
	if m, ok := c.metas.Get(key); ok {
		return m.Clone(), nil
	}
	m, err := c.backend.GetMetas(ctx, path, mtime)
	if err != nil {
		metrics.RecordRegistryError("get_metas")
		return nil, err
	}
	if m != nil {
		c.metas.Add(key, m)
	}
	return m.Clone(), nil
}

func (c *Cached) PutMetas(ctx context.Context, path string, mtime time.Time, metas models.Attributes) error {
	if err := c.backend.PutMetas(ctx, path, mtime, metas); err != nil {
		metrics.RecordRegistryError("put_metas")
		return err
	}
	c.metas.Add(checksum.ContentKey(path, mtime), metas.Clone())
	return nil
}

// Close stops the cache and closes the backend.
func (c *Cached) Close() error {
	c.nodes.Close()
	return c.backend.Close()
}
