package registry

import (
	"context"
	"sync"
	"time"

	"github.com/starford/mediacat/internal/checksum"
	"github.com/starford/mediacat/internal/models"
)

// Memory is a process-local backend. Stored records are private copies, so
// it behaves like a document store: callers only see saved state.
type Memory struct {
	mu    sync.RWMutex
	next  models.NodeID
	nodes map[models.NodeID]models.Record
	metas map[string]models.Attributes
}

var _ Registry = (*Memory)(nil)

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		next:  models.RootID + 1,
		nodes: make(map[models.NodeID]models.Record),
		metas: make(map[string]models.Attributes),
	}
}

func (m *Memory) AllocateNodeID(_ context.Context) (models.NodeID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.next
	m.next++
	return id, nil
}

func (m *Memory) SaveNode(_ context.Context, n *models.Node, change models.Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.nodes[n.ID]
	if !ok || len(change) == 0 {
		m.nodes[n.ID] = n.Snapshot()
		return nil
	}
	if err := models.ApplyChange(&stored, change); err != nil {
		return err
	}
	m.nodes[n.ID] = stored
	return nil
}

func (m *Memory) GetNodeByID(_ context.Context, id models.NodeID) (*models.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.nodes[id]
	if !ok {
		return nil, NotFound(id)
	}
	return models.FromRecord(rec.Clone()), nil
}

func (m *Memory) UnregisterNode(_ context.Context, n *models.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nodes, n.ID)
	return nil
}

func (m *Memory) GetMetas(_ context.Context, path string, mtime time.Time) (models.Attributes, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metas[checksum.ContentKey(path, mtime)].Clone(), nil
}

func (m *Memory) PutMetas(_ context.Context, path string, mtime time.Time, metas models.Attributes) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metas[checksum.ContentKey(path, mtime)] = metas.Clone()
	return nil
}

// Len returns the number of stored nodes.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.nodes)
}

func (m *Memory) Close() error { return nil }
