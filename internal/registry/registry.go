// Package registry defines the pluggable persistence layer for catalog nodes
// and the content metadata side-channel, plus the caching decorator that
// keeps hot nodes resident.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/starford/mediacat/internal/apperr"
	"github.com/starford/mediacat/internal/models"
)

// Registry persists nodes and extracted metadata.
//
// GetNodeByID returns apperr.ErrNotFound for unknown ids. GetMetas returns a
// nil map and no error when nothing is stored for (path, mtime).
type Registry interface {
	AllocateNodeID(ctx context.Context) (models.NodeID, error)
	// SaveNode persists n. A non-empty change describes exactly what changed
	// since the last save; backends may apply it instead of rewriting the
	// whole document. Nodes not yet stored are always written in full.
	SaveNode(ctx context.Context, n *models.Node, change models.Change) error
	GetNodeByID(ctx context.Context, id models.NodeID) (*models.Node, error)
	UnregisterNode(ctx context.Context, n *models.Node) error

	GetMetas(ctx context.Context, path string, mtime time.Time) (models.Attributes, error)
	PutMetas(ctx context.Context, path string, mtime time.Time, metas models.Attributes) error

	Close() error
}

// Backend names accepted by configuration.
const (
	BackendMemory = "memory"
	BackendBolt   = "bolt"
	BackendSQLite = "sqlite"
	BackendSQL    = "sql"
)

// NotFound wraps apperr.ErrNotFound for an unknown node id.
func NotFound(id models.NodeID) error {
	return fmt.Errorf("registry: node %s: %w", id, apperr.ErrNotFound)
}
