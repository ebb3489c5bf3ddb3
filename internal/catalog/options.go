package catalog

import (
	"time"

	"github.com/starford/mediacat/internal/models"
)

// NodeOption adjusts a node before it is first persisted.
type NodeOption func(r *models.Record)

// WithContent sets the backing resource and its modification stamp.
func WithContent(url string, mtime time.Time) NodeOption {
	return func(r *models.Record) {
		r.ContentURL = url
		r.ContentTime = mtime
	}
}

// Virtual marks a node synthesized by the catalog with no backing resource.
func Virtual() NodeOption {
	return func(r *models.Record) { r.Virtual = true }
}

// Lazy leaves a container's children unmaterialized until first listed.
func Lazy() NodeOption {
	return func(r *models.Record) { r.Materialized = false }
}

func refTo(target models.NodeID) NodeOption {
	return func(r *models.Record) {
		r.RefID = target
		r.Materialized = false
	}
}
