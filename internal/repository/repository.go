// Package repository populates the catalog from content sources. Each
// repository owns a mount in the tree and keeps it in line with its source
// through the reconciler.
package repository

import (
	"context"
	"strings"
	"time"

	"github.com/starford/mediacat/internal/catalog"
	"github.com/starford/mediacat/internal/didl"
	"github.com/starford/mediacat/internal/lock"
	"github.com/starford/mediacat/internal/models"
	"github.com/starford/mediacat/internal/pipeline"
)

// Repository is one content source mounted into the catalog.
type Repository interface {
	Name() string
	// MountPoint is the slash separated catalog path the repository
	// populates; "/" is the root.
	MountPoint() string
	// Init ensures the mount node exists and registers bus handlers.
	Init(ctx context.Context) error
	// Scan reconciles the whole mount with the source.
	Scan(ctx context.Context) error
	// WatchRoot returns the directory to watch and a filter for the paths
	// under it that concern the repository.
	WatchRoot() (string, func(path string) bool)
	Close()
}

// Candidate is one source entry offered to the reconciler.
type Candidate struct {
	// Key identifies the entry across scans; it is stored as the node's
	// content URL.
	Key string
	// Version changes whenever the entry content changes. Containers leave
	// it empty and are never replaced.
	Version string
	Name    string
	Class   string
	ModTime time.Time
	// Attrs are explicit attributes. They win over enrichment results.
	Attrs models.Attributes
	// Info, when set, runs the entry through the prepare topic.
	Info *pipeline.ContentInfo
}

// IsContainer reports whether the candidate becomes a container.
func (c Candidate) IsContainer() bool { return didl.IsContainer(c.Class) }

// FormatVersion renders a modification time as a candidate version.
func FormatVersion(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// nodeVersion returns the version a node was inserted with.
func nodeVersion(n *models.Node) string {
	var v string
	n.View(func(r *models.Record) {
		if s := r.Attributes.String(models.AttrContentVersion); s != "" {
			v = s
			return
		}
		v = FormatVersion(r.ContentTime)
	})
	return v
}

// owned reports whether n was created by a reconciler from a source entry.
func owned(n *models.Node) bool {
	var ok bool
	n.View(func(r *models.Record) {
		ok = r.ContentURL != "" && r.RefID == models.NoID && !r.Virtual
	})
	return ok
}

// ensureContainer returns the container child of parentID titled title,
// creating it with opts when absent.
func ensureContainer(ctx context.Context, tree *catalog.Tree, parentID models.NodeID, title, class string, opts ...catalog.NodeOption) (*models.Node, error) {
	var out *models.Node
	err := tree.Locker().Do(ctx, lock.Key{ID: parentID, Resource: lock.Scanner}, func(ctx context.Context) error {
		found, err := tree.ListChildrenByTitle(ctx, parentID, title)
		if err != nil {
			return err
		}
		for _, n := range found {
			if !n.IsRef() && didl.IsContainer(n.Snapshot().Class) {
				out = n
				return nil
			}
		}
		out, err = tree.Create(ctx, parentID, title, class, nil, opts...)
		return err
	})
	return out, err
}

// ensurePath walks mountPoint from the root, creating missing segments as
// virtual containers, and returns the last one.
func ensurePath(ctx context.Context, tree *catalog.Tree, mountPoint string) (*models.Node, error) {
	cur, err := tree.EnsureRoot(ctx)
	if err != nil {
		return nil, err
	}
	for _, seg := range splitMount(mountPoint) {
		cur, err = ensureContainer(ctx, tree, cur.ID, seg, didl.ClassContainer, catalog.Virtual())
		if err != nil {
			return nil, err
		}
	}
	return cur, nil
}

// splitMount returns the non-empty segments of a mount point.
func splitMount(mountPoint string) []string {
	var out []string
	for _, s := range strings.Split(mountPoint, "/") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// parentMount splits a mount point into its parent path and last segment.
// The root has no last segment.
func parentMount(mountPoint string) (string, string) {
	segs := splitMount(mountPoint)
	if len(segs) == 0 {
		return "/", ""
	}
	return "/" + strings.Join(segs[:len(segs)-1], "/"), segs[len(segs)-1]
}
