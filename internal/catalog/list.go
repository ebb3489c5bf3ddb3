package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/starford/mediacat/internal/apperr"
	"github.com/starford/mediacat/internal/didl"
	"github.com/starford/mediacat/internal/lock"
	"github.com/starford/mediacat/internal/models"
	"github.com/starford/mediacat/internal/pipeline"
)

// ListOptions controls ListChildren.
type ListOptions struct {
	// ResolveLinks replaces alias children with their concrete nodes.
	ResolveLinks bool
}

// ListChildren returns the children of id in order, materializing them
// through the browse topic first when needed. Listing an alias lists its
// target. Missing and dangling children are skipped.
func (t *Tree) ListChildren(ctx context.Context, id models.NodeID, opts ListOptions) ([]*models.Node, error) {
	n, err := t.reg.GetNodeByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n, err = t.ResolveLink(ctx, n); err != nil {
		return nil, err
	}
	if !didl.IsContainer(n.Snapshot().Class) {
		return nil, nil
	}

	ids, materialized := n.Children()
	if !materialized {
		if err := t.Materialize(ctx, n); err != nil {
			return nil, err
		}
		ids, _ = n.Children()
	}

	out := make([]*models.Node, 0, len(ids))
	for _, cid := range ids {
		child, err := t.reg.GetNodeByID(ctx, cid)
		if errors.Is(err, apperr.ErrNotFound) {
			t.logger.Warn("catalog: missing child", slog.String("parent", id.String()), slog.String("child", cid.String()))
			continue
		}
		if err != nil {
			return nil, err
		}
		if opts.ResolveLinks && child.IsRef() {
			resolved, err := t.ResolveLink(ctx, child)
			if errors.Is(err, apperr.ErrDanglingReference) {
				continue
			}
			if err != nil {
				return nil, err
			}
			child = resolved
		}
		out = append(out, child)
	}
	return out, nil
}

// Materialize publishes the browse topic for n under its scanner lock so that
// the owning repository can populate it, then marks its children as
// materialized. Concurrent calls for the same node share one run.
func (t *Tree) Materialize(ctx context.Context, n *models.Node) error {
	_, err, _ := t.materialized.Do(n.ID.String(), func() (any, error) {
		return nil, t.locks.Do(ctx, lock.Key{ID: n.ID, Resource: lock.Scanner}, func(ctx context.Context) error {
			cur, err := t.reg.GetNodeByID(ctx, n.ID)
			if err != nil {
				return err
			}
			if _, done := cur.Children(); done {
				return nil
			}
			rec := cur.Snapshot()
			ev := &pipeline.BrowseEvent{Node: cur}
			if err := t.bus.Browse.Publish(ctx, pipeline.EventName(&rec), ev); err != nil {
				return fmt.Errorf("catalog: materialize %s: %w", n.ID, err)
			}
			return t.MarkMaterialized(ctx, n.ID)
		})
	})
	return err
}

// MarkMaterialized flags the child list of id as complete.
func (t *Tree) MarkMaterialized(ctx context.Context, id models.NodeID) error {
	return t.locks.Do(ctx, lock.Key{ID: id, Resource: lock.Children}, func(ctx context.Context) error {
		n, err := t.reg.GetNodeByID(ctx, id)
		if err != nil {
			return err
		}
		if _, done := n.Children(); done {
			return nil
		}
		return t.commit(ctx, n, models.Change{models.Set(models.FieldMaterialized, true)})
	})
}

// titleIndex maps display titles to child ids in child order.
type titleIndex map[string][]models.NodeID

// MapChildrenByTitle returns the title index of parentID. The index is built
// from the current child list (without materializing it) and cached until
// the parent's UpdateID changes.
func (t *Tree) MapChildrenByTitle(ctx context.Context, parentID models.NodeID) (map[string][]models.NodeID, error) {
	idx, err := t.titleIndex(ctx, parentID)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]models.NodeID, len(idx))
	for k, v := range idx {
		out[k] = slices.Clone(v)
	}
	return out, nil
}

// ListChildrenByTitle returns the children of parentID whose title is title.
func (t *Tree) ListChildrenByTitle(ctx context.Context, parentID models.NodeID, title string) ([]*models.Node, error) {
	idx, err := t.titleIndex(ctx, parentID)
	if err != nil {
		return nil, err
	}
	ids := idx[title]
	out := make([]*models.Node, 0, len(ids))
	for _, id := range ids {
		n, err := t.reg.GetNodeByID(ctx, id)
		if errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (t *Tree) titleIndex(ctx context.Context, parentID models.NodeID) (titleIndex, error) {
	parent, err := t.reg.GetNodeByID(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if idx, ok := t.titles.GetVersion(parentID, parent.Version()); ok {
		return idx, nil
	}

	var idx titleIndex
	err = t.locks.Do(ctx, lock.Key{ID: parentID, Resource: lock.ChildrenByTitle}, func(ctx context.Context) error {
		version := parent.Version()
		if cached, ok := t.titles.GetVersion(parentID, version); ok {
			idx = cached
			return nil
		}
		ids, _ := parent.Children()
		built := make(titleIndex, len(ids))
		for _, id := range ids {
			child, err := t.reg.GetNodeByID(ctx, id)
			if errors.Is(err, apperr.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			title := child.NodeTitle()
			built[title] = append(built[title], id)
		}
		t.titles.Put(parentID, built, version)
		idx = built
		return nil
	})
	return idx, err
}

// FilterChildNodes collects, depth first, every node below id (following
// aliases to their targets) for which pred returns true. Each concrete node
// is visited once.
func (t *Tree) FilterChildNodes(ctx context.Context, id models.NodeID, pred func(*models.Node) bool) ([]*models.Node, error) {
	visited := map[models.NodeID]bool{id: true}
	var out []*models.Node
	var walk func(models.NodeID) error
	walk = func(parent models.NodeID) error {
		children, err := t.ListChildren(ctx, parent, ListOptions{ResolveLinks: true})
		if err != nil {
			return err
		}
		for _, c := range children {
			if visited[c.ID] {
				continue
			}
			visited[c.ID] = true
			if pred(c) {
				out = append(out, c)
			}
			if didl.IsContainer(c.Snapshot().Class) {
				if err := walk(c.ID); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(id); err != nil {
		return nil, err
	}
	return out, nil
}

// Titles returns the sorted titles of the index of parentID.
func (t *Tree) Titles(ctx context.Context, parentID models.NodeID) ([]string, error) {
	idx, err := t.titleIndex(ctx, parentID)
	if err != nil {
		return nil, err
	}
	return slices.Sorted(maps.Keys(idx)), nil
}
