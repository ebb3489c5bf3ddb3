// Package catalog implements the node tree: structural mutations under
// per-node locks, alias resolution, lazy materialization and the title index.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/starford/mediacat/internal/apperr"
	"github.com/starford/mediacat/internal/cache"
	"github.com/starford/mediacat/internal/didl"
	"github.com/starford/mediacat/internal/lock"
	"github.com/starford/mediacat/internal/metrics"
	"github.com/starford/mediacat/internal/models"
	"github.com/starford/mediacat/internal/pipeline"
	"github.com/starford/mediacat/internal/registry"
)

// Tree is the catalog node tree.
type Tree struct {
	reg    registry.Registry
	locks  *lock.Locker
	bus    *pipeline.Bus
	logger *slog.Logger

	titles       *cache.Cache[models.NodeID, titleIndex]
	materialized singleflight.Group

	systemUpdateID atomic.Uint64
}

// New returns a tree over reg. locks must be the Locker whose Held method
// pins nodes in reg's cache, if any.
func New(reg registry.Registry, locks *lock.Locker, bus *pipeline.Bus, logger *slog.Logger) *Tree {
	return &Tree{
		reg:    reg,
		locks:  locks,
		bus:    bus,
		logger: logger,
		titles: cache.New[models.NodeID, titleIndex](cache.Options{
			TTL:           cache.DefaultOptions().TTL,
			MaxMultiplier: cache.DefaultOptions().MaxMultiplier,
			VerifyVersion: true,
			Capacity:      1024,
		}),
	}
}

// Locker returns the lock table guarding the tree.
func (t *Tree) Locker() *lock.Locker { return t.locks }

// Bus returns the enrichment bus.
func (t *Tree) Bus() *pipeline.Bus { return t.bus }

// Registry returns the backing registry.
func (t *Tree) Registry() registry.Registry { return t.reg }

// SystemUpdateID returns the service-wide change counter.
func (t *Tree) SystemUpdateID() uint64 { return t.systemUpdateID.Load() }

// Close releases the title index.
func (t *Tree) Close() {
	t.titles.Close()
}

// EnsureRoot loads the root container, creating it on first start.
func (t *Tree) EnsureRoot(ctx context.Context) (*models.Node, error) {
	var root *models.Node
	err := t.locks.Do(ctx, lock.Key{ID: models.RootID, Resource: lock.DB}, func(ctx context.Context) error {
		n, err := t.reg.GetNodeByID(ctx, models.RootID)
		if err == nil {
			root = n
			return nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		n = models.NewNode(models.RootID, "root", didl.ClassContainer, nil)
		n.Materialized = true
		n.Path = "/"
		if err := t.reg.SaveNode(ctx, n, nil); err != nil {
			return fmt.Errorf("catalog: create root: %w", err)
		}
		t.logger.Info("catalog: root created")
		root = n
		return nil
	})
	return root, err
}

// Get returns the node with id.
func (t *Tree) Get(ctx context.Context, id models.NodeID) (*models.Node, error) {
	return t.reg.GetNodeByID(ctx, id)
}

// NewNode allocates and persists a detached node. Containers start with an
// empty materialized child list unless Lazy is given.
func (t *Tree) NewNode(ctx context.Context, name, class string, attrs models.Attributes, opts ...NodeOption) (*models.Node, error) {
	id, err := t.reg.AllocateNodeID(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: allocate: %w", err)
	}
	n := models.NewNode(id, name, class, attrs.Clone())
	n.Materialized = didl.IsContainer(class)
	for _, opt := range opts {
		opt(&n.Record)
	}
	if err := t.reg.SaveNode(ctx, n, nil); err != nil {
		return nil, fmt.Errorf("catalog: save new node %s: %w", id, err)
	}
	return n, nil
}

// Create allocates a node and appends it under parentID.
func (t *Tree) Create(ctx context.Context, parentID models.NodeID, name, class string, attrs models.Attributes, opts ...NodeOption) (*models.Node, error) {
	n, err := t.NewNode(ctx, name, class, attrs, opts...)
	if err != nil {
		return nil, err
	}
	if err := t.AppendChild(ctx, parentID, n); err != nil {
		return n, err
	}
	return n, nil
}

// AppendChild attaches child as the last child of parentID.
func (t *Tree) AppendChild(ctx context.Context, parentID models.NodeID, child *models.Node) error {
	return t.InsertBefore(ctx, parentID, child, models.NoID)
}

// InsertBefore attaches child under parentID before the sibling beforeID, or
// last when beforeID is NoID or not a child of parentID. The child must be
// detached.
func (t *Tree) InsertBefore(ctx context.Context, parentID models.NodeID, child *models.Node, beforeID models.NodeID) error {
	var notify *models.Node
	err := t.locks.Do(ctx, lock.Key{ID: parentID, Resource: lock.Children}, func(ctx context.Context) error {
		parent, err := t.reg.GetNodeByID(ctx, parentID)
		if err != nil {
			return err
		}
		prec := parent.Snapshot()
		if prec.RefID != models.NoID || !didl.IsContainer(prec.Class) {
			return fmt.Errorf("catalog: %s cannot have children: %w", parentID, apperr.ErrConflict)
		}
		if slices.Contains(prec.ChildrenIDs, child.ID) {
			return fmt.Errorf("catalog: %s already under %s: %w", child.ID, parentID, apperr.ErrAlreadyExists)
		}

		// The child's db key serializes attaches of one node under
		// different parents.
		err = t.locks.Do(ctx, lock.Key{ID: child.ID, Resource: lock.DB}, func(ctx context.Context) error {
			if p := child.Parent(); p != models.NoID {
				return fmt.Errorf("catalog: %s already attached to %s: %w", child.ID, p, apperr.ErrConflict)
			}
			childChange := models.Change{
				models.Set(models.FieldParentID, parentID),
				models.Set(models.FieldPath, path.Join(prec.Path, child.Snapshot().Name)),
			}
			if err := t.commit(ctx, child, childChange); err != nil {
				return fmt.Errorf("catalog: attach %s: %w", child.ID, err)
			}
			return nil
		})
		if err != nil {
			return err
		}

		var parentChange models.Change
		if i := slices.Index(prec.ChildrenIDs, beforeID); beforeID != models.NoID && i >= 0 {
			parentChange = append(parentChange, models.Set(models.FieldChildren, slices.Insert(slices.Clone(prec.ChildrenIDs), i, child.ID)))
		} else {
			parentChange = append(parentChange, models.Push(models.FieldChildren, child.ID))
		}
		parentChange = append(parentChange, models.Set(models.FieldUpdateID, prec.UpdateID+1))
		if err := t.commit(ctx, parent, parentChange); err != nil {
			return fmt.Errorf("catalog: append to %s: %w", parentID, err)
		}
		notify = parent
		return nil
	})
	if err != nil {
		return err
	}
	t.notify(ctx, notify, models.FieldChildren)
	return nil
}

// RemoveChild detaches childID from parentID and unregisters it. A child
// with children is rejected. Aliases of the child are removed first; an
// alias child is unlinked from its target.
//
// The child's children key is held throughout, so nothing can be attached
// below it between the emptiness check and the unregistration. Locks are
// taken child first, then parent.
func (t *Tree) RemoveChild(ctx context.Context, parentID, childID models.NodeID) error {
	var notify *models.Node
	err := t.locks.Do(ctx, lock.Key{ID: childID, Resource: lock.Children}, func(ctx context.Context) error {
		child, err := t.reg.GetNodeByID(ctx, childID)
		if err != nil {
			return err
		}
		if ids, _ := child.Children(); len(ids) > 0 {
			return fmt.Errorf("catalog: %s has %d children: %w", childID, len(ids), apperr.ErrConflict)
		}
		if err := t.RemoveAllLinks(ctx, childID); err != nil {
			return err
		}
		if notify, err = t.detach(ctx, parentID, childID); err != nil {
			return err
		}
		if target := child.Ref(); target != models.NoID {
			if err := t.RemoveLink(ctx, target, childID); err != nil && !errors.Is(err, apperr.ErrNotFound) {
				return err
			}
		}
		return t.unregister(ctx, child)
	})
	if err != nil {
		return err
	}
	t.notify(ctx, notify, models.FieldChildren)
	return nil
}

// detach pulls childID out of parentID's children list.
func (t *Tree) detach(ctx context.Context, parentID, childID models.NodeID) (*models.Node, error) {
	var parent *models.Node
	err := t.locks.Do(ctx, lock.Key{ID: parentID, Resource: lock.Children}, func(ctx context.Context) error {
		var err error
		parent, err = t.reg.GetNodeByID(ctx, parentID)
		if err != nil {
			return err
		}
		prec := parent.Snapshot()
		if !slices.Contains(prec.ChildrenIDs, childID) {
			return fmt.Errorf("catalog: %s is not a child of %s: %w", childID, parentID, apperr.ErrNotFound)
		}
		change := models.Change{
			models.Pull(models.FieldChildren, childID),
			models.Set(models.FieldUpdateID, prec.UpdateID+1),
		}
		if err := t.commit(ctx, parent, change); err != nil {
			return fmt.Errorf("catalog: detach %s: %w", childID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return parent, nil
}

// RemoveSubtree removes id and everything below it, depth first.
func (t *Tree) RemoveSubtree(ctx context.Context, id models.NodeID) error {
	n, err := t.reg.GetNodeByID(ctx, id)
	if err != nil {
		return err
	}
	ids, _ := n.Children()
	for _, c := range slices.Backward(ids) {
		if err := t.RemoveSubtree(ctx, c); err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
	}
	parent := n.Parent()
	if parent == models.NoID {
		if err := t.RemoveAllLinks(ctx, id); err != nil {
			return err
		}
		return t.unregister(ctx, n)
	}
	return t.RemoveChild(ctx, parent, id)
}

func (t *Tree) unregister(ctx context.Context, n *models.Node) error {
	if err := t.reg.UnregisterNode(ctx, n); err != nil {
		return fmt.Errorf("catalog: unregister %s: %w", n.ID, err)
	}
	t.titles.Delete(n.ID)
	return nil
}

// UpdateAttributes overwrites the given attributes of id and bumps its
// UpdateID.
func (t *Tree) UpdateAttributes(ctx context.Context, id models.NodeID, patch models.Attributes) (*models.Node, error) {
	if len(patch) == 0 {
		return t.reg.GetNodeByID(ctx, id)
	}
	var (
		updated      *models.Node
		titleChanged bool
	)
	err := t.locks.Do(ctx, lock.Key{ID: id, Resource: lock.DB}, func(ctx context.Context) error {
		n, err := t.reg.GetNodeByID(ctx, id)
		if err != nil {
			return err
		}
		before := n.NodeTitle()
		change := make(models.Change, 0, len(patch)+1)
		for _, k := range patch.Keys() {
			if patch[k] == nil {
				change = append(change, models.Unset(models.AttrPrefix+k))
				continue
			}
			change = append(change, models.SetAttr(k, patch[k]))
		}
		change = append(change, models.Set(models.FieldUpdateID, n.Version()+1))
		if err := t.commit(ctx, n, change); err != nil {
			return fmt.Errorf("catalog: update %s: %w", id, err)
		}
		titleChanged = n.NodeTitle() != before
		updated = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	if titleChanged {
		if p := updated.Parent(); p != models.NoID {
			t.titles.Delete(p)
		}
	}
	t.notify(ctx, updated, models.FieldAttributes)
	return updated, nil
}

// commit applies change to the live node, then persists it.
func (t *Tree) commit(ctx context.Context, n *models.Node, change models.Change) error {
	var err error
	n.Update(func(r *models.Record) {
		err = models.ApplyChange(r, change)
	})
	if err != nil {
		return err
	}
	return t.reg.SaveNode(ctx, n, change)
}

// notify publishes an update event for n. Handler failures are logged.
func (t *Tree) notify(ctx context.Context, n *models.Node, fields ...string) {
	if n == nil {
		return
	}
	sys := t.systemUpdateID.Add(1)
	metrics.SetSystemUpdateID(sys)

	rec := n.Snapshot()
	ev := pipeline.UpdateEvent{ID: rec.ID, UpdateID: rec.UpdateID, Fields: fields}
	if err := t.bus.Update.Publish(ctx, pipeline.EventName(&rec), ev); err != nil {
		t.logger.Warn("catalog: update handlers failed", slog.String("id", rec.ID.String()), slog.Any("error", err))
	}
}
