package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/starford/mediacat/internal/apperr"
	"github.com/starford/mediacat/internal/lock"
	"github.com/starford/mediacat/internal/models"
)

// CreateRef creates an alias of targetID named name (the target's title when
// empty) and appends it under parentID. Aliases of aliases point at the
// concrete node.
func (t *Tree) CreateRef(ctx context.Context, parentID, targetID models.NodeID, name string) (*models.Node, error) {
	target, err := t.reg.GetNodeByID(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if target, err = t.ResolveLink(ctx, target); err != nil {
		return nil, err
	}
	trec := target.Snapshot()
	if name == "" {
		name = trec.Title()
	}

	alias, err := t.NewNode(ctx, name, trec.Class, nil, refTo(trec.ID))
	if err != nil {
		return nil, err
	}
	if err := t.AppendLink(ctx, trec.ID, alias.ID); err != nil {
		return alias, err
	}
	if err := t.AppendChild(ctx, parentID, alias); err != nil {
		return alias, err
	}
	return alias, nil
}

// AppendLink records refID as an alias of targetID.
func (t *Tree) AppendLink(ctx context.Context, targetID, refID models.NodeID) error {
	var notify *models.Node
	err := t.locks.Do(ctx, lock.Key{ID: targetID, Resource: lock.Links}, func(ctx context.Context) error {
		target, err := t.reg.GetNodeByID(ctx, targetID)
		if err != nil {
			return err
		}
		rec := target.Snapshot()
		if slices.Contains(rec.LinkedIDs, refID) {
			return nil
		}
		change := models.Change{
			models.Push(models.FieldLinks, refID),
			models.Set(models.FieldUpdateID, rec.UpdateID+1),
		}
		if err := t.commit(ctx, target, change); err != nil {
			return fmt.Errorf("catalog: link %s -> %s: %w", refID, targetID, err)
		}
		notify = target
		return nil
	})
	if err != nil {
		return err
	}
	t.notify(ctx, notify, models.FieldLinks)
	return nil
}

// RemoveLink forgets refID as an alias of targetID. Unknown links are
// ignored.
func (t *Tree) RemoveLink(ctx context.Context, targetID, refID models.NodeID) error {
	var notify *models.Node
	err := t.locks.Do(ctx, lock.Key{ID: targetID, Resource: lock.Links}, func(ctx context.Context) error {
		target, err := t.reg.GetNodeByID(ctx, targetID)
		if err != nil {
			return err
		}
		rec := target.Snapshot()
		if !slices.Contains(rec.LinkedIDs, refID) {
			return nil
		}
		change := models.Change{
			models.Pull(models.FieldLinks, refID),
			models.Set(models.FieldUpdateID, rec.UpdateID+1),
		}
		if err := t.commit(ctx, target, change); err != nil {
			return fmt.Errorf("catalog: unlink %s -> %s: %w", refID, targetID, err)
		}
		notify = target
		return nil
	})
	if err != nil {
		return err
	}
	t.notify(ctx, notify, models.FieldLinks)
	return nil
}

// RemoveAllLinks removes every alias of targetID from the tree.
func (t *Tree) RemoveAllLinks(ctx context.Context, targetID models.NodeID) error {
	var refs []models.NodeID
	err := t.locks.Do(ctx, lock.Key{ID: targetID, Resource: lock.Links}, func(ctx context.Context) error {
		target, err := t.reg.GetNodeByID(ctx, targetID)
		if err != nil {
			return err
		}
		rec := target.Snapshot()
		if len(rec.LinkedIDs) == 0 {
			return nil
		}
		refs = rec.LinkedIDs
		change := models.Change{
			models.Unset(models.FieldLinks),
			models.Set(models.FieldUpdateID, rec.UpdateID+1),
		}
		return t.commit(ctx, target, change)
	})
	if err != nil {
		return fmt.Errorf("catalog: clear links of %s: %w", targetID, err)
	}

	for _, id := range refs {
		alias, err := t.reg.GetNodeByID(ctx, id)
		if errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if err := t.detachAlias(ctx, alias); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) detachAlias(ctx context.Context, alias *models.Node) error {
	parent := alias.Parent()
	if parent == models.NoID {
		return t.unregister(ctx, alias)
	}
	err := t.RemoveChild(ctx, parent, alias.ID)
	if errors.Is(err, apperr.ErrNotFound) {
		return t.unregister(ctx, alias)
	}
	return err
}

// ResolveLink follows the alias chain of n to its concrete node. A chain
// ending at a missing node (or looping) is repaired by detaching the alias,
// and apperr.ErrDanglingReference is returned.
func (t *Tree) ResolveLink(ctx context.Context, n *models.Node) (*models.Node, error) {
	cur := n
	seen := map[models.NodeID]bool{}
	for {
		ref := cur.Ref()
		if ref == models.NoID {
			return cur, nil
		}
		if seen[cur.ID] {
			return nil, t.heal(ctx, n, ref)
		}
		seen[cur.ID] = true
		next, err := t.reg.GetNodeByID(ctx, ref)
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, t.heal(ctx, cur, ref)
		}
		if err != nil {
			return nil, err
		}
		cur = next
	}
}

func (t *Tree) heal(ctx context.Context, alias *models.Node, missing models.NodeID) error {
	t.logger.Warn("catalog: removing dangling alias",
		slog.String("id", alias.ID.String()),
		slog.String("target", missing.String()),
	)
	// Clear the reference first so a failing detach cannot loop back here.
	if err := t.commit(ctx, alias, models.Change{models.Unset(models.FieldRefID)}); err != nil {
		return fmt.Errorf("catalog: clear ref of %s: %w", alias.ID, err)
	}
	if err := t.detachAlias(ctx, alias); err != nil {
		t.logger.Warn("catalog: detach dangling alias failed", slog.String("id", alias.ID.String()), slog.Any("error", err))
	}
	return fmt.Errorf("catalog: %s -> %s: %w", alias.ID, missing, apperr.ErrDanglingReference)
}
