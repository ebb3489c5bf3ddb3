package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.uber.org/multierr"

	"github.com/starford/mediacat/internal/apperr"
	"github.com/starford/mediacat/internal/catalog"
	"github.com/starford/mediacat/internal/lock"
	"github.com/starford/mediacat/internal/metrics"
	"github.com/starford/mediacat/internal/models"
	"github.com/starford/mediacat/internal/pipeline"
)

// Reconciliation actions, also used as metric labels.
const (
	ActionKept     = "kept"
	ActionInserted = "inserted"
	ActionReplaced = "replaced"
	ActionRemoved  = "removed"
	ActionFailed   = "failed"
)

// Result summarizes one reconciliation of a container.
type Result struct {
	// Nodes holds the node backing each candidate, in candidate order. A
	// failed candidate leaves a nil entry.
	Nodes []*models.Node

	Kept, Inserted, Replaced, Removed, Failed int
}

// Changed reports whether the container was modified.
func (r Result) Changed() bool {
	return r.Inserted+r.Replaced+r.Removed > 0
}

// Reconciler makes the children of a container match a candidate list.
type Reconciler struct {
	tree   *catalog.Tree
	name   string
	logger *slog.Logger
}

// NewReconciler returns a reconciler reporting under the repository name.
func NewReconciler(tree *catalog.Tree, name string, logger *slog.Logger) *Reconciler {
	return &Reconciler{tree: tree, name: name, logger: logger}
}

// Reconcile takes the scanner lock of parentID and reconciles its children
// with candidates.
func (r *Reconciler) Reconcile(ctx context.Context, parentID models.NodeID, candidates []Candidate) (Result, error) {
	var res Result
	err := r.tree.Locker().Do(ctx, lock.Key{ID: parentID, Resource: lock.Scanner}, func(ctx context.Context) error {
		var err error
		res, err = r.ReconcileHeld(ctx, parentID, candidates)
		return err
	})
	return res, err
}

// ReconcileHeld is Reconcile for callers already holding the scanner lock
// of parentID, such as browse handlers.
//
// An entry with the same key and version is kept untouched. The same key
// with a different version is removed together with its aliases and
// inserted again. Unknown keys are inserted, and owned children whose key
// is no longer offered are removed. Per-candidate failures are collected;
// the remaining candidates are still processed.
func (r *Reconciler) ReconcileHeld(ctx context.Context, parentID models.NodeID, candidates []Candidate) (Result, error) {
	res := Result{Nodes: make([]*models.Node, len(candidates))}

	existing, err := r.children(ctx, parentID)
	if err != nil {
		return res, fmt.Errorf("repository: %s: list %s: %w", r.name, parentID, err)
	}
	offered := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		offered[c.Key] = true
	}

	var errs error
	byKey := make(map[string]*models.Node, len(existing))
	for _, n := range existing {
		if !owned(n) {
			continue
		}
		key, _ := n.Content()
		if offered[key] {
			if _, dup := byKey[key]; !dup {
				byKey[key] = n
				continue
			}
		}
		if err := r.tree.RemoveSubtree(ctx, n.ID); err != nil && !errors.Is(err, apperr.ErrNotFound) {
			errs = multierr.Append(errs, fmt.Errorf("remove %s: %w", key, err))
			continue
		}
		res.Removed++
		r.record(ActionRemoved)
		r.logger.Debug("repository: removed", slog.String("repository", r.name), slog.String("key", key))
	}

	for i, c := range candidates {
		n, action, err := r.reconcileOne(ctx, parentID, c, byKey[c.Key])
		r.record(action)
		switch action {
		case ActionKept:
			res.Kept++
		case ActionInserted:
			res.Inserted++
		case ActionReplaced:
			res.Replaced++
		case ActionFailed:
			res.Failed++
			r.logger.Warn("repository: candidate failed",
				slog.String("repository", r.name),
				slog.String("key", c.Key),
				slog.String("error", err.Error()))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", c.Key, err))
			continue
		}
		res.Nodes[i] = n
	}
	if errs != nil {
		return res, fmt.Errorf("repository: %s: reconcile %s: %w", r.name, parentID, errs)
	}
	return res, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, parentID models.NodeID, c Candidate, known *models.Node) (*models.Node, string, error) {
	attrs, err := r.Attributes(ctx, c)
	if err != nil {
		r.logger.Warn("repository: enrichment incomplete",
			slog.String("repository", r.name),
			slog.String("key", c.Key),
			slog.String("error", err.Error()))
	}
	title := attrs.String(models.AttrTitle)
	if title == "" {
		title = c.Name
	}

	match := known
	if found, err := r.tree.ListChildrenByTitle(ctx, parentID, title); err == nil {
		for _, n := range found {
			if key, _ := n.Content(); key == c.Key && owned(n) {
				match = n
				break
			}
		}
	}

	action := ActionInserted
	if match != nil {
		if c.Version == "" || nodeVersion(match) == c.Version {
			return match, ActionKept, nil
		}
		if err := r.tree.RemoveSubtree(ctx, match.ID); err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return nil, ActionFailed, fmt.Errorf("remove stale node %s: %w", match.ID, err)
		}
		action = ActionReplaced
	}

	if c.Version != "" && c.Version != FormatVersion(c.ModTime) {
		attrs[models.AttrContentVersion] = c.Version
	}
	opts := []catalog.NodeOption{catalog.WithContent(c.Key, c.ModTime)}
	if c.IsContainer() {
		opts = append(opts, catalog.Lazy())
	}
	n, err := r.tree.Create(ctx, parentID, c.Name, c.Class, attrs, opts...)
	if err != nil {
		return nil, ActionFailed, err
	}
	r.logger.Debug("repository: "+action,
		slog.String("repository", r.name),
		slog.String("key", c.Key),
		slog.String("id", n.ID.String()))
	return n, action, nil
}

// Attributes returns the explicit attributes of c merged with its
// enrichment patch. Patches are read from the metas side-channel, and on a
// miss computed through the prepare topic and stored. A failing handler
// leaves the attributes merged so far and an error; nothing is stored then.
func (r *Reconciler) Attributes(ctx context.Context, c Candidate) (models.Attributes, error) {
	attrs := c.Attrs.Clone()
	if attrs == nil {
		attrs = models.Attributes{}
	}
	if c.Info == nil {
		return attrs, nil
	}
	patch, err := r.prepare(ctx, *c.Info)
	pipeline.MergePatch(attrs, patch)
	return attrs, err
}

func (r *Reconciler) prepare(ctx context.Context, info pipeline.ContentInfo) (models.Attributes, error) {
	reg := r.tree.Registry()
	key := info.Path
	if key == "" {
		key = info.URL
	}
	metas, err := reg.GetMetas(ctx, key, info.ModTime)
	if err != nil {
		r.logger.Warn("repository: metas lookup failed", slog.String("path", key), slog.String("error", err.Error()))
	}
	if metas != nil {
		return metas, nil
	}

	name := info.MimeType
	if name == "" {
		name = pipeline.EventNode
	}
	ev := pipeline.NewPrepareEvent(info)
	if err := r.tree.Bus().Prepare.Publish(ctx, name, ev); err != nil {
		return ev.Patch, err
	}
	if err := reg.PutMetas(ctx, key, info.ModTime, ev.Patch); err != nil {
		r.logger.Warn("repository: metas store failed", slog.String("path", key), slog.String("error", err.Error()))
	}
	return ev.Patch, nil
}

// children loads the current children of parentID without materializing.
func (r *Reconciler) children(ctx context.Context, parentID models.NodeID) ([]*models.Node, error) {
	parent, err := r.tree.Get(ctx, parentID)
	if err != nil {
		return nil, err
	}
	ids, _ := parent.Children()
	out := make([]*models.Node, 0, len(ids))
	for _, id := range ids {
		n, err := r.tree.Get(ctx, id)
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

func (r *Reconciler) record(action string) {
	metrics.RecordReconciled(r.name, action)
}
