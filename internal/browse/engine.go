// Package browse implements the paginated, sorted and filtered read
// operations of the catalog: Browse and Search.
package browse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/mediacat/internal/apperr"
	"github.com/starford/mediacat/internal/catalog"
	"github.com/starford/mediacat/internal/didl"
	"github.com/starford/mediacat/internal/metrics"
	"github.com/starford/mediacat/internal/models"
	"github.com/starford/mediacat/internal/pipeline"
)

// Mode selects what Browse returns.
type Mode string

const (
	BrowseDirectChildren Mode = "BrowseDirectChildren"
	BrowseMetadata       Mode = "BrowseMetadata"
)

// ParseMode accepts the protocol names and the short forms "children" and
// "metadata". Empty means BrowseDirectChildren.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", string(BrowseDirectChildren), "children", "direct-children":
		return BrowseDirectChildren, nil
	case string(BrowseMetadata), "metadata":
		return BrowseMetadata, nil
	}
	return "", fmt.Errorf("browse: mode %q: %w", s, apperr.ErrInvalidArgument)
}

// Request is a Browse call.
type Request struct {
	ObjectID       models.NodeID
	Mode           Mode
	Filter         string
	Namespaces     map[string]string
	StartIndex     int
	RequestedCount int
	SortCriteria   string
	ResolveLinks   bool
}

// SearchRequest is a Search call below ContainerID.
type SearchRequest struct {
	ContainerID    models.NodeID
	Criteria       string
	Filter         string
	Namespaces     map[string]string
	StartIndex     int
	RequestedCount int
	SortCriteria   string
}

// Result is one page of serialized objects.
type Result struct {
	Items          []*didl.Object `json:"items"`
	NumberReturned int            `json:"numberReturned"`
	TotalMatches   int            `json:"totalMatches"`
	UpdateID       uint64         `json:"updateId"`
}

// Engine serves Browse and Search over a tree.
type Engine struct {
	tree        *catalog.Tree
	contentBase string
	logger      *slog.Logger
}

// New returns an engine. contentBase prefixes the content URLs of local
// resources, e.g. "http://host:8080".
func New(tree *catalog.Tree, contentBase string, logger *slog.Logger) *Engine {
	return &Engine{tree: tree, contentBase: contentBase, logger: logger}
}

// Browse returns the metadata of req.ObjectID or one page of its children.
func (e *Engine) Browse(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res, err := e.browse(ctx, req)
	metrics.RecordBrowse("browse", start, err)
	return res, err
}

func (e *Engine) browse(ctx context.Context, req Request) (*Result, error) {
	n, err := e.tree.Get(ctx, req.ObjectID)
	if err != nil {
		return nil, fmt.Errorf("browse: object %s: %w", req.ObjectID, err)
	}
	filter := didl.ParseFilter(req.Filter, req.Namespaces, e.logger)

	switch req.Mode {
	case BrowseMetadata:
		obj, err := e.Serialize(ctx, n, filter)
		if err != nil {
			return nil, err
		}
		return &Result{Items: []*didl.Object{obj}, NumberReturned: 1, TotalMatches: 1, UpdateID: n.Version()}, nil
	case BrowseDirectChildren, "":
	default:
		return nil, fmt.Errorf("browse: mode %q: %w", req.Mode, apperr.ErrInvalidArgument)
	}

	keys, err := ParseSortCriteria(req.SortCriteria)
	if err != nil {
		return nil, err
	}
	children, err := e.tree.ListChildren(ctx, req.ObjectID, catalog.ListOptions{ResolveLinks: req.ResolveLinks})
	if err != nil {
		return nil, fmt.Errorf("browse: children of %s: %w", req.ObjectID, err)
	}
	Sort(children, keys)

	// An alias lists its target; report the target's version.
	container, err := e.tree.ResolveLink(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("browse: object %s: %w", req.ObjectID, err)
	}
	return e.page(ctx, children, filter, req.StartIndex, req.RequestedCount, container.Version())
}

// Search returns one page of the nodes below req.ContainerID matching the
// criteria. Aliases are followed; each concrete node appears once.
func (e *Engine) Search(ctx context.Context, req SearchRequest) (*Result, error) {
	start := time.Now()
	res, err := e.search(ctx, req)
	metrics.RecordBrowse("search", start, err)
	return res, err
}

func (e *Engine) search(ctx context.Context, req SearchRequest) (*Result, error) {
	crit, err := ParseCriteria(req.Criteria)
	if err != nil {
		return nil, err
	}
	keys, err := ParseSortCriteria(req.SortCriteria)
	if err != nil {
		return nil, err
	}
	container, err := e.tree.Get(ctx, req.ContainerID)
	if err != nil {
		return nil, fmt.Errorf("browse: container %s: %w", req.ContainerID, err)
	}
	matches, err := e.tree.FilterChildNodes(ctx, req.ContainerID, func(n *models.Node) bool {
		rec := n.Snapshot()
		return crit.Match(&rec)
	})
	if err != nil {
		return nil, fmt.Errorf("browse: search %s: %w", req.ContainerID, err)
	}
	Sort(matches, keys)
	filter := didl.ParseFilter(req.Filter, req.Namespaces, e.logger)
	return e.page(ctx, matches, filter, req.StartIndex, req.RequestedCount, container.Version())
}

func (e *Engine) page(ctx context.Context, nodes []*models.Node, filter didl.Filter, start, count int, updateID uint64) (*Result, error) {
	res := &Result{TotalMatches: len(nodes), UpdateID: updateID, Items: []*didl.Object{}}
	for _, n := range Paginate(nodes, start, count) {
		obj, err := e.Serialize(ctx, n, filter)
		if errors.Is(err, apperr.ErrDanglingReference) {
			continue
		}
		if err != nil {
			return nil, err
		}
		res.Items = append(res.Items, obj)
	}
	res.NumberReturned = len(res.Items)
	return res, nil
}

// Serialize renders n. The identity fields (id, parentID, restricted, and
// childCount for containers) plus title and class are always present;
// optional properties only when the filter admits them. An alias is
// rendered with its target's metadata under its own identity. Render
// handlers run last.
func (e *Engine) Serialize(ctx context.Context, n *models.Node, filter didl.Filter) (*didl.Object, error) {
	rec := n.Snapshot()
	meta := rec
	if rec.RefID != models.NoID {
		target, err := e.tree.ResolveLink(ctx, n)
		if err != nil {
			return nil, err
		}
		meta = target.Snapshot()
	}

	obj := &didl.Object{
		ID:         rec.ID.String(),
		ParentID:   rec.ParentID.String(),
		Restricted: true,
		Container:  didl.IsContainer(meta.Class),
		Title:      rec.Title(),
		Class:      meta.Class,
	}
	if rec.RefID != models.NoID {
		obj.RefID = meta.ID.String()
	}
	if obj.Container {
		count := len(meta.ChildrenIDs)
		obj.ChildCount = &count
	}

	attrs := meta.Attributes
	if d := attrs.String(models.AttrDate); d != "" {
		obj.Add(filter, "dc:date", d, nil)
	} else if y := attrs.String(models.AttrYear); y != "" {
		obj.Add(filter, "dc:date", y+"-01-01", nil)
	}
	obj.Add(filter, "dc:description", attrs.String(models.AttrDescription), nil)
	obj.Add(filter, "upnp:albumArtURI", attrs.String(models.AttrAlbumArtURI), nil)

	// Render handlers see the concrete node so that content locations point
	// at it; the identity stays the alias's.
	ev := &pipeline.RenderEvent{Node: meta, Object: obj, Filter: filter, ContentBase: e.contentBase}
	if err := e.tree.Bus().Render.Publish(ctx, pipeline.EventName(&meta), ev); err != nil {
		return nil, fmt.Errorf("browse: render %s: %w", rec.ID, err)
	}
	return obj, nil
}
