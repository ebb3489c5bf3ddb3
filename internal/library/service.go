// Package library assembles a catalog from its parts (registry backend,
// cache, tree, enrichment handlers, repositories and the browse engine) and
// exposes the operations the outer surfaces need.
package library

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/starford/mediacat/internal/apperr"
	"github.com/starford/mediacat/internal/browse"
	"github.com/starford/mediacat/internal/cache"
	"github.com/starford/mediacat/internal/catalog"
	"github.com/starford/mediacat/internal/enrich"
	"github.com/starford/mediacat/internal/lock"
	"github.com/starford/mediacat/internal/models"
	"github.com/starford/mediacat/internal/pipeline"
	"github.com/starford/mediacat/internal/registry"
	"github.com/starford/mediacat/internal/registry/boltstore"
	"github.com/starford/mediacat/internal/registry/gormstore"
	"github.com/starford/mediacat/internal/registry/sqlitestore"
	"github.com/starford/mediacat/internal/repository"
	"github.com/starford/mediacat/internal/source"
)

// Registry backends.
const (
	BackendMemory = "memory"
	BackendBolt   = "bolt"
	BackendSQLite = "sqlite"
	BackendSQL    = "sql"
)

// Mount kinds.
const (
	KindDirectory = "directory"
	KindMusic     = "music"
	KindList      = "list"
)

// Options describes the catalog to assemble.
type Options struct {
	Backend string
	// Path is the database file of the bolt and sqlite backends.
	Path string
	// Dialect and DSN select the database of the sql backend.
	Dialect string
	DSN     string

	Cache       cache.Options
	ContentBase string
	Mounts      []Mount
}

// Mount configures one repository.
type Mount struct {
	Name       string
	Kind       string
	Path       string
	MountPoint string
	Groupings  []string
}

// NodeDetail is the raw state of a node.
type NodeDetail struct {
	models.Record
	Title    string `json:"title"`
	Resolved *int64 `json:"resolvedId,omitempty"`
}

// RepositoryInfo describes a configured repository.
type RepositoryInfo struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	MountPoint string `json:"mountPoint"`
}

// Content is the resource behind a node.
type Content struct {
	Name     string
	MimeType string
	ModTime  time.Time
	Size     int64
	// RemoteURL is set for content that is not served locally.
	RemoteURL string

	src *source.FS
	ref string
}

// Open returns a seekable reader over local content.
func (c *Content) Open() (io.ReadSeekCloser, error) {
	if c.src == nil {
		return nil, fmt.Errorf("library: %s is remote: %w", c.Name, apperr.ErrInvalidArgument)
	}
	return c.src.Open(c.ref)
}

// OpenRange returns a reader over length bytes of local content starting at
// offset; a negative length reads to the end.
func (c *Content) OpenRange(offset, length int64) (io.ReadCloser, error) {
	if c.src == nil {
		return nil, fmt.Errorf("library: %s is remote: %w", c.Name, apperr.ErrInvalidArgument)
	}
	return c.src.OpenRange(c.ref, offset, length)
}

type mounted struct {
	repo repository.Repository
	kind string
	src  *source.FS
}

// Service is the assembled catalog.
type Service struct {
	tree    *catalog.Tree
	reg     *registry.Cached
	engine  *browse.Engine
	mounts  []mounted
	closers []func()
	logger  *slog.Logger
}

// Open assembles a catalog from opts, creates the root and initializes every
// repository. It does not scan; call ScanAll.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (*Service, error) {
	backend, err := openBackend(opts, logger)
	if err != nil {
		return nil, err
	}
	locks := lock.New()
	reg := registry.NewCached(backend, opts.Cache, locks.Held, logger)
	bus := pipeline.NewBus()
	tree := catalog.New(reg, locks, bus, logger)

	s := &Service{
		tree:   tree,
		reg:    reg,
		engine: browse.New(tree, opts.ContentBase, logger),
		logger: logger,
	}
	s.closers = append(s.closers, enrich.Register(bus, logger))

	if _, err := tree.EnsureRoot(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("library: root: %w", err)
	}
	for _, m := range opts.Mounts {
		mt, err := s.build(m)
		if err != nil {
			s.Close()
			return nil, err
		}
		if err := mt.repo.Init(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("library: init %s: %w", m.Name, err)
		}
		s.mounts = append(s.mounts, mt)
	}
	return s, nil
}

func openBackend(opts Options, logger *slog.Logger) (registry.Registry, error) {
	switch opts.Backend {
	case BackendMemory, "":
		return registry.NewMemory(), nil
	case BackendBolt:
		return boltstore.Open(opts.Path)
	case BackendSQLite:
		return sqlitestore.Open(opts.Path)
	case BackendSQL:
		return gormstore.Open(opts.Dialect, opts.DSN, logger)
	}
	return nil, fmt.Errorf("library: backend %q: %w", opts.Backend, apperr.ErrInvalidArgument)
}

func (s *Service) build(m Mount) (mounted, error) {
	logger := s.logger.With(slog.String("repository", m.Name))
	if m.Kind == KindList {
		return mounted{repo: repository.NewList(s.tree, m.Name, m.MountPoint, m.Path, logger), kind: m.Kind}, nil
	}
	src, err := source.NewFS(m.Path)
	if err != nil {
		return mounted{}, fmt.Errorf("library: mount %s: %w", m.Name, err)
	}
	switch m.Kind {
	case KindDirectory, "":
		return mounted{repo: repository.NewDirectory(s.tree, m.Name, m.MountPoint, src, logger), kind: KindDirectory, src: src}, nil
	case KindMusic:
		gs := repository.DefaultGroupings()
		if len(m.Groupings) > 0 {
			gs = gs[:0]
			for _, name := range m.Groupings {
				g, ok := repository.GroupingByName(name)
				if !ok {
					return mounted{}, fmt.Errorf("library: mount %s: grouping %q: %w", m.Name, name, apperr.ErrInvalidArgument)
				}
				gs = append(gs, g)
			}
		}
		return mounted{repo: repository.NewMusic(s.tree, m.Name, m.MountPoint, src, gs, logger), kind: m.Kind, src: src}, nil
	}
	return mounted{}, fmt.Errorf("library: mount %s: kind %q: %w", m.Name, m.Kind, apperr.ErrInvalidArgument)
}

// Tree returns the underlying tree.
func (s *Service) Tree() *catalog.Tree { return s.tree }

// SystemUpdateID returns the catalog-wide change counter.
func (s *Service) SystemUpdateID() uint64 { return s.tree.SystemUpdateID() }

// Repositories lists the configured repositories in mount order.
func (s *Service) Repositories() []RepositoryInfo {
	out := make([]RepositoryInfo, len(s.mounts))
	for i, m := range s.mounts {
		out[i] = RepositoryInfo{Name: m.repo.Name(), Kind: m.kind, MountPoint: m.repo.MountPoint()}
	}
	return out
}

// ScanAll scans every repository concurrently. A failing repository does
// not stop the others; all failures are returned together.
func (s *Service) ScanAll(ctx context.Context) error {
	errs := make([]error, len(s.mounts))
	var g errgroup.Group
	for i, m := range s.mounts {
		g.Go(func() error {
			if err := m.repo.Scan(ctx); err != nil {
				s.logger.Warn("library: scan failed", slog.String("repository", m.repo.Name()), slog.String("error", err.Error()))
				errs[i] = fmt.Errorf("library: scan %s: %w", m.repo.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return multierr.Combine(errs...)
}

// Rescan scans the repository called name, or all of them when name is empty.
func (s *Service) Rescan(ctx context.Context, name string) error {
	if name == "" {
		return s.ScanAll(ctx)
	}
	for _, m := range s.mounts {
		if m.repo.Name() == name {
			return m.repo.Scan(ctx)
		}
	}
	return fmt.Errorf("library: repository %q: %w", name, apperr.ErrNotFound)
}

// Watch rescans repositories when their sources change, until ctx is done.
// Repositories whose source cannot be watched are logged and skipped.
func (s *Service) Watch(ctx context.Context, debounce time.Duration) error {
	g, gCtx := errgroup.WithContext(ctx)
	for _, m := range s.mounts {
		g.Go(func() error {
			if err := repository.Watch(gCtx, m.repo, debounce, s.logger); err != nil {
				s.logger.Warn("library: watch failed", slog.String("repository", m.repo.Name()), slog.String("error", err.Error()))
			}
			return nil
		})
	}
	return g.Wait()
}

// Browse serves a browse request.
func (s *Service) Browse(ctx context.Context, req browse.Request) (*browse.Result, error) {
	return s.engine.Browse(ctx, req)
}

// Search serves a search request.
func (s *Service) Search(ctx context.Context, req browse.SearchRequest) (*browse.Result, error) {
	return s.engine.Search(ctx, req)
}

// GetNode returns the raw state of a node.
func (s *Service) GetNode(ctx context.Context, id models.NodeID) (*NodeDetail, error) {
	n, err := s.tree.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	rec := n.Snapshot()
	d := &NodeDetail{Record: rec, Title: rec.Title()}
	if rec.RefID != models.NoID {
		target, err := s.tree.ResolveLink(ctx, n)
		if err != nil {
			return nil, err
		}
		v := int64(target.Snapshot().ID)
		d.Resolved = &v
	}
	return d, nil
}

// Content locates the resource behind a node, following aliases. Local
// content is only served from inside a configured source.
func (s *Service) Content(ctx context.Context, id models.NodeID) (*Content, error) {
	n, err := s.tree.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n, err = s.tree.ResolveLink(ctx, n); err != nil {
		return nil, err
	}
	rec := n.Snapshot()
	if rec.ContentURL == "" {
		return nil, fmt.Errorf("library: node %s has no content: %w", rec.ID, apperr.ErrNotFound)
	}
	c := &Content{
		Name:     rec.Title(),
		MimeType: rec.Attributes.String(models.AttrMimeType),
		ModTime:  rec.ContentTime,
	}
	if strings.Contains(rec.ContentURL, "://") {
		c.RemoteURL = rec.ContentURL
		return c, nil
	}
	for _, m := range s.mounts {
		if m.src == nil {
			continue
		}
		ref, err := m.src.Rel(rec.ContentURL)
		if err != nil {
			continue
		}
		e, err := m.src.Stat(ref)
		if err != nil {
			return nil, fmt.Errorf("library: content of %s: %w", rec.ID, apperr.ErrNotFound)
		}
		if e.IsDir {
			break
		}
		c.src, c.ref, c.Size, c.ModTime = m.src, ref, e.Size, e.ModTime
		if c.MimeType == "" {
			c.MimeType = e.MimeType
		}
		return c, nil
	}
	return nil, fmt.Errorf("library: node %s has no servable content: %w", rec.ID, apperr.ErrNotFound)
}

// Subscribe calls fn for every node update until the returned function is
// called.
func (s *Service) Subscribe(label string, fn func(pipeline.UpdateEvent)) func() {
	return s.tree.Bus().Update.Subscribe("*", 0, label, func(_ context.Context, _ string, ev pipeline.UpdateEvent) error {
		fn(ev)
		return nil
	})
}

// Close releases the repositories, the tree and the registry.
func (s *Service) Close() error {
	for _, m := range s.mounts {
		m.repo.Close()
	}
	for _, c := range s.closers {
		c()
	}
	s.tree.Close()
	if err := s.reg.Close(); err != nil {
		return fmt.Errorf("library: close: %w", err)
	}
	return nil
}
