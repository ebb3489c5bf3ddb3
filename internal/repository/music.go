package repository

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/starford/mediacat/internal/catalog"
	"github.com/starford/mediacat/internal/didl"
	"github.com/starford/mediacat/internal/lock"
	"github.com/starford/mediacat/internal/metrics"
	"github.com/starford/mediacat/internal/models"
	"github.com/starford/mediacat/internal/source"
)

// UnknownValue files tracks lacking a grouping attribute.
const UnknownValue = "Unknown"

// Grouping files tracks into one virtual container per value of Attribute.
type Grouping struct {
	Title     string
	Attribute string
	Class     string
}

var groupings = map[string]Grouping{
	"artists": {Title: "Artists", Attribute: models.AttrArtists, Class: didl.ClassMusicArtist},
	"genres":  {Title: "Genres", Attribute: models.AttrGenres, Class: didl.ClassMusicGenre},
	"albums":  {Title: "Albums", Attribute: models.AttrAlbum, Class: didl.ClassMusicAlbum},
	"years":   {Title: "Years", Attribute: models.AttrYear, Class: didl.ClassContainer},
}

// DefaultGroupings returns Artists then Genres.
func DefaultGroupings() []Grouping {
	return []Grouping{groupings["artists"], groupings["genres"]}
}

// GroupingByName looks up a grouping by its configuration name.
func GroupingByName(name string) (Grouping, bool) {
	g, ok := groupings[strings.ToLower(name)]
	return g, ok
}

// GroupingNames lists the accepted configuration names.
func GroupingNames() []string {
	names := make([]string, 0, len(groupings))
	for k := range groupings {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

// values returns the grouping values of attrs, or UnknownValue.
func (g Grouping) values(attrs models.Attributes) []string {
	vals := attrs.Strings(g.Attribute)
	if len(vals) == 0 {
		if s := attrs.String(g.Attribute); s != "" {
			vals = []string{s}
		}
	}
	if len(vals) == 0 {
		return []string{UnknownValue}
	}
	return vals
}

// Music files the audio tracks of a directory tree into virtual groupings.
// A track node lives under the first value of the first grouping; every
// other value holds an alias to it.
type Music struct {
	name      string
	mount     string
	src       *source.FS
	groupings []Grouping
	tree      *catalog.Tree
	rec       *Reconciler
	logger    *slog.Logger

	scanMu   sync.Mutex
	mountID  models.NodeID
	groupIDs []models.NodeID
}

var _ Repository = (*Music)(nil)

// NewMusic returns a music repository. Empty groupings means DefaultGroupings.
func NewMusic(tree *catalog.Tree, name, mountPoint string, src *source.FS, gs []Grouping, logger *slog.Logger) *Music {
	if len(gs) == 0 {
		gs = DefaultGroupings()
	}
	return &Music{
		name:      name,
		mount:     mountPoint,
		src:       src,
		groupings: gs,
		tree:      tree,
		rec:       NewReconciler(tree, name, logger),
		logger:    logger,
		mountID:   models.NoID,
	}
}

func (m *Music) Name() string       { return m.name }
func (m *Music) MountPoint() string { return m.mount }

// Groupings returns the container ids of the groupings, in order.
func (m *Music) Groupings() []models.NodeID { return slices.Clone(m.groupIDs) }

func (m *Music) Init(ctx context.Context) error {
	mount, err := ensurePath(ctx, m.tree, m.mount)
	if err != nil {
		return fmt.Errorf("repository: %s: mount: %w", m.name, err)
	}
	m.mountID = mount.ID
	m.groupIDs = m.groupIDs[:0]
	for _, g := range m.groupings {
		c, err := ensureContainer(ctx, m.tree, mount.ID, g.Title, didl.ClassContainer, catalog.Virtual())
		if err != nil {
			return fmt.Errorf("repository: %s: grouping %s: %w", m.name, g.Title, err)
		}
		m.groupIDs = append(m.groupIDs, c.ID)
	}
	m.logger.Info("repository: mounted",
		slog.String("repository", m.name),
		slog.String("mount", m.mount),
		slog.String("root", m.src.Root()),
		slog.Int("groupings", len(m.groupings)))
	return nil
}

// placed is a track node with the attributes it was filed by.
type placed struct {
	node  *models.Node
	attrs models.Attributes
}

func (m *Music) Scan(ctx context.Context) error {
	m.scanMu.Lock()
	defer m.scanMu.Unlock()
	if len(m.groupIDs) == 0 {
		return fmt.Errorf("repository: %s: not initialized", m.name)
	}
	start := time.Now()
	defer metrics.RecordScan(m.name, start)

	buckets, order, errs := m.collect(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}

	first, primary := m.groupIDs[0], m.groupings[0]
	titles, err := m.tree.Titles(ctx, first)
	if err != nil {
		return fmt.Errorf("repository: %s: %w", m.name, err)
	}
	for _, t := range titles {
		if _, ok := buckets[t]; !ok {
			order = append(order, t)
		}
	}

	var tracks []placed
	for _, value := range order {
		vc, err := ensureContainer(ctx, m.tree, first, value, primary.Class, catalog.Virtual())
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		cands := buckets[value]
		res, err := m.rec.Reconcile(ctx, vc.ID, cands)
		errs = multierr.Append(errs, err)
		for i, n := range res.Nodes {
			if n != nil {
				tracks = append(tracks, placed{node: n, attrs: cands[i].Attrs})
			}
		}
	}

	for _, t := range tracks {
		errs = multierr.Append(errs, m.file(ctx, t))
	}
	for _, id := range m.groupIDs {
		errs = multierr.Append(errs, m.prune(ctx, id))
	}

	m.logger.Info("repository: scanned",
		slog.String("repository", m.name),
		slog.Int("tracks", len(tracks)),
		slog.Duration("took", time.Since(start)),
		slog.Bool("ok", errs == nil))
	return errs
}

// collect walks the source and buckets prepared track candidates by the
// first value of the primary grouping.
func (m *Music) collect(ctx context.Context) (map[string][]Candidate, []string, error) {
	buckets := make(map[string][]Candidate)
	var (
		order []string
		errs  error
		walk  func(ref string)
	)
	walk = func(ref string) {
		if ctx.Err() != nil {
			return
		}
		entries, err := m.src.ReadDir(ref)
		if err != nil {
			errs = multierr.Append(errs, err)
			return
		}
		for _, e := range entries {
			if e.IsDir {
				walk(e.Ref)
				continue
			}
			if !strings.HasPrefix(e.MimeType, "audio/") {
				continue
			}
			c := m.candidate(e)
			attrs, err := m.rec.Attributes(ctx, c)
			if err != nil {
				m.logger.Warn("repository: enrichment incomplete",
					slog.String("repository", m.name),
					slog.String("key", c.Key),
					slog.String("error", err.Error()))
			}
			c.Attrs, c.Info = attrs, nil
			value := m.groupings[0].values(attrs)[0]
			if _, ok := buckets[value]; !ok {
				order = append(order, value)
			}
			buckets[value] = append(buckets[value], c)
		}
	}
	walk("")
	return buckets, order, errs
}

func (m *Music) candidate(e source.Entry) Candidate {
	c := entryCandidate(m.src, e)
	c.Class = didl.ClassMusicTrack
	return c
}

// file creates the aliases of a track node that are missing.
func (m *Music) file(ctx context.Context, t placed) error {
	var errs error
	for gi, g := range m.groupings {
		for vi, v := range g.values(t.attrs) {
			if gi == 0 && vi == 0 {
				continue
			}
			vc, err := ensureContainer(ctx, m.tree, m.groupIDs[gi], v, g.Class, catalog.Virtual())
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			errs = multierr.Append(errs, m.ensureAlias(ctx, vc.ID, t.node))
		}
	}
	return errs
}

func (m *Music) ensureAlias(ctx context.Context, containerID models.NodeID, target *models.Node) error {
	return m.tree.Locker().Do(ctx, lock.Key{ID: containerID, Resource: lock.Scanner}, func(ctx context.Context) error {
		found, err := m.tree.ListChildrenByTitle(ctx, containerID, target.NodeTitle())
		if err != nil {
			return err
		}
		for _, n := range found {
			if n.ID == target.ID || n.Ref() == target.ID {
				return nil
			}
		}
		_, err = m.tree.CreateRef(ctx, containerID, target.ID, "")
		return err
	})
}

// prune removes the empty value containers of a grouping.
func (m *Music) prune(ctx context.Context, groupID models.NodeID) error {
	return m.tree.Locker().Do(ctx, lock.Key{ID: groupID, Resource: lock.Scanner}, func(ctx context.Context) error {
		children, err := m.tree.ListChildren(ctx, groupID, catalog.ListOptions{})
		if err != nil {
			return err
		}
		var errs error
		for _, c := range children {
			if !c.Snapshot().Virtual {
				continue
			}
			if ids, done := c.Children(); done && len(ids) == 0 {
				errs = multierr.Append(errs, m.tree.RemoveChild(ctx, groupID, c.ID))
			}
		}
		return errs
	})
}

func (m *Music) WatchRoot() (string, func(string) bool) {
	return m.src.Root(), visible
}

func (m *Music) Close() {}
