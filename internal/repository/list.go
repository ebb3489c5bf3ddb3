package repository

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/starford/mediacat/internal/catalog"
	"github.com/starford/mediacat/internal/didl"
	"github.com/starford/mediacat/internal/metrics"
	"github.com/starford/mediacat/internal/models"
	"github.com/starford/mediacat/internal/parser"
	"github.com/starford/mediacat/internal/pipeline"
)

// List mounts a curated YAML list of remote resources. Entries are keyed by
// URL; an entry is replaced when its version, or for unversioned entries the
// list file's modification time, changes.
type List struct {
	name   string
	mount  string
	file   string
	tree   *catalog.Tree
	rec    *Reconciler
	logger *slog.Logger

	mountID models.NodeID
}

var _ Repository = (*List)(nil)

// NewList returns a repository for the list document at file.
func NewList(tree *catalog.Tree, name, mountPoint, file string, logger *slog.Logger) *List {
	return &List{
		name:    name,
		mount:   mountPoint,
		file:    file,
		tree:    tree,
		rec:     NewReconciler(tree, name, logger),
		logger:  logger,
		mountID: models.NoID,
	}
}

func (l *List) Name() string       { return l.name }
func (l *List) MountPoint() string { return l.mount }

// MountID returns the id of the mount container once Init has run.
func (l *List) MountID() models.NodeID { return l.mountID }

func (l *List) Init(ctx context.Context) error {
	mount, err := ensurePath(ctx, l.tree, l.mount)
	if err != nil {
		return fmt.Errorf("repository: %s: mount: %w", l.name, err)
	}
	l.mountID = mount.ID
	l.logger.Info("repository: mounted",
		slog.String("repository", l.name),
		slog.String("mount", l.mount),
		slog.String("file", l.file))
	return nil
}

func (l *List) Scan(ctx context.Context) error {
	start := time.Now()
	defer metrics.RecordScan(l.name, start)

	info, err := os.Stat(l.file)
	if err != nil {
		return fmt.Errorf("repository: %s: %w", l.name, err)
	}
	data, err := os.ReadFile(l.file)
	if err != nil {
		return fmt.Errorf("repository: %s: %w", l.name, err)
	}
	doc, err := parser.ParseList(data)
	if err != nil {
		return fmt.Errorf("repository: %s: %w", l.name, err)
	}

	cands := make([]Candidate, len(doc.Entries))
	for i, e := range doc.Entries {
		cands[i] = listCandidate(e, info.ModTime())
	}
	res, err := l.rec.Reconcile(ctx, l.mountID, cands)
	l.logger.Info("repository: scanned",
		slog.String("repository", l.name),
		slog.Int("entries", len(cands)),
		slog.Int("inserted", res.Inserted),
		slog.Int("replaced", res.Replaced),
		slog.Int("removed", res.Removed),
		slog.Duration("took", time.Since(start)))
	return err
}

func listCandidate(e parser.ListEntry, listTime time.Time) Candidate {
	version := e.Version
	if version == "" {
		version = FormatVersion(listTime)
	}
	attrs := e.Attributes()
	return Candidate{
		Key:     e.URL,
		Version: version,
		Name:    attrs.String(models.AttrTitle),
		Class:   listClass(e.MimeType),
		ModTime: listTime,
		Attrs:   attrs,
		Info: &pipeline.ContentInfo{
			URL:      e.URL,
			Name:     attrs.String(models.AttrTitle),
			MimeType: e.MimeType,
			Size:     e.Size,
			ModTime:  listTime,
		},
	}
}

// listClass treats remote audio as a broadcast stream.
func listClass(mime string) string {
	if strings.HasPrefix(mime, "audio/") {
		return didl.ClassAudioBroadcast
	}
	return didl.ClassForMime(mime)
}

func (l *List) WatchRoot() (string, func(string) bool) {
	abs, err := filepath.Abs(l.file)
	if err != nil {
		abs = l.file
	}
	return filepath.Dir(abs), func(p string) bool { return filepath.Clean(p) == abs }
}

func (l *List) Close() {}
