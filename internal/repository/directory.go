package repository

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/starford/mediacat/internal/catalog"
	"github.com/starford/mediacat/internal/didl"
	"github.com/starford/mediacat/internal/lock"
	"github.com/starford/mediacat/internal/metrics"
	"github.com/starford/mediacat/internal/models"
	"github.com/starford/mediacat/internal/pipeline"
	"github.com/starford/mediacat/internal/source"
)

// Directory mirrors a directory tree: a container per directory and an item
// per file. Directories not reached by a scan are materialized when first
// browsed.
type Directory struct {
	name   string
	mount  string
	src    *source.FS
	tree   *catalog.Tree
	rec    *Reconciler
	logger *slog.Logger

	mountID     models.NodeID
	unsubscribe func()
}

var _ Repository = (*Directory)(nil)

// NewDirectory returns a repository mounting src at mountPoint.
func NewDirectory(tree *catalog.Tree, name, mountPoint string, src *source.FS, logger *slog.Logger) *Directory {
	return &Directory{
		name:    name,
		mount:   mountPoint,
		src:     src,
		tree:    tree,
		rec:     NewReconciler(tree, name, logger),
		logger:  logger,
		mountID: models.NoID,
	}
}

func (d *Directory) Name() string       { return d.name }
func (d *Directory) MountPoint() string { return d.mount }

// MountID returns the id of the mount container once Init has run.
func (d *Directory) MountID() models.NodeID { return d.mountID }

func (d *Directory) Init(ctx context.Context) error {
	parentPath, leaf := parentMount(d.mount)
	parent, err := ensurePath(ctx, d.tree, parentPath)
	if err != nil {
		return fmt.Errorf("repository: %s: mount: %w", d.name, err)
	}
	mount := parent
	if leaf != "" {
		mount, err = ensureContainer(ctx, d.tree, parent.ID, leaf, didl.ClassStorageFolder,
			catalog.Virtual(), catalog.WithContent(d.src.Root(), time.Time{}), catalog.Lazy())
		if err != nil {
			return fmt.Errorf("repository: %s: mount: %w", d.name, err)
		}
	}
	d.mountID = mount.ID
	if d.unsubscribe == nil {
		d.unsubscribe = d.tree.Bus().Browse.Subscribe(pipeline.EventContainer, 0, "directory."+d.name, d.browse)
	}
	d.logger.Info("repository: mounted",
		slog.String("repository", d.name),
		slog.String("mount", d.mount),
		slog.String("root", d.src.Root()))
	return nil
}

// browse materializes a directory container owned by this repository. The
// publisher holds the container's scanner lock.
func (d *Directory) browse(ctx context.Context, _ string, ev *pipeline.BrowseEvent) error {
	ref, ok := d.refOf(ev.Node)
	if !ok {
		return nil
	}
	ev.Handled = true
	_, _, err := d.reconcileDir(ctx, ev.Node.ID, ref)
	return err
}

// refOf maps a container back to its directory reference.
func (d *Directory) refOf(n *models.Node) (string, bool) {
	if n.ID == d.mountID {
		return "", true
	}
	if !owned(n) {
		return "", false
	}
	url, _ := n.Content()
	ref, err := d.src.Rel(url)
	if err != nil {
		return "", false
	}
	return ref, true
}

func (d *Directory) Scan(ctx context.Context) error {
	start := time.Now()
	defer metrics.RecordScan(d.name, start)

	err := d.scanDir(ctx, d.mountID, "")
	d.logger.Info("repository: scanned",
		slog.String("repository", d.name),
		slog.Duration("took", time.Since(start)),
		slog.Bool("ok", err == nil))
	return err
}

func (d *Directory) scanDir(ctx context.Context, id models.NodeID, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var (
		entries []source.Entry
		res     Result
	)
	err := d.tree.Locker().Do(ctx, lock.Key{ID: id, Resource: lock.Scanner}, func(ctx context.Context) error {
		var err error
		entries, res, err = d.reconcileDir(ctx, id, ref)
		if merr := d.tree.MarkMaterialized(ctx, id); merr != nil {
			err = multierr.Append(err, merr)
		}
		return err
	})
	for i, e := range entries {
		if !e.IsDir || res.Nodes == nil || res.Nodes[i] == nil {
			continue
		}
		err = multierr.Append(err, d.scanDir(ctx, res.Nodes[i].ID, e.Ref))
	}
	return err
}

// reconcileDir reconciles container id with the entries of directory ref.
// The caller holds the scanner lock of id.
func (d *Directory) reconcileDir(ctx context.Context, id models.NodeID, ref string) ([]source.Entry, Result, error) {
	entries, err := d.src.ReadDir(ref)
	if err != nil {
		return nil, Result{}, fmt.Errorf("repository: %s: %w", d.name, err)
	}
	cands := make([]Candidate, len(entries))
	for i, e := range entries {
		cands[i] = entryCandidate(d.src, e)
	}
	res, err := d.rec.ReconcileHeld(ctx, id, cands)
	return entries, res, err
}

// entryCandidate describes a source entry. Directories become lazy
// containers, files are prepared from their content. A file's version is
// the newer of its own and its sidecars' modification times.
func entryCandidate(src *source.FS, e source.Entry) Candidate {
	key := src.Locator(e.Ref)
	if e.IsDir {
		return Candidate{Key: key, Name: e.Name, Class: didl.ClassStorageFolder}
	}
	mtime := e.ModTime
	if sc := src.SidecarModTime(e.Ref); sc.After(mtime) {
		mtime = sc
	}
	return Candidate{
		Key:     key,
		Version: FormatVersion(mtime),
		Name:    e.Name,
		Class:   didl.ClassForMime(e.MimeType),
		ModTime: mtime,
		Info: &pipeline.ContentInfo{
			Path:     key,
			Name:     e.Name,
			MimeType: e.MimeType,
			Size:     e.Size,
			ModTime:  mtime,
		},
	}
}

func (d *Directory) WatchRoot() (string, func(string) bool) {
	return d.src.Root(), visible
}

func (d *Directory) Close() {
	if d.unsubscribe != nil {
		d.unsubscribe()
		d.unsubscribe = nil
	}
}

// visible rejects hidden files and directories.
func visible(path string) bool {
	return !strings.HasPrefix(filepath.Base(path), ".")
}
