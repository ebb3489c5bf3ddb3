package source

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/starford/mediacat/internal/apperr"
)

// FS implements Provider backed by the local file system.
type FS struct {
	root string // absolute path to the mounted directory
}

var _ Provider = (*FS)(nil)

// NewFS creates a provider rooted at the given directory, which must exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("source: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("source: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute root directory.
func (f *FS) Root() string { return f.root }

// safePath resolves a reference against the root and rejects any result
// that escapes it (directory traversal).
func (f *FS) safePath(ref string) (string, error) {
	if ref == "" {
		return f.root, nil
	}
	cleaned := filepath.Clean(filepath.FromSlash(ref))
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("source: absolute paths not allowed: %s: %w", ref, apperr.ErrInvalidArgument)
	}
	abs, err := filepath.Abs(filepath.Join(f.root, cleaned))
	if err != nil {
		return "", fmt.Errorf("source: resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) && abs != f.root {
		return "", fmt.Errorf("source: path escapes root: %s: %w", ref, apperr.ErrInvalidArgument)
	}
	return abs, nil
}

// Rel converts an absolute path below the root into a reference.
func (f *FS) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(f.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("source: %s is outside %s: %w", abs, f.root, apperr.ErrInvalidArgument)
	}
	if rel == "." {
		return "", nil
	}
	return filepath.ToSlash(rel), nil
}

func (f *FS) entry(ref string, info fs.FileInfo) Entry {
	e := Entry{
		Ref:     ref,
		Name:    info.Name(),
		IsDir:   info.IsDir(),
		ModTime: info.ModTime(),
	}
	if !e.IsDir {
		e.Size = info.Size()
		e.MimeType = MimeType(info.Name())
	}
	return e
}

func (f *FS) Stat(ref string) (Entry, error) {
	abs, err := f.safePath(ref)
	if err != nil {
		return Entry{}, err
	}
	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return Entry{}, fmt.Errorf("source: stat %s: %w", ref, apperr.ErrNotFound)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("source: stat %s: %w", ref, err)
	}
	return f.entry(ref, info), nil
}

// ReadDir lists ref, skipping hidden entries and sidecar metadata files.
func (f *FS) ReadDir(ref string) ([]Entry, error) {
	abs, err := f.safePath(ref)
	if err != nil {
		return nil, err
	}
	dirents, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("source: readdir %s: %w", ref, err)
	}
	out := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		if strings.HasPrefix(d.Name(), ".") || IsSidecar(d.Name()) {
			continue
		}
		info, err := d.Info()
		if err != nil {
			continue // vanished between readdir and stat
		}
		out = append(out, f.entry(joinRef(ref, d.Name()), info))
	}
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (f *FS) Open(ref string) (io.ReadSeekCloser, error) {
	abs, err := f.safePath(ref)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("source: open %s: %w", ref, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("source: open %s: %w", ref, err)
	}
	return file, nil
}

type sectionReadCloser struct {
	*io.SectionReader
	io.Closer
}

func (f *FS) OpenRange(ref string, offset, length int64) (io.ReadCloser, error) {
	abs, err := f.safePath(ref)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("source: open %s: %w", ref, err)
	}
	if length < 0 {
		info, err := file.Stat()
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("source: stat %s: %w", ref, err)
		}
		length = max(info.Size()-offset, 0)
	}
	return sectionReadCloser{io.NewSectionReader(file, offset, length), file}, nil
}

// SidecarModTime returns the newest modification time among the sidecars
// of the file at ref, or the zero time when it has none.
func (f *FS) SidecarModTime(ref string) time.Time {
	abs, err := f.safePath(ref)
	if err != nil {
		return time.Time{}
	}
	var newest time.Time
	dir, name := filepath.Split(abs)
	for _, sc := range SidecarNames(name) {
		info, err := os.Stat(filepath.Join(dir, sc))
		if err != nil {
			continue
		}
		if t := info.ModTime(); t.After(newest) {
			newest = t
		}
	}
	return newest
}

// Locator returns the absolute file path of ref.
func (f *FS) Locator(ref string) string {
	return filepath.Join(f.root, filepath.FromSlash(ref))
}

func joinRef(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}
