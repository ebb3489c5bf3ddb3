// Package source defines the external content source abstraction that
// repositories scan.
package source

import (
	"io"
	"time"
)

// Entry describes one resource of a source.
type Entry struct {
	// Ref is the source-relative reference ("" is the source root).
	Ref      string
	Name     string
	IsDir    bool
	ModTime  time.Time
	Size     int64
	MimeType string
}

// Provider is the interface repositories use to walk and read a source.
type Provider interface {
	// Stat describes the resource at ref.
	Stat(ref string) (Entry, error)
	// ReadDir lists the direct entries of the directory at ref, sorted by name.
	ReadDir(ref string) ([]Entry, error)
	// Open returns a seekable reader over the resource at ref.
	Open(ref string) (io.ReadSeekCloser, error)
	// OpenRange returns a reader over length bytes starting at offset; a
	// negative length reads to the end.
	OpenRange(ref string, offset, length int64) (io.ReadCloser, error)
	// Locator returns the stable locator stored as a node's content URL.
	Locator(ref string) string
}
