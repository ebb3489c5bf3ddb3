// Package testutil provides shared test helpers for setting up catalogs and
// media directories.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/mediacat/internal/cache"
	"github.com/starford/mediacat/internal/catalog"
	"github.com/starford/mediacat/internal/enrich"
	"github.com/starford/mediacat/internal/lock"
	"github.com/starford/mediacat/internal/pipeline"
	"github.com/starford/mediacat/internal/registry"
	"github.com/starford/mediacat/internal/source"
)

// Logger returns a logger that drops everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestTree creates an in-memory catalog with the standard enrichment
// handlers registered and the root in place.
func TestTree(t *testing.T) *catalog.Tree {
	t.Helper()
	logger := Logger()
	locks := lock.New()
	reg := registry.NewCached(registry.NewMemory(), cache.DefaultOptions(), locks.Held, logger)
	bus := pipeline.NewBus()
	unsubscribe := enrich.Register(bus, logger)
	tree := catalog.New(reg, locks, bus, logger)
	t.Cleanup(func() {
		unsubscribe()
		tree.Close()
		reg.Close()
	})
	if _, err := tree.EnsureRoot(context.Background()); err != nil {
		t.Fatal(err)
	}
	return tree
}

// TestMedia creates a temporary media directory with a source provider.
func TestMedia(t *testing.T) (string, *source.FS) {
	t.Helper()
	dir := t.TempDir()
	src, err := source.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, src
}

// WriteFile writes data to dir/rel, creating parent directories, and sets
// its modification time when mtime is non-zero.
func WriteFile(t *testing.T, dir, rel, data string, mtime time.Time) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	if !mtime.IsZero() {
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

// Eventually polls fn every tick until it returns true or timeout elapses.
func Eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}
