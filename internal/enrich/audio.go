package enrich

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/starford/mediacat/internal/models"
	"github.com/starford/mediacat/internal/parser"
	"github.com/starford/mediacat/internal/pipeline"
	"github.com/starford/mediacat/internal/source"
)

// Audio fills track metadata from sidecar files and file names.
type Audio struct {
	logger *slog.Logger
}

// Sidecar merges the first readable sidecar next to the file. A malformed
// sidecar stops the chain; a missing one is not an error.
func (a *Audio) Sidecar(_ context.Context, _ string, ev *pipeline.PrepareEvent) error {
	if ev.Info.Path == "" {
		return nil
	}
	dir, name := filepath.Split(ev.Info.Path)
	for _, sc := range source.SidecarNames(name) {
		data, err := os.ReadFile(filepath.Join(dir, sc))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return err
		}
		attrs, err := parser.ParseSidecar(sc, data)
		if err != nil {
			return err
		}
		a.logger.Debug("enrich: sidecar applied", slog.String("path", ev.Info.Path), slog.String("sidecar", sc))
		pipeline.MergePatch(ev.Patch, attrs)
		return nil
	}
	return nil
}

// Filename fills whatever the file name reveals (artist, title, track
// number). Remote entries have no file name.
func (a *Audio) Filename(_ context.Context, _ string, ev *pipeline.PrepareEvent) error {
	if ev.Info.Path == "" {
		return nil
	}
	pipeline.MergePatch(ev.Patch, parser.ParseFilename(filepath.Base(ev.Info.Path)))
	return nil
}

// Render adds the music properties of a track.
func (a *Audio) Render(_ context.Context, _ string, ev *pipeline.RenderEvent) error {
	attrs := ev.Node.Attributes
	for _, artist := range attrs.Strings(models.AttrArtists) {
		ev.Object.Add(ev.Filter, "upnp:artist", artist, nil)
	}
	for _, genre := range attrs.Strings(models.AttrGenres) {
		ev.Object.Add(ev.Filter, "upnp:genre", genre, nil)
	}
	ev.Object.Add(ev.Filter, "upnp:album", attrs.String(models.AttrAlbum), nil)
	if n, ok := attrs.Int(models.AttrTrack); ok && n > 0 {
		ev.Object.Add(ev.Filter, "upnp:originalTrackNumber", strconv.FormatInt(n, 10), nil)
	}
	return nil
}
