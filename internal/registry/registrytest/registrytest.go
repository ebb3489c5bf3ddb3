// Package registrytest holds the behaviour every registry backend must share.
package registrytest

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/starford/mediacat/internal/apperr"
	"github.com/starford/mediacat/internal/models"
	"github.com/starford/mediacat/internal/registry"
)

// Run exercises reg against the common registry contract. newReg must return
// an empty backend; Run closes it.
func Run(t *testing.T, newReg func(t *testing.T) registry.Registry) {
	t.Helper()

	t.Run("AllocateUnique", func(t *testing.T) {
		reg := newReg(t)
		defer reg.Close()
		ctx := context.Background()

		seen := make(map[models.NodeID]bool)
		for range 20 {
			id, err := reg.AllocateNodeID(ctx)
			if err != nil {
				t.Fatalf("AllocateNodeID: %v", err)
			}
			if id == models.RootID || id == models.NoID {
				t.Fatalf("allocated reserved id %s", id)
			}
			if seen[id] {
				t.Fatalf("id %s allocated twice", id)
			}
			seen[id] = true
		}
	})

	t.Run("SaveGetRoundTrip", func(t *testing.T) {
		reg := newReg(t)
		defer reg.Close()
		ctx := context.Background()

		id, _ := reg.AllocateNodeID(ctx)
		n := models.NewNode(id, "Song.mp3", "object.item.audioItem.musicTrack", models.Attributes{
			models.AttrTitle:   "Song",
			models.AttrArtists: []string{"A", "B"},
		})
		n.ParentID = models.RootID
		n.Path = "/music/Song.mp3"
		n.ContentTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		if err := reg.SaveNode(ctx, n, nil); err != nil {
			t.Fatalf("SaveNode: %v", err)
		}

		got, err := reg.GetNodeByID(ctx, id)
		if err != nil {
			t.Fatalf("GetNodeByID: %v", err)
		}
		snap := got.Snapshot()
		if snap.Name != "Song.mp3" || snap.ParentID != models.RootID || snap.RefID != models.NoID {
			t.Errorf("unexpected record: %+v", snap)
		}
		if snap.Title() != "Song" {
			t.Errorf("title = %q", snap.Title())
		}
		if artists := snap.Attributes.Strings(models.AttrArtists); !slices.Equal(artists, []string{"A", "B"}) {
			t.Errorf("artists = %v", artists)
		}
		if !snap.ContentTime.Equal(n.ContentTime) {
			t.Errorf("contentTime = %v, want %v", snap.ContentTime, n.ContentTime)
		}
	})

	t.Run("SaveAppliesChange", func(t *testing.T) {
		reg := newReg(t)
		defer reg.Close()
		ctx := context.Background()

		parent := models.NewNode(models.RootID, "", "object.container", nil)
		if err := reg.SaveNode(ctx, parent, nil); err != nil {
			t.Fatalf("SaveNode: %v", err)
		}
		change := models.Change{
			models.Push(models.FieldChildren, models.NodeID(7)),
			models.Set(models.FieldUpdateID, uint64(1)),
		}
		if err := models.ApplyChange(&parent.Record, change); err != nil {
			t.Fatalf("ApplyChange: %v", err)
		}
		if err := reg.SaveNode(ctx, parent, change); err != nil {
			t.Fatalf("SaveNode(change): %v", err)
		}

		got, err := reg.GetNodeByID(ctx, models.RootID)
		if err != nil {
			t.Fatalf("GetNodeByID: %v", err)
		}
		snap := got.Snapshot()
		if !slices.Equal(snap.ChildrenIDs, []models.NodeID{7}) {
			t.Errorf("children = %v, want [7]", snap.ChildrenIDs)
		}
		if snap.UpdateID != 1 {
			t.Errorf("updateId = %d, want 1", snap.UpdateID)
		}
	})

	t.Run("UnregisterAndNotFound", func(t *testing.T) {
		reg := newReg(t)
		defer reg.Close()
		ctx := context.Background()

		id, _ := reg.AllocateNodeID(ctx)
		n := models.NewNode(id, "gone", "object.item", nil)
		if err := reg.SaveNode(ctx, n, nil); err != nil {
			t.Fatalf("SaveNode: %v", err)
		}
		if err := reg.UnregisterNode(ctx, n); err != nil {
			t.Fatalf("UnregisterNode: %v", err)
		}
		if _, err := reg.GetNodeByID(ctx, id); !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
		if _, err := reg.GetNodeByID(ctx, 9999); !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("unknown id: err = %v, want ErrNotFound", err)
		}
	})

	t.Run("Metas", func(t *testing.T) {
		reg := newReg(t)
		defer reg.Close()
		ctx := context.Background()

		mtime := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
		got, err := reg.GetMetas(ctx, "/a.flac", mtime)
		if err != nil || got != nil {
			t.Fatalf("empty GetMetas = %v, %v; want nil, nil", got, err)
		}
		if err := reg.PutMetas(ctx, "/a.flac", mtime, models.Attributes{models.AttrAlbum: "X"}); err != nil {
			t.Fatalf("PutMetas: %v", err)
		}
		got, err = reg.GetMetas(ctx, "/a.flac", mtime)
		if err != nil {
			t.Fatalf("GetMetas: %v", err)
		}
		if got.String(models.AttrAlbum) != "X" {
			t.Errorf("album = %q", got.String(models.AttrAlbum))
		}
		if stale, _ := reg.GetMetas(ctx, "/a.flac", mtime.Add(time.Second)); stale != nil {
			t.Errorf("newer mtime should miss, got %v", stale)
		}
	})
}
