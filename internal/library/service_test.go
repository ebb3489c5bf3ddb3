package library

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/mediacat/internal/apperr"
	"github.com/starford/mediacat/internal/browse"
	"github.com/starford/mediacat/internal/cache"
	"github.com/starford/mediacat/internal/didl"
	"github.com/starford/mediacat/internal/models"
	"github.com/starford/mediacat/internal/pipeline"
	"github.com/starford/mediacat/internal/testutil"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func openTest(t *testing.T, opts Options) *Service {
	t.Helper()
	if opts.Cache.TTL == 0 {
		opts.Cache = cache.DefaultOptions()
	}
	svc, err := Open(context.Background(), opts, testutil.Logger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

func children(t *testing.T, svc *Service, id string) map[string]*didl.Object {
	t.Helper()
	oid, err := models.ParseNodeID(id)
	if err != nil {
		t.Fatal(err)
	}
	res, err := svc.Browse(context.Background(), browse.Request{ObjectID: oid, Mode: browse.BrowseDirectChildren})
	if err != nil {
		t.Fatal(err)
	}
	out := make(map[string]*didl.Object, len(res.Items))
	for _, o := range res.Items {
		out[o.Title] = o
	}
	return out
}

func TestService_MountsAndContent(t *testing.T) {
	ctx := context.Background()
	media := t.TempDir()
	testutil.WriteFile(t, media, "song.mp3", "ID3 data", t0)
	lists := t.TempDir()
	radio := testutil.WriteFile(t, lists, "radio.yaml", "entries:\n  - title: Jazz\n    url: http://radio.example/jazz\n    mimeType: audio/mpeg\n", t0)

	svc := openTest(t, Options{
		Backend:     BackendMemory,
		ContentBase: "http://media:8080",
		Mounts: []Mount{
			{Name: "files", Kind: KindDirectory, Path: media, MountPoint: "/Files"},
			{Name: "radio", Kind: KindList, Path: radio, MountPoint: "/Radio"},
		},
	})
	if err := svc.ScanAll(ctx); err != nil {
		t.Fatal(err)
	}

	want := []RepositoryInfo{
		{Name: "files", Kind: KindDirectory, MountPoint: "/Files"},
		{Name: "radio", Kind: KindList, MountPoint: "/Radio"},
	}
	if diff := cmp.Diff(want, svc.Repositories()); diff != "" {
		t.Errorf("repositories (-want +got):\n%s", diff)
	}

	root := children(t, svc, "0")
	if len(root) != 2 || root["Files"] == nil || root["Radio"] == nil {
		t.Fatalf("root children = %v", root)
	}
	song := children(t, svc, root["Files"].ID)["song"]
	if song == nil {
		t.Fatal("song not listed")
	}
	id, _ := models.ParseNodeID(song.ID)

	c, err := svc.Content(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if c.RemoteURL != "" || c.MimeType != "audio/mpeg" || c.Size != int64(len("ID3 data")) {
		t.Errorf("content = %+v", c)
	}
	r, err := c.Open()
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(r)
	r.Close()
	if string(data) != "ID3 data" {
		t.Errorf("data = %q", data)
	}

	jazz := children(t, svc, root["Radio"].ID)["Jazz"]
	if jazz == nil {
		t.Fatal("list entry not listed")
	}
	jid, _ := models.ParseNodeID(jazz.ID)
	c, err = svc.Content(ctx, jid)
	if err != nil {
		t.Fatal(err)
	}
	if c.RemoteURL != "http://radio.example/jazz" {
		t.Errorf("remote url = %q", c.RemoteURL)
	}
	if _, err := c.Open(); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("open remote: %v", err)
	}

	fid, _ := models.ParseNodeID(root["Files"].ID)
	if _, err := svc.Content(ctx, fid); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("container content: %v", err)
	}
}

func TestService_GetNodeAndRescan(t *testing.T) {
	ctx := context.Background()
	media := t.TempDir()
	testutil.WriteFile(t, media, "a.mp3", "a", t0)

	svc := openTest(t, Options{Mounts: []Mount{{Name: "files", Path: media, MountPoint: "/Files"}}})
	if err := svc.Rescan(ctx, "files"); err != nil {
		t.Fatal(err)
	}
	if err := svc.Rescan(ctx, "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown repository: %v", err)
	}

	var updates []pipeline.UpdateEvent
	unsubscribe := svc.Subscribe("test", func(ev pipeline.UpdateEvent) { updates = append(updates, ev) })
	defer unsubscribe()

	files := children(t, svc, "0")["Files"]
	fid, _ := models.ParseNodeID(files.ID)
	d, err := svc.GetNode(ctx, fid)
	if err != nil {
		t.Fatal(err)
	}
	if d.Title != "Files" || d.Class != didl.ClassStorageFolder || len(d.ChildrenIDs) != 1 {
		t.Errorf("node = %+v", d)
	}
	if _, err := svc.GetNode(ctx, 999); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing node: %v", err)
	}

	before := svc.SystemUpdateID()
	testutil.WriteFile(t, media, "b.mp3", "b", t0)
	if err := svc.Rescan(ctx, ""); err != nil {
		t.Fatal(err)
	}
	if svc.SystemUpdateID() <= before {
		t.Error("system update id should advance")
	}
	if len(updates) == 0 {
		t.Error("no update events")
	}
}

func TestService_PersistentBackendReopens(t *testing.T) {
	ctx := context.Background()
	media := t.TempDir()
	testutil.WriteFile(t, media, "a.mp3", "a", t0)
	opts := Options{
		Backend: BackendBolt,
		Path:    filepath.Join(t.TempDir(), "catalog.db"),
		Cache:   cache.DefaultOptions(),
		Mounts:  []Mount{{Name: "files", Path: media, MountPoint: "/Files"}},
	}

	svc, err := Open(ctx, opts, testutil.Logger())
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.ScanAll(ctx); err != nil {
		t.Fatal(err)
	}
	files := children(t, svc, "0")["Files"]
	if err := svc.Close(); err != nil {
		t.Fatal(err)
	}

	svc = openTest(t, opts)
	again := children(t, svc, "0")
	if len(again) != 1 || again["Files"] == nil || again["Files"].ID != files.ID {
		t.Errorf("mount after reopen = %v, want id %s", again, files.ID)
	}
}

func TestService_RejectsBadMounts(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		mount Mount
	}{
		{"kind", Mount{Name: "x", Kind: "tape", Path: t.TempDir(), MountPoint: "/X"}},
		{"grouping", Mount{Name: "x", Kind: KindMusic, Path: t.TempDir(), MountPoint: "/X", Groupings: []string{"moods"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(ctx, Options{Cache: cache.DefaultOptions(), Mounts: []Mount{tt.mount}}, testutil.Logger())
			if !errors.Is(err, apperr.ErrInvalidArgument) {
				t.Errorf("err = %v", err)
			}
		})
	}
	if _, err := Open(ctx, Options{Backend: "tape"}, testutil.Logger()); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("backend err = %v", err)
	}
}
