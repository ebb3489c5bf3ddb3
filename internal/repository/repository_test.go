package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/mediacat/internal/apperr"
	"github.com/starford/mediacat/internal/catalog"
	"github.com/starford/mediacat/internal/didl"
	"github.com/starford/mediacat/internal/models"
	"github.com/starford/mediacat/internal/testutil"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func list(t *testing.T, tree *catalog.Tree, id models.NodeID) []*models.Node {
	t.Helper()
	nodes, err := tree.ListChildren(context.Background(), id, catalog.ListOptions{})
	if err != nil {
		t.Fatalf("ListChildren(%s): %v", id, err)
	}
	return nodes
}

func titles(nodes []*models.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.NodeTitle()
	}
	return out
}

func only(t *testing.T, nodes []*models.Node, title string) *models.Node {
	t.Helper()
	for _, n := range nodes {
		if n.NodeTitle() == title {
			return n
		}
	}
	t.Fatalf("no child titled %q in %v", title, titles(nodes))
	return nil
}

func TestReconcile_KeepReplaceInsertRemove(t *testing.T) {
	tree := testutil.TestTree(t)
	ctx := context.Background()
	parent, err := tree.Create(ctx, models.RootID, "p", didl.ClassContainer, nil)
	if err != nil {
		t.Fatal(err)
	}
	rec := NewReconciler(tree, "test", testutil.Logger())

	item := func(key, version string) Candidate {
		return Candidate{Key: key, Version: version, Name: key, Class: didl.ClassItem, Attrs: models.Attributes{"k": key}}
	}
	res, err := rec.Reconcile(ctx, parent.ID, []Candidate{item("a", "1"), item("b", "1"), item("c", "1")})
	if err != nil {
		t.Fatal(err)
	}
	if res.Inserted != 3 {
		t.Fatalf("inserted = %d, want 3", res.Inserted)
	}
	a, b := res.Nodes[0], res.Nodes[1]
	before := mustVersion(t, tree, parent.ID)

	res, err = rec.Reconcile(ctx, parent.ID, []Candidate{item("a", "1"), item("b", "2")})
	if err != nil {
		t.Fatal(err)
	}
	if res.Kept != 1 || res.Replaced != 1 || res.Removed != 1 {
		t.Fatalf("result = %+v", res)
	}
	if res.Nodes[0].ID != a.ID {
		t.Error("same key and version must keep the node")
	}
	if res.Nodes[1].ID == b.ID {
		t.Error("a version change must replace the node")
	}
	if _, err := tree.Get(ctx, b.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("stale node still registered: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, titles(list(t, tree, parent.ID))); diff != "" {
		t.Errorf("children mismatch (-want +got):\n%s", diff)
	}
	if v := mustVersion(t, tree, parent.ID); v <= before {
		t.Errorf("parent updateId %d did not advance from %d", v, before)
	}

	before = mustVersion(t, tree, parent.ID)
	res, err = rec.Reconcile(ctx, parent.ID, []Candidate{item("a", "1"), item("b", "2")})
	if err != nil {
		t.Fatal(err)
	}
	if res.Changed() {
		t.Errorf("identical rescan changed the container: %+v", res)
	}
	if v := mustVersion(t, tree, parent.ID); v != before {
		t.Errorf("updateId = %d after no-op, want %d", v, before)
	}
}

func TestReconcile_LeavesForeignChildren(t *testing.T) {
	tree := testutil.TestTree(t)
	ctx := context.Background()
	parent, _ := tree.Create(ctx, models.RootID, "p", didl.ClassContainer, nil)
	virtual, err := tree.Create(ctx, parent.ID, "Artists", didl.ClassContainer, nil, catalog.Virtual())
	if err != nil {
		t.Fatal(err)
	}
	target, _ := tree.Create(ctx, models.RootID, "t", didl.ClassItem, nil)
	alias, err := tree.CreateRef(ctx, parent.ID, target.ID, "")
	if err != nil {
		t.Fatal(err)
	}

	rec := NewReconciler(tree, "test", testutil.Logger())
	if _, err := rec.Reconcile(ctx, parent.ID, nil); err != nil {
		t.Fatal(err)
	}
	ids, _ := mustNode(t, tree, parent.ID).Children()
	if diff := cmp.Diff([]models.NodeID{virtual.ID, alias.ID}, ids); diff != "" {
		t.Errorf("children mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcile_MetasSideChannel(t *testing.T) {
	tree := testutil.TestTree(t)
	ctx := context.Background()
	dir, src := testutil.TestMedia(t)
	testutil.WriteFile(t, dir, "song.mp3", "x", t0)
	testutil.WriteFile(t, dir, "song.mp3.yaml", "title: First\n", time.Time{})

	entries, err := src.ReadDir("")
	if err != nil || len(entries) != 1 {
		t.Fatalf("ReadDir = %v, %v", entries, err)
	}
	rec := NewReconciler(tree, "test", testutil.Logger())
	c := entryCandidate(src, entries[0])
	attrs, err := rec.Attributes(ctx, c)
	if err != nil {
		t.Fatal(err)
	}
	if got := attrs.String(models.AttrTitle); got != "First" {
		t.Fatalf("title = %q", got)
	}

	// A changed sidecar is not re-read while (path, mtime) is unchanged.
	testutil.WriteFile(t, dir, "song.mp3.yaml", "title: Second\n", time.Time{})
	attrs, _ = rec.Attributes(ctx, c)
	if got := attrs.String(models.AttrTitle); got != "First" {
		t.Errorf("title = %q, want stored metas", got)
	}
	metas, err := tree.Registry().GetMetas(ctx, c.Key, c.ModTime)
	if err != nil || metas.String(models.AttrTitle) != "First" {
		t.Errorf("GetMetas = %v, %v", metas, err)
	}
}

func TestDirectory_ScanMirrorsTree(t *testing.T) {
	tree := testutil.TestTree(t)
	ctx := context.Background()
	dir, src := testutil.TestMedia(t)
	testutil.WriteFile(t, dir, "a.mp3", "a", t0)
	testutil.WriteFile(t, dir, "sub/b.mp3", "b", t0)
	testutil.WriteFile(t, dir, ".hidden/c.mp3", "c", t0)

	repo := NewDirectory(tree, "files", "/Files", src, testutil.Logger())
	if err := repo.Init(ctx); err != nil {
		t.Fatal(err)
	}
	defer repo.Close()
	if err := repo.Scan(ctx); err != nil {
		t.Fatal(err)
	}

	mount := only(t, list(t, tree, models.RootID), "Files")
	children := list(t, tree, mount.ID)
	if diff := cmp.Diff([]string{"a", "sub"}, titles(children)); diff != "" {
		t.Fatalf("mount children (-want +got):\n%s", diff)
	}
	a := only(t, children, "a")
	if url, _ := a.Content(); url != filepath.Join(dir, "a.mp3") {
		t.Errorf("content url = %q", url)
	}
	if got := a.Snapshot().Class; got != didl.ClassMusicTrack {
		t.Errorf("class = %q", got)
	}
	sub := only(t, children, "sub")
	if _, done := sub.Children(); !done {
		t.Error("scanned directory should be materialized")
	}
	if diff := cmp.Diff([]string{"b"}, titles(list(t, tree, sub.ID))); diff != "" {
		t.Errorf("sub children (-want +got):\n%s", diff)
	}

	if err := os.Remove(filepath.Join(dir, "a.mp3")); err != nil {
		t.Fatal(err)
	}
	if err := repo.Scan(ctx); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"sub"}, titles(list(t, tree, mount.ID))); diff != "" {
		t.Errorf("after removal (-want +got):\n%s", diff)
	}
	if _, err := tree.Get(ctx, a.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("vanished file still registered: %v", err)
	}
}

func TestDirectory_LazyMaterializationThroughBrowse(t *testing.T) {
	tree := testutil.TestTree(t)
	ctx := context.Background()
	dir, src := testutil.TestMedia(t)
	testutil.WriteFile(t, dir, "x/y/z.mp3", "z", t0)

	repo := NewDirectory(tree, "files", "/Files", src, testutil.Logger())
	if err := repo.Init(ctx); err != nil {
		t.Fatal(err)
	}
	defer repo.Close()

	mount := mustNode(t, tree, repo.MountID())
	if _, done := mount.Children(); done {
		t.Fatal("mount should start unmaterialized")
	}
	x := only(t, list(t, tree, mount.ID), "x")
	if _, done := x.Children(); done {
		t.Error("nested directory should stay lazy until listed")
	}
	y := only(t, list(t, tree, x.ID), "y")
	if diff := cmp.Diff([]string{"z"}, titles(list(t, tree, y.ID))); diff != "" {
		t.Errorf("leaf children (-want +got):\n%s", diff)
	}

	// A full scan afterwards keeps what browsing created.
	if err := repo.Scan(ctx); err != nil {
		t.Fatal(err)
	}
	if again := only(t, list(t, tree, mount.ID), "x"); again.ID != x.ID {
		t.Error("scan replaced a directory container")
	}
}

func TestDirectory_ConcurrentBrowseMaterializesOnce(t *testing.T) {
	tree := testutil.TestTree(t)
	ctx := context.Background()
	dir, src := testutil.TestMedia(t)
	for _, name := range []string{"1.mp3", "2.mp3", "3.mp3"} {
		testutil.WriteFile(t, dir, name, name, t0)
	}
	repo := NewDirectory(tree, "files", "/Files", src, testutil.Logger())
	if err := repo.Init(ctx); err != nil {
		t.Fatal(err)
	}
	defer repo.Close()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tree.ListChildren(ctx, repo.MountID(), catalog.ListOptions{}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if got := len(list(t, tree, repo.MountID())); got != 3 {
		t.Errorf("children = %d, want 3", got)
	}
}

func TestMusic_GroupingsEndToEnd(t *testing.T) {
	tree := testutil.TestTree(t)
	ctx := context.Background()
	dir, src := testutil.TestMedia(t)
	track := testutil.WriteFile(t, dir, "A.mp3", "audio", t0)
	testutil.WriteFile(t, dir, "A.mp3.yaml", "artist: X\ngenre: Rock\n", t0)

	repo := NewMusic(tree, "music", "/", src, nil, testutil.Logger())
	if err := repo.Init(ctx); err != nil {
		t.Fatal(err)
	}
	if err := repo.Scan(ctx); err != nil {
		t.Fatal(err)
	}

	root := list(t, tree, models.RootID)
	if diff := cmp.Diff([]string{"Artists", "Genres"}, titles(root)); diff != "" {
		t.Fatalf("root children (-want +got):\n%s", diff)
	}
	x := only(t, list(t, tree, only(t, root, "Artists").ID), "X")
	tracks := list(t, tree, x.ID)
	if len(tracks) != 1 || tracks[0].IsRef() {
		t.Fatalf("artist X children = %v", titles(tracks))
	}
	node := tracks[0]
	if url, _ := node.Content(); url != track {
		t.Errorf("track content url = %q, want %q", url, track)
	}
	rock := only(t, list(t, tree, only(t, root, "Genres").ID), "Rock")
	aliases := list(t, tree, rock.ID)
	if len(aliases) != 1 || aliases[0].Ref() != node.ID {
		t.Fatalf("genre Rock should hold one alias of %s", node.ID)
	}

	// Unchanged source: nothing moves.
	watched := []models.NodeID{models.RootID, x.ID, rock.ID, node.ID, aliases[0].ID}
	before := make(map[models.NodeID]uint64)
	for _, id := range watched {
		before[id] = mustVersion(t, tree, id)
	}
	if err := repo.Scan(ctx); err != nil {
		t.Fatal(err)
	}
	for _, id := range watched {
		if v := mustVersion(t, tree, id); v != before[id] {
			t.Errorf("node %s updateId %d -> %d on identical rescan", id, before[id], v)
		}
	}

	// A new mtime replaces the track; the alias follows.
	later := t0.Add(time.Hour)
	if err := os.Chtimes(track, later, later); err != nil {
		t.Fatal(err)
	}
	if err := repo.Scan(ctx); err != nil {
		t.Fatal(err)
	}
	tracks = list(t, tree, x.ID)
	if len(tracks) != 1 || tracks[0].ID == node.ID {
		t.Fatalf("track was not replaced: %v", titles(tracks))
	}
	aliases = list(t, tree, rock.ID)
	if len(aliases) != 1 || aliases[0].Ref() != tracks[0].ID {
		t.Error("genre alias should reference the new track node")
	}
	if _, err := tree.Get(ctx, node.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("old track still registered: %v", err)
	}
}

func TestMusic_SidecarEditRefilesTrack(t *testing.T) {
	tree := testutil.TestTree(t)
	ctx := context.Background()
	dir, src := testutil.TestMedia(t)
	testutil.WriteFile(t, dir, "A.mp3", "audio", t0)
	testutil.WriteFile(t, dir, "A.mp3.yaml", "artist: X\n", t0)

	repo := NewMusic(tree, "music", "/", src, nil, testutil.Logger())
	if err := repo.Init(ctx); err != nil {
		t.Fatal(err)
	}
	if err := repo.Scan(ctx); err != nil {
		t.Fatal(err)
	}
	artists := repo.Groupings()[0]
	if diff := cmp.Diff([]string{"X"}, titles(list(t, tree, artists))); diff != "" {
		t.Fatalf("artists (-want +got):\n%s", diff)
	}

	// Only the sidecar changes; the audio file keeps its mtime.
	testutil.WriteFile(t, dir, "A.mp3.yaml", "artist: Y\n", t0.Add(time.Hour))
	if err := repo.Scan(ctx); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"Y"}, titles(list(t, tree, artists))); diff != "" {
		t.Errorf("artists after sidecar edit (-want +got):\n%s", diff)
	}
	tracks := list(t, tree, only(t, list(t, tree, artists), "Y").ID)
	if len(tracks) != 1 {
		t.Fatalf("artist Y children = %v", titles(tracks))
	}
	if diff := cmp.Diff([]string{"Y"}, tracks[0].Snapshot().Attributes.Strings(models.AttrArtists)); diff != "" {
		t.Errorf("track artists (-want +got):\n%s", diff)
	}
}

func TestMusic_PrunesEmptyGroupings(t *testing.T) {
	tree := testutil.TestTree(t)
	ctx := context.Background()
	dir, src := testutil.TestMedia(t)
	testutil.WriteFile(t, dir, "X - One.mp3", "1", t0)
	two := testutil.WriteFile(t, dir, "Y - Two.mp3", "2", t0)

	repo := NewMusic(tree, "music", "/Music", src, nil, testutil.Logger())
	if err := repo.Init(ctx); err != nil {
		t.Fatal(err)
	}
	if err := repo.Scan(ctx); err != nil {
		t.Fatal(err)
	}
	artists := repo.Groupings()[0]
	if diff := cmp.Diff([]string{"X", "Y"}, titles(list(t, tree, artists))); diff != "" {
		t.Fatalf("artists (-want +got):\n%s", diff)
	}
	genres := list(t, tree, repo.Groupings()[1])
	if diff := cmp.Diff([]string{UnknownValue}, titles(genres)); diff != "" {
		t.Errorf("genres (-want +got):\n%s", diff)
	}

	if err := os.Remove(two); err != nil {
		t.Fatal(err)
	}
	if err := repo.Scan(ctx); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"X"}, titles(list(t, tree, artists))); diff != "" {
		t.Errorf("artists after removal (-want +got):\n%s", diff)
	}
	if got := len(list(t, tree, only(t, list(t, tree, repo.Groupings()[1]), UnknownValue).ID)); got != 1 {
		t.Errorf("unknown genre aliases = %d, want 1", got)
	}
}

func TestList_ReconcilesEntries(t *testing.T) {
	tree := testutil.TestTree(t)
	ctx := context.Background()
	dir := t.TempDir()
	doc := `title: Radio
entries:
  - title: Jazz
    url: http://radio.example/jazz
    mimeType: audio/mpeg
    version: "1"
  - title: News
    url: http://radio.example/news
    mimeType: audio/aac
`
	file := testutil.WriteFile(t, dir, "radio.yaml", doc, t0)

	repo := NewList(tree, "radio", "/Radio", file, testutil.Logger())
	if err := repo.Init(ctx); err != nil {
		t.Fatal(err)
	}
	if err := repo.Scan(ctx); err != nil {
		t.Fatal(err)
	}
	entries := list(t, tree, repo.MountID())
	if diff := cmp.Diff([]string{"Jazz", "News"}, titles(entries)); diff != "" {
		t.Fatalf("entries (-want +got):\n%s", diff)
	}
	jazz, news := entries[0], entries[1]
	if got := jazz.Snapshot().Class; got != didl.ClassAudioBroadcast {
		t.Errorf("class = %q", got)
	}

	// Touching the file replaces unversioned entries only.
	testutil.WriteFile(t, dir, "radio.yaml", doc, t0.Add(time.Minute))
	if err := repo.Scan(ctx); err != nil {
		t.Fatal(err)
	}
	entries = list(t, tree, repo.MountID())
	if got := only(t, entries, "Jazz"); got.ID != jazz.ID {
		t.Error("versioned entry should be kept")
	}
	if got := only(t, entries, "News"); got.ID == news.ID {
		t.Error("unversioned entry should follow the list mtime")
	}
}

func TestList_InvalidDocumentKeepsTree(t *testing.T) {
	tree := testutil.TestTree(t)
	ctx := context.Background()
	dir := t.TempDir()
	file := testutil.WriteFile(t, dir, "l.yaml", "entries:\n  - url: http://a\n", t0)
	repo := NewList(tree, "l", "/L", file, testutil.Logger())
	if err := repo.Init(ctx); err != nil {
		t.Fatal(err)
	}
	if err := repo.Scan(ctx); err != nil {
		t.Fatal(err)
	}
	testutil.WriteFile(t, dir, "l.yaml", "entries:\n  - title: no url\n", t0)
	if err := repo.Scan(ctx); err == nil {
		t.Fatal("expected parse error")
	}
	if got := len(list(t, tree, repo.MountID())); got != 1 {
		t.Errorf("entries = %d, want the previous 1", got)
	}
}

func TestWatch_RescansOnChange(t *testing.T) {
	tree := testutil.TestTree(t)
	dir, src := testutil.TestMedia(t)
	repo := NewDirectory(tree, "files", "/Files", src, testutil.Logger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := repo.Init(ctx); err != nil {
		t.Fatal(err)
	}
	defer repo.Close()
	if err := repo.Scan(ctx); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, repo, 50*time.Millisecond, testutil.Logger())
	}()
	time.Sleep(100 * time.Millisecond)

	testutil.WriteFile(t, dir, "new.mp3", "n", time.Time{})
	testutil.Eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		nodes, err := tree.ListChildren(context.Background(), repo.MountID(), catalog.ListOptions{})
		return err == nil && len(nodes) == 1
	}, "new file not picked up by watcher")

	cancel()
	<-done
}

func mustNode(t *testing.T, tree *catalog.Tree, id models.NodeID) *models.Node {
	t.Helper()
	n, err := tree.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%s): %v", id, err)
	}
	return n
}

func mustVersion(t *testing.T, tree *catalog.Tree, id models.NodeID) uint64 {
	t.Helper()
	return mustNode(t, tree, id).Version()
}
