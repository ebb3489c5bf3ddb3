package browse

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/mediacat/internal/apperr"
	"github.com/starford/mediacat/internal/catalog"
	"github.com/starford/mediacat/internal/didl"
	"github.com/starford/mediacat/internal/models"
	"github.com/starford/mediacat/internal/repository"
	"github.com/starford/mediacat/internal/testutil"
)

func newEngine(t *testing.T) (*Engine, *catalog.Tree) {
	t.Helper()
	tree := testutil.TestTree(t)
	return New(tree, "http://media:8080", testutil.Logger()), tree
}

func mkdir(t *testing.T, tree *catalog.Tree, parent models.NodeID, name string) *models.Node {
	t.Helper()
	n, err := tree.Create(context.Background(), parent, name, didl.ClassContainer, nil)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func mkitem(t *testing.T, tree *catalog.Tree, parent models.NodeID, name string, attrs models.Attributes) *models.Node {
	t.Helper()
	n, err := tree.Create(context.Background(), parent, name, didl.ClassMusicTrack, attrs)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func objTitles(objs []*didl.Object) []string {
	out := make([]string, len(objs))
	for i, o := range objs {
		out[i] = o.Title
	}
	return out
}

func TestBrowse_Pagination(t *testing.T) {
	e, tree := newEngine(t)
	ctx := context.Background()
	dir := mkdir(t, tree, models.RootID, "d")
	for i := range 5 {
		mkitem(t, tree, dir.ID, fmt.Sprintf("n%d", i), nil)
	}

	tests := []struct {
		start, count int
		want         []string
	}{
		{0, 2, []string{"n0", "n1"}},
		{3, 10, []string{"n3", "n4"}},
		{4, 1, []string{"n4"}},
		{5, 3, []string{}},
		{9, 1, []string{}},
		{-1, 1, []string{"n0"}},
		{1, 0, []string{"n1", "n2", "n3", "n4"}},
		{0, -5, []string{"n0", "n1", "n2", "n3", "n4"}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("start=%d,count=%d", tt.start, tt.count), func(t *testing.T) {
			res, err := e.Browse(ctx, Request{ObjectID: dir.ID, Mode: BrowseDirectChildren, StartIndex: tt.start, RequestedCount: tt.count})
			if err != nil {
				t.Fatal(err)
			}
			if res.TotalMatches != 5 {
				t.Errorf("totalMatches = %d, want 5", res.TotalMatches)
			}
			if res.NumberReturned != len(tt.want) {
				t.Errorf("numberReturned = %d, want %d", res.NumberReturned, len(tt.want))
			}
			if diff := cmp.Diff(tt.want, objTitles(res.Items)); diff != "" {
				t.Errorf("page mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBrowse_MandatoryFieldsSurviveFilter(t *testing.T) {
	e, tree := newEngine(t)
	ctx := context.Background()
	dir := mkdir(t, tree, models.RootID, "d")
	mkdir(t, tree, dir.ID, "sub")
	mkitem(t, tree, dir.ID, "song", models.Attributes{
		models.AttrDescription: "liner notes",
		models.AttrArtists:     []string{"X"},
		models.AttrMimeType:    "audio/mpeg",
	})

	for _, filter := range []string{"", "*", "upnp:artist", "nope:thing", "dc:description"} {
		res, err := e.Browse(ctx, Request{ObjectID: dir.ID, Filter: filter})
		if err != nil {
			t.Fatalf("filter %q: %v", filter, err)
		}
		for _, o := range res.Items {
			if o.ID == "" || o.ParentID != dir.ID.String() || !o.Restricted {
				t.Errorf("filter %q: identity fields missing on %+v", filter, o)
			}
			if o.Container && o.ChildCount == nil {
				t.Errorf("filter %q: container %s lacks childCount", filter, o.ID)
			}
		}
	}

	res, _ := e.Browse(ctx, Request{ObjectID: dir.ID, Filter: "upnp:artist"})
	song := res.Items[1]
	if diff := cmp.Diff([]string{"X"}, song.Values("upnp:artist")); diff != "" {
		t.Errorf("artist (-want +got):\n%s", diff)
	}
	if _, ok := song.Get("dc:description"); ok {
		t.Error("description should be filtered out")
	}
	if _, ok := song.Get("res"); ok {
		t.Error("res should be filtered out")
	}

	res, _ = e.Browse(ctx, Request{ObjectID: dir.ID, Filter: "*"})
	if got := res.Items[1].Values("dc:description"); len(got) != 1 {
		t.Errorf("description = %v with filter *", got)
	}
}

func TestBrowse_SortCriteria(t *testing.T) {
	e, tree := newEngine(t)
	ctx := context.Background()
	dir := mkdir(t, tree, models.RootID, "d")
	for i, name := range []string{"b", "B", "a", "C"} {
		mkitem(t, tree, dir.ID, name, models.Attributes{models.AttrTrack: int64(10 - 3*i)})
	}

	tests := []struct {
		criteria string
		want     []string
	}{
		{"", []string{"b", "B", "a", "C"}},
		{"+dc:title", []string{"a", "B", "b", "C"}},
		{"-dc:title", []string{"C", "b", "B", "a"}},
		{"+upnp:originalTrackNumber", []string{"C", "a", "B", "b"}},
		{"upnp:class,-upnp:originalTrackNumber", []string{"b", "B", "a", "C"}},
	}
	for _, tt := range tests {
		res, err := e.Browse(ctx, Request{ObjectID: dir.ID, SortCriteria: tt.criteria})
		if err != nil {
			t.Fatalf("%q: %v", tt.criteria, err)
		}
		if diff := cmp.Diff(tt.want, objTitles(res.Items)); diff != "" {
			t.Errorf("sort %q (-want +got):\n%s", tt.criteria, diff)
		}
	}

	if _, err := e.Browse(ctx, Request{ObjectID: dir.ID, SortCriteria: "+"}); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("bad sort err = %v", err)
	}
}

func TestBrowse_TotalMatchesBeforePaginationWithSort(t *testing.T) {
	e, tree := newEngine(t)
	dir := mkdir(t, tree, models.RootID, "d")
	for _, name := range []string{"c", "a", "b"} {
		mkitem(t, tree, dir.ID, name, nil)
	}
	res, err := e.Browse(context.Background(), Request{ObjectID: dir.ID, SortCriteria: "+dc:title", StartIndex: 1, RequestedCount: 1})
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalMatches != 3 || res.NumberReturned != 1 || res.Items[0].Title != "b" {
		t.Errorf("result = %d/%d %v", res.NumberReturned, res.TotalMatches, objTitles(res.Items))
	}
}

func TestBrowse_MetadataAndErrors(t *testing.T) {
	e, tree := newEngine(t)
	ctx := context.Background()
	dir := mkdir(t, tree, models.RootID, "d")
	mkitem(t, tree, dir.ID, "x", nil)

	res, err := e.Browse(ctx, Request{ObjectID: dir.ID, Mode: BrowseMetadata})
	if err != nil {
		t.Fatal(err)
	}
	if res.NumberReturned != 1 || res.TotalMatches != 1 {
		t.Fatalf("metadata result = %+v", res)
	}
	obj := res.Items[0]
	if obj.ParentID != "0" || *obj.ChildCount != 1 || obj.Title != "d" {
		t.Errorf("metadata object = %+v", obj)
	}
	if res.UpdateID != mustVersion(t, tree, dir.ID) {
		t.Errorf("updateId = %d", res.UpdateID)
	}

	root, err := e.Browse(ctx, Request{ObjectID: models.RootID, Mode: BrowseMetadata})
	if err != nil {
		t.Fatal(err)
	}
	if root.Items[0].ParentID != "-1" {
		t.Errorf("root parentID = %q", root.Items[0].ParentID)
	}

	if _, err := e.Browse(ctx, Request{ObjectID: 999}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown id err = %v", err)
	}
	if _, err := e.Browse(ctx, Request{ObjectID: dir.ID, Mode: "Sideways"}); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("bad mode err = %v", err)
	}
}

func TestBrowse_AliasRendersTarget(t *testing.T) {
	e, tree := newEngine(t)
	ctx := context.Background()
	a := mkdir(t, tree, models.RootID, "a")
	b := mkdir(t, tree, models.RootID, "b")
	track, err := tree.Create(ctx, a.ID, "t.mp3", didl.ClassMusicTrack, models.Attributes{
		models.AttrTitle:    "Tune",
		models.AttrMimeType: "audio/mpeg",
	}, catalog.WithContent("/music/t.mp3", time.Time{}))
	if err != nil {
		t.Fatal(err)
	}
	alias, err := tree.CreateRef(ctx, b.ID, track.ID, "")
	if err != nil {
		t.Fatal(err)
	}

	res, err := e.Browse(ctx, Request{ObjectID: b.ID})
	if err != nil {
		t.Fatal(err)
	}
	obj := res.Items[0]
	if obj.ID != alias.ID.String() || obj.RefID != track.ID.String() || obj.ParentID != b.ID.String() {
		t.Errorf("alias identity = %+v", obj)
	}
	if obj.Title != "Tune" || obj.Class != didl.ClassMusicTrack {
		t.Errorf("alias metadata = %q %q", obj.Title, obj.Class)
	}
	res0, ok := obj.Get("res")
	if !ok || res0.Value != "http://media:8080/content/"+track.ID.String() {
		t.Errorf("res = %+v", res0)
	}

	resolved, err := e.Browse(ctx, Request{ObjectID: b.ID, ResolveLinks: true})
	if err != nil {
		t.Fatal(err)
	}
	if got := resolved.Items[0]; got.ID != track.ID.String() || got.RefID != "" {
		t.Errorf("resolved item = %+v", got)
	}
}

func TestSearch_CriteriaAcrossAliases(t *testing.T) {
	e, tree := newEngine(t)
	ctx := context.Background()
	a := mkdir(t, tree, models.RootID, "a")
	b := mkdir(t, tree, models.RootID, "b")
	x := mkitem(t, tree, a.ID, "one", models.Attributes{models.AttrArtists: []string{"X"}, models.AttrGenres: []string{"Rock"}})
	mkitem(t, tree, a.ID, "two", models.Attributes{models.AttrArtists: []string{"Y"}})
	if _, err := tree.CreateRef(ctx, b.ID, x.ID, ""); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		criteria string
		want     []string
	}{
		{`upnp:artist = "x"`, []string{"one"}},
		{`upnp:class derivedfrom "object.item.audioItem"`, []string{"one", "two"}},
		{`upnp:class derivedfrom "object.container"`, []string{"a", "b"}},
		{`upnp:genre exists true and dc:title contains "ON"`, []string{"one"}},
		{`upnp:genre exists false and upnp:class derivedfrom "object.item"`, []string{"two"}},
		{`(upnp:artist = "Y" or upnp:artist = "X") and dc:title != "two"`, []string{"one"}},
		{`dc:title doesNotContain "o"`, []string{"a", "b"}},
		{`*`, []string{"a", "one", "two", "b"}},
	}
	for _, tt := range tests {
		res, err := e.Search(ctx, SearchRequest{ContainerID: models.RootID, Criteria: tt.criteria})
		if err != nil {
			t.Fatalf("%s: %v", tt.criteria, err)
		}
		if diff := cmp.Diff(tt.want, objTitles(res.Items)); diff != "" {
			t.Errorf("search %s (-want +got):\n%s", tt.criteria, diff)
		}
	}

	for _, bad := range []string{`dc:title =`, `dc:title = "x`, `(dc:title = "x"`, `dc:title like "x"`, `dc:title exists maybe`} {
		if _, err := e.Search(ctx, SearchRequest{ContainerID: models.RootID, Criteria: bad}); !errors.Is(err, apperr.ErrInvalidArgument) {
			t.Errorf("criteria %q err = %v", bad, err)
		}
	}
}

func TestBrowse_MusicScanEndToEnd(t *testing.T) {
	e, tree := newEngine(t)
	ctx := context.Background()
	dir, src := testutil.TestMedia(t)
	testutil.WriteFile(t, dir, "A.mp3", "audio", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	testutil.WriteFile(t, dir, "A.mp3.yaml", "artist: X\ngenre: Rock\n", time.Time{})

	repo := repository.NewMusic(tree, "music", "/", src, nil, testutil.Logger())
	if err := repo.Init(ctx); err != nil {
		t.Fatal(err)
	}
	if err := repo.Scan(ctx); err != nil {
		t.Fatal(err)
	}

	res, err := e.Browse(ctx, Request{ObjectID: models.RootID, Mode: BrowseDirectChildren, Filter: "*", StartIndex: 0, RequestedCount: 10})
	if err != nil {
		t.Fatal(err)
	}
	if res.NumberReturned != 2 || res.TotalMatches != 2 {
		t.Fatalf("root browse = %d/%d", res.NumberReturned, res.TotalMatches)
	}
	if diff := cmp.Diff([]string{"Artists", "Genres"}, objTitles(res.Items)); diff != "" {
		t.Errorf("root items (-want +got):\n%s", diff)
	}

	found, err := e.Search(ctx, SearchRequest{ContainerID: models.RootID, Criteria: `upnp:genre = "Rock"`})
	if err != nil {
		t.Fatal(err)
	}
	if found.TotalMatches != 1 {
		t.Errorf("track should be found once through its alias, got %d", found.TotalMatches)
	}
}

func mustVersion(t *testing.T, tree *catalog.Tree, id models.NodeID) uint64 {
	t.Helper()
	n, err := tree.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return n.Version()
}

func TestPaginate(t *testing.T) {
	items := []string{"a", "b", "c"}
	tests := []struct {
		name         string
		start, count int
		want         []string
	}{
		{"all", 0, 0, []string{"a", "b", "c"}},
		{"negative count", 1, -1, []string{"b", "c"}},
		{"window", 1, 1, []string{"b"}},
		{"count past end", 1, 10, []string{"b", "c"}},
		{"huge count", 1, math.MaxInt, []string{"b", "c"}},
		{"start past end", 5, 2, []string{}},
		{"negative start", -3, 2, []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Paginate(items, tt.start, tt.count)); diff != "" {
				t.Errorf("Paginate(%d, %d) mismatch (-want +got):\n%s", tt.start, tt.count, diff)
			}
		})
	}
}
