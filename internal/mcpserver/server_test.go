package mcpserver

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/mediacat/internal/browse"
	"github.com/starford/mediacat/internal/cache"
	"github.com/starford/mediacat/internal/library"
	"github.com/starford/mediacat/internal/testutil"
)

func testServer(t *testing.T) *Server {
	t.Helper()

	media := t.TempDir()
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	testutil.WriteFile(t, media, "Miles Davis - So What.mp3", "x", t0)
	testutil.WriteFile(t, media, "Chet Baker - Alone Together.mp3", "y", t0)

	svc, err := library.Open(context.Background(), library.Options{
		Cache:  cache.DefaultOptions(),
		Mounts: []library.Mount{{Name: "files", Kind: library.KindDirectory, Path: media, MountPoint: "/Files"}},
	}, testutil.Logger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { svc.Close() })
	if err := svc.ScanAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	return New(svc, "test")
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" test helper, so the handlers are
	// called directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "browse_catalog":
		result, err = srv.browseCatalog(ctx, req)
	case "search_catalog":
		result, err = srv.searchCatalog(ctx, req)
	case "get_node":
		result, err = srv.getNode(ctx, req)
	case "list_repositories":
		result, err = srv.listRepositories(ctx, req)
	case "rescan":
		result, err = srv.rescan(ctx, req)
	case "get_query_syntax":
		result, err = srv.getQuerySyntax(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func decode(t *testing.T, r *mcp.CallToolResult) browse.Result {
	t.Helper()
	if r.IsError {
		t.Fatalf("tool error: %s", resultText(r))
	}
	var res browse.Result
	if err := json.Unmarshal([]byte(resultText(r)), &res); err != nil {
		t.Fatal(err)
	}
	return res
}

func TestBrowseCatalog(t *testing.T) {
	srv := testServer(t)

	root := decode(t, callTool(t, srv, "browse_catalog", map[string]any{}))
	if root.TotalMatches != 1 || root.Items[0].Title != "Files" {
		t.Fatalf("root = %+v", root.Items)
	}
	id, err := strconv.Atoi(root.Items[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	files := decode(t, callTool(t, srv, "browse_catalog", map[string]any{
		"id":   id,
		"sort": "+dc:title",
	}))
	if files.TotalMatches != 2 {
		t.Fatalf("files = %+v", files.Items)
	}

	meta := decode(t, callTool(t, srv, "browse_catalog", map[string]any{"mode": "metadata"}))
	if meta.NumberReturned != 1 || meta.Items[0].ID != "0" {
		t.Errorf("metadata = %+v", meta.Items)
	}
}

func TestSearchCatalog(t *testing.T) {
	srv := testServer(t)

	res := decode(t, callTool(t, srv, "search_catalog", map[string]any{
		"criteria": `upnp:artist = "miles davis"`,
	}))
	if res.TotalMatches != 1 || res.Items[0].Title != "So What" {
		t.Errorf("matches = %+v", res.Items)
	}

	r := callTool(t, srv, "search_catalog", map[string]any{"criteria": `upnp:artist ~ "x"`})
	if !r.IsError || !strings.Contains(resultText(r), "invalid argument") {
		t.Errorf("bad criteria = %q", resultText(r))
	}

	if r := callTool(t, srv, "search_catalog", map[string]any{}); !r.IsError {
		t.Error("missing criteria should fail")
	}
}

func TestGetNode(t *testing.T) {
	srv := testServer(t)

	r := callTool(t, srv, "get_node", map[string]any{"id": 0})
	if r.IsError || !strings.Contains(resultText(r), `"childrenIds"`) {
		t.Errorf("root = %q", resultText(r))
	}

	r = callTool(t, srv, "get_node", map[string]any{"id": 9999})
	if !r.IsError || !strings.Contains(resultText(r), "not found") {
		t.Errorf("missing node = %q", resultText(r))
	}
}

func TestRescanAndRepositories(t *testing.T) {
	srv := testServer(t)

	if r := callTool(t, srv, "list_repositories", map[string]any{}); !strings.Contains(resultText(r), `"name": "files"`) {
		t.Errorf("repositories = %q", resultText(r))
	}
	if r := callTool(t, srv, "rescan", map[string]any{"repository": "files"}); r.IsError {
		t.Errorf("rescan = %q", resultText(r))
	}
	if r := callTool(t, srv, "rescan", map[string]any{"repository": "ghost"}); !r.IsError {
		t.Error("unknown repository should fail")
	}
}

func TestQuerySyntax(t *testing.T) {
	srv := testServer(t)
	if text := resultText(callTool(t, srv, "get_query_syntax", nil)); !strings.Contains(text, "derivedfrom") {
		t.Errorf("syntax = %q", text)
	}
}
