// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the media catalog to LLM clients via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/mediacat/internal/apperr"
	"github.com/starford/mediacat/internal/browse"
	"github.com/starford/mediacat/internal/library"
	"github.com/starford/mediacat/internal/models"
)

const (
	syntaxURI    = "mediacat://query-syntax"
	defaultCount = 50
)

// Catalog is the part of the library the tools use.
type Catalog interface {
	Browse(ctx context.Context, req browse.Request) (*browse.Result, error)
	Search(ctx context.Context, req browse.SearchRequest) (*browse.Result, error)
	GetNode(ctx context.Context, id models.NodeID) (*library.NodeDetail, error)
	Rescan(ctx context.Context, name string) error
	Repositories() []library.RepositoryInfo
	SystemUpdateID() uint64
}

// Server wraps the MCP server with catalog tools.
type Server struct {
	mcp *server.MCPServer
	svc Catalog
}

// New creates a new MCP server with all catalog tools registered.
func New(svc Catalog, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"mediacat",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("browse_catalog",
		mcp.WithDescription("List the children of a catalog container, or return the metadata of one object. "+
			"The root container has id 0."),
		mcp.WithNumber("id", mcp.Description("Object id (default 0, the root)")),
		mcp.WithString("mode", mcp.Description("children (default) or metadata"), mcp.Enum("children", "metadata")),
		mcp.WithString("sort", mcp.Description("Sort criteria, e.g. +dc:title")),
		mcp.WithNumber("start", mcp.Description("Index of the first child to return")),
		mcp.WithNumber("count", mcp.Description("Maximum number of children (default 50)")),
	), s.browseCatalog)

	s.mcp.AddTool(mcp.NewTool("search_catalog",
		mcp.WithDescription("Search everything below a container with a criteria expression. "+
			"Read the syntax via the get_query_syntax tool or the "+syntaxURI+" resource."),
		mcp.WithString("criteria", mcp.Required(), mcp.Description(`Criteria, e.g. upnp:artist = "Miles Davis"`)),
		mcp.WithNumber("container", mcp.Description("Container id (default 0, the root)")),
		mcp.WithString("sort", mcp.Description("Sort criteria, e.g. -dc:date")),
		mcp.WithNumber("start", mcp.Description("Index of the first match to return")),
		mcp.WithNumber("count", mcp.Description("Maximum number of matches (default 50)")),
	), s.searchCatalog)

	s.mcp.AddTool(mcp.NewTool("get_node",
		mcp.WithDescription("Return the raw stored state of a node: attributes, children, reference and content location."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Node id")),
	), s.getNode)

	s.mcp.AddTool(mcp.NewTool("list_repositories",
		mcp.WithDescription("List the configured repositories and where they are mounted."),
	), s.listRepositories)

	s.mcp.AddTool(mcp.NewTool("rescan",
		mcp.WithDescription("Rescan one repository, or all of them, and return the new system update id."),
		mcp.WithString("repository", mcp.Description("Repository name (empty for all)")),
	), s.rescan)

	s.mcp.AddTool(mcp.NewTool("get_query_syntax",
		mcp.WithDescription("Returns the search and sort criteria syntax."),
	), s.getQuerySyntax)

	s.mcp.AddResource(
		mcp.NewResource(syntaxURI, "Query Syntax",
			mcp.WithResourceDescription("Search criteria and sort criteria syntax of the catalog."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readSyntaxResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func errorResult(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrDanglingReference):
		return mcp.NewToolResultError(fmt.Sprintf("not found: %v", err))
	case errors.Is(err, apperr.ErrInvalidArgument):
		return mcp.NewToolResultError(fmt.Sprintf("invalid argument: %v", err))
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) browseCatalog(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mode, err := browse.ParseMode(req.GetString("mode", ""))
	if err != nil {
		return errorResult(err), nil
	}
	res, err := s.svc.Browse(ctx, browse.Request{
		ObjectID:       models.NodeID(req.GetInt("id", 0)),
		Mode:           mode,
		StartIndex:     req.GetInt("start", 0),
		RequestedCount: req.GetInt("count", defaultCount),
		SortCriteria:   req.GetString("sort", ""),
		Filter:         "*",
	})
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res)
}

func (s *Server) searchCatalog(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	criteria, err := req.RequireString("criteria")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.Search(ctx, browse.SearchRequest{
		ContainerID:    models.NodeID(req.GetInt("container", 0)),
		Criteria:       criteria,
		StartIndex:     req.GetInt("start", 0),
		RequestedCount: req.GetInt("count", defaultCount),
		SortCriteria:   req.GetString("sort", ""),
		Filter:         "*",
	})
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res)
}

func (s *Server) getNode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireInt("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	node, err := s.svc.GetNode(ctx, models.NodeID(id))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(node)
}

func (s *Server) listRepositories(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.Repositories())
}

func (s *Server) rescan(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.svc.Rescan(ctx, req.GetString("repository", "")); err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("rescanned; system update id %d", s.svc.SystemUpdateID())), nil
}

func (s *Server) getQuerySyntax(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(SearchSyntax), nil
}

func (s *Server) readSyntaxResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      syntaxURI,
			MIMEType: "text/markdown",
			Text:     SearchSyntax,
		},
	}, nil
}
