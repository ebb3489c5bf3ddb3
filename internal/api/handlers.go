package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/mediacat/internal/apperr"
	"github.com/starford/mediacat/internal/browse"
	"github.com/starford/mediacat/internal/library"
	"github.com/starford/mediacat/internal/models"
)

// Catalog is the part of the library the HTTP surface needs.
type Catalog interface {
	Browse(ctx context.Context, req browse.Request) (*browse.Result, error)
	Search(ctx context.Context, req browse.SearchRequest) (*browse.Result, error)
	GetNode(ctx context.Context, id models.NodeID) (*library.NodeDetail, error)
	Content(ctx context.Context, id models.NodeID) (*library.Content, error)
	Rescan(ctx context.Context, name string) error
	Repositories() []library.RepositoryInfo
	SystemUpdateID() uint64
}

// Handler holds API route handlers.
type Handler struct {
	svc Catalog
}

// NewHandler creates a new Handler.
func NewHandler(svc Catalog) *Handler {
	return &Handler{svc: svc}
}

func nodeID(r *http.Request) (models.NodeID, error) {
	id, err := models.ParseNodeID(chi.URLParam(r, "id"))
	if err != nil {
		return models.NoID, fmt.Errorf("%v: %w", err, apperr.ErrInvalidArgument)
	}
	return id, nil
}

// page reads start and count. Missing values are zero: from the first item,
// without limit.
func page(r *http.Request) (start, count int, err error) {
	q := r.URL.Query()
	for name, dst := range map[string]*int{"start": &start, "count": &count} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n < 0 {
			return 0, 0, fmt.Errorf("%s must be a non-negative integer: %w", name, apperr.ErrInvalidArgument)
		}
		*dst = n
	}
	return start, count, nil
}

// Browse handles GET /api/browse/{id}.
//
//	@Summary		Browse a node's metadata or its children
//	@Tags			catalog
//	@Produce		json
//	@Param			id				path		int		true	"Object id"
//	@Param			mode			query		string	false	"Browse mode"	Enums(children, metadata)
//	@Param			filter			query		string	false	"Comma-separated properties, * for all"
//	@Param			start			query		int		false	"Starting index"
//	@Param			count			query		int		false	"Requested count, 0 for all"
//	@Param			sort			query		string	false	"Sort criteria, e.g. +dc:title,-dc:date"
//	@Param			resolveLinks	query		bool	false	"List through aliases"
//	@Success		200				{object}	BrowseResponse
//	@Failure		400				{object}	errResponse
//	@Failure		404				{object}	errResponse
//	@Security		BearerAuth
//	@Router			/browse/{id} [get]
func (h *Handler) Browse(w http.ResponseWriter, r *http.Request) {
	id, err := nodeID(r)
	if err != nil {
		writeError(w, r, "browse", err)
		return
	}
	q := r.URL.Query()
	mode, err := browse.ParseMode(q.Get("mode"))
	if err != nil {
		writeError(w, r, "browse", err)
		return
	}
	start, count, err := page(r)
	if err != nil {
		writeError(w, r, "browse", err)
		return
	}
	resolve, _ := strconv.ParseBool(q.Get("resolveLinks"))

	res, err := h.svc.Browse(r.Context(), browse.Request{
		ObjectID:       id,
		Mode:           mode,
		Filter:         q.Get("filter"),
		StartIndex:     start,
		RequestedCount: count,
		SortCriteria:   q.Get("sort"),
		ResolveLinks:   resolve,
	})
	if err != nil {
		writeError(w, r, "browse", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Search handles GET /api/search/{id}.
//
//	@Summary		Search below a container
//	@Tags			catalog
//	@Produce		json
//	@Param			id		path		int		true	"Container id"
//	@Param			q		query		string	false	"Search criteria, * for everything"
//	@Param			filter	query		string	false	"Comma-separated properties, * for all"
//	@Param			start	query		int		false	"Starting index"
//	@Param			count	query		int		false	"Requested count, 0 for all"
//	@Param			sort	query		string	false	"Sort criteria"
//	@Success		200		{object}	BrowseResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search/{id} [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	id, err := nodeID(r)
	if err != nil {
		writeError(w, r, "search", err)
		return
	}
	start, count, err := page(r)
	if err != nil {
		writeError(w, r, "search", err)
		return
	}
	q := r.URL.Query()
	res, err := h.svc.Search(r.Context(), browse.SearchRequest{
		ContainerID:    id,
		Criteria:       q.Get("q"),
		Filter:         q.Get("filter"),
		StartIndex:     start,
		RequestedCount: count,
		SortCriteria:   q.Get("sort"),
	})
	if err != nil {
		writeError(w, r, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetNode handles GET /api/nodes/{id}.
//
//	@Summary		Get the raw state of a node
//	@Tags			catalog
//	@Produce		json
//	@Param			id	path		int	true	"Node id"
//	@Success		200	{object}	NodeDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/nodes/{id} [get]
func (h *Handler) GetNode(w http.ResponseWriter, r *http.Request) {
	id, err := nodeID(r)
	if err != nil {
		writeError(w, r, "get node", err)
		return
	}
	node, err := h.svc.GetNode(r.Context(), id)
	if err != nil {
		writeError(w, r, "get node", err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

// Repositories handles GET /api/repositories.
//
//	@Summary		List configured repositories
//	@Tags			catalog
//	@Produce		json
//	@Success		200	{object}	RepositoriesResponse
//	@Security		BearerAuth
//	@Router			/repositories [get]
func (h *Handler) Repositories(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, RepositoriesResponse{Repositories: h.svc.Repositories()})
}

// Rescan handles POST /api/rescan.
//
//	@Summary		Rescan one repository or all of them
//	@Tags			catalog
//	@Accept			json
//	@Produce		json
//	@Param			body	body		RescanRequest	false	"Repository to rescan"
//	@Success		200		{object}	RescanResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/rescan [post]
func (h *Handler) Rescan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req RescanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON"))
		return
	}
	if err := h.svc.Rescan(r.Context(), req.Repository); err != nil {
		writeError(w, r, "rescan", err)
		return
	}
	writeJSON(w, http.StatusOK, RescanResponse{SystemUpdateID: h.svc.SystemUpdateID()})
}

// Status handles GET /api/status.
//
//	@Summary		Catalog change counter
//	@Tags			catalog
//	@Produce		json
//	@Success		200	{object}	StatusResponse
//	@Security		BearerAuth
//	@Router			/status [get]
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		SystemUpdateID: h.svc.SystemUpdateID(),
		Repositories:   len(h.svc.Repositories()),
	})
}
