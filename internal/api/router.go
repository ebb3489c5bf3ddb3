package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc Catalog, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/browse/{id}", h.Browse)
	r.Get("/search/{id}", h.Search)
	r.Get("/nodes/{id}", h.GetNode)

	r.Get("/repositories", h.Repositories)
	r.Post("/rescan", h.Rescan)
	r.Get("/status", h.Status)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}

// NewContentRouter serves node content at /{id}. It is left outside the
// auth group: media renderers fetch the URLs handed out in res elements
// without credentials.
func NewContentRouter(svc Catalog) chi.Router {
	h := NewHandler(svc)
	r := chi.NewRouter()
	r.Get("/{id}", h.Content)
	r.Head("/{id}", h.Content)
	return r
}
