package api

import (
	"github.com/starford/mediacat/internal/browse"
	"github.com/starford/mediacat/internal/library"
)

// BrowseResponse is one page of serialized objects (aliased from the domain layer).
type BrowseResponse = browse.Result

// NodeDetail is the raw node response type (aliased from the domain layer).
type NodeDetail = library.NodeDetail

// RepositoryInfo describes a configured repository (aliased from the domain layer).
type RepositoryInfo = library.RepositoryInfo

// RepositoriesResponse wraps the repository listing.
type RepositoriesResponse struct {
	Repositories []RepositoryInfo `json:"repositories" validate:"required"`
}

// RescanRequest is the optional request body of a rescan. An empty
// repository rescans everything.
type RescanRequest struct {
	Repository string `json:"repository" example:"music"`
}

// RescanResponse reports the catalog state after a rescan.
type RescanResponse struct {
	SystemUpdateID uint64 `json:"systemUpdateId" example:"42" validate:"required"`
}

// StatusResponse reports the catalog-wide change counter.
type StatusResponse struct {
	SystemUpdateID uint64 `json:"systemUpdateId" example:"42" validate:"required"`
	Repositories   int    `json:"repositories" example:"2" validate:"required"`
}
