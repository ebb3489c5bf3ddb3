package api

import (
	"net/http"
)

// Content handles GET and HEAD /content/{id}. Local files are streamed with
// Range support; remote resources are redirected to.
func (h *Handler) Content(w http.ResponseWriter, r *http.Request) {
	id, err := nodeID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c, err := h.svc.Content(r.Context(), id)
	if err != nil {
		writeError(w, r, "content", err)
		return
	}
	if c.RemoteURL != "" {
		http.Redirect(w, r, c.RemoteURL, http.StatusFound)
		return
	}

	f, err := c.Open()
	if err != nil {
		writeError(w, r, "content", err)
		return
	}
	defer f.Close()

	if c.MimeType != "" {
		w.Header().Set("Content-Type", c.MimeType)
	}
	w.Header().Set("Cache-Control", "private, max-age=3600")
	http.ServeContent(w, r, c.Name, c.ModTime, f)
}
