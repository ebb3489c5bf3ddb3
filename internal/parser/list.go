package parser

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/mediacat/internal/models"
)

// List is a curated list document.
type List struct {
	Title   string      `yaml:"title"`
	Entries []ListEntry `yaml:"entries"`
}

// ListEntry is one remote resource of a curated list.
type ListEntry struct {
	Title    string   `yaml:"title"`
	URL      string   `yaml:"url"`
	MimeType string   `yaml:"mimeType"`
	Artists  []string `yaml:"artists"`
	Genres   []string `yaml:"genres"`
	Album    string   `yaml:"album"`
	Duration string   `yaml:"duration"`
	Size     int64    `yaml:"size"`
	// Version changes when the entry's content changes; empty means the
	// list file's own modification time is used.
	Version string `yaml:"version"`
}

// ParseList decodes a curated list. Entries without a URL are rejected.
func ParseList(data []byte) (*List, error) {
	var l List
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parser: list: %w", err)
	}
	seen := make(map[string]bool, len(l.Entries))
	for i, e := range l.Entries {
		if strings.TrimSpace(e.URL) == "" {
			return nil, fmt.Errorf("parser: list entry %d: missing url", i)
		}
		if seen[e.URL] {
			return nil, fmt.Errorf("parser: list entry %d: duplicate url %s", i, e.URL)
		}
		seen[e.URL] = true
	}
	return &l, nil
}

// Attributes returns the catalog attributes of e.
func (e ListEntry) Attributes() models.Attributes {
	attrs := models.Attributes{}
	title := e.Title
	if title == "" {
		title = e.URL
	}
	attrs[models.AttrTitle] = title
	if e.MimeType != "" {
		attrs[models.AttrMimeType] = e.MimeType
	}
	if artists := appendUnique(nil, e.Artists...); len(artists) > 0 {
		attrs[models.AttrArtists] = artists
	}
	if genres := appendUnique(nil, e.Genres...); len(genres) > 0 {
		attrs[models.AttrGenres] = genres
	}
	if e.Album != "" {
		attrs[models.AttrAlbum] = e.Album
	}
	if e.Duration != "" {
		attrs[models.AttrDuration] = e.Duration
	}
	if e.Size > 0 {
		attrs[models.AttrSize] = e.Size
	}
	return attrs
}
