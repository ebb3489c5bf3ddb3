package parser

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/starford/mediacat/internal/models"
)

var trackPrefixRe = regexp.MustCompile(`^(\d{1,3})\s*(?:[-.]\s*|\s+)`)

// ParseFilename derives attributes from a media file name of the forms
// "Title.ext", "Artist - Title.ext" and "07 - Artist - Title.ext".
func ParseFilename(name string) models.Attributes {
	stem := strings.TrimSpace(strings.TrimSuffix(name, filepath.Ext(name)))
	attrs := models.Attributes{}

	if m := trackPrefixRe.FindStringSubmatch(stem); m != nil && len(m[0]) < len(stem) {
		if n, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			attrs[models.AttrTrack] = n
		}
		stem = stem[len(m[0]):]
	}

	if artist, title, ok := strings.Cut(stem, " - "); ok {
		artist, title = strings.TrimSpace(artist), strings.TrimSpace(title)
		if artist != "" && title != "" {
			attrs[models.AttrArtists] = []string{artist}
			attrs[models.AttrTitle] = title
			return attrs
		}
	}
	if stem != "" {
		attrs[models.AttrTitle] = stem
	}
	return attrs
}
