// Package parser extracts catalog attributes from sidecar metadata files,
// media file names and curated list documents.
package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/mediacat/internal/models"
)

var tagRe = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)

// Sidecar keys and the attribute each one fills. Both singular and plural
// spellings are accepted for list attributes.
var sidecarKeys = map[string]string{
	"title":       models.AttrTitle,
	"artist":      models.AttrArtists,
	"artists":     models.AttrArtists,
	"album":       models.AttrAlbum,
	"genre":       models.AttrGenres,
	"genres":      models.AttrGenres,
	"year":        models.AttrYear,
	"date":        models.AttrDate,
	"track":       models.AttrTrack,
	"description": models.AttrDescription,
	"duration":    models.AttrDuration,
	"albumArt":    models.AttrAlbumArtURI,
}

var listAttrs = map[string]bool{
	models.AttrArtists: true,
	models.AttrGenres:  true,
}

// ParseSidecar decodes a metadata sidecar. name selects the format: ".md"
// files carry YAML frontmatter followed by a free-text description (inline
// #tags become genres); anything else is plain YAML. Invalid frontmatter
// degrades to a description-only result.
func ParseSidecar(name string, data []byte) (models.Attributes, error) {
	if strings.HasSuffix(name, ".md") {
		fm, body := splitFrontmatter(data)
		attrs := toAttributes(fm)
		if _, ok := attrs[models.AttrTitle]; !ok {
			if title := headingTitle(body); title != "" {
				attrs[models.AttrTitle] = title
			}
		}
		if desc := strings.TrimSpace(stripHeading(body)); desc != "" {
			if _, ok := attrs[models.AttrDescription]; !ok {
				attrs[models.AttrDescription] = desc
			}
		}
		if tags := extractTags(body); len(tags) > 0 {
			attrs[models.AttrGenres] = appendUnique(attrs.Strings(models.AttrGenres), tags...)
		}
		return attrs, nil
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parser: sidecar %s: %w", name, err)
	}
	return toAttributes(raw), nil
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the body. Without valid frontmatter the whole content is body.
func splitFrontmatter(data []byte) (map[string]any, string) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data)
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data)
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]any
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		return nil, string(data)
	}
	return fm, body
}

func toAttributes(raw map[string]any) models.Attributes {
	attrs := models.Attributes{}
	for key, v := range raw {
		attr, ok := sidecarKeys[key]
		if !ok || v == nil {
			continue
		}
		if listAttrs[attr] {
			if list := stringList(v); len(list) > 0 {
				attrs[attr] = appendUnique(attrs.Strings(attr), list...)
			}
			continue
		}
		switch t := v.(type) {
		case string:
			if t = strings.TrimSpace(t); t != "" {
				attrs[attr] = t
			}
		case int:
			attrs[attr] = int64(t)
		case float64:
			attrs[attr] = strconv.FormatFloat(t, 'f', -1, 64)
		default:
			attrs[attr] = fmt.Sprint(t)
		}
	}
	return attrs
}

// stringList accepts a scalar, a YAML sequence or a ";"-separated string.
func stringList(v any) []string {
	var out []string
	switch t := v.(type) {
	case string:
		for _, s := range strings.Split(t, ";") {
			out = appendUnique(out, strings.TrimSpace(s))
		}
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = appendUnique(out, strings.TrimSpace(s))
			}
		}
	}
	return out
}

func appendUnique(list []string, values ...string) []string {
	for _, v := range values {
		if v == "" {
			continue
		}
		dup := false
		for _, s := range list {
			if s == v {
				dup = true
				break
			}
		}
		if !dup {
			list = append(list, v)
		}
	}
	return list
}

// extractTags collects inline #tags from body, deduplicated in order.
func extractTags(body string) []string {
	var out []string
	for _, m := range tagRe.FindAllStringSubmatch(body, -1) {
		out = appendUnique(out, m[1])
	}
	return out
}

// headingTitle returns the first H1 heading of body.
func headingTitle(body string) string {
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}

func stripHeading(body string) string {
	lines := strings.Split(body, "\n")
	out := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "# ") {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
