package models

import (
	"encoding/json"
	"maps"
	"slices"
	"strconv"
)

// Well-known attribute keys.
const (
	AttrTitle       = "title"
	AttrArtists     = "artists"
	AttrAlbum       = "album"
	AttrGenres      = "genres"
	AttrYear        = "year"
	AttrTrack       = "originalTrackNumber"
	AttrDate        = "date"
	AttrDescription = "description"
	AttrDuration    = "duration"
	AttrResolution  = "resolution"
	AttrMimeType    = "mimeType"
	AttrSize        = "size"
	AttrAlbumArtURI = "albumArtURI"
	AttrResources   = "resources"

	// AttrContentVersion overrides the content time as the version a
	// repository compares on rescans.
	AttrContentVersion = "contentVersion"
)

// Attributes is the open descriptive metadata map of a node.
type Attributes map[string]any

// Clone returns a copy of a; slice values are copied, other values are shared.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		switch t := v.(type) {
		case []string:
			out[k] = slices.Clone(t)
		case []any:
			out[k] = slices.Clone(t)
		case []Resource:
			out[k] = slices.Clone(t)
		default:
			out[k] = v
		}
	}
	return out
}

// Has reports whether key is present with a non-empty value.
func (a Attributes) Has(key string) bool {
	v, ok := a[key]
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case string:
		return t != ""
	case []string:
		return len(t) > 0
	case []any:
		return len(t) > 0
	case []Resource:
		return len(t) > 0
	}
	return true
}

// String returns the string value of key, or "".
func (a Attributes) String(key string) string {
	switch t := a[key].(type) {
	case string:
		return t
	case []string:
		if len(t) > 0 {
			return t[0]
		}
	case []any:
		if len(t) > 0 {
			if s, ok := t[0].(string); ok {
				return s
			}
		}
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}

// Strings returns the list value of key. A scalar string yields a one-element list.
func (a Attributes) Strings(key string) []string {
	switch t := a[key].(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []string:
		return slices.Clone(t)
	case []any:
		out := make([]string, 0, len(t))
		for _, v := range t {
			if s, ok := v.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Int returns the integer value of key. JSON-decoded numbers are accepted.
func (a Attributes) Int(key string) (int64, bool) {
	switch t := a[key].(type) {
	case int:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		return int64(t), true
	case json.Number:
		v, err := t.Int64()
		return v, err == nil
	case string:
		v, err := strconv.ParseInt(t, 10, 64)
		return v, err == nil
	}
	return 0, false
}

// Resources returns the resource descriptors, decoding the generic form
// produced by document backends when needed.
func (a Attributes) Resources() []Resource {
	switch t := a[AttrResources].(type) {
	case nil:
		return nil
	case []Resource:
		return slices.Clone(t)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return nil
		}
		var out []Resource
		if err := json.Unmarshal(data, &out); err != nil {
			return nil
		}
		return out
	}
}

// Keys returns the attribute keys in sorted order.
func (a Attributes) Keys() []string {
	return slices.Sorted(maps.Keys(a))
}

// Resource describes one resolvable representation of an item.
type Resource struct {
	URL        string `json:"url,omitempty"`
	MimeType   string `json:"mimeType,omitempty"`
	Size       int64  `json:"size,omitempty"`
	Duration   string `json:"duration,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	Bitrate    int    `json:"bitrate,omitempty"`
}

// Merge fills the zero fields of r from other.
func (r Resource) Merge(other Resource) Resource {
	if r.URL == "" {
		r.URL = other.URL
	}
	if r.MimeType == "" {
		r.MimeType = other.MimeType
	}
	if r.Size == 0 {
		r.Size = other.Size
	}
	if r.Duration == "" {
		r.Duration = other.Duration
	}
	if r.Resolution == "" {
		r.Resolution = other.Resolution
	}
	if r.Bitrate == 0 {
		r.Bitrate = other.Bitrate
	}
	return r
}
