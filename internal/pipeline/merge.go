package pipeline

import (
	"slices"

	"github.com/starford/mediacat/internal/models"
)

// MergeAttribute applies the enrichment merge policy to dst[key]:
//
//   - scalars: the first writer wins;
//   - string lists (artists, genres, ...): union in order, existing values first;
//   - resources: merged positionally, each slot keeping its first writer's fields.
func MergeAttribute(dst models.Attributes, key string, value any) {
	if value == nil {
		return
	}
	if key == models.AttrResources {
		mergeResources(dst, value)
		return
	}
	switch v := value.(type) {
	case []string:
		mergeStrings(dst, key, v)
		return
	case []any:
		list := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				list = append(list, s)
			}
		}
		mergeStrings(dst, key, list)
		return
	}
	if dst.Has(key) {
		return
	}
	dst[key] = value
}

func mergeStrings(dst models.Attributes, key string, add []string) {
	cur := dst.Strings(key)
	for _, s := range add {
		if s != "" && !slices.Contains(cur, s) {
			cur = append(cur, s)
		}
	}
	if len(cur) > 0 {
		dst[key] = cur
	}
}

func mergeResources(dst models.Attributes, value any) {
	var add []models.Resource
	switch v := value.(type) {
	case []models.Resource:
		add = v
	case models.Resource:
		add = []models.Resource{v}
	default:
		add = models.Attributes{models.AttrResources: v}.Resources()
	}
	cur := dst.Resources()
	for i, r := range add {
		if i < len(cur) {
			cur[i] = cur[i].Merge(r)
			continue
		}
		cur = append(cur, r)
	}
	if len(cur) > 0 {
		dst[models.AttrResources] = cur
	}
}

// MergePatch merges every key of patch into dst.
func MergePatch(dst, patch models.Attributes) {
	for _, k := range patch.Keys() {
		MergeAttribute(dst, k, patch[k])
	}
}
