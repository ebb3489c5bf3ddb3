package didl

import (
	"log/slog"
	"strings"
)

type filterKey struct {
	ns, element, attr string
}

// Filter selects optional properties of serialized objects. The zero value
// admits nothing; use ParseFilter.
type Filter struct {
	all      bool
	tokens   map[filterKey]struct{}
	elements map[filterKey]struct{}
}

// All is a filter admitting every property.
var All = Filter{all: true}

// ParseFilter parses a comma-separated list of "prefix:element[@attr]" or
// "@attr" tokens. "*" or an empty expression admits everything. Prefixes are
// resolved through DefaultNamespaces and extra; tokens with unknown prefixes
// are dropped.
func ParseFilter(expr string, extra map[string]string, logger *slog.Logger) Filter {
	expr = strings.TrimSpace(expr)
	if expr == "" || expr == "*" {
		return All
	}

	f := Filter{
		tokens:   make(map[filterKey]struct{}),
		elements: make(map[filterKey]struct{}),
	}
	for _, tok := range strings.Split(expr, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if tok == "*" {
			return All
		}
		name, attr, _ := strings.Cut(tok, "@")
		var ns, element string
		if name == "" {
			ns = NSDIDL
		} else {
			prefix, local, ok := strings.Cut(name, ":")
			if !ok {
				prefix, local = "", name
			}
			uri, known := extra[prefix]
			if !known {
				uri, known = DefaultNamespaces[prefix]
			}
			if !known {
				if logger != nil {
					logger.Warn("didl: unknown filter prefix", slog.String("token", tok), slog.String("prefix", prefix))
				}
				continue
			}
			ns, element = uri, local
		}
		f.tokens[filterKey{ns, element, attr}] = struct{}{}
		f.elements[filterKey{ns, element, ""}] = struct{}{}
	}
	return f
}

// Admits reports whether the element (attr == "") or the attribute of an
// element is selected. An element is selected when any token names it.
func (f Filter) Admits(ns, element, attr string) bool {
	if f.all {
		return true
	}
	if attr == "" {
		_, ok := f.elements[filterKey{ns, element, ""}]
		return ok
	}
	_, ok := f.tokens[filterKey{ns, element, attr}]
	return ok
}

// IsAll reports whether f admits everything.
func (f Filter) IsAll() bool { return f.all }
