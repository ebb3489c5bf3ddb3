package browse

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/starford/mediacat/internal/apperr"
	"github.com/starford/mediacat/internal/models"
)

// SortKey is one term of a sort criteria expression.
type SortKey struct {
	Property   string
	Descending bool
}

// ParseSortCriteria parses "+dc:title,-upnp:artist". A term without a sign
// sorts ascending.
func ParseSortCriteria(expr string) ([]SortKey, error) {
	var keys []SortKey
	for _, term := range strings.Split(expr, ",") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		k := SortKey{}
		switch term[0] {
		case '-':
			k.Descending = true
			term = term[1:]
		case '+':
			term = term[1:]
		}
		term = strings.TrimSpace(term)
		if term == "" {
			return nil, fmt.Errorf("browse: sort criteria %q: empty property: %w", expr, apperr.ErrInvalidArgument)
		}
		k.Property = term
		keys = append(keys, k)
	}
	return keys, nil
}

// Sort orders nodes by keys. The sort is stable; nodes equal on every key
// keep their child order.
func Sort(nodes []*models.Node, keys []SortKey) {
	if len(keys) == 0 || len(nodes) < 2 {
		return
	}
	recs := make(map[*models.Node]*models.Record, len(nodes))
	for _, n := range nodes {
		r := n.Snapshot()
		recs[n] = &r
	}
	slices.SortStableFunc(nodes, func(a, b *models.Node) int {
		ra, rb := recs[a], recs[b]
		for _, k := range keys {
			c := compareValues(first(Values(ra, k.Property)), first(Values(rb, k.Property)), numeric[k.Property])
			if k.Descending {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})
}

// compareValues orders case-insensitively, breaking ties on the exact
// spelling. Numeric properties compare as numbers when both sides parse.
func compareValues(a, b string, isNumeric bool) int {
	if isNumeric {
		x, errA := strconv.ParseFloat(a, 64)
		y, errB := strconv.ParseFloat(b, 64)
		if errA == nil && errB == nil {
			return cmp.Compare(x, y)
		}
	}
	if c := strings.Compare(strings.ToLower(a), strings.ToLower(b)); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// Paginate returns the page of items starting at start (clamped to the
// length) holding at most count items; count <= 0 means no limit.
func Paginate[T any](items []T, start, count int) []T {
	start = min(max(start, 0), len(items))
	end := len(items)
	if count > 0 && count < end-start {
		end = start + count
	}
	return items[start:end]
}
