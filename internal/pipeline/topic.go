// Package pipeline implements the priority-ordered enrichment bus that
// repositories and content-type handlers use to cooperate without knowing
// about each other.
package pipeline

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/starford/mediacat/internal/metrics"
)

// Handler processes one published event. name is the concrete event name
// the publisher used (e.g. "audio/mpeg").
type Handler[E any] func(ctx context.Context, name string, event E) error

type subscription[E any] struct {
	seq      uint64
	pattern  string
	priority int
	label    string
	fn       Handler[E]
}

// Topic is a typed event channel. Subscribers register with a pattern and a
// priority; Publish runs every matching handler sequentially.
type Topic[E any] struct {
	name string

	mu   sync.RWMutex
	subs []*subscription[E]
	seq  uint64
}

// NewTopic returns an empty topic.
func NewTopic[E any](name string) *Topic[E] {
	return &Topic[E]{name: name}
}

// Name returns the topic name.
func (t *Topic[E]) Name() string { return t.name }

// Subscribe registers fn for events matching pattern: an exact name, a
// "type/*" prefix or "*". Lower priorities run first; equal priorities run
// in subscription order. label identifies the handler in errors. The
// returned func removes the subscription.
func (t *Topic[E]) Subscribe(pattern string, priority int, label string, fn Handler[E]) func() {
	t.mu.Lock()
	t.seq++
	s := &subscription[E]{seq: t.seq, pattern: pattern, priority: priority, label: label, fn: fn}
	t.subs = append(t.subs, s)
	slices.SortStableFunc(t.subs, func(a, b *subscription[E]) int {
		if c := cmp.Compare(a.priority, b.priority); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			t.subs = slices.DeleteFunc(t.subs, func(x *subscription[E]) bool { return x == s })
		})
	}
}

// Publish runs the handlers matching name in priority order. The first
// failure stops the chain and is returned; effects of earlier handlers are
// kept.
func (t *Topic[E]) Publish(ctx context.Context, name string, event E) error {
	for _, s := range t.matching(name) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.fn(ctx, name, event); err != nil {
			metrics.RecordPipelineError(t.name)
			return fmt.Errorf("pipeline: %s:%s: %s: %w", t.name, name, s.label, err)
		}
	}
	return nil
}

// Handlers returns the labels of the handlers that would run for name, in
// order.
func (t *Topic[E]) Handlers(name string) []string {
	subs := t.matching(name)
	out := make([]string, len(subs))
	for i, s := range subs {
		out[i] = s.label
	}
	return out
}

func (t *Topic[E]) matching(name string) []*subscription[E] {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*subscription[E]
	for _, s := range t.subs {
		if Match(s.pattern, name) {
			out = append(out, s)
		}
	}
	return out
}

// Match reports whether an event name satisfies a subscription pattern.
func Match(pattern, name string) bool {
	switch {
	case pattern == "*":
		return true
	case strings.HasSuffix(pattern, "/*"):
		return strings.HasPrefix(name, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == name
}
