// Package lock provides named per-entity FIFO locks used to make multi-step
// catalog mutations atomic with respect to each other.
package lock

import (
	"context"
	"fmt"
	"sync"

	"github.com/starford/mediacat/internal/models"
)

// Resource names the part of a node a sequence reads then writes.
type Resource string

const (
	Children        Resource = "children"
	Links           Resource = "links"
	ChildrenByTitle Resource = "childrenByTitle"
	Scanner         Resource = "scanner"
	DB              Resource = "db"
)

// Key is a composite lock key.
type Key struct {
	ID       models.NodeID
	Resource Resource
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.ID, k.Resource)
}

// queue is the wait list of one held key. A key present in Locker.queues is held.
type queue struct {
	waiters []chan struct{}
}

// Locker serializes holders of the same Key in FIFO acquisition order.
// Holders of different keys never wait on each other.
type Locker struct {
	mu     sync.Mutex
	queues map[Key]*queue
	held   map[models.NodeID]int
}

// New returns an empty Locker.
func New() *Locker {
	return &Locker{
		queues: make(map[Key]*queue),
		held:   make(map[models.NodeID]int),
	}
}

// Take acquires key, waiting behind earlier holders. The returned release
// function hands the key to the next waiter; it is safe to call once.
func (l *Locker) Take(ctx context.Context, key Key) (func(), error) {
	l.mu.Lock()
	q, busy := l.queues[key]
	if !busy {
		l.queues[key] = &queue{}
		l.held[key.ID]++
		l.mu.Unlock()
		return l.releaser(key), nil
	}
	ch := make(chan struct{})
	q.waiters = append(q.waiters, ch)
	l.mu.Unlock()

	select {
	case <-ch:
		return l.releaser(key), nil
	case <-ctx.Done():
	}

	l.mu.Lock()
	if q, ok := l.queues[key]; ok {
		for i, w := range q.waiters {
			if w == ch {
				q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
				l.mu.Unlock()
				return nil, ctx.Err()
			}
		}
	}
	l.mu.Unlock()

	// The key was handed over while we were giving up: pass it on.
	l.leave(key)
	return nil, ctx.Err()
}

// Do runs fn while holding key.
func (l *Locker) Do(ctx context.Context, key Key, fn func(ctx context.Context) error) error {
	release, err := l.Take(ctx, key)
	if err != nil {
		return fmt.Errorf("lock: take %s: %w", key, err)
	}
	defer release()
	return fn(ctx)
}

// Held reports whether any resource of id is currently held.
func (l *Locker) Held(id models.NodeID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[id] > 0
}

// Waiting returns the number of sequences queued behind key.
func (l *Locker) Waiting(key Key) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if q, ok := l.queues[key]; ok {
		return len(q.waiters)
	}
	return 0
}

func (l *Locker) releaser(key Key) func() {
	var once sync.Once
	return func() { once.Do(func() { l.leave(key) }) }
}

func (l *Locker) leave(key Key) {
	l.mu.Lock()
	defer l.mu.Unlock()
	q, ok := l.queues[key]
	if !ok {
		return
	}
	if len(q.waiters) > 0 {
		next := q.waiters[0]
		q.waiters = q.waiters[1:]
		close(next)
		return
	}
	delete(l.queues, key)
	if l.held[key.ID]--; l.held[key.ID] <= 0 {
		delete(l.held, key.ID)
	}
}
