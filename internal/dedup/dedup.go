// Package dedup coalesces concurrent identical requests so that only one
// execution reaches the upstream and every caller shares its outcome.
package dedup

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"outbound-pool/internal/common/errors"
)

// Config controls which requests are coalesced
type Config struct {
	Enabled bool `yaml:"enabled"`
	// Methods eligible for coalescing. Empty means GET, HEAD and OPTIONS.
	Methods []string `yaml:"methods"`
}

// DefaultConfig enables coalescing for read-style methods
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Methods: []string{"GET", "HEAD", "OPTIONS"},
	}
}

type entry struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
	// canceled is set once every waiter left; the execution may still be
	// unwinding until done is closed
	canceled bool
	done     chan struct{}
}

// Deduplicator tracks in-flight executions by key
type Deduplicator[T any] struct {
	enabled bool
	methods map[string]struct{}

	group   singleflight.Group
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates a Deduplicator
func New[T any](config Config) *Deduplicator[T] {
	methods := config.Methods
	if len(methods) == 0 {
		methods = DefaultConfig().Methods
	}

	d := &Deduplicator[T]{
		enabled: config.Enabled,
		methods: make(map[string]struct{}, len(methods)),
		entries: make(map[string]*entry),
	}
	for _, m := range methods {
		d.methods[strings.ToUpper(m)] = struct{}{}
	}
	return d
}

// Eligible reports whether requests with method are coalesced by default
func (d *Deduplicator[T]) Eligible(method string) bool {
	if !d.enabled {
		return false
	}
	_, ok := d.methods[strings.ToUpper(method)]
	return ok
}

// InFlight returns the number of keys with an execution that has not settled
func (d *Deduplicator[T]) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Coordinate runs exec once per key across concurrent callers.
//
// The first caller for a key starts exec on a context detached from its own
// cancellation; later callers attach and receive the same value and error.
// joined is true for callers that attached to an existing execution. With
// noWait, an attaching caller gets a dedup_wait error immediately.
//
// A caller whose ctx ends stops waiting and gets ctx.Err(). The shared
// execution is canceled only once every attached caller has stopped waiting,
// and the key stays taken until it has settled: a caller arriving in between
// waits for it and then starts a fresh execution.
func (d *Deduplicator[T]) Coordinate(
	ctx context.Context,
	key string,
	noWait bool,
	exec func(ctx context.Context) (T, error),
) (value T, joined bool, err error) {
	d.mu.Lock()

	var e *entry
	for {
		e, joined = d.entries[key]
		if !joined || !e.canceled {
			break
		}
		done := e.done
		d.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return value, false, ctx.Err()
		}
		d.mu.Lock()
	}

	if joined && noWait {
		d.mu.Unlock()
		return value, true, errors.DeduplicatedWaitError(key)
	}

	if !joined {
		sharedCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		e = &entry{ctx: sharedCtx, cancel: cancel, done: make(chan struct{})}
		d.entries[key] = e
	}
	e.waiters++

	// DoChan is called under d.mu, and the owner's settlement removes the entry
	// under d.mu before singleflight publishes results, so an entry present in
	// the map always has a live singleflight call to attach to.
	ch := d.group.DoChan(key, func() (interface{}, error) {
		defer d.release(key, e)
		return exec(e.ctx)
	})
	d.mu.Unlock()

	select {
	case res := <-ch:
		if v, ok := res.Val.(T); ok {
			value = v
		}
		return value, joined, res.Err
	case <-ctx.Done():
		d.detach(e)
		return value, joined, ctx.Err()
	}
}

// release removes the entry once its execution settled
func (d *Deduplicator[T]) release(key string, e *entry) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.entries[key] == e {
		delete(d.entries, key)
		d.group.Forget(key)
	}
	e.cancel()
	close(e.done)
}

// detach drops one waiter. The last one out cancels the shared execution; the
// entry stays in place until release so the key never runs twice at once.
func (d *Deduplicator[T]) detach(e *entry) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e.waiters--
	if e.waiters > 0 {
		return
	}
	e.canceled = true
	e.cancel()
}
