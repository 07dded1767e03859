// Package aggregate holds the session-keyed cache shared by the profile services:
// the cached snapshot, the loading flag, the last error, the per-instance operation
// guard and the generation counter that lets a newer load supersede an older one.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jakechorley/volunteer-hub/pkg/session"
)

// DefaultTimeout bounds a single load or mutation when none is configured
const DefaultTimeout = 15 * time.Second

var (
	// ErrStaleLoad is returned when the identity changed while an operation was in flight.
	// The operation's result was discarded.
	ErrStaleLoad = errors.New("identity changed while the operation was in flight")
	// ErrNoIdentity is returned by mutations when nobody is signed in
	ErrNoIdentity = errors.New("no signed-in identity")
)

// Snapshot is implemented by the cached aggregate types
type Snapshot[S any] interface {
	Clone() S
}

// Status describes the cache independently of its contents
type Status struct {
	Identity *session.Identity
	Loaded   bool
	Loading  bool
	Err      error
}

// Cache holds one identity's aggregate. Loads and mutations are serialised by a
// context-aware guard; each load gets a generation and only the latest one may commit.
type Cache[S Snapshot[S]] struct {
	sem     chan struct{}
	timeout time.Duration

	mu         sync.RWMutex
	generation uint64
	cancel     context.CancelFunc
	identity   *session.Identity
	snapshot   S
	loaded     bool
	loading    bool
	err        error
}

// New creates an empty cache. A zero timeout uses DefaultTimeout.
func New[S Snapshot[S]](timeout time.Duration) *Cache[S] {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Cache[S]{
		sem:     make(chan struct{}, 1),
		timeout: timeout,
	}
}

// Begin starts a new load generation for identity. The previous load is cancelled,
// the cached snapshot dropped and the loading flag set when identity is non-nil.
// The returned context is cancelled when a newer generation begins.
func (c *Cache[S]) Begin(ctx context.Context, identity *session.Identity) (context.Context, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	c.generation++
	loadCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	var zero S
	c.identity = identity.Clone()
	c.snapshot = zero
	c.loaded = false
	c.loading = identity != nil
	c.err = nil

	// Nothing will load without an identity
	if identity == nil {
		c.release()
	}

	return loadCtx, c.generation
}

// Acquire waits for the aggregate's operation guard. The returned func releases it.
func (c *Cache[S]) Acquire(ctx context.Context) (func(), error) {
	select {
	case c.sem <- struct{}{}:
		return func() { <-c.sem }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to acquire aggregate: %w", ctx.Err())
	}
}

// WithTimeout bounds a remote operation by the configured timeout
func (c *Cache[S]) WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// Current returns the current generation and identity, for mutations to check before committing
func (c *Cache[S]) Current() (uint64, *session.Identity) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation, c.identity.Clone()
}

// Commit publishes a completed load. Results from a superseded generation are discarded.
func (c *Cache[S]) Commit(gen uint64, snapshot S) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		return ErrStaleLoad
	}
	c.snapshot = snapshot
	c.loaded = true
	c.loading = false
	c.err = nil
	c.release()
	return nil
}

// Fail records a failed load and returns err, or ErrStaleLoad if the load was superseded
func (c *Cache[S]) Fail(gen uint64, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		return ErrStaleLoad
	}
	var zero S
	c.snapshot = zero
	c.loaded = false
	c.loading = false
	c.err = err
	c.release()
	return err
}

// Mutate applies fn to the cached snapshot and clears the recorded error.
// It fails with ErrStaleLoad if the generation moved on since gen was read.
func (c *Cache[S]) Mutate(gen uint64, fn func(*S)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		return ErrStaleLoad
	}
	fn(&c.snapshot)
	c.err = nil
	return nil
}

// Record stores a mutation failure as the current error and returns it.
// The snapshot is left untouched.
func (c *Cache[S]) Record(gen uint64, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen == c.generation {
		c.err = err
	}
	return err
}

// View returns a deep copy of the snapshot along with the cache status
func (c *Cache[S]) View() (S, Status) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.snapshot.Clone(), Status{
		Identity: c.identity.Clone(),
		Loaded:   c.loaded,
		Loading:  c.loading,
		Err:      c.err,
	}
}

// release drops the cancel func of a finished load. Callers hold c.mu.
func (c *Cache[S]) release() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}
