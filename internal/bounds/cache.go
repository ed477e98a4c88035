// Package bounds caches the active window's coordinate bounds. Resolving
// them means shelling out to an OS tool, so results are held for a TTL and
// concurrent misses share a single resolution.
package bounds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/demorec/demorec/internal/logging"
	"github.com/demorec/demorec/internal/screen"
)

// ErrNoBounds is returned when resolution fails and no previous entry
// exists to serve stale.
var ErrNoBounds = errors.New("no window bounds available")

// Resolver answers active-window queries against the OS.
type Resolver interface {
	ActiveWindow(ctx context.Context) (screen.Window, error)
	WindowBounds(ctx context.Context, w screen.Window) (screen.Rect, error)
}

const (
	DefaultTTL          = 2 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
)

// Cache holds the last resolved bounds together with the window identity
// they belong to.
//
// Invariant: at most one resolution is in flight at a time; concurrent
// callers await the shared result instead of issuing duplicate OS queries.
type Cache struct {
	resolver Resolver
	ttl      time.Duration
	poll     time.Duration
	log      *slog.Logger
	clock    func() time.Time

	sf singleflight.Group

	mu         sync.Mutex
	bounds     screen.Rect
	identity   string
	resolvedAt time.Time
	valid      bool
	// forced marks the entry stale ahead of its TTL (focus change seen by
	// the poller). The identity short-circuit clears it when the same
	// window turns out to still be active.
	forced bool
}

// Options configures a Cache.
type Options struct {
	Resolver     Resolver
	TTL          time.Duration // default 2s
	PollInterval time.Duration // default 500ms
	Logger       *slog.Logger
	Clock        func() time.Time // defaults to time.Now
}

// New returns an empty cache. Run starts the focus poller; GetBounds works
// without it, just with TTL-only freshness.
func New(opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Cache{
		resolver: opts.Resolver,
		ttl:      opts.TTL,
		poll:     opts.PollInterval,
		log:      opts.Logger,
		clock:    opts.Clock,
	}
}

// GetBounds returns the active window's bounds. Fresh cached values are
// served immediately; otherwise one resolution runs and every concurrent
// caller shares it. On resolver failure the previous entry is served
// stale, and ErrNoBounds is returned only when there is none.
func (c *Cache) GetBounds(ctx context.Context) (screen.Rect, error) {
	c.mu.Lock()
	if c.freshLocked() {
		b := c.bounds
		c.mu.Unlock()
		return b, nil
	}
	c.mu.Unlock()

	v, err, _ := c.sf.Do("bounds", func() (any, error) {
		return c.resolve(ctx)
	})
	if err != nil {
		return screen.Rect{}, err
	}
	return v.(screen.Rect), nil
}

// freshLocked reports whether the cached entry may be served without a
// resolution. Caller holds c.mu.
func (c *Cache) freshLocked() bool {
	return c.valid && !c.forced && c.clock().Sub(c.resolvedAt) < c.ttl
}

// resolve is the single-flight body: active window first, then its bounds.
// When the active window is identity-equal to the cached one and the entry
// is still inside the TTL, the bounds query is skipped and the cached
// value reused.
func (c *Cache) resolve(ctx context.Context) (screen.Rect, error) {
	win, err := c.resolver.ActiveWindow(ctx)
	if err != nil {
		return c.serveStale("resolve active window", err)
	}

	c.mu.Lock()
	if c.valid && win.Identity == c.identity && c.clock().Sub(c.resolvedAt) < c.ttl {
		c.forced = false
		b := c.bounds
		c.mu.Unlock()
		return b, nil
	}
	c.mu.Unlock()

	b, err := c.resolver.WindowBounds(ctx, win)
	if err != nil {
		return c.serveStale("query window bounds", err)
	}

	c.mu.Lock()
	c.bounds = b
	c.identity = win.Identity
	c.resolvedAt = c.clock()
	c.valid = true
	c.forced = false
	c.mu.Unlock()
	return b, nil
}

// serveStale falls back to the previous entry after a resolver failure.
func (c *Cache) serveStale(op string, cause error) (screen.Rect, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.valid {
		c.log.Warn("serving stale window bounds", "op", op, "error", cause)
		return c.bounds, nil
	}
	return screen.Rect{}, fmt.Errorf("%s: %v: %w", op, cause, ErrNoBounds)
}

// Invalidate marks the entry stale so the next GetBounds resolves fresh
// data. The entry itself is kept for the serve-stale path.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.forced = true
	c.mu.Unlock()
}

// Reset clears the cache entirely. Only called between sessions.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.valid = false
	c.forced = false
	c.identity = ""
	c.bounds = screen.Rect{}
	c.mu.Unlock()
}

// Run polls the active window identity until ctx is cancelled. When focus
// moves to a different window the entry is invalidated and re-resolved
// here, off the event hot path.
func (c *Cache) Run(ctx context.Context) {
	t := time.NewTicker(c.poll)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			win, err := c.resolver.ActiveWindow(ctx)
			if err != nil {
				c.log.Debug("focus poll failed", "error", err)
				continue
			}
			c.mu.Lock()
			changed := c.valid && win.Identity != c.identity
			c.mu.Unlock()
			if !changed {
				continue
			}
			c.Invalidate()
			if _, err := c.GetBounds(ctx); err != nil {
				c.log.Debug("focus-change refresh failed", "error", err)
			}
		}
	}
}
