package bounds_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/demorec/demorec/internal/bounds"
	"github.com/demorec/demorec/internal/screen"
)

// fakeResolver counts calls and lets tests control results and blocking.
type fakeResolver struct {
	mu          sync.Mutex
	window      screen.Window
	bounds      screen.Rect
	windowErr   error
	boundsErr   error
	windowCalls atomic.Int64
	boundsCalls atomic.Int64

	// When set, the first WindowBounds call signals started and blocks
	// until release is closed.
	started chan struct{}
	release chan struct{}
	gated   atomic.Bool
}

func (f *fakeResolver) ActiveWindow(ctx context.Context) (screen.Window, error) {
	f.windowCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.windowErr != nil {
		return screen.Window{}, f.windowErr
	}
	return f.window, nil
}

func (f *fakeResolver) WindowBounds(ctx context.Context, w screen.Window) (screen.Rect, error) {
	f.boundsCalls.Add(1)
	if f.release != nil && f.gated.CompareAndSwap(false, true) {
		close(f.started)
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.boundsErr != nil {
		return screen.Rect{}, f.boundsErr
	}
	return f.bounds, nil
}

func (f *fakeResolver) set(w screen.Window, b screen.Rect) {
	f.mu.Lock()
	f.window = w
	f.bounds = b
	f.mu.Unlock()
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newCache(r bounds.Resolver, clock *fakeClock) *bounds.Cache {
	return bounds.New(bounds.Options{
		Resolver: r,
		TTL:      2 * time.Second,
		Clock:    clock.Now,
	})
}

// TestSingleFlight verifies that N concurrent GetBounds calls on a cold
// cache trigger exactly one underlying bounds query.
func TestSingleFlight(t *testing.T) {
	r := &fakeResolver{
		window:  screen.Window{Identity: "win-1"},
		bounds:  screen.Rect{X: 10, Y: 20, Width: 300, Height: 200},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	c := newCache(r, newFakeClock())

	const n = 10
	results := make(chan screen.Rect, n)
	errs := make(chan error, n)

	// First caller enters the resolver and blocks on release.
	go func() {
		b, err := c.GetBounds(context.Background())
		results <- b
		errs <- err
	}()
	<-r.started

	// The rest pile in while the resolution is in flight.
	for i := 1; i < n; i++ {
		go func() {
			b, err := c.GetBounds(context.Background())
			results <- b
			errs <- err
		}()
	}
	close(r.release)

	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("GetBounds: %v", err)
		}
		if b := <-results; b.Width != 300 {
			t.Fatalf("unexpected bounds %+v", b)
		}
	}

	if got := r.boundsCalls.Load(); got != 1 {
		t.Fatalf("expected exactly 1 bounds query, got %d", got)
	}
}

// TestTTLServesCached verifies no new query runs inside the TTL window and
// a fresh one runs after it expires.
func TestTTLServesCached(t *testing.T) {
	clock := newFakeClock()
	r := &fakeResolver{window: screen.Window{Identity: "win-1"}, bounds: screen.Rect{Width: 100, Height: 50}}
	c := newCache(r, clock)

	if _, err := c.GetBounds(context.Background()); err != nil {
		t.Fatalf("initial resolve: %v", err)
	}

	clock.Advance(1500 * time.Millisecond)
	if _, err := c.GetBounds(context.Background()); err != nil {
		t.Fatalf("cached read: %v", err)
	}
	if got := r.boundsCalls.Load(); got != 1 {
		t.Fatalf("read inside TTL triggered a query: %d calls", got)
	}
	if got := r.windowCalls.Load(); got != 1 {
		t.Fatalf("read inside TTL resolved the window: %d calls", got)
	}

	clock.Advance(time.Second)
	if _, err := c.GetBounds(context.Background()); err != nil {
		t.Fatalf("post-TTL read: %v", err)
	}
	if got := r.boundsCalls.Load(); got != 2 {
		t.Fatalf("expected a fresh query after TTL expiry, got %d calls", got)
	}
}

// TestIdentityShortCircuit: after an Invalidate, a resolution that finds
// the same window still active reuses the cached bounds without a second
// bounds query.
func TestIdentityShortCircuit(t *testing.T) {
	clock := newFakeClock()
	r := &fakeResolver{window: screen.Window{Identity: "win-1"}, bounds: screen.Rect{Width: 640, Height: 480}}
	c := newCache(r, clock)

	if _, err := c.GetBounds(context.Background()); err != nil {
		t.Fatalf("initial resolve: %v", err)
	}

	c.Invalidate()
	clock.Advance(500 * time.Millisecond) // still inside the TTL

	b, err := c.GetBounds(context.Background())
	if err != nil {
		t.Fatalf("short-circuit read: %v", err)
	}
	if b.Width != 640 {
		t.Fatalf("unexpected bounds %+v", b)
	}
	if got := r.windowCalls.Load(); got != 2 {
		t.Fatalf("expected an identity check, got %d window calls", got)
	}
	if got := r.boundsCalls.Load(); got != 1 {
		t.Fatalf("same identity inside TTL must not re-query bounds, got %d calls", got)
	}

	// The short-circuit also restores freshness: the next read is a pure
	// cache hit.
	if _, err := c.GetBounds(context.Background()); err != nil {
		t.Fatalf("followup read: %v", err)
	}
	if got := r.windowCalls.Load(); got != 2 {
		t.Fatalf("followup read should hit the cache, got %d window calls", got)
	}
}

// TestIdentityChangeRefreshes verifies a different active window forces a
// fresh bounds query even though the old entry is inside its TTL.
func TestIdentityChangeRefreshes(t *testing.T) {
	clock := newFakeClock()
	r := &fakeResolver{window: screen.Window{Identity: "win-1"}, bounds: screen.Rect{Width: 100}}
	c := newCache(r, clock)

	if _, err := c.GetBounds(context.Background()); err != nil {
		t.Fatalf("initial resolve: %v", err)
	}

	r.set(screen.Window{Identity: "win-2"}, screen.Rect{Width: 999})
	c.Invalidate()

	b, err := c.GetBounds(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if b.Width != 999 {
		t.Fatalf("expected refreshed bounds, got %+v", b)
	}
	if got := r.boundsCalls.Load(); got != 2 {
		t.Fatalf("expected a second bounds query, got %d", got)
	}
}

// TestServeStaleOnError: resolver failures after a successful resolution
// serve the previous bounds; with no previous entry they surface
// ErrNoBounds.
func TestServeStaleOnError(t *testing.T) {
	clock := newFakeClock()
	r := &fakeResolver{window: screen.Window{Identity: "win-1"}, bounds: screen.Rect{Width: 256, Height: 128}}
	c := newCache(r, clock)

	if _, err := c.GetBounds(context.Background()); err != nil {
		t.Fatalf("initial resolve: %v", err)
	}

	clock.Advance(3 * time.Second)
	r.mu.Lock()
	r.windowErr = errors.New("window server unavailable")
	r.mu.Unlock()

	b, err := c.GetBounds(context.Background())
	if err != nil {
		t.Fatalf("stale read should not error: %v", err)
	}
	if b.Width != 256 {
		t.Fatalf("expected stale bounds, got %+v", b)
	}
}

func TestNoBoundsWithoutHistory(t *testing.T) {
	r := &fakeResolver{windowErr: errors.New("window server unavailable")}
	c := newCache(r, newFakeClock())

	_, err := c.GetBounds(context.Background())
	if !errors.Is(err, bounds.ErrNoBounds) {
		t.Fatalf("want ErrNoBounds, got %v", err)
	}
}

func TestResetClearsEntry(t *testing.T) {
	clock := newFakeClock()
	r := &fakeResolver{window: screen.Window{Identity: "win-1"}, bounds: screen.Rect{Width: 64}}
	c := newCache(r, clock)

	if _, err := c.GetBounds(context.Background()); err != nil {
		t.Fatalf("initial resolve: %v", err)
	}
	c.Reset()

	if _, err := c.GetBounds(context.Background()); err != nil {
		t.Fatalf("post-reset resolve: %v", err)
	}
	if got := r.boundsCalls.Load(); got != 2 {
		t.Fatalf("reset should force a fresh resolution, got %d calls", got)
	}
}
