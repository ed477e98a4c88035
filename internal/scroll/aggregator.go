// Package scroll coalesces raw mouse wheel samples into scroll gestures.
// Wheel hardware reports dozens of small rotations per flick; replaying
// or training on those individually is useless, so consecutive samples
// are folded into one scroll_sequence event.
package scroll

import (
	"log/slog"
	"sync"
	"time"

	"github.com/demorec/demorec/internal/event"
	"github.com/demorec/demorec/internal/logging"
)

const (
	// DefaultDebounce is the quiet gap that closes a gesture.
	DefaultDebounce = 300 * time.Millisecond
	// DefaultMinMagnitude is the smallest accumulated rotation worth
	// recording. Gestures below it are discarded as pointer noise.
	DefaultMinMagnitude = 3
)

// Options configures an Aggregator. Emit is required; zero values
// elsewhere select the defaults.
type Options struct {
	Debounce     time.Duration
	MinMagnitude int
	// Emit receives each closed gesture. It is called outside the
	// aggregator's lock, from the debounce timer goroutine or from the
	// caller of Flush.
	Emit   func(event.Payload)
	Logger *slog.Logger
	Clock  func() time.Time
}

// Aggregator accumulates wheel samples while they keep arriving and emits
// one gesture per quiet gap. Safe for concurrent use.
type Aggregator struct {
	debounce time.Duration
	minMag   int
	emit     func(event.Payload)
	log      *slog.Logger
	clock    func() time.Time

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	open    bool
	total   int
	samples int
	firstAt time.Time
	lastAt  time.Time
	x, y    int
}

// New builds an Aggregator from opts.
func New(opts Options) *Aggregator {
	a := &Aggregator{
		debounce: opts.Debounce,
		minMag:   opts.MinMagnitude,
		emit:     opts.Emit,
		log:      opts.Logger,
		clock:    opts.Clock,
	}
	if a.debounce <= 0 {
		a.debounce = DefaultDebounce
	}
	if a.minMag <= 0 {
		a.minMag = DefaultMinMagnitude
	}
	if a.emit == nil {
		a.emit = func(event.Payload) {}
	}
	if a.log == nil {
		a.log = logging.Discard()
	}
	if a.clock == nil {
		a.clock = time.Now
	}
	return a
}

// OnWheelSample records one raw wheel rotation at pointer position (x, y)
// and restarts the debounce timer. Positive rotation scrolls up.
func (a *Aggregator) OnWheelSample(rotation, x, y int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock()
	if !a.open {
		a.open = true
		a.total = 0
		a.samples = 0
		a.firstAt = now
	}
	a.total += rotation
	a.samples++
	a.lastAt = now
	a.x, a.y = x, y

	// Each sample restarts the gap timer. The generation guard makes a
	// timer that already fired but has not run yet a no-op.
	a.gen++
	gen := a.gen
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.debounce, func() { a.fire(gen) })
}

func (a *Aggregator) fire(gen uint64) {
	a.mu.Lock()
	if gen != a.gen {
		a.mu.Unlock()
		return
	}
	a.timer = nil
	p, ok := a.closeLocked()
	a.mu.Unlock()
	if ok {
		a.emit(p)
	}
}

// Flush closes the open gesture immediately without waiting out the
// debounce gap. Called at session stop so the last gesture is recorded.
func (a *Aggregator) Flush() {
	a.mu.Lock()
	a.stopTimerLocked()
	p, ok := a.closeLocked()
	a.mu.Unlock()
	if ok {
		a.emit(p)
	}
}

// Reset discards any open gesture without emitting it.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.stopTimerLocked()
	a.open = false
	a.mu.Unlock()
}

func (a *Aggregator) stopTimerLocked() {
	a.gen++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// closeLocked ends the open gesture and builds its payload. Gestures
// below the magnitude threshold return ok=false.
func (a *Aggregator) closeLocked() (event.Payload, bool) {
	if !a.open {
		return event.Payload{}, false
	}
	a.open = false

	magnitude := a.total
	if magnitude < 0 {
		magnitude = -magnitude
	}
	if magnitude < a.minMag {
		a.log.Debug("discarding scroll gesture below threshold",
			"magnitude", magnitude, "samples", a.samples)
		return event.Payload{}, false
	}

	direction := event.ScrollDown
	if a.total > 0 {
		direction = event.ScrollUp
	}
	duration := a.lastAt.Sub(a.firstAt).Seconds()
	return event.ScrollPayload(direction, magnitude, duration, a.samples, a.x, a.y), true
}
