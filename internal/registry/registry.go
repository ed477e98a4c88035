// Package registry assigns sequence ids to interaction events and releases
// them into the session log in strict id order, regardless of the order
// their asynchronous enrichments finish in.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/demorec/demorec/internal/event"
	"github.com/demorec/demorec/internal/logging"
)

var (
	// ErrUnknownSlot is returned by Complete for an id that was never
	// created, or that has already been flushed or drained.
	ErrUnknownSlot = errors.New("unknown event slot")
	// ErrAlreadyCompleted is returned by Complete when the slot has
	// already received its enrichment.
	ErrAlreadyCompleted = errors.New("event slot already completed")
)

// Sink receives flushed events in strict ascending id order. It is called
// with the registry lock held; implementations must return quickly and must
// not call back into the registry.
type Sink func(event.Event)

type slotStatus uint8

const (
	statusPending slotStatus = iota
	statusCompleted
)

type slot struct {
	ev     event.Event
	status slotStatus
}

// DroppedSlot identifies a pending slot discarded at session stop.
type DroppedSlot struct {
	ID   uint64
	Kind event.Kind
}

// Registry is the slot arena plus the monotonic cursor. Slots are created
// synchronously on the input path, completed asynchronously by enrichment,
// and moved to the sink only once every lower id has been resolved.
//
// Invariant: the sink has received exactly the contiguous id run
// [0..highWaterMark].
type Registry struct {
	sink  Sink
	log   *slog.Logger
	clock func() time.Time

	mu            sync.Mutex
	slots         map[uint64]*slot
	nextID        uint64
	highWaterMark int64
	start         time.Time
}

// Options configures a Registry.
type Options struct {
	Sink   Sink
	Logger *slog.Logger
	Clock  func() time.Time // defaults to time.Now
}

// New returns an empty registry whose session clock starts now. A registry
// instance serves one session; construct a new one (or call Reset) between
// sessions.
func New(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Registry{
		sink:          opts.Sink,
		log:           opts.Logger,
		clock:         opts.Clock,
		slots:         make(map[uint64]*slot),
		highWaterMark: -1,
		start:         opts.Clock(),
	}
}

// CreateSlot allocates the next sequence id for an event of the given kind,
// stores it pending, and returns the id together with a one-shot Completer
// that supplies the enrichment later. Both timestamps are captured here, at
// the input instant.
func (r *Registry) CreateSlot(kind event.Kind, p event.Payload) (uint64, *Completer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	id := r.nextID
	r.nextID++
	r.slots[id] = &slot{
		ev: event.New(id, kind, now.Sub(r.start).Seconds(), now.UnixMilli(), p),
	}
	r.log.Debug("event slot created", "id", id, "kind", kind)
	return id, &Completer{reg: r, id: id}
}

// Complete merges enrichment into the slot, marks it completed and flushes
// the contiguous run of completed slots starting at highWaterMark+1.
// Completing an unknown or already-completed id is an error and never
// causes a double flush.
func (r *Registry) Complete(id uint64, en event.Enrichment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[id]
	if !ok {
		return fmt.Errorf("complete slot %d: %w", id, ErrUnknownSlot)
	}
	if s.status == statusCompleted {
		return fmt.Errorf("complete slot %d: %w", id, ErrAlreadyCompleted)
	}
	s.ev.Merge(en)
	s.status = statusCompleted
	r.flushLocked()
	return nil
}

// flushLocked walks the cursor forward over completed slots, handing each
// to the sink and deleting it from the arena. It stops at the first pending
// or missing id, which keeps the sink's output gap-free. Caller holds r.mu.
func (r *Registry) flushLocked() {
	for {
		cursor := uint64(r.highWaterMark + 1)
		s, ok := r.slots[cursor]
		if !ok || s.status != statusCompleted {
			return
		}
		delete(r.slots, cursor)
		r.highWaterMark = int64(cursor)
		if r.sink != nil {
			r.sink(s.ev)
		}
	}
}

// Drain discards every slot still pending and returns them sorted by id.
// Completed slots blocked behind a pending one are discarded too: flushing
// them would leave a gap below. Called at session stop so the log is never
// blocked indefinitely behind a stalled enrichment.
func (r *Registry) Drain() []DroppedSlot {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.slots) == 0 {
		return nil
	}
	dropped := make([]DroppedSlot, 0, len(r.slots))
	for id, s := range r.slots {
		dropped = append(dropped, DroppedSlot{ID: id, Kind: s.ev.Type})
	}
	sort.Slice(dropped, func(i, j int) bool { return dropped[i].ID < dropped[j].ID })
	r.slots = make(map[uint64]*slot)

	r.log.Warn("dropping unflushed event slots at session stop",
		"count", len(dropped), "first", dropped[0].ID)
	return dropped
}

// Reset returns the registry to its initial state and restarts the session
// clock. Only called between sessions, never concurrently with capture.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots = make(map[uint64]*slot)
	r.nextID = 0
	r.highWaterMark = -1
	r.start = r.clock()
}

// Counts reports how many events have been flushed to the sink and how
// many slots are still awaiting enrichment.
func (r *Registry) Counts() (flushed, pending int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.highWaterMark + 1), len(r.slots)
}

// Completer is the one-shot completion token for a single slot. The zero
// value is not usable; CreateSlot returns the only valid instances.
type Completer struct {
	reg  *Registry
	id   uint64
	once sync.Once
}

// ID returns the slot's sequence id.
func (c *Completer) ID() uint64 { return c.id }

// Complete supplies the slot's enrichment. The first call wins; any later
// call returns ErrAlreadyCompleted without touching the registry.
func (c *Completer) Complete(en event.Enrichment) error {
	err := fmt.Errorf("complete slot %d: %w", c.id, ErrAlreadyCompleted)
	c.once.Do(func() {
		err = c.reg.Complete(c.id, en)
	})
	return err
}
