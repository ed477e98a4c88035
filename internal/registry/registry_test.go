package registry_test

import (
	"errors"
	"math/rand"
	"sync"
	"testing"

	"pgregory.net/rapid"

	"github.com/demorec/demorec/internal/event"
	"github.com/demorec/demorec/internal/registry"
)

// collect returns a registry wired to an in-memory log slice.
func collect() (*registry.Registry, *[]event.Event) {
	log := &[]event.Event{}
	reg := registry.New(registry.Options{
		Sink: func(ev event.Event) { *log = append(*log, ev) },
	})
	return reg, log
}

// TestContiguityHoldback follows the canonical out-of-order scenario:
// slot 2 completes first, nothing may flush until 0 completes, and
// completing 1 releases 1 and 2 together.
func TestContiguityHoldback(t *testing.T) {
	reg, log := collect()

	var comps []*registry.Completer
	for i := 0; i < 3; i++ {
		_, c := reg.CreateSlot(event.KindClick, event.ClickPayload(i*10, i*10, "left"))
		comps = append(comps, c)
	}

	if err := comps[2].Complete(event.Enrichment{}); err != nil {
		t.Fatalf("complete 2: %v", err)
	}
	if len(*log) != 0 {
		t.Fatalf("log should stay empty while 0 and 1 are pending, got %d events", len(*log))
	}

	if err := comps[0].Complete(event.Enrichment{}); err != nil {
		t.Fatalf("complete 0: %v", err)
	}
	if len(*log) != 1 || (*log)[0].ID != 0 {
		t.Fatalf("expected exactly [0] after completing 0, got %v", ids(*log))
	}

	if err := comps[1].Complete(event.Enrichment{}); err != nil {
		t.Fatalf("complete 1: %v", err)
	}
	if got := ids(*log); len(got) != 3 || got[0] != 0 || got[1] != 1 || got[2] != 2 {
		t.Fatalf("expected [0 1 2], got %v", got)
	}
}

// Feature: demorec, Property 1: Flush order is ascending and gap-free for
// every completion order.
func TestFlushOrderInvariant(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 40).Draw(rt, "n")
		reg, log := collect()

		comps := make([]*registry.Completer, n)
		for i := 0; i < n; i++ {
			// Key carries the slot index so payload integrity is checkable
			// after the flush.
			_, comps[i] = reg.CreateSlot(event.KindType, event.KeyPayload(keyFor(i), nil))
		}

		perm := make([]*registry.Completer, n)
		copy(perm, comps)
		rng := rand.New(rand.NewSource(rapid.Int64().Draw(rt, "seed")))
		rng.Shuffle(n, func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
		for _, c := range perm {
			if err := c.Complete(event.Enrichment{}); err != nil {
				rt.Fatalf("complete %d: %v", c.ID(), err)
			}
		}

		if len(*log) != n {
			rt.Fatalf("expected %d flushed events, got %d", n, len(*log))
		}
		for i, ev := range *log {
			if ev.ID != uint64(i) {
				rt.Fatalf("position %d holds id %d", i, ev.ID)
			}
			if ev.Key != keyFor(i) {
				rt.Fatalf("slot %d payload corrupted: key %q", i, ev.Key)
			}
		}
	})
}

// Feature: demorec, Property 2: Concurrent completions still flush in
// ascending id order.
func TestConcurrentCompletionOrder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(2, 32).Draw(rt, "n")
		seed := rapid.Int64().Draw(rt, "seed")

		reg, log := collect()
		comps := make([]*registry.Completer, n)
		for i := 0; i < n; i++ {
			_, comps[i] = reg.CreateSlot(event.KindClick, event.ClickPayload(i, i, "left"))
		}

		rng := rand.New(rand.NewSource(seed))
		rng.Shuffle(n, func(i, j int) { comps[i], comps[j] = comps[j], comps[i] })

		var wg sync.WaitGroup
		for _, c := range comps {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = c.Complete(event.Enrichment{})
			}()
		}
		wg.Wait()

		if len(*log) != n {
			rt.Fatalf("expected %d flushed events, got %d", n, len(*log))
		}
		for i, ev := range *log {
			if ev.ID != uint64(i) {
				rt.Fatalf("position %d holds id %d", i, ev.ID)
			}
		}
	})
}

// TestIdempotentCompletion verifies the second completion of a slot is
// rejected at both the completer and registry layers, with no double flush.
func TestIdempotentCompletion(t *testing.T) {
	reg, log := collect()
	id, c := reg.CreateSlot(event.KindClick, event.ClickPayload(5, 5, "left"))

	if err := c.Complete(event.Enrichment{}); err != nil {
		t.Fatalf("first complete: %v", err)
	}
	if err := c.Complete(event.Enrichment{}); !errors.Is(err, registry.ErrAlreadyCompleted) {
		t.Fatalf("second completer call: want ErrAlreadyCompleted, got %v", err)
	}
	// Direct registry call for an already-flushed id reports it unknown.
	if err := reg.Complete(id, event.Enrichment{}); !errors.Is(err, registry.ErrUnknownSlot) {
		t.Fatalf("registry re-complete: want ErrUnknownSlot, got %v", err)
	}
	if len(*log) != 1 {
		t.Fatalf("expected a single flushed event, got %d", len(*log))
	}
}

func TestCompleteUnknownSlot(t *testing.T) {
	reg, _ := collect()
	if err := reg.Complete(99, event.Enrichment{}); !errors.Is(err, registry.ErrUnknownSlot) {
		t.Fatalf("want ErrUnknownSlot, got %v", err)
	}
}

// TestDrainDropsUnflushed creates 0,1,2, completes only 1, and drains.
// Nothing was flushable (0 pending blocks the cursor), so all three are
// dropped and late completions are rejected.
func TestDrainDropsUnflushed(t *testing.T) {
	reg, log := collect()
	var comps []*registry.Completer
	for i := 0; i < 3; i++ {
		_, c := reg.CreateSlot(event.KindType, event.KeyPayload(keyFor(i), nil))
		comps = append(comps, c)
	}
	if err := comps[1].Complete(event.Enrichment{}); err != nil {
		t.Fatalf("complete 1: %v", err)
	}

	dropped := reg.Drain()
	if len(dropped) != 3 {
		t.Fatalf("expected 3 dropped slots, got %d", len(dropped))
	}
	for i, d := range dropped {
		if d.ID != uint64(i) {
			t.Fatalf("dropped list not sorted: position %d holds id %d", i, d.ID)
		}
	}
	if len(*log) != 0 {
		t.Fatalf("log should be empty, got %v", ids(*log))
	}

	// A stalled enrichment finishing after the drain must not resurrect
	// its slot.
	if err := comps[0].Complete(event.Enrichment{}); !errors.Is(err, registry.ErrUnknownSlot) {
		t.Fatalf("late complete: want ErrUnknownSlot, got %v", err)
	}
}

func TestDrainEmptyRegistry(t *testing.T) {
	reg, _ := collect()
	if dropped := reg.Drain(); dropped != nil {
		t.Fatalf("expected nil dropped list, got %v", dropped)
	}
}

// TestResetRestartsSequence verifies ids restart at 0 and the flushed
// counter clears after Reset.
func TestResetRestartsSequence(t *testing.T) {
	reg, log := collect()
	_, c := reg.CreateSlot(event.KindClick, event.ClickPayload(1, 1, "left"))
	if err := c.Complete(event.Enrichment{}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	reg.Reset()
	flushed, pending := reg.Counts()
	if flushed != 0 || pending != 0 {
		t.Fatalf("counts after reset: flushed=%d pending=%d", flushed, pending)
	}

	id, _ := reg.CreateSlot(event.KindClick, event.ClickPayload(2, 2, "left"))
	if id != 0 {
		t.Fatalf("first id after reset should be 0, got %d", id)
	}
	if len(*log) != 1 {
		t.Fatalf("log from the previous session should be untouched, got %d entries", len(*log))
	}
}

func keyFor(i int) string {
	return string(rune('A' + i%26))
}

func ids(events []event.Event) []uint64 {
	out := make([]uint64, len(events))
	for i, ev := range events {
		out[i] = ev.ID
	}
	return out
}
