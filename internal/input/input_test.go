package input_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/demorec/demorec/internal/input"
)

func writeScript(t *testing.T, lines ...string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "session.jsonl")
	if err := os.WriteFile(p, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestScriptSourceReplaysEvents(t *testing.T) {
	path := writeScript(t,
		"# warm-up clicks for the login form",
		"",
		`{"kind":"click","x":10,"y":20,"button":"left"}`,
		`{"delayMs":100,"kind":"key","key":"A"}`,
		`{"kind":"wheel","x":5,"y":6,"rotation":-3}`,
	)
	var slept []time.Duration
	src := &input.ScriptSource{Path: path, Sleep: func(d time.Duration) { slept = append(slept, d) }}

	var got []input.Event
	err := src.Stream(context.Background(), func(ev input.Event) error {
		got = append(got, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("streamed %d events, want 3: %+v", len(got), got)
	}
	if got[0].Kind != input.KindClick || got[0].X != 10 || got[0].Button != "left" {
		t.Errorf("event 0 = %+v", got[0])
	}
	if got[1].Kind != input.KindKey || got[1].Key != "A" {
		t.Errorf("event 1 = %+v", got[1])
	}
	if got[2].Kind != input.KindWheel || got[2].Rotation != -3 {
		t.Errorf("event 2 = %+v", got[2])
	}
	if len(slept) != 1 || slept[0] != 100*time.Millisecond {
		t.Errorf("slept %v, want [100ms]", slept)
	}
}

func TestScriptSourceReportsLineNumbers(t *testing.T) {
	path := writeScript(t,
		"# comment",
		`{"kind":"click","x":1,"y":1}`,
		`{"kind":`,
	)
	src := &input.ScriptSource{Path: path}

	err := src.Stream(context.Background(), func(input.Event) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "line 3") {
		t.Fatalf("error = %v, want a line 3 reference", err)
	}
}

func TestScriptSourceRequiresKind(t *testing.T) {
	path := writeScript(t, `{"x":1,"y":2}`)
	src := &input.ScriptSource{Path: path}

	err := src.Stream(context.Background(), func(input.Event) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "missing kind") {
		t.Fatalf("error = %v, want missing kind", err)
	}
}

func TestScriptSourceStopsOnEmitError(t *testing.T) {
	path := writeScript(t,
		`{"kind":"click","x":1,"y":1}`,
		`{"kind":"click","x":2,"y":2}`,
	)
	src := &input.ScriptSource{Path: path}
	sentinel := errors.New("session stopped")

	count := 0
	err := src.Stream(context.Background(), func(input.Event) error {
		count++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("error = %v, want the emit error", err)
	}
	if count != 1 {
		t.Fatalf("emitted %d events after the failure, want 1", count)
	}
}

func TestScriptSourceCancelledDuringDelay(t *testing.T) {
	path := writeScript(t,
		`{"kind":"click","x":1,"y":1}`,
		`{"delayMs":30000,"kind":"click","x":2,"y":2}`,
	)
	src := &input.ScriptSource{Path: path}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	started := time.Now()
	go func() {
		done <- src.Stream(ctx, func(input.Event) error {
			cancel() // stop while the long delay is pending
			return nil
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Stream: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancellation did not interrupt the script delay")
	}
	if elapsed := time.Since(started); elapsed > 5*time.Second {
		t.Fatalf("stream ran %v past cancellation", elapsed)
	}
}

func TestScriptSourceMissingFile(t *testing.T) {
	src := &input.ScriptSource{Path: filepath.Join(t.TempDir(), "absent.jsonl")}
	if err := src.Stream(context.Background(), func(input.Event) error { return nil }); err == nil {
		t.Fatal("expected an error for a missing script")
	}
}

func TestCommandSourceStreamsListenerOutput(t *testing.T) {
	src := &input.CommandSource{Argv: []string{"sh", "-c",
		`printf '%s\n' '{"kind":"click","x":1,"y":2,"button":"left"}' '{"kind":"key","key":"A"}'`}}

	var got []input.Event
	err := src.Stream(context.Background(), func(ev input.Event) error {
		got = append(got, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(got) != 2 || got[0].Kind != input.KindClick || got[1].Key != "A" {
		t.Fatalf("events = %+v", got)
	}
}

func TestCommandSourceSkipsListenerNoise(t *testing.T) {
	src := &input.CommandSource{Argv: []string{"sh", "-c",
		`echo "listener ready on display 1"; echo '{broken'; echo '{"kind":"click","x":9,"y":9}'`}}

	var got []input.Event
	err := src.Stream(context.Background(), func(ev input.Event) error {
		got = append(got, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(got) != 1 || got[0].X != 9 {
		t.Fatalf("events = %+v, want the one real event", got)
	}
}

func TestCommandSourceCancelStopsListener(t *testing.T) {
	src := &input.CommandSource{Argv: []string{"sh", "-c",
		`echo '{"kind":"click","x":1,"y":1}'; sleep 30`}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- src.Stream(ctx, func(input.Event) error {
			cancel()
			return nil
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Stream after cancel: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("cancellation did not stop the listener")
	}
}

func TestCommandSourceEmitErrorKillsListener(t *testing.T) {
	src := &input.CommandSource{Argv: []string{"sh", "-c",
		`echo '{"kind":"click","x":1,"y":1}'; sleep 30`}}
	sentinel := errors.New("registry closed")

	done := make(chan error, 1)
	go func() {
		done <- src.Stream(context.Background(), func(input.Event) error { return sentinel })
	}()

	select {
	case err := <-done:
		if !errors.Is(err, sentinel) {
			t.Fatalf("error = %v, want the emit error", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("emit failure did not stop the listener")
	}
}

func TestCommandSourceNotConfigured(t *testing.T) {
	src := &input.CommandSource{}
	if err := src.Stream(context.Background(), func(input.Event) error { return nil }); err == nil {
		t.Fatal("expected an error for an empty listener command")
	}
}

func TestSourceFunc(t *testing.T) {
	src := input.SourceFunc(func(ctx context.Context, emit func(input.Event) error) error {
		return emit(input.Event{Kind: input.KindKey, Key: "TAB"})
	})

	var got []input.Event
	if err := src.Stream(context.Background(), func(ev input.Event) error {
		got = append(got, ev)
		return nil
	}); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(got) != 1 || got[0].Key != "TAB" {
		t.Fatalf("events = %+v", got)
	}
}
