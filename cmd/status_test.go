package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/demorec/demorec/internal/session"
)

// Feature: demorec, Property 9: Status counts accuracy
func TestStatusCountsAccuracy(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		flushed := rapid.IntRange(0, 500).Draw(rt, "flushed")
		pending := rapid.IntRange(0, 50).Draw(rt, "pending")
		shots := rapid.IntRange(0, 500).Draw(rt, "shots")

		isolateEnv(t)

		store, err := session.NewStore()
		if err != nil {
			rt.Fatalf("NewStore: %v", err)
		}
		s := &session.State{
			SessionID:     "test-id",
			TaskName:      "demo",
			PID:           os.Getpid(),
			StartTime:     time.Now().UnixMilli(),
			EventsFlushed: flushed,
			EventsPending: pending,
			Screenshots:   shots,
		}
		if err := store.Save(s); err != nil {
			rt.Fatalf("Save: %v", err)
		}

		statusJSON = false
		out, err := executeCommand(rootCmd, "status")
		if err != nil {
			rt.Fatalf("status command error: %v", err)
		}

		wantEvents := fmt.Sprintf("Events: %d flushed, %d pending", flushed, pending)
		wantShots := fmt.Sprintf("Screenshots: %d", shots)
		if !strings.Contains(out, wantEvents) {
			rt.Errorf("expected output to contain %q, got:\n%s", wantEvents, out)
		}
		if !strings.Contains(out, wantShots) {
			rt.Errorf("expected output to contain %q, got:\n%s", wantShots, out)
		}
		if !strings.Contains(out, "Task: demo") {
			rt.Errorf("expected task line, got:\n%s", out)
		}
	})
}

func TestStatusNoSession(t *testing.T) {
	isolateEnv(t)

	out, err := executeCommand(rootCmd, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "no active session") {
		t.Errorf("expected no-session message, got: %q", out)
	}
}

func TestStatusJSONRoundTrips(t *testing.T) {
	isolateEnv(t)

	store, err := session.NewStore()
	if err != nil {
		t.Fatal(err)
	}
	s := &session.State{SessionID: "abc", TaskName: "demo", PID: os.Getpid(), StartTime: 42}
	if err := store.Save(s); err != nil {
		t.Fatal(err)
	}

	out, err := executeCommand(rootCmd, "status", "--json")
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var got session.State
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, out)
	}
	if got != *s {
		t.Errorf("round-trip mismatch: got %+v, want %+v", got, *s)
	}
}
