package cmd

import (
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/demorec/demorec/internal/session"
)

// Feature: demorec, Property 10: Annotation persistence
func TestAnnotationPersistence(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		// Generate a non-empty single-line message. The first character
		// stays alphanumeric so cobra never mistakes it for a flag.
		msg := rapid.StringMatching(`[A-Za-z0-9][^\x00\n\r]{0,199}`).Draw(rt, "message")

		isolateEnv(t)
		taskDir := t.TempDir()

		store, err := session.NewStore()
		if err != nil {
			rt.Fatalf("NewStore: %v", err)
		}
		s := &session.State{
			SessionID: "test-id",
			TaskName:  "demo",
			TaskDir:   taskDir,
			StartTime: time.Now().UnixMilli(),
		}
		if err := store.Save(s); err != nil {
			rt.Fatalf("Save: %v", err)
		}

		before := time.Now().UnixMilli()
		out, err := executeCommand(rootCmd, "note", msg)
		if err != nil {
			rt.Fatalf("note command error: %v\noutput: %s", err, out)
		}
		after := time.Now().UnixMilli()

		notes, err := session.ReadAnnotations(taskDir)
		if err != nil {
			rt.Fatalf("ReadAnnotations: %v", err)
		}
		if len(notes) == 0 {
			rt.Fatal("expected at least one annotation after note, got none")
		}
		last := notes[len(notes)-1]
		if last.Text != msg {
			rt.Errorf("message mismatch: got %q, want %q", last.Text, msg)
		}
		if last.Timestamp < before || last.Timestamp > after {
			rt.Errorf("timestamp %d outside expected range [%d, %d]", last.Timestamp, before, after)
		}
	})
}

func TestNoteJoinsArguments(t *testing.T) {
	isolateEnv(t)
	taskDir := t.TempDir()

	store, err := session.NewStore()
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Save(&session.State{SessionID: "id", TaskName: "demo", TaskDir: taskDir}); err != nil {
		t.Fatal(err)
	}

	if _, err := executeCommand(rootCmd, "note", "scrolled", "past", "the", "fold"); err != nil {
		t.Fatalf("note: %v", err)
	}
	notes, err := session.ReadAnnotations(taskDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 1 || notes[0].Text != "scrolled past the fold" {
		t.Errorf("expected joined note text, got %+v", notes)
	}
}

func TestNoteNoSessionError(t *testing.T) {
	isolateEnv(t)

	out, err := executeCommand(rootCmd, "note", "anything")
	if err == nil {
		t.Fatal("expected an error from note with no session, got nil")
	}
	if !strings.Contains(out+err.Error(), "no active session") {
		t.Errorf("expected no-session error, got: %q", out)
	}
}
