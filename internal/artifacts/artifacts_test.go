package artifacts

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// Feature: demorec, Property 4: Artifact paths round-trip through the
// naming scheme with their event and display ids intact.
func TestPathSchemeRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		displayID := rapid.IntRange(1, 9).Draw(t, "displayID")
		eventID := uint64(rapid.IntRange(0, 5000).Draw(t, "eventID"))

		shot, ok := parseShot(ScreenshotPath(displayID, eventID))
		if !ok {
			t.Fatalf("display path %q did not parse", ScreenshotPath(displayID, eventID))
		}
		if shot.EventID != eventID || shot.DisplayID != displayID {
			t.Fatalf("parsed %+v, want event %d display %d", shot, eventID, displayID)
		}

		win, ok := parseShot(WindowShotPath(eventID))
		if !ok {
			t.Fatalf("window path %q did not parse", WindowShotPath(eventID))
		}
		if win.EventID != eventID || win.DisplayID != 0 {
			t.Fatalf("parsed window shot %+v, want event %d display 0", win, eventID)
		}
	})
}

func TestParseShotRejectsForeignPaths(t *testing.T) {
	paths := []string{
		"videos/display_1.mp4",
		"videos/frames_display_1/notes.txt",
		"frames_display_1/event_0.png",
		"videos/frames_display_x/event_0.png",
		"videos/frames_display_1/event_x.png",
		"videos/frames_display_1/deep/event_0.png",
		"videos/snapshots/event_0.png",
		"session_data.json",
	}
	for _, p := range paths {
		if shot, ok := parseShot(p); ok {
			t.Errorf("parseShot(%q) = %+v, want rejection", p, shot)
		}
	}
}

func TestVideoPathNormalizesExtension(t *testing.T) {
	want := "videos/display_2.mp4"
	if got := VideoPath(2, "mp4"); got != want {
		t.Fatalf("VideoPath(2, %q) = %q, want %q", "mp4", got, want)
	}
	if got := VideoPath(2, ".mp4"); got != want {
		t.Fatalf("VideoPath(2, %q) = %q, want %q", ".mp4", got, want)
	}
}

func writeArtifact(t *testing.T, root, rel string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestSweepCollectsAndOrders(t *testing.T) {
	root := t.TempDir()
	writeArtifact(t, root, ScreenshotPath(1, 2))
	writeArtifact(t, root, ScreenshotPath(1, 0))
	writeArtifact(t, root, WindowShotPath(0))
	writeArtifact(t, root, "videos/display_1.mp4")
	writeArtifact(t, root, "notes.txt")

	tr := NewTracker(root, nil)
	shots := tr.Sweep()
	if len(shots) != 3 {
		t.Fatalf("swept %d screenshots, want 3: %+v", len(shots), shots)
	}

	// Ordered by event id, window shot (display 0) before display 1.
	if shots[0].Path != WindowShotPath(0) {
		t.Errorf("shots[0] = %+v, want window shot of event 0", shots[0])
	}
	if shots[1].Path != ScreenshotPath(1, 0) {
		t.Errorf("shots[1] = %+v, want display shot of event 0", shots[1])
	}
	if shots[2].Path != ScreenshotPath(1, 2) {
		t.Errorf("shots[2] = %+v, want display shot of event 2", shots[2])
	}
	for _, s := range shots {
		if s.CapturedAt == 0 {
			t.Errorf("screenshot %q has no capture time", s.Path)
		}
	}
}

func TestSweepOnMissingDirectory(t *testing.T) {
	tr := NewTracker(filepath.Join(t.TempDir(), "absent"), nil)
	if shots := tr.Sweep(); len(shots) != 0 {
		t.Fatalf("swept %d screenshots from a missing directory", len(shots))
	}
}

func TestObserveKeepsLatestCapture(t *testing.T) {
	root := t.TempDir()
	tr := NewTracker(root, nil)
	abs := filepath.Join(root, filepath.FromSlash(ScreenshotPath(1, 0)))

	first := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr.observe(abs, first)
	tr.observe(abs, first.Add(time.Second))

	if tr.Count() != 1 {
		t.Fatalf("recorded %d screenshots, want 1", tr.Count())
	}
	shots := tr.snapshot()
	if shots[0].CapturedAt != first.Add(time.Second).UnixMilli() {
		t.Fatalf("capturedAt = %d, want the later write", shots[0].CapturedAt)
	}
}

func TestRunRecordsLiveWrites(t *testing.T) {
	root := t.TempDir()
	writeArtifact(t, root, ScreenshotPath(1, 0)) // frames dir exists before the watcher starts

	tr := NewTracker(root, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	// Rewrite the file until the watcher picks a write up. The first
	// writes can race watcher startup; later ones land.
	deadline := time.Now().Add(5 * time.Second)
	for tr.Count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("watcher never recorded the screenshot")
		}
		writeArtifact(t, root, ScreenshotPath(1, 0))
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The sweep merges with what the watcher saw instead of duplicating.
	if shots := tr.Sweep(); len(shots) != 1 {
		t.Fatalf("swept %d screenshots, want 1: %+v", len(shots), shots)
	}
}
