// Package artifacts owns the on-disk layout of a task directory and
// tracks the files a recording session produces in it. Screenshots appear
// asynchronously while the session runs; a background watcher records them
// live and a stop-time sweep catches anything the watcher missed.
package artifacts

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/demorec/demorec/internal/logging"
)

const (
	videosDir           = "videos"
	framesDisplayPrefix = "frames_display_"
	framesWindowDir     = "frames_window"
)

// Task-relative artifact paths use forward slashes on every platform:
// they are dataset identifiers first and file paths second. Callers touch
// disk through filepath.FromSlash.

// ScreenshotPath returns the task-relative path of a display screenshot.
func ScreenshotPath(displayID int, eventID uint64) string {
	return path.Join(videosDir,
		fmt.Sprintf("%s%d", framesDisplayPrefix, displayID),
		fmt.Sprintf("event_%d.png", eventID))
}

// WindowShotPath returns the task-relative path of the active-window
// screenshot for an event.
func WindowShotPath(eventID uint64) string {
	return path.Join(videosDir, framesWindowDir, fmt.Sprintf("event_%d.png", eventID))
}

// VideoPath returns the task-relative path of a display's recording.
func VideoPath(displayID int, ext string) string {
	return path.Join(videosDir,
		fmt.Sprintf("display_%d.%s", displayID, strings.TrimPrefix(ext, ".")))
}

// Screenshot is one captured frame in the session record. DisplayID is
// zero for active-window shots.
type Screenshot struct {
	Path       string `json:"path"`
	EventID    uint64 `json:"eventId"`
	DisplayID  int    `json:"displayId,omitempty"`
	CapturedAt int64  `json:"capturedAt"`
}

// Video is one display recording in the session record.
type Video struct {
	DisplayID int    `json:"displayId"`
	Path      string `json:"path"`
}

// parseShot recovers a Screenshot from its task-relative path. Files that
// do not follow the frames naming scheme are not artifacts.
func parseShot(rel string) (Screenshot, bool) {
	rel = path.Clean(filepath.ToSlash(rel))
	parts := strings.Split(rel, "/")
	if len(parts) != 3 || parts[0] != videosDir {
		return Screenshot{}, false
	}
	base, isPNG := strings.CutSuffix(parts[2], ".png")
	if !isPNG {
		return Screenshot{}, false
	}
	idText, isEvent := strings.CutPrefix(base, "event_")
	if !isEvent {
		return Screenshot{}, false
	}
	id, err := strconv.ParseUint(idText, 10, 64)
	if err != nil {
		return Screenshot{}, false
	}

	shot := Screenshot{Path: rel, EventID: id}
	switch {
	case parts[1] == framesWindowDir:
	case strings.HasPrefix(parts[1], framesDisplayPrefix):
		display, err := strconv.Atoi(strings.TrimPrefix(parts[1], framesDisplayPrefix))
		if err != nil {
			return Screenshot{}, false
		}
		shot.DisplayID = display
	default:
		return Screenshot{}, false
	}
	return shot, true
}

// Tracker records the screenshots produced under one task directory.
// Safe for concurrent use.
type Tracker struct {
	root string
	log  *slog.Logger

	mu   sync.Mutex
	seen map[string]Screenshot
}

// NewTracker tracks artifacts under the task directory root.
func NewTracker(root string, log *slog.Logger) *Tracker {
	if log == nil {
		log = logging.Discard()
	}
	return &Tracker{root: root, log: log, seen: make(map[string]Screenshot)}
}

// Run watches the videos tree and records screenshots as they are written,
// until ctx is cancelled. Frame directories are created on first capture,
// so directory-create events add new watches on the fly. Watcher errors
// are non-fatal; the stop-time sweep covers anything missed.
func (t *Tracker) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Join(t.root, videosDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if d.IsDir() {
			return watcher.Add(p)
		}
		return nil
	}); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watcher.Add(event.Name)
					continue
				}
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				t.observe(event.Name, time.Now())
			}

		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
		}
	}
}

// observe records one file if it follows the artifact naming scheme,
// keeping the latest capture time per path.
func (t *Tracker) observe(abs string, at time.Time) {
	rel, err := filepath.Rel(t.root, abs)
	if err != nil {
		return
	}
	shot, ok := parseShot(rel)
	if !ok {
		return
	}
	shot.CapturedAt = at.UnixMilli()

	t.mu.Lock()
	if prev, ok := t.seen[shot.Path]; !ok || shot.CapturedAt > prev.CapturedAt {
		t.seen[shot.Path] = shot
	}
	t.mu.Unlock()
}

// Sweep walks the videos tree, merges files the watcher missed, and
// returns the full deduplicated set ordered by event id. Called at
// session stop; a missing videos directory yields an empty set.
func (t *Tracker) Sweep() []Screenshot {
	dir := filepath.Join(t.root, videosDir)
	_ = filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		t.observe(p, info.ModTime())
		return nil
	})
	return t.snapshot()
}

func (t *Tracker) snapshot() []Screenshot {
	t.mu.Lock()
	shots := make([]Screenshot, 0, len(t.seen))
	for _, s := range t.seen {
		shots = append(shots, s)
	}
	t.mu.Unlock()

	sort.Slice(shots, func(i, j int) bool {
		if shots[i].EventID != shots[j].EventID {
			return shots[i].EventID < shots[j].EventID
		}
		if shots[i].DisplayID != shots[j].DisplayID {
			return shots[i].DisplayID < shots[j].DisplayID
		}
		return shots[i].Path < shots[j].Path
	})
	return shots
}

// Count returns how many screenshots have been recorded so far.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}
