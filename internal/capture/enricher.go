// Package capture enriches event slots with screenshots and window
// context. The enricher runs once per slot on its own goroutine, degrades
// on partial failure, and always completes the slot it was given.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strconv"
	"time"

	"github.com/demorec/demorec/internal/artifacts"
	"github.com/demorec/demorec/internal/event"
	"github.com/demorec/demorec/internal/logging"
	"github.com/demorec/demorec/internal/screen"
)

// DefaultSettleDelay compensates for UI re-render after an input event;
// capturing immediately would show the screen before the click landed.
const DefaultSettleDelay = 150 * time.Millisecond

// Capturer writes screenshot files. Implementations must be safe for
// concurrent use; enrichments for different slots overlap.
type Capturer interface {
	// CaptureDisplay writes a screenshot of one display to absPath,
	// creating parent directories as needed.
	CaptureDisplay(ctx context.Context, d screen.Display, absPath string) error
	// CaptureWindow writes a screenshot of the active window to absPath.
	CaptureWindow(ctx context.Context, absPath string) error
}

// BoundsSource yields the active window's desktop bounds.
type BoundsSource interface {
	GetBounds(ctx context.Context) (screen.Rect, error)
}

// Options configures an Enricher for one session.
type Options struct {
	// Capturer takes the screenshots. Nil disables screenshot capture.
	Capturer Capturer
	// Bounds resolves active-window bounds. Nil disables window-relative
	// coordinate translation.
	Bounds BoundsSource
	// Displays to screenshot per event.
	Displays []screen.Display
	// Root is the task directory screenshots are written under.
	Root string
	// Settle is the pre-capture delay. Zero selects the default;
	// negative disables it.
	Settle time.Duration
	Logger *slog.Logger
	// Sleep is injectable for tests; nil means time.Sleep.
	Sleep func(time.Duration)
}

// Enricher attaches screenshots, display info, and window-relative
// coordinates to pending event slots.
type Enricher struct {
	capturer Capturer
	bounds   BoundsSource
	displays []screen.Display
	root     string
	settle   time.Duration
	log      *slog.Logger
	sleep    func(time.Duration)
}

// NewEnricher builds an Enricher from opts.
func NewEnricher(opts Options) *Enricher {
	e := &Enricher{
		capturer: opts.Capturer,
		bounds:   opts.Bounds,
		displays: opts.Displays,
		root:     opts.Root,
		settle:   opts.Settle,
		log:      opts.Logger,
		sleep:    opts.Sleep,
	}
	if e.settle == 0 {
		e.settle = DefaultSettleDelay
	}
	if e.settle < 0 {
		e.settle = 0
	}
	if e.log == nil {
		e.log = logging.Discard()
	}
	if e.sleep == nil {
		e.sleep = time.Sleep
	}
	return e
}

// Enrich captures context for slot id and completes it. It blocks through
// the settle delay and the captures; callers run it on a goroutine per
// slot. Capture and bounds failures degrade this slot's enrichment and
// never prevent completion.
func (e *Enricher) Enrich(ctx context.Context, id uint64, p event.Payload, complete func(event.Enrichment) error) {
	if e.settle > 0 {
		e.sleep(e.settle)
	}

	var en event.Enrichment
	if e.capturer != nil {
		en.Screenshots = e.captureShots(ctx, id)
	}

	if x, y, ok := p.Coordinates(); ok {
		if d, ok := screen.DisplayFor(e.displays, x, y); ok {
			display := d
			en.ScreenInfo = &event.ScreenInfo{CurrentDisplay: &display}
		}
		if e.bounds != nil {
			if b, err := e.bounds.GetBounds(ctx); err != nil {
				e.log.Warn("window bounds unavailable", "event", id, "error", err)
			} else {
				en.WindowRelative = &event.WindowRelative{
					X:      x - b.X,
					Y:      y - b.Y,
					Inside: b.Contains(x, y),
				}
			}
		}
	}

	if err := complete(en); err != nil {
		e.log.Warn("slot completion rejected", "event", id, "error", err)
	}
}

// captureShots takes one screenshot per display plus the active-window
// shot, keeping whatever subset succeeds. Returns nil when nothing did.
func (e *Enricher) captureShots(ctx context.Context, id uint64) *event.Screenshots {
	shots := &event.Screenshots{Displays: make(map[string]string, len(e.displays))}

	for _, d := range e.displays {
		rel := artifacts.ScreenshotPath(d.ID, id)
		abs := filepath.Join(e.root, filepath.FromSlash(rel))
		if err := e.capturer.CaptureDisplay(ctx, d, abs); err != nil {
			e.logCaptureErr("display capture failed", id, d.ID, err)
			continue
		}
		shots.Displays[strconv.Itoa(d.ID)] = rel
	}

	rel := artifacts.WindowShotPath(id)
	abs := filepath.Join(e.root, filepath.FromSlash(rel))
	if err := e.capturer.CaptureWindow(ctx, abs); err != nil {
		e.logCaptureErr("window capture failed", id, 0, err)
	} else {
		shots.ActiveWindow = rel
	}

	if len(shots.Displays) == 0 && shots.ActiveWindow == "" {
		return nil
	}
	return shots
}

// logCaptureErr keeps unconfigured capture commands quiet; a session
// without a screenshot tool is a supported setup, not a failure per event.
func (e *Enricher) logCaptureErr(msg string, id uint64, displayID int, err error) {
	attrs := []any{"event", id, "error", err}
	if displayID != 0 {
		attrs = append(attrs, "display", displayID)
	}
	if errors.Is(err, ErrNotConfigured) {
		e.log.Debug(msg, attrs...)
		return
	}
	e.log.Warn(msg, attrs...)
}
