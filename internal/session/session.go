package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/demorec/demorec/internal/artifacts"
	"github.com/demorec/demorec/internal/bounds"
	"github.com/demorec/demorec/internal/capture"
	"github.com/demorec/demorec/internal/event"
	"github.com/demorec/demorec/internal/input"
	"github.com/demorec/demorec/internal/logging"
	"github.com/demorec/demorec/internal/registry"
	"github.com/demorec/demorec/internal/screen"
	"github.com/demorec/demorec/internal/scroll"
	"github.com/demorec/demorec/internal/supervisor"
)

// ErrAlreadyRecording is returned by the cross-process start guard when an
// active-session state file points at a live recorder.
var ErrAlreadyRecording = errors.New("session already in progress")

// DefaultStateRefresh is how often the active-session state file's live
// counts are rewritten while recording.
const DefaultStateRefresh = time.Second

// DefaultDrainGrace bounds how long Stop waits for in-flight enrichments
// before dropping whatever is still pending.
const DefaultDrainGrace = 2 * time.Second

// Options wires a Controller. Collaborator fields are interfaces so OS
// specifics and tests stay out of the pipeline; a nil collaborator
// disables its feature rather than failing.
type Options struct {
	DataRoot string
	Operator string
	Displays []screen.Display

	RecorderKind        supervisor.Kind
	RecorderStopCommand string
	VideoExt            string

	SettleDelay        time.Duration
	ScrollDebounce     time.Duration
	ScrollMinMagnitude int
	BoundsTTL          time.Duration
	BoundsPoll         time.Duration
	StopGrace          time.Duration
	StopTerm           time.Duration
	StateRefresh       time.Duration
	DrainGrace         time.Duration

	Capturer capture.Capturer    // nil disables screenshots
	Resolver bounds.Resolver     // nil disables window-relative coordinates
	Launcher supervisor.Launcher // nil disables video recording
	Input    input.Source        // nil records an event-less session
	Store    Store               // nil skips the active-session state file

	Logger *slog.Logger
	Clock  func() time.Time
}

// Controller owns the session lifecycle: it wires input events through the
// scroll aggregator and slot registry, fans enrichment out per event, runs
// the recorder supervisor at session boundaries, and seals and persists
// the session record at stop.
type Controller struct {
	opts  Options
	log   *slog.Logger
	clock func() time.Time

	mu        sync.Mutex
	recording bool
	sessionID string
	taskName  string
	taskDir   string
	startMs   int64
	record    *Record
	reg       *registry.Registry
	agg       *scroll.Aggregator
	cache     *bounds.Cache
	enricher  *capture.Enricher
	sup       *supervisor.Supervisor
	tracker   *artifacts.Tracker
	cancel    context.CancelFunc
	inputDone chan struct{}

	bg sync.WaitGroup
}

// NewController builds a Controller from opts.
func NewController(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.StateRefresh <= 0 {
		opts.StateRefresh = DefaultStateRefresh
	}
	if opts.DrainGrace <= 0 {
		opts.DrainGrace = DefaultDrainGrace
	}
	if opts.RecorderKind == "" {
		opts.RecorderKind = supervisor.KindCommand
	}
	if opts.VideoExt == "" {
		opts.VideoExt = "mp4"
	}
	return &Controller{opts: opts, log: opts.Logger, clock: opts.Clock}
}

// Start opens a new session for taskName: fresh registry, aggregator and
// bounds cache, one recorder per display, the focus poller, the artifact
// watcher, and the input stream. Starting while already recording is a
// no-op.
func (c *Controller) Start(ctx context.Context, taskName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.recording {
		c.log.Debug("start ignored, already recording", "task", c.taskName)
		return nil
	}
	if taskName == "" {
		return errors.New("task name required")
	}

	taskDir := filepath.Join(c.opts.DataRoot, taskName)
	if err := os.MkdirAll(taskDir, 0o755); err != nil {
		return fmt.Errorf("create task directory: %w", err)
	}

	now := c.clock()
	c.sessionID = uuid.New().String()
	c.taskName = taskName
	c.taskDir = taskDir
	c.startMs = now.UnixMilli()

	c.record = NewRecord(taskName, c.startMs, Metadata{
		Operator: c.opts.Operator,
		Platform: runtime.GOOS,
		Displays: c.opts.Displays,
	})

	rec := c.record
	c.reg = registry.New(registry.Options{
		Sink: func(ev event.Event) {
			if !rec.Append(ev) {
				c.log.Warn("event flushed after seal, discarded", "id", ev.ID)
			}
		},
		Logger: c.log,
		Clock:  c.clock,
	})

	// Constructed fresh per session, which is the reset the components
	// require between sessions.
	if c.opts.Resolver != nil {
		c.cache = bounds.New(bounds.Options{
			Resolver:     c.opts.Resolver,
			TTL:          c.opts.BoundsTTL,
			PollInterval: c.opts.BoundsPoll,
			Logger:       c.log,
			Clock:        c.clock,
		})
	} else {
		c.cache = nil
	}

	enrichOpts := capture.Options{
		Capturer: c.opts.Capturer,
		Displays: c.opts.Displays,
		Root:     taskDir,
		Settle:   c.opts.SettleDelay,
		Logger:   c.log,
	}
	if c.cache != nil {
		enrichOpts.Bounds = c.cache
	}
	c.enricher = capture.NewEnricher(enrichOpts)

	c.agg = scroll.New(scroll.Options{
		Debounce:     c.opts.ScrollDebounce,
		MinMagnitude: c.opts.ScrollMinMagnitude,
		Emit: func(p event.Payload) {
			c.submit(event.KindScrollSequence, p)
		},
		Logger: c.log,
		Clock:  c.clock,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.tracker = artifacts.NewTracker(taskDir, c.log)
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		if err := c.tracker.Run(runCtx); err != nil {
			c.log.Warn("artifact watcher unavailable, relying on stop-time sweep", "error", err)
		}
	}()

	if c.cache != nil {
		c.bg.Add(1)
		go func() {
			defer c.bg.Done()
			c.cache.Run(runCtx)
		}()
	}

	if c.opts.Launcher != nil {
		c.sup = supervisor.New(supervisor.Options{
			Launcher:  c.opts.Launcher,
			StopGrace: c.opts.StopGrace,
			StopTerm:  c.opts.StopTerm,
			ExitHooks: map[supervisor.Kind]supervisor.ExitHook{
				c.opts.RecorderKind: c.recorderFinished,
			},
			Logger: c.log,
		})
		for _, d := range c.opts.Displays {
			target := supervisor.Target{
				DisplayID:   d.ID,
				OutputPath:  filepath.Join(taskDir, filepath.FromSlash(artifacts.VideoPath(d.ID, c.opts.VideoExt))),
				Kind:        c.opts.RecorderKind,
				StopCommand: c.opts.RecorderStopCommand,
			}
			if err := c.sup.Start(ctx, target); err != nil {
				// Fatal for this display's stream only.
				c.log.Error("recorder failed to start, display will have no video",
					"display", d.ID, "error", err)
			}
		}
	} else {
		c.sup = nil
	}

	c.inputDone = make(chan struct{})
	if c.opts.Input != nil {
		src := c.opts.Input
		done := c.inputDone
		c.bg.Add(1)
		go func() {
			defer c.bg.Done()
			defer close(done)
			if err := src.Stream(runCtx, c.dispatch); err != nil {
				c.log.Error("input stream failed", "error", err)
			}
		}()
	} else {
		c.log.Warn("no input source configured, session will record no events")
		close(c.inputDone)
	}

	if c.opts.Store != nil {
		if err := c.opts.Store.Save(c.stateLocked()); err != nil {
			c.log.Warn("state file write failed", "error", err)
		}
		c.bg.Add(1)
		go func() {
			defer c.bg.Done()
			c.refreshState(runCtx)
		}()
	}

	c.recording = true
	c.log.Info("session started",
		"task", taskName, "session", c.sessionID, "dir", taskDir,
		"displays", len(c.opts.Displays))
	return nil
}

// dispatch routes one raw input event. Wheel samples detour through the
// aggregator; everything else becomes a slot immediately.
func (c *Controller) dispatch(ev input.Event) error {
	switch ev.Kind {
	case input.KindClick:
		c.submit(event.KindClick, event.ClickPayload(ev.X, ev.Y, buttonOrLeft(ev.Button)))
	case input.KindDrag:
		c.submit(event.KindDrag, event.DragPayload(ev.X, ev.Y, ev.EndX, ev.EndY, buttonOrLeft(ev.Button)))
	case input.KindKey:
		if ev.Key == "" {
			return nil
		}
		kind := event.KindType
		if len(ev.Modifiers) > 0 {
			kind = event.KindKeyCombination
		}
		c.submit(kind, event.KeyPayload(ev.Key, ev.Modifiers))
	case input.KindWheel:
		c.agg.OnWheelSample(ev.Rotation, ev.X, ev.Y)
	default:
		c.log.Debug("ignoring unknown input kind", "kind", ev.Kind)
	}
	return nil
}

// submit allocates the slot synchronously, then enriches on its own
// goroutine. Enrichment runs on a background context: it is never
// cancelled, only dropped at stop if it has not finished.
func (c *Controller) submit(kind event.Kind, p event.Payload) {
	id, comp := c.reg.CreateSlot(kind, p)
	go c.enricher.Enrich(context.Background(), id, p, comp.Complete)
}

// recorderFinished is the supervisor exit hook: it checks the recorder
// actually produced its file once the encoder has exited.
func (c *Controller) recorderFinished(info supervisor.ExitInfo) {
	fi, err := os.Stat(info.OutputPath)
	if err != nil {
		c.log.Warn("recorder produced no output",
			"display", info.DisplayID, "path", info.OutputPath, "error", err)
		return
	}
	c.log.Info("recording ready",
		"display", info.DisplayID, "path", info.OutputPath, "bytes", fi.Size())
}

// Stop closes the session: input stops, the open scroll gesture is
// flushed, in-flight enrichments get a bounded grace before the registry
// is drained, recorders are signaled, and the sealed record is persisted.
// Stop returns once the record is on disk; encoders and exit hooks settle
// in the background (see Wait). Stopping while not recording is a no-op.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.recording {
		c.mu.Unlock()
		return nil
	}
	c.recording = false
	taskDir := c.taskDir
	record := c.record
	reg := c.reg
	agg := c.agg
	sup := c.sup
	tracker := c.tracker
	cancel := c.cancel
	c.mu.Unlock()

	cancel()

	// Close the gesture the debounce timer had still open; a real scroll
	// interrupted by stop is an event, not noise.
	agg.Flush()
	agg.Reset()

	c.awaitEnrichments(ctx, reg)
	dropped := reg.Drain()

	// Recorder shutdown runs concurrently with sealing; the escalation
	// chain bounds it, so it must not inherit the caller's deadline.
	if sup != nil {
		stopCtx := context.WithoutCancel(ctx)
		c.bg.Add(1)
		go func() {
			defer c.bg.Done()
			if err := sup.StopAll(stopCtx); err != nil {
				c.log.Warn("recorder shutdown incomplete", "error", err)
			}
		}()
	}

	notes, err := ReadAnnotations(taskDir)
	if err != nil {
		c.log.Warn("annotations unreadable, sealing without them", "error", err)
	}
	var videos []artifacts.Video
	if sup != nil {
		for _, r := range sup.Recordings() {
			rel, relErr := filepath.Rel(taskDir, r.OutputPath)
			if relErr != nil {
				rel = r.OutputPath
			}
			videos = append(videos, artifacts.Video{DisplayID: r.DisplayID, Path: filepath.ToSlash(rel)})
		}
	}
	endMs := c.clock().UnixMilli()
	record.Seal(endMs, tracker.Sweep(), videos, notes, len(dropped))

	persistErr := record.WriteFile(filepath.Join(taskDir, RecordFile))
	if persistErr != nil {
		// The sealed record stays in memory (Record()) so the caller can
		// retry persistence.
		c.log.Error("session record not persisted", "error", persistErr)
	}

	if c.opts.Store != nil {
		if err := c.opts.Store.Delete(); err != nil {
			c.log.Warn("state file cleanup failed", "error", err)
		}
	}

	c.log.Info("session stopped",
		"task", record.TaskName,
		"events", record.EventCount(),
		"dropped", len(dropped),
		"duration_s", record.Duration())
	return persistErr
}

// awaitEnrichments gives in-flight captures a bounded grace to complete
// before the drain drops them. The log is never blocked indefinitely
// behind a stalled enrichment.
func (c *Controller) awaitEnrichments(ctx context.Context, reg *registry.Registry) {
	deadline := time.Now().Add(c.opts.DrainGrace)
	for time.Now().Before(deadline) {
		if _, pending := reg.Counts(); pending == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Wait blocks until background work has settled: the input stream, the
// watchers, recorder encoders and their exit hooks. Call after Stop and
// before process exit.
func (c *Controller) Wait() {
	c.bg.Wait()
	c.mu.Lock()
	sup := c.sup
	c.mu.Unlock()
	if sup != nil {
		sup.Wait()
	}
}

// InputDone is closed when the input source's stream ends. Script-driven
// sessions use it to stop as soon as the script is exhausted.
func (c *Controller) InputDone() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inputDone
}

// Record returns the current (or last) session record. It remains
// available after a failed persist so the caller can retry.
func (c *Controller) Record() *Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record
}

// Status reports whether a session is recording and its task name.
func (c *Controller) Status() (recording bool, taskName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording, c.taskName
}

// stateLocked snapshots the cross-process State. Caller holds c.mu.
func (c *Controller) stateLocked() *State {
	s := &State{
		SessionID: c.sessionID,
		TaskName:  c.taskName,
		TaskDir:   c.taskDir,
		PID:       os.Getpid(),
		StartTime: c.startMs,
	}
	if c.reg != nil {
		s.EventsFlushed, s.EventsPending = c.reg.Counts()
	}
	if c.tracker != nil {
		s.Screenshots = c.tracker.Count()
	}
	return s
}

// refreshState rewrites the state file's live counts until the session
// ends.
func (c *Controller) refreshState(ctx context.Context) {
	t := time.NewTicker(c.opts.StateRefresh)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.mu.Lock()
			if !c.recording {
				c.mu.Unlock()
				return
			}
			s := c.stateLocked()
			c.mu.Unlock()
			if err := c.opts.Store.Save(s); err != nil {
				c.log.Debug("state refresh failed", "error", err)
			}
		}
	}
}

func buttonOrLeft(b string) string {
	if b == "" {
		return "left"
	}
	return b
}
