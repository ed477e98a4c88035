// Package supervisor manages external recorder processes, one per
// display. Recorders are long-lived children that must be shut down
// gracefully (an encoder killed mid-write corrupts its output), so each
// stop walks an escalation chain: kind-appropriate graceful stop, then
// terminate, then kill.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/demorec/demorec/internal/logging"
)

const (
	// DefaultStopGrace is how long a recorder gets to honor the graceful
	// stop before it is terminated.
	DefaultStopGrace = 5 * time.Second
	// DefaultStopTerm is how long a terminated recorder gets before it
	// is killed.
	DefaultStopTerm = 2 * time.Second
	// DefaultStopCommand is the stdin command for command-driven
	// recorders. ffmpeg stops cleanly on "q".
	DefaultStopCommand = "q"
)

// Kind selects how a recorder is asked to stop.
type Kind string

const (
	// KindCommand recorders take a shutdown command on stdin.
	KindCommand Kind = "command"
	// KindSignal recorders stop on an interrupt signal.
	KindSignal Kind = "signal"
)

// State is a managed process's lifecycle position.
type State int

const (
	StateRunning State = iota
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Process is the handle the supervisor drives. The default implementation
// wraps os/exec; tests substitute fakes to exercise the escalation chain.
type Process interface {
	Signal(sig os.Signal) error
	WriteStdin(s string) error
	// Wait blocks until the process exits. Called exactly once, by the
	// supervisor's watch goroutine.
	Wait() error
	Kill() error
	PID() int
}

// Target describes one recorder to run.
type Target struct {
	DisplayID  int
	OutputPath string
	Kind       Kind
	// StopCommand overrides DefaultStopCommand for KindCommand targets.
	StopCommand string
}

// Launcher spawns recorder processes.
type Launcher interface {
	Launch(ctx context.Context, target Target) (Process, error)
}

// ExitInfo is passed to exit hooks after a recorder exits.
type ExitInfo struct {
	DisplayID  int
	Kind       Kind
	OutputPath string
	// Err is the process's wait error, nil on clean exit.
	Err error
}

// ExitHook runs asynchronously after a recorder of its kind exits. It
// never blocks Stop's return.
type ExitHook func(ExitInfo)

// Recording reports one managed recorder's output.
type Recording struct {
	DisplayID  int
	OutputPath string
	Err        error
}

type handle struct {
	target  Target
	proc    Process
	state   State
	waitErr error
	exited  chan struct{}
}

// Options configures a Supervisor.
type Options struct {
	Launcher  Launcher
	StopGrace time.Duration
	StopTerm  time.Duration
	ExitHooks map[Kind]ExitHook
	Logger    *slog.Logger
}

// Supervisor runs and stops recorder processes. Safe for concurrent use.
type Supervisor struct {
	launcher Launcher
	grace    time.Duration
	term     time.Duration
	hooks    map[Kind]ExitHook
	log      *slog.Logger

	mu      sync.Mutex
	handles map[int]*handle
	wg      sync.WaitGroup
}

// New builds a Supervisor from opts.
func New(opts Options) *Supervisor {
	s := &Supervisor{
		launcher: opts.Launcher,
		grace:    opts.StopGrace,
		term:     opts.StopTerm,
		hooks:    opts.ExitHooks,
		log:      opts.Logger,
		handles:  make(map[int]*handle),
	}
	if s.grace <= 0 {
		s.grace = DefaultStopGrace
	}
	if s.term <= 0 {
		s.term = DefaultStopTerm
	}
	if s.log == nil {
		s.log = logging.Discard()
	}
	return s
}

// Start spawns the recorder for target.DisplayID. A spawn failure is
// fatal for that display only; other displays keep recording.
func (s *Supervisor) Start(ctx context.Context, target Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.handles[target.DisplayID]; exists {
		return fmt.Errorf("display %d already has a recorder", target.DisplayID)
	}
	proc, err := s.launcher.Launch(ctx, target)
	if err != nil {
		return fmt.Errorf("spawn recorder for display %d: %w", target.DisplayID, err)
	}

	h := &handle{target: target, proc: proc, state: StateRunning, exited: make(chan struct{})}
	s.handles[target.DisplayID] = h
	s.log.Info("recorder started",
		"display", target.DisplayID, "pid", proc.PID(), "output", target.OutputPath)

	s.wg.Add(1)
	go s.watch(h)
	return nil
}

// watch owns the process's Wait and the exit bookkeeping.
func (s *Supervisor) watch(h *handle) {
	defer s.wg.Done()
	err := h.proc.Wait()

	s.mu.Lock()
	wasRunning := h.state == StateRunning
	h.state = StateStopped
	h.waitErr = err
	s.mu.Unlock()
	close(h.exited)

	switch {
	case wasRunning && err != nil:
		s.log.Warn("recorder exited unexpectedly", "display", h.target.DisplayID, "error", err)
	case wasRunning:
		s.log.Warn("recorder exited early", "display", h.target.DisplayID)
	default:
		s.log.Info("recorder stopped", "display", h.target.DisplayID, "output", h.target.OutputPath)
	}

	if hook := s.hooks[h.target.Kind]; hook != nil {
		info := ExitInfo{
			DisplayID:  h.target.DisplayID,
			Kind:       h.target.Kind,
			OutputPath: h.target.OutputPath,
			Err:        err,
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			hook(info)
		}()
	}
}

// Stop shuts the recorder for displayID down and returns once its process
// has been observed to exit. The chain is graceful stop, grace timeout,
// SIGTERM, term timeout, SIGKILL. Stopping an already-stopped display is
// a no-op; a concurrent Stop waits for the first one's outcome.
func (s *Supervisor) Stop(ctx context.Context, displayID int) error {
	s.mu.Lock()
	h, ok := s.handles[displayID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("no recorder for display %d", displayID)
	}
	if h.state == StateStopped {
		s.mu.Unlock()
		return nil
	}
	owner := h.state == StateRunning
	h.state = StateStopping
	s.mu.Unlock()

	if !owner {
		select {
		case <-h.exited:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.graceful(h)
	select {
	case <-h.exited:
		return nil
	case <-time.After(s.grace):
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Warn("recorder ignored graceful stop, terminating", "display", displayID)
	if err := h.proc.Signal(syscall.SIGTERM); err != nil {
		s.log.Debug("terminate failed", "display", displayID, "error", err)
	}
	select {
	case <-h.exited:
		return nil
	case <-time.After(s.term):
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Warn("recorder ignored terminate, killing", "display", displayID)
	if err := h.proc.Kill(); err != nil {
		s.log.Debug("kill failed", "display", displayID, "error", err)
	}
	select {
	case <-h.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// graceful sends the kind-appropriate stop request.
func (s *Supervisor) graceful(h *handle) {
	switch h.target.Kind {
	case KindCommand:
		stop := h.target.StopCommand
		if stop == "" {
			stop = DefaultStopCommand
		}
		if err := h.proc.WriteStdin(stop + "\n"); err != nil {
			s.log.Debug("stop command write failed", "display", h.target.DisplayID, "error", err)
		}
	default:
		if err := h.proc.Signal(os.Interrupt); err != nil {
			s.log.Debug("interrupt failed", "display", h.target.DisplayID, "error", err)
		}
	}
}

// StopAll stops every managed recorder concurrently and returns the first
// stop error. Total latency is bounded by the slowest single escalation
// chain, not their sum. Failures do not abort the other stops.
func (s *Supervisor) StopAll(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]int, 0, len(s.handles))
	for id := range s.handles {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error { return s.Stop(ctx, id) })
	}
	return g.Wait()
}

// State reports the lifecycle state of displayID's recorder.
func (s *Supervisor) State(displayID int) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[displayID]
	if !ok {
		return 0, false
	}
	return h.state, true
}

// Recordings lists the managed recorders' outputs, ordered by display.
func (s *Supervisor) Recordings() []Recording {
	s.mu.Lock()
	recs := make([]Recording, 0, len(s.handles))
	for _, h := range s.handles {
		recs = append(recs, Recording{
			DisplayID:  h.target.DisplayID,
			OutputPath: h.target.OutputPath,
			Err:        h.waitErr,
		})
	}
	s.mu.Unlock()

	sort.Slice(recs, func(i, j int) bool { return recs[i].DisplayID < recs[j].DisplayID })
	return recs
}

// Wait blocks until every managed process has exited and every exit hook
// has finished. Called before process exit so encoders settle.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// Reset forgets all handles. Only between sessions, after Wait.
func (s *Supervisor) Reset() {
	s.mu.Lock()
	s.handles = make(map[int]*handle)
	s.mu.Unlock()
}
