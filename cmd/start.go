package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/demorec/demorec/internal/capture"
	"github.com/demorec/demorec/internal/input"
	"github.com/demorec/demorec/internal/session"
	"github.com/demorec/demorec/internal/supervisor"
)

var startScript string

var startCmd = &cobra.Command{
	Use:   "start <task>",
	Short: "Begin recording a session for the named task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := session.NewStore()
		if err != nil {
			return err
		}

		s, err := store.Load()
		if err != nil && !errors.Is(err, session.ErrNoSession) {
			return err
		}
		if s != nil {
			if processAlive(s.PID) {
				return fmt.Errorf("session already in progress (task %q, pid %d)", s.TaskName, s.PID)
			}
			// The recording process died without cleaning up. Clear the
			// stale state and continue.
			appLog.Warn("clearing stale session state", "task", s.TaskName, "pid", s.PID)
			if err := store.Delete(); err != nil {
				return err
			}
		}

		ctrl := session.NewController(buildOptions(store))

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if err := ctrl.Start(ctx, args[0]); err != nil {
			return err
		}
		cmd.Printf("Recording task %q. Press Ctrl-C to stop.\n", args[0])

		// Foreground until interrupted, or until a scripted input source
		// runs out of events.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		select {
		case <-sigCh:
		case <-ctrl.InputDone():
		}

		if err := ctrl.Stop(context.Background()); err != nil {
			return err
		}
		ctrl.Wait()

		rec := ctrl.Record()
		if rec != nil {
			cmd.Printf("Session stopped. %d events, %d screenshots, %d videos → %s\n",
				rec.EventCount(), len(rec.Screenshots), len(rec.Videos), rec.TaskName)
		}
		return nil
	},
}

// buildOptions wires the merged config and profile into controller
// options. Unconfigured capture and recorder commands leave their
// component nil; the pipeline degrades instead of failing.
func buildOptions(store session.Store) session.Options {
	prof := GetProfile()
	operator := ""
	if prof != nil {
		operator = prof.Name
	}

	opts := session.Options{
		DataRoot: cfg.DataRoot,
		Operator: operator,
		Displays: cfg.Displays,

		RecorderKind:        supervisor.Kind(cfg.RecorderKind),
		RecorderStopCommand: cfg.RecorderStopCommand,
		VideoExt:            cfg.VideoExt,

		SettleDelay:        cfg.SettleDelay(),
		ScrollDebounce:     cfg.ScrollDebounce(),
		ScrollMinMagnitude: cfg.ScrollMinMagnitude,
		BoundsTTL:          cfg.BoundsTTL(),
		BoundsPoll:         cfg.BoundsPoll(),
		StopGrace:          cfg.StopGrace(),
		StopTerm:           cfg.StopTerm(),

		Store:  store,
		Logger: appLog,
	}

	if len(cfg.ScreenCaptureCommand) > 0 {
		opts.Capturer = capture.NewCommandCapturer(cfg.ScreenCaptureCommand, cfg.WindowCaptureCommand)
	}
	if len(cfg.ActiveWindowCommand) > 0 {
		opts.Resolver = capture.NewCommandResolver(cfg.ActiveWindowCommand, cfg.WindowBoundsCommand)
	}
	if len(cfg.RecorderCommand) > 0 {
		opts.Launcher = supervisor.NewExecLauncher(cfg.RecorderCommand)
	}

	if startScript != "" {
		opts.Input = &input.ScriptSource{Path: startScript}
	} else if len(cfg.InputCommand) > 0 {
		opts.Input = &input.CommandSource{Argv: cfg.InputCommand, Log: appLog}
	}

	return opts
}

// processAlive reports whether pid names a live process we could signal.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}

// waitForStateRemoval polls until the active-session state file is gone
// or the deadline passes.
func waitForStateRemoval(store session.Store, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := store.Load(); errors.Is(err, session.ErrNoSession) {
			return true
		}
		time.Sleep(200 * time.Millisecond)
	}
	return false
}

func init() {
	startCmd.Flags().StringVar(&startScript, "script", "", "replay a JSONL input script instead of the live input listener")
	rootCmd.AddCommand(startCmd)
}
