package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/demorec/demorec/internal/session"
)

var stopTimeout time.Duration

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the active recording session",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := session.NewStore()
		if err != nil {
			return err
		}

		s, err := store.Load()
		if err != nil {
			if errors.Is(err, session.ErrNoSession) {
				return fmt.Errorf("no active session")
			}
			return err
		}

		if !processAlive(s.PID) {
			// Nothing to signal; just clear the leftover state.
			appLog.Warn("recording process is gone, clearing state", "pid", s.PID)
			if err := store.Delete(); err != nil {
				return err
			}
			cmd.Println("Cleared stale session state.")
			return nil
		}

		p, err := os.FindProcess(s.PID)
		if err != nil {
			return err
		}
		if err := p.Signal(os.Interrupt); err != nil {
			return fmt.Errorf("signal recording process %d: %w", s.PID, err)
		}

		// The recording process seals the session and removes the state
		// file on its way out.
		if !waitForStateRemoval(store, stopTimeout) {
			return fmt.Errorf("recording process %d did not stop within %s", s.PID, stopTimeout)
		}

		cmd.Printf("Session stopped. Task %q recorded to %s\n", s.TaskName, s.TaskDir)
		return nil
	},
}

func init() {
	stopCmd.Flags().DurationVar(&stopTimeout, "timeout", 15*time.Second, "how long to wait for the recording process to shut down")
	rootCmd.AddCommand(stopCmd)
}
