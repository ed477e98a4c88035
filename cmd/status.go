package cmd

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/demorec/demorec/internal/session"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active recording session",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := session.NewStore()
		if err != nil {
			return err
		}

		s, err := store.Load()
		if err != nil {
			if errors.Is(err, session.ErrNoSession) {
				cmd.Println("no active session")
				return nil
			}
			return err
		}

		if statusJSON {
			data, err := json.MarshalIndent(s, "", "  ")
			if err != nil {
				return err
			}
			cmd.Println(string(data))
			return nil
		}

		started := time.UnixMilli(s.StartTime)
		cmd.Printf("Task: %s\n", s.TaskName)
		cmd.Printf("Started: %s\n", started.Format(time.RFC3339))
		cmd.Printf("Duration: %s\n", time.Since(started).Round(time.Second).String())
		cmd.Printf("Events: %d flushed, %d pending\n", s.EventsFlushed, s.EventsPending)
		cmd.Printf("Screenshots: %d\n", s.Screenshots)
		if !processAlive(s.PID) {
			cmd.Println("warning: recording process is not running (stale state)")
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "machine-readable output")
	rootCmd.AddCommand(statusCmd)
}
