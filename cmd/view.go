package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/demorec/demorec/internal/session"
	"github.com/demorec/demorec/internal/tui"
)

var plainOutput bool

var viewCmd = &cobra.Command{
	Use:   "view <task>",
	Short: "View a recorded session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := filepath.Join(cfg.DataRoot, args[0], session.RecordFile)
		if _, err := os.Stat(path); err != nil {
			// Also accept a direct path to a session record file.
			if _, statErr := os.Stat(args[0]); statErr == nil {
				path = args[0]
			} else {
				return fmt.Errorf("no recorded session for task %q (looked at %s)", args[0], path)
			}
		}

		rec, err := session.LoadRecord(path)
		if err != nil {
			return err
		}

		if plainOutput {
			printRecord(cmd, rec)
			return nil
		}
		return tui.Run(rec, path)
	},
}

// printRecord writes a plain-text session summary.
func printRecord(cmd *cobra.Command, r *session.Record) {
	cmd.Println("## Summary")
	cmd.Printf("  Task:      %s\n", r.TaskName)
	cmd.Printf("  Started:   %s\n", time.UnixMilli(r.StartTime).Format("2006-01-02 15:04:05 MST"))
	if r.EndTime != 0 {
		cmd.Printf("  Stopped:   %s\n", time.UnixMilli(r.EndTime).Format("2006-01-02 15:04:05 MST"))
		cmd.Printf("  Duration:  %.1fs\n", r.Duration())
	}
	if r.Metadata.Operator != "" {
		cmd.Printf("  Operator:  %s\n", r.Metadata.Operator)
	}
	if r.Metadata.Platform != "" {
		cmd.Printf("  Platform:  %s\n", r.Metadata.Platform)
	}
	if r.Metadata.DroppedEvents > 0 {
		cmd.Printf("  Dropped:   %d events\n", r.Metadata.DroppedEvents)
	}
	cmd.Println()

	cmd.Println("## Events")
	if len(r.Events) == 0 {
		cmd.Println("  (none)")
	} else {
		for _, ev := range r.Events {
			line := fmt.Sprintf("  %4d  %-16s", ev.ID, ev.Type)
			switch {
			case ev.Key != "":
				line += fmt.Sprintf("  %s", ev.Key)
			case ev.Direction != "":
				line += fmt.Sprintf("  %s ×%d", ev.Direction, ev.TotalAmount)
			case ev.X != nil && ev.Y != nil:
				line += fmt.Sprintf("  (%d, %d)", *ev.X, *ev.Y)
			}
			cmd.Println(line)
		}
	}
	cmd.Println()

	cmd.Println("## Screenshots")
	if len(r.Screenshots) == 0 {
		cmd.Println("  (none)")
	} else {
		for _, s := range r.Screenshots {
			cmd.Printf("  %s\n", s.Path)
		}
	}
	cmd.Println()

	cmd.Println("## Videos")
	if len(r.Videos) == 0 {
		cmd.Println("  (none)")
	} else {
		for _, v := range r.Videos {
			cmd.Printf("  display %d: %s\n", v.DisplayID, v.Path)
		}
	}
	cmd.Println()

	cmd.Println("## Annotations")
	if len(r.Metadata.Annotations) == 0 {
		cmd.Println("  (none)")
	} else {
		for _, a := range r.Metadata.Annotations {
			cmd.Printf("  [%s] %s\n", time.UnixMilli(a.Timestamp).Format("2006-01-02 15:04:05"), a.Text)
		}
	}
	cmd.Println()
}

func init() {
	viewCmd.Flags().BoolVar(&plainOutput, "plain", false, "plain text output instead of TUI")
	rootCmd.AddCommand(viewCmd)
}
