package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/demorec/demorec/internal/session"
)

var noteCmd = &cobra.Command{
	Use:   "note <text>",
	Short: "Attach a note to the active recording session",
	Args:  cobra.MinimumNArgs(1),
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

		a := session.Annotation{
			Timestamp: time.Now().UnixMilli(),
			Text:      strings.Join(args, " "),
		}
		if err := session.AppendAnnotation(s.TaskDir, a); err != nil {
			return err
		}

		cmd.Println("Note added.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(noteCmd)
}
