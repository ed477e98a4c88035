package cmd

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/demorec/demorec/internal/export"
)

var (
	exportDataRoot   string
	exportChatOut    string
	exportJobs       int
	exportSkipEvents bool
	exportSkipChat   bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Render recorded sessions into training dataset files",
}

// exportRunner builds a Runner from the flags and merged config.
func exportRunner() *export.Runner {
	root := exportDataRoot
	if root == "" {
		root = cfg.DataRoot
	}
	return &export.Runner{DataRoot: root, Log: appLog, Concurrency: exportJobs}
}

var exportEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Write llm_events.json for every recorded task",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := exportRunner().Events(context.Background())
		if err != nil {
			return err
		}
		cmd.Printf("Rendered events for %d task(s).\n", n)
		return nil
	},
}

var exportChatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Write chat.jsonl for every task with an events file",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := exportRunner().Chat(context.Background(), exportChatOut)
		if err != nil {
			return err
		}
		cmd.Printf("Rendered chat data for %d task(s).\n", n)
		if exportChatOut != "" {
			cmd.Printf("Combined dataset: %s\n", exportChatOut)
		}
		return nil
	},
}

var exportAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Render events then chat data in one pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		r := exportRunner()
		ctx := context.Background()
		if !exportSkipEvents {
			n, err := r.Events(ctx)
			if err != nil {
				return err
			}
			cmd.Printf("Rendered events for %d task(s).\n", n)
		}
		if exportSkipChat {
			return nil
		}

		out := exportChatOut
		if out == "" {
			out = filepath.Join(r.DataRoot, "all_chat_data.jsonl")
		}
		n, err := r.Chat(ctx, out)
		if err != nil {
			return err
		}
		cmd.Printf("Rendered chat data for %d task(s). Combined dataset: %s\n", n, out)
		return nil
	},
}

func init() {
	exportCmd.PersistentFlags().StringVar(&exportDataRoot, "data-root", "", "task directory root (defaults to the configured data root)")
	exportCmd.PersistentFlags().IntVar(&exportJobs, "jobs", 0, "how many tasks to render in parallel (0 = default)")
	exportChatCmd.Flags().StringVar(&exportChatOut, "out", "", "also write a combined JSONL of all tasks to this path")
	exportAllCmd.Flags().StringVar(&exportChatOut, "out", "", "combined JSONL output path")
	exportAllCmd.Flags().BoolVar(&exportSkipEvents, "skip-events", false, "skip the events stage")
	exportAllCmd.Flags().BoolVar(&exportSkipChat, "skip-chat", false, "skip the chat stage")
	exportCmd.AddCommand(exportEventsCmd)
	exportCmd.AddCommand(exportChatCmd)
	exportCmd.AddCommand(exportAllCmd)
	rootCmd.AddCommand(exportCmd)
}
