package root

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/weftwork/weft/pkg/bus"
	"github.com/weftwork/weft/pkg/config"
)

func newTasksCmd() *cobra.Command {
	var configPath string
	var limit int

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List background tasks finished by any session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			eventBus, err := bus.Open(cfg.Bus.Path)
			if err != nil {
				return err
			}
			defer eventBus.Close()

			records, err := eventBus.Read(cmd.Context(), bus.TopicAll, 0, bus.ReadOptions{
				Types: []string{bus.RecordTypeTaskFinished},
			})
			if err != nil {
				return err
			}
			if limit > 0 && len(records) > limit {
				records = records[len(records)-limit:]
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no finished tasks")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TASK\tSTATUS\tEXIT\tFINISHED\tSUMMARY")
			for _, record := range records {
				var payload bus.TaskPayload
				if err := json.Unmarshal([]byte(record.Payload), &payload); err != nil {
					slog.Warn("Skipping malformed task record", "seq", record.Seq, "error", err)
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					payload.TaskID,
					payload.Status,
					payload.ExitCode,
					record.CreatedAt.Format(time.DateTime),
					truncate(firstLine(payload.Summary), 60),
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to weft.yaml")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Show at most this many most recent tasks (0 for all)")

	return cmd
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
