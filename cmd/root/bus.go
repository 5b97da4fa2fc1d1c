package root

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/weftwork/weft/pkg/bus"
	"github.com/weftwork/weft/pkg/config"
)

func newBusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bus",
		Short: "Inspect the cross-session event bus",
	}

	cmd.AddCommand(newBusHistoryCmd())
	cmd.AddCommand(newBusTailCmd())
	cmd.AddCommand(newBusSessionsCmd())

	return cmd
}

func openBus(configPath string) (*bus.Bus, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	eventBus, err := bus.Open(cfg.Bus.Path)
	if err != nil {
		return nil, nil, err
	}
	return eventBus, cfg, nil
}

func newBusHistoryCmd() *cobra.Command {
	var configPath string
	var since int64
	var limit int

	cmd := &cobra.Command{
		Use:   "history [topic]",
		Short: "Print recorded bus events for a topic",
		Long:  `Prints the durable records of one topic in sequence order. Without a topic, the catch-all "all" topic is read in global order.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic := bus.TopicAll
			if len(args) == 1 {
				topic = args[0]
			}

			eventBus, _, err := openBus(configPath)
			if err != nil {
				return err
			}
			defer eventBus.Close()

			records, err := eventBus.Read(cmd.Context(), topic, since, bus.ReadOptions{Limit: limit})
			if err != nil {
				return err
			}
			for _, record := range records {
				printRecord(cmd, record)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to weft.yaml")
	cmd.Flags().Int64Var(&since, "since", 0, "Only records with a sequence greater than this")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Cap the number of records (0 for all)")

	return cmd
}

func newBusTailCmd() *cobra.Command {
	var configPath string
	var replay bool

	cmd := &cobra.Command{
		Use:   "tail [topic]",
		Short: "Follow a bus topic, printing records as they are published",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic := bus.TopicAll
			if len(args) == 1 {
				topic = args[0]
			}

			eventBus, cfg, err := openBus(configPath)
			if err != nil {
				return err
			}
			defer eventBus.Close()

			fromSeq := int64(0)
			if !replay {
				fromSeq, err = latestSeq(cmd, eventBus, topic)
				if err != nil {
					return err
				}
			}

			sub := eventBus.Subscribe(topic, fromSeq, bus.SubscribeOptions{
				PollInterval: cfg.Bus.PollInterval,
			})
			defer sub.Close()

			for {
				record, err := sub.Next(cmd.Context())
				if err != nil {
					if cmd.Context().Err() != nil {
						return nil
					}
					return err
				}
				printRecord(cmd, record)
			}
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to weft.yaml")
	cmd.Flags().BoolVar(&replay, "replay", false, "Start from the beginning of the topic instead of its current end")

	return cmd
}

func newBusSessionsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List live registered sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eventBus, _, err := openBus(configPath)
			if err != nil {
				return err
			}
			defer eventBus.Close()

			sessions, err := eventBus.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no live sessions")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tNAME\tMACHINE\tCWD\tLAST HEARTBEAT")
			for _, session := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					session.ID, session.Name, session.Machine, session.Cwd,
					session.LastHeartbeat.Format(time.DateTime))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to weft.yaml")

	return cmd
}

// latestSeq returns the sequence of the last record currently in the
// topic, so a tail without --replay starts with new records only.
func latestSeq(cmd *cobra.Command, eventBus *bus.Bus, topic string) (int64, error) {
	records, err := eventBus.Read(cmd.Context(), topic, 0, bus.ReadOptions{})
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	return records[len(records)-1].Seq, nil
}

func printRecord(cmd *cobra.Command, record bus.Record) {
	line := struct {
		bus.Record
		GlobalSeq int64 `json:"global_seq"`
	}{Record: record, GlobalSeq: record.GlobalSeq()}

	encoded, err := json.Marshal(line)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "malformed record seq=%d: %v\n", record.Seq, err)
		return
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
}
