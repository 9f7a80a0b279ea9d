package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/modlnet/modl/internal/client"
	"github.com/spf13/cobra"
)

// NewEventsCmd creates the event log command.
func NewEventsCmd() *cobra.Command {
	var from, limit int
	var follow bool
	var names []string

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the ledger event log",
		Long: `Show committed ledger events.

With --follow, streams new events as they are committed until interrupted.
Combined with --from, the stream first replays the log from that index.
--name filters both the listing and the stream to the given event names.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := GetClient()
			if follow {
				ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
				defer stop()
				start := -1
				if cmd.Flags().Changed("from") {
					start = from
				}
				err := c.StreamFrom(ctx, start, names, func(ev client.Event) error {
					return printEvent(ev)
				})
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()
			page, err := c.Events(ctx, from, limit)
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(page)
			}
			rows := make([][]string, 0, len(page.Events))
			for _, ev := range page.Events {
				if len(names) > 0 && !contains(names, ev.Name) {
					continue
				}
				rows = append(rows, []string{
					strconv.FormatUint(ev.Block, 10),
					strconv.Itoa(ev.Index),
					ev.Name,
					truncate(string(ev.Data), 72),
				})
			}
			fmt.Println(RenderTable([]string{"BLOCK", "#", "EVENT", "DATA"}, rows))
			fmt.Println(Hint(fmt.Sprintf("next page: --from %d", page.Next)))
			return nil
		},
	}

	cmd.Flags().IntVar(&from, "from", 0, "Index of the first event")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum events to fetch")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stream new events")
	cmd.Flags().StringSliceVar(&names, "name", nil, "Only show these event names")
	return cmd
}

func printEvent(ev client.Event) error {
	if jsonOutput() {
		return printJSON(ev)
	}
	fmt.Printf("%s  %-6d %-24s %s\n",
		toneMuted.paint(ev.Time.Format(time.RFC3339)),
		ev.Block,
		toneAccent.paint(ev.Name),
		string(ev.Data))
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
