package commands

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

// NewAdminCmd creates the admin command group. Admin routes need the
// node's admin token via --admin-token, MODL_ADMIN_TOKEN or the config.
func NewAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Operator commands",
	}
	cmd.AddCommand(newAdminAdvanceCmd())
	cmd.AddCommand(newAdminSweepCmd())
	cmd.AddCommand(newAdminMetricsCmd())
	return cmd
}

func newAdminAdvanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "advance [duration]",
		Short: "Advance the ledger clock",
		Long:  "Advance the ledger clock, e.g. to let a cooldown or unstake delay pass. Accepts Go durations such as 90m or 168h.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := time.ParseDuration(args[0])
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			if d <= 0 {
				return fmt.Errorf("duration must be positive")
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			now, err := GetClient().AdvanceTime(ctx, d)
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(map[string]any{"now": now})
			}
			Success("Ledger time is now " + now.Format(time.RFC3339))
			return nil
		},
	}
}

func newAdminSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Sweep paymaster revenue to the fee distributor",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			swept, err := GetClient().SweepRevenue(ctx)
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(map[string]any{"swept": swept})
			}
			Success("Swept " + FormatModl(swept))
			return nil
		},
	}
}

func newAdminMetricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Show the node's request and relay counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			m, err := GetClient().Metrics(ctx)
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(m)
			}
			keys := make([]string, 0, len(m))
			for k := range m {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			rows := make([][]string, len(keys))
			for i, k := range keys {
				rows[i] = []string{k, fmt.Sprint(m[k])}
			}
			fmt.Println(RenderTable([]string{"METRIC", "VALUE"}, rows))
			return nil
		},
	}
}
