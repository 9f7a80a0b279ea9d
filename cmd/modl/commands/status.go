package commands

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

// requestTimeout bounds one-shot API commands.
const requestTimeout = 30 * time.Second

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, requestTimeout)
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// NewStatusCmd creates the node status command.
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show node status",
		Long:  "Show the node's health, component addresses and ledger totals.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			c := GetClient()

			health, err := c.Health(ctx)
			if err != nil {
				return fmt.Errorf("node unreachable at %s: %w", c.BaseURL(), err)
			}
			status, err := c.Status(ctx)
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(map[string]any{"health": health, "status": status})
			}

			fmt.Println(StatusBox(Logo()+" "+StatusBadge(health.Status), [][2]string{
				{"Version", health.Version},
				{"Uptime", health.Uptime},
				{"Chain ID", status.ChainID.String()},
				{"Block", strconv.FormatUint(status.Block, 10)},
				{"Time", status.Time.Format(time.RFC3339)},
				{"Worker", status.Worker.Hex()},
			}))
			if health.Reason != "" {
				Warning(health.Reason)
			}

			fmt.Println(SectionHeader("Components"))
			fmt.Println(KeyValue("Hub", status.Hub.Hex()))
			fmt.Println(KeyValue("Forwarder", status.Forwarder.Hex()))
			fmt.Println(KeyValue("Paymaster", status.Paymaster.Hex()))
			fmt.Println(KeyValue("Token", status.Token.Hex()))
			if status.HubDeprecated {
				Warning("Relay hub is deprecated")
			}

			fmt.Println(SectionHeader("Ledgers"))
			fmt.Println(KeyValue("Hub deposits", FormatNative(status.HubTotalBalances)))
			fmt.Println(KeyValue("Paymaster", FormatNative(status.PaymasterHubBalance)))
			fmt.Println(KeyValue("Revenue", FormatModl(status.PaymasterRevenue)))
			fmt.Println(KeyValue("Reward pool", FormatModl(status.RewardPool)))
			fmt.Println(KeyValue("Burned", FormatModl(status.FeesBurned)))
			fmt.Println(KeyValue("Events", strconv.Itoa(status.Events)))
			fmt.Println(KeyValue("Stream clients", strconv.Itoa(status.StreamClients)))
			return nil
		},
	}
}

// NewRelayConfigCmd creates the command that prints how to build requests
// for this node.
func NewRelayConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "relay-config",
		Short: "Show the relay parameters clients sign against",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			cfg, err := GetClient().RelayConfig(ctx)
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(cfg)
			}

			fmt.Println(StatusBox("Relay configuration", [][2]string{
				{"Chain ID", cfg.ChainID.String()},
				{"Worker", cfg.Worker.Hex()},
				{"Hub", cfg.Hub.Hex()},
				{"Forwarder", cfg.Forwarder.Hex()},
				{"Paymaster", cfg.Paymaster.Hex()},
				{"Domain", cfg.DomainName + " v" + cfg.DomainVersion},
				{"Separator", cfg.DomainSeparator.Hex()},
			}))

			fmt.Println(SectionHeader("Fees"))
			fmt.Println(KeyValue("Base fee", FormatNative(cfg.HubConfig.BaseRelayFee)))
			fmt.Println(KeyValue("Pct fee", fmt.Sprintf("%d%%", cfg.HubConfig.PctRelayFee)))
			fmt.Println(KeyValue("Gas rate", cfg.GasToModlRate.String()+" per 1000 gas"))
			fmt.Println(KeyValue("Min tier", strconv.Itoa(int(cfg.MinRequiredTier))))
			fmt.Println(KeyValue("Policy", cfg.Policy))

			fmt.Println(SectionHeader("Limits"))
			fmt.Println(KeyValue("Acceptance", strconv.FormatUint(cfg.Limits.AcceptanceBudget, 10)))
			fmt.Println(KeyValue("Pre-call gas", strconv.FormatUint(cfg.Limits.PreRelayedCallGasLimit, 10)))
			fmt.Println(KeyValue("Post-call gas", strconv.FormatUint(cfg.Limits.PostRelayedCallGasLimit, 10)))
			fmt.Println(KeyValue("Calldata", strconv.FormatUint(cfg.Limits.CalldataSizeLimit, 10)+" bytes"))
			return nil
		},
	}
}
