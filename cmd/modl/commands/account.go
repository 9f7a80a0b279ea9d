package commands

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// NewAccountCmd creates the command that shows one address's standing
// across the ledgers.
func NewAccountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "account [address]",
		Short: "Show an address's nonce, tier and deposits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()
			c := GetClient()

			nonce, err := c.Nonce(ctx, addr)
			if err != nil {
				return err
			}
			tier, err := c.Tier(ctx, addr)
			if err != nil {
				return err
			}
			pm, err := c.PaymasterAccount(ctx, addr)
			if err != nil {
				return err
			}
			hubBalance, err := c.HubBalance(ctx, addr)
			if err != nil {
				return err
			}

			if jsonOutput() {
				return printJSON(map[string]any{
					"nonce":      nonce,
					"tier":       tier,
					"paymaster":  pm,
					"hubBalance": hubBalance,
				})
			}

			tierName := strconv.Itoa(int(tier.Tier))
			if tier.Name != "" {
				tierName += " (" + tier.Name + ")"
			}
			fields := [][2]string{
				{"Nonce", strconv.FormatUint(nonce, 10)},
				{"Tier", tierName},
				{"Tier stake", FormatModl(tier.Stake)},
			}
			if !tier.CooldownEnds.IsZero() {
				fields = append(fields, [2]string{"Cooldown ends", tier.CooldownEnds.Format(time.RFC3339)})
			}
			if tier.BadgeID != 0 {
				fields = append(fields, [2]string{"Badge", fmt.Sprintf("#%d %s", tier.BadgeID, tier.BadgeURI)})
			}
			fields = append(fields,
				[2]string{"Deposit", FormatModl(pm.Deposit)},
				[2]string{"Held", FormatModl(pm.Hold)},
				[2]string{"Available", FormatModl(pm.Available)},
				[2]string{"Discount", fmt.Sprintf("%d bps", pm.DiscountBps)},
				[2]string{"Hub balance", FormatNative(hubBalance)},
			)
			fmt.Println(StatusBox(addr.Hex(), fields))
			if !pm.Eligible {
				Warning("Tier is below the paymaster minimum; requests will be rejected")
			}
			return nil
		},
	}
}

// NewStakeCmd creates the relay manager stake command.
func NewStakeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stake [manager]",
		Short: "Show a relay manager's stake",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			s, err := GetClient().Stake(ctx, manager)
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(s)
			}

			state := "staked"
			if !s.Staked {
				state = "unstaked"
			}
			fields := [][2]string{
				{"Owner", s.Info.Owner.Hex()},
				{"Token", s.Info.Token.Hex()},
				{"Amount", FormatModl(s.Info.Amount)},
				{"Unstake delay", s.Info.UnstakeDelay.String()},
				{"Workers", strconv.Itoa(s.WorkerCount)},
			}
			if s.Unlocked {
				fields = append(fields, [2]string{"Withdrawable", s.Info.WithdrawTime.Format(time.RFC3339)})
			}
			fmt.Println(StatusBox(manager.Hex()+" "+StatusBadge(state), fields))
			if s.Reason != "" {
				fmt.Println(Hint(s.Reason))
			}
			return nil
		},
	}
}

// NewTiersCmd creates the command that lists the paymaster's tier discounts.
func NewTiersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tiers",
		Short: "List tier discounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			cfg, err := GetClient().RelayConfig(ctx)
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(cfg.TierDiscountBps)
			}

			levels := make([]int, 0, len(cfg.TierDiscountBps))
			for l := range cfg.TierDiscountBps {
				levels = append(levels, int(l))
			}
			sort.Ints(levels)
			rows := make([][]string, 0, len(levels))
			for _, l := range levels {
				eligible := "yes"
				if uint8(l) < cfg.MinRequiredTier {
					eligible = "no"
				}
				rows = append(rows, []string{
					strconv.Itoa(l),
					fmt.Sprintf("%d bps", cfg.TierDiscountBps[uint8(l)]),
					eligible,
				})
			}
			fmt.Println(RenderTable([]string{"TIER", "DISCOUNT", "ELIGIBLE"}, rows))
			return nil
		},
	}
}
