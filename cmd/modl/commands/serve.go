package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/modlnet/modl/internal/api"
	"github.com/modlnet/modl/internal/config"
	"github.com/modlnet/modl/internal/daemon"
	"github.com/spf13/cobra"
)

// NewServeCmd creates the command that runs a relay node in the foreground.
func NewServeCmd() *cobra.Command {
	var snapshotPath string
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a relay node",
		Long: `Run a relay node in the foreground.

The node builds its ledgers from the genesis section of the config file,
serves the HTTP API and relays signed requests through its worker. The
config file is watched: log level and tier rate limits apply without a
restart. Stop with Ctrl-C; --snapshot writes a ledger summary on exit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := GetConfigPath()
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.API.Listen = listen
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			api.Version = GetVersion()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := daemon.RunOptions{
				SnapshotPath: snapshotPath,
				Ready: func(n *daemon.Node, apiAddr string) {
					if jsonOutput() {
						return
					}
					fields := [][2]string{
						{"Chain ID", n.ChainID().String()},
						{"Hub", n.Addresses().Hub.Hex()},
						{"Paymaster", n.Addresses().Paymaster.Hex()},
						{"Worker", n.Worker().Hex()},
					}
					if apiAddr != "" {
						fields = append(fields, [2]string{"API", "http://" + apiAddr})
					}
					fmt.Fprintln(os.Stderr, StatusBox(Logo()+" node running", fields))
				},
			}
			if _, err := os.Stat(path); err == nil {
				opts.ConfigPath = path
			}
			return daemon.Run(ctx, cfg, opts)
		},
	}

	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "Write a ledger summary to this file on shutdown")
	cmd.Flags().StringVar(&listen, "listen", "", "Override api.listen")
	return cmd
}
