package main

import (
	"fmt"
	"os"

	"github.com/modlnet/modl/cmd/modl/commands"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "modl",
	Short: "MODL meta-transaction relay",
	Long:  "Run a MODL relay node and talk to one: gasless calls paid in MODL, tiered staking and audits.",
	// errors are printed once by main
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&commands.APIEndpoint, "api", "", "Node API base URL (default from config or http://127.0.0.1:8645)")
	rootCmd.PersistentFlags().StringVar(&commands.AdminToken, "admin-token", "", "Admin bearer token (default $MODL_ADMIN_TOKEN or config)")
	rootCmd.PersistentFlags().StringVarP(&commands.OutputFormat, "output", "o", "", "Output format: json")
	rootCmd.PersistentFlags().StringVar(&commands.ConfigPath, "config", "", "Config file (default ~/.modl/config.yaml)")
}

func main() {
	rootCmd.AddCommand(commands.NewServeCmd())
	rootCmd.AddCommand(commands.NewConfigCmd())
	rootCmd.AddCommand(commands.NewDemoCmd())
	rootCmd.AddCommand(commands.NewStatusCmd())
	rootCmd.AddCommand(commands.NewRelayConfigCmd())
	rootCmd.AddCommand(commands.NewAccountCmd())
	rootCmd.AddCommand(commands.NewStakeCmd())
	rootCmd.AddCommand(commands.NewTiersCmd())
	rootCmd.AddCommand(commands.NewAuditsCmd())
	rootCmd.AddCommand(commands.NewTemplatesCmd())
	rootCmd.AddCommand(commands.NewProjectsCmd())
	rootCmd.AddCommand(commands.NewEventsCmd())
	rootCmd.AddCommand(commands.NewSendCmd())
	rootCmd.AddCommand(commands.NewKeyCmd())
	rootCmd.AddCommand(commands.NewAdminCmd())
	rootCmd.AddCommand(commands.NewVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
