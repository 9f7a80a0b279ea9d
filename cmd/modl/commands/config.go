package commands

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/modlnet/modl/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewConfigCmd creates the config command group.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long: `Create, inspect and validate the node configuration file.

The default location is ~/.modl/config.yaml; override with --config.`,
	}
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigValidateCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force, yes bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file",
		Long:  "Write a configuration file with defaults, prompting for the API listen address and admin token.",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := GetConfigPath()
			_, statErr := os.Stat(path)
			exists := statErr == nil

			cfg := config.DefaultConfig()
			token, err := randomToken()
			if err != nil {
				return err
			}
			cfg.API.AdminToken = token

			if !yes && isTTY() {
				overwrite := force
				form := huh.NewForm(
					huh.NewGroup(
						huh.NewInput().
							Title("API listen address").
							Value(&cfg.API.Listen),
						huh.NewInput().
							Title("Admin token").
							Description("Bearer token for /v1/admin routes; empty disables them").
							Value(&cfg.API.AdminToken),
						huh.NewSelect[string]().
							Title("Log format").
							Options(
								huh.NewOption("JSON", "json"),
								huh.NewOption("Text", "text"),
							).
							Value(&cfg.Logging.Format),
					),
					huh.NewGroup(
						huh.NewConfirm().
							Title("Config file already exists. Overwrite?").
							Description(path).
							Affirmative("Overwrite").
							Negative("Keep existing").
							Value(&overwrite),
					).WithHideFunc(func() bool {
						return !exists || force
					}),
				).WithTheme(huh.ThemeBase())
				if err := form.Run(); err != nil {
					return err
				}
				force = overwrite
			}

			if exists && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.Save(path); err != nil {
				return err
			}
			Success("Configuration written to " + path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Accept defaults without prompting")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(GetConfigPath())
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Check a configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := GetConfigPath()
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("cannot read %s: %w", path, err)
			}
			if _, err := config.Load(path); err != nil {
				return err
			}
			Success(path + " is valid")
			return nil
		},
	}
}

func randomToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate admin token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
