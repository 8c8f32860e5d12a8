package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"sonyctl/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Generate or validate sonyctl configuration files.`,
}

var configGenerateCmd = &cobra.Command{
	Use:   "generate [config-file]",
	Short: "Generate default configuration file",
	Long:  `Generate a default configuration file with example settings.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if len(args) > 0 {
			path = args[0]
		}

		if err := config.SaveConfig(config.NewDefaultConfig(), path); err != nil {
			return fmt.Errorf("failed to save default config: %w", err)
		}

		cmd.Printf("Default configuration saved to: %s\n", path)
		cmd.Println("Please edit the file with your actual device addresses and keys.")
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [config-file]",
	Short: "Validate configuration file",
	Long: `Validate a configuration file for syntax and field formats. Hosts that
would be rejected at dispatch time are reported as warnings.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if len(args) > 0 {
			path = args[0]
		}

		if err := config.LoadDotEnv(envFile); err != nil {
			return err
		}
		cfg, err := config.LoadConfig(path)
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		cmd.Printf("Configuration file is valid: %s\n", path)
		cmd.Printf("Configured displays: %d\n", len(cfg.Displays))
		for _, d := range cfg.Displays {
			cmd.Printf("  - %s (%s) at %s:%d\n", d.ID, d.Model, d.Host, d.Port)
		}
		cmd.Printf("Disc player: %s at %s:%d (%s)\n", cfg.DiscPlayer.ID, cfg.DiscPlayer.Host, cfg.DiscPlayer.Port, cfg.DiscPlayer.ReadPolicy)
		cmd.Printf("Flood guard: %s %s\n", cfg.Flood.Window, cfg.Flood.Cooldown)

		for _, w := range cfg.HostWarnings() {
			cmd.Printf("Warning: %s\n", w)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configGenerateCmd)
	configCmd.AddCommand(configValidateCmd)
}
