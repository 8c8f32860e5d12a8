package cmd

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"sonyctl/internal/config"
	"sonyctl/internal/logger"
)

var (
	verbose    bool
	configPath string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "sonyctl",
	Short: "sonyctl - control Sony displays and disc players",
	Long: `sonyctl drives Sony Bravia displays over their JSON-RPC REST API and a
Sony disc player over its TCP control protocol. Named actions are dispatched
to every configured device behind a flood guard, either from the command
line, the interactive remote, or the HTTP API.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "sonyctl.yml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional .env file with SONYCTL_* overrides")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(actionCmd)
	rootCmd.AddCommand(remoteCmd)
	rootCmd.AddCommand(displayCmd)
	rootCmd.AddCommand(blurayCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig reads the .env file and the configuration, falling back to
// defaults when the configuration file does not exist
func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	return config.LoadOrDefault(configPath)
}

// newLogger builds the process logger. silent keeps the terminal clean for
// the TUI; a configured log file still receives everything.
func newLogger(cfg *config.Config, silent bool) (zerolog.Logger, io.Closer, error) {
	level := cfg.Logging.Level
	if verbose {
		level = logger.LOG_DEBUG
	}

	if silent && cfg.Logging.File == "" {
		return logger.New(logger.Options{Silent: true})
	}

	opts := logger.Options{Level: level, File: cfg.Logging.File}
	if silent {
		opts.Out = io.Discard
	}
	return logger.New(opts)
}

// setup loads configuration and the logger every device command needs
func setup(silent bool) (*config.Config, zerolog.Logger, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, logger.Nop(), func() {}, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, closer, err := newLogger(cfg, silent)
	if err != nil {
		return nil, logger.Nop(), func() {}, err
	}

	for _, w := range cfg.HostWarnings() {
		log.Warn().Str("problem", w).Msg("Device host will be rejected at dispatch time")
	}

	return cfg, log, func() { closer.Close() }, nil
}
