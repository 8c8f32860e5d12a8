package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"sonyctl/internal/dispatch"
	"sonyctl/internal/history"
	"sonyctl/internal/tui"
)

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Start the interactive remote",
	Long: `Launch the terminal remote. Every button dispatches a named action to the
configured devices, sharing the flood guard with nothing else in this process.
Logs go to logging.file when one is configured.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, cleanup, err := setup(true)
		if err != nil {
			return err
		}
		defer cleanup()

		d := dispatch.New(cfg, log)

		if cfg.History.Enabled {
			store, err := history.NewStore(cfg.History.Path, cfg.History.Limit, log)
			if err != nil {
				return fmt.Errorf("failed to open history: %w", err)
			}
			defer store.Close()
			d.Subscribe(store.Observer())
		}

		log.Info().Msg("Starting remote")

		if err := tui.Run(d, cfg.DiscPlayer.GetCallTimeout()); err != nil {
			log.Error().Err(err).Msg("Failed to start TUI")
			return err
		}
		return nil
	},
}
