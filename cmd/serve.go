package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"sonyctl/internal/dispatch"
	"sonyctl/internal/history"
	"sonyctl/internal/server"
)

var serveAddress string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Serve the action API (/api/bravia/{function}, /api/bluray/{function}),
the /api/v1 inspection routes and the /ws status feed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, cleanup, err := setup(false)
		if err != nil {
			return err
		}
		defer cleanup()

		d := dispatch.New(cfg, log)

		opts := []server.Option{
			server.WithLogger(log),
			server.WithTimeout(cfg.GetServerTimeout()),
			server.WithNonceCache(server.NewNonceCache(cfg.Dedup.MaxSize, cfg.GetDedupExpiration())),
		}

		if cfg.History.Enabled {
			store, err := history.NewStore(cfg.History.Path, cfg.History.Limit, log)
			if err != nil {
				log.Error().Err(err).Str("path", cfg.History.Path).Msg("Failed to open history database")
				return fmt.Errorf("failed to open history: %w", err)
			}
			defer store.Close()
			d.Subscribe(store.Observer())
			opts = append(opts, server.WithHistory(store))
		}

		address := cfg.Server.Address
		if serveAddress != "" {
			address = serveAddress
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		go watchReload(ctx, d, log)

		log.Info().
			Str("config_path", configPath).
			Int("displays", len(cfg.Displays)).
			Str("flood_window", cfg.Flood.Window).
			Str("flood_cooldown", cfg.Flood.Cooldown).
			Msg("Starting sonyctl API")

		return server.New(d, opts...).ListenAndServe(ctx, address)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveAddress, "address", "a", "", "Listen address (overrides server.address)")
}
