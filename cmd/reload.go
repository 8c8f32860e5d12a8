package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"sonyctl/internal/dispatch"
)

// watchReload re-reads the configuration on SIGHUP and swaps the device
// settings of d. A broken file keeps the running configuration.
func watchReload(ctx context.Context, d *dispatch.Dispatcher, log zerolog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			cfg, err := loadConfig()
			if err != nil {
				log.Error().Err(err).Msg("Reload failed, keeping current configuration")
				continue
			}
			for _, w := range cfg.HostWarnings() {
				log.Warn().Str("problem", w).Msg("Device host will be rejected at dispatch time")
			}
			d.Reload(cfg)
		}
	}
}
