package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"sonyctl/internal/bravia"
	"sonyctl/internal/endpoint"
	"sonyctl/internal/logger"
)

var (
	displayHost    string
	displayPSK     string
	displayPort    int
	displayTimeout time.Duration
)

var displayCmd = &cobra.Command{
	Use:     "display",
	Aliases: []string{"bravia"},
	Short:   "Talk to one Bravia display directly",
	Long: `Send single JSON-RPC calls to one Sony Bravia display, bypassing the
configuration file and the flood guard.`,
}

var displayPowerCmd = &cobra.Command{
	Use:   "power [on|off]",
	Short: "Switch the display on or off",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDisplay(cmd, func(ctx context.Context, client *bravia.BraviaClient) (*bravia.Response, error) {
			return client.SetPowerState(ctx, args[0])
		})
	},
}

var displayStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the power status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDisplay(cmd, func(ctx context.Context, client *bravia.BraviaClient) (*bravia.Response, error) {
			resp, err := client.GetPowerStatus(ctx)
			if err != nil {
				return nil, err
			}
			if status, err := bravia.PowerStatus(resp); err == nil {
				cmd.Printf("Power: %s\n", status)
			}
			return resp, nil
		})
	},
}

var displayBrightnessCmd = &cobra.Command{
	Use:   "brightness [value]",
	Short: "Show or set the picture brightness",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return withDisplay(cmd, func(ctx context.Context, client *bravia.BraviaClient) (*bravia.Response, error) {
				resp, err := client.GetBrightness(ctx)
				if err != nil {
					return nil, err
				}
				if value, err := bravia.Brightness(resp); err == nil {
					cmd.Printf("Brightness: %s\n", value)
				}
				return resp, nil
			})
		}

		value, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid brightness %q: %w", args[0], err)
		}
		return withDisplay(cmd, func(ctx context.Context, client *bravia.BraviaClient) (*bravia.Response, error) {
			return client.SetBrightness(ctx, value)
		})
	},
}

// cliLogger builds the logger for the direct device commands
func cliLogger() (zerolog.Logger, func(), error) {
	level := logger.LOG_INFO
	if verbose {
		level = logger.LOG_DEBUG
	}
	log, closer, err := logger.New(logger.Options{Level: level})
	if err != nil {
		return logger.Nop(), func() {}, err
	}
	return log, func() { closer.Close() }, nil
}

func withDisplay(cmd *cobra.Command, call func(context.Context, *bravia.BraviaClient) (*bravia.Response, error)) error {
	log, cleanup, err := cliLogger()
	if err != nil {
		return err
	}
	defer cleanup()

	ep, err := endpoint.New(displayHost, displayPort, displayPSK, endpoint.SchemeREST)
	if err != nil {
		return err
	}

	client, err := bravia.NewBraviaClient(ep, bravia.WithLogger(log), bravia.WithTimeout(displayTimeout))
	if err != nil {
		return err
	}

	log.Info().
		Str("display", ep.String()).
		Str("command", cmd.Name()).
		Msg("Sending display command")

	ctx, cancel := context.WithTimeout(context.Background(), displayTimeout)
	defer cancel()

	resp, err := call(ctx, client)
	if err != nil {
		log.Error().Err(err).Msg("Display command failed")
		return err
	}

	return printJSON(cmd, resp.Parsed)
}

func init() {
	displayCmd.PersistentFlags().StringVarP(&displayHost, "host", "H", "", "Display IP address")
	displayCmd.PersistentFlags().StringVarP(&displayPSK, "psk", "k", "", "Pre-shared key (X-Auth-PSK)")
	displayCmd.PersistentFlags().IntVarP(&displayPort, "port", "p", bravia.DefaultPort, "Display HTTPS port")
	displayCmd.PersistentFlags().DurationVarP(&displayTimeout, "timeout", "t", bravia.DefaultTimeout, "Request timeout")
	displayCmd.MarkPersistentFlagRequired("host")
	displayCmd.MarkPersistentFlagRequired("psk")

	displayCmd.AddCommand(displayPowerCmd)
	displayCmd.AddCommand(displayStatusCmd)
	displayCmd.AddCommand(displayBrightnessCmd)
}
