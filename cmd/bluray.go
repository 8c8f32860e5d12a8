package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"sonyctl/internal/bluray"
	"sonyctl/internal/endpoint"
)

var (
	blurayHost        string
	blurayPort        int
	blurayReadTimeout time.Duration
	blurayStrict      bool
)

var blurayCmd = &cobra.Command{
	Use:     "bluray",
	Aliases: []string{"disc"},
	Short:   "Talk to the disc player directly",
	Long: `Run one command session against a Sony disc player: the player's two
notification frames are read and discarded, the command is sent and the reply
frame is printed.`,
}

func blurayCommand(use, short string, call func(*bluray.Client, context.Context) (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBluray(cmd, call)
		},
	}
}

var blurayPowerCmd = &cobra.Command{
	Use:   "power [on|off]",
	Short: "Switch the player on or off",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var on bool
		switch args[0] {
		case "on":
			on = true
		case "off":
		default:
			return fmt.Errorf("unknown power state: %s (use on or off)", args[0])
		}
		return withBluray(cmd, func(c *bluray.Client, ctx context.Context) (string, error) {
			return c.SetPower(ctx, on)
		})
	},
}

func withBluray(cmd *cobra.Command, call func(*bluray.Client, context.Context) (string, error)) error {
	log, cleanup, err := cliLogger()
	if err != nil {
		return err
	}
	defer cleanup()

	ep, err := endpoint.New(blurayHost, blurayPort, "", endpoint.SchemeSocket)
	if err != nil {
		return err
	}

	policy := bluray.BestEffort
	if blurayStrict {
		policy = bluray.Strict
	}

	client, err := bluray.NewClient(ep,
		bluray.WithLogger(log),
		bluray.WithReadTimeout(blurayReadTimeout),
		bluray.WithReadPolicy(policy),
	)
	if err != nil {
		return err
	}

	log.Info().
		Str("disc_player", ep.String()).
		Str("command", cmd.Name()).
		Msg("Sending disc player command")

	// two notifications and the reply may each take a full read timeout
	ctx, cancel := context.WithTimeout(context.Background(), 3*blurayReadTimeout+bluray.DefaultDialTimeout)
	defer cancel()

	reply, err := call(client, ctx)
	if err != nil {
		log.Error().Err(err).Msg("Disc player command failed")
		return err
	}

	cmd.Println(reply)
	return nil
}

func init() {
	blurayCmd.PersistentFlags().StringVarP(&blurayHost, "host", "H", "", "Disc player IP address")
	blurayCmd.PersistentFlags().IntVarP(&blurayPort, "port", "p", bluray.DefaultPort, "Disc player control port")
	blurayCmd.PersistentFlags().DurationVarP(&blurayReadTimeout, "read-timeout", "t", bluray.DefaultReadTimeout, "Per-frame read timeout")
	blurayCmd.PersistentFlags().BoolVar(&blurayStrict, "strict", false, "Fail when a frame is not newline terminated")
	blurayCmd.MarkPersistentFlagRequired("host")

	blurayCmd.AddCommand(blurayCommand("play", "Start playback", (*bluray.Client).Play))
	blurayCmd.AddCommand(blurayCommand("pause", "Pause playback", (*bluray.Client).Pause))
	blurayCmd.AddCommand(blurayCommand("stop", "Stop playback", (*bluray.Client).Stop))
	blurayCmd.AddCommand(blurayCommand("eject", "Open the disc tray", (*bluray.Client).Eject))
	blurayCmd.AddCommand(blurayPowerCmd)
}
