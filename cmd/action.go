package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"sonyctl/internal/device"
	"sonyctl/internal/dispatch"
)

var actionCmd = &cobra.Command{
	Use:   "action [kind] [action]",
	Short: "Dispatch a named action",
	Long: `Dispatch a named action to every configured device of a kind.
Kinds: display (bravia), disc_player (bluray). Run 'sonyctl action list' for
the action names.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := device.ParseKind(args[0])
		if err != nil {
			return err
		}

		cfg, log, cleanup, err := setup(false)
		if err != nil {
			return err
		}
		defer cleanup()

		d := dispatch.New(cfg, log)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		results, err := d.Execute(ctx, kind, args[1])
		if body, ok := sentinelBody(err); ok {
			return printJSON(cmd, body)
		}
		if err != nil {
			return err
		}

		return printJSON(cmd, results)
	},
}

var actionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available actions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, a := range dispatch.Actions() {
			cmd.Printf("  %-12s %s\n", a.Kind, a.Action)
		}
		return nil
	},
}

// sentinelBody renders the non-fatal dispatch outcomes the same way the
// HTTP API does
func sentinelBody(err error) (map[string]string, bool) {
	msg, ok := dispatch.ClientMessage(err)
	if !ok {
		return nil, false
	}
	return map[string]string{"Error": msg}, true
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func init() {
	actionCmd.AddCommand(actionListCmd)
}
