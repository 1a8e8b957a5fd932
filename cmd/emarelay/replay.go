package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newReplayCommand() *cobra.Command {
	var (
		plain         bool
		preflightPath string
	)

	cmd := &cobra.Command{
		Use:   "replay <script.yaml>",
		Short: "Play a recorded event script through the relay",
		Long: `Replay feeds the streams of a YAML script to the relay as if they came
from the API, answering approvals as the script decides, and renders the
turn as it progresses.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadScript(args[0])
			if err != nil {
				return err
			}
			if len(s.Relay) > 0 {
				if err := viper.MergeConfigMap(map[string]any{relayConfigKey: s.Relay}); err != nil {
					return fmt.Errorf("failed to apply script relay settings: %w", err)
				}
			}

			config, err := loadRelayConfig()
			if err != nil {
				return err
			}
			transport, err := newScriptTransport(s)
			if err != nil {
				return err
			}

			return runTurn(cmd.Context(), turnSetup{
				config:        config,
				transport:     transport,
				message:       s.Message,
				decide:        s.decision(),
				preflightPath: preflightPath,
				plain:         plain,
				out:           cmd.OutOrStdout(),
			})
		},
	}

	cmd.Flags().BoolVar(&plain, "plain", false, "Print updates as lines instead of the interactive view")
	cmd.Flags().StringVar(&preflightPath, "preflight-db", "", "SQLite file keeping tool server validation between runs")
	return cmd
}
