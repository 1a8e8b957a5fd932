package main

import (
	"errors"
	"strings"

	"github.com/koscakluka/ema-relay/core/llms/openai"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newChatCommand() *cobra.Command {
	var (
		plain         bool
		autoApprove   bool
		preflightPath string
	)

	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Send one message to the Responses API and follow the turn",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			apiKey := viper.GetString("openai-api-key")
			if apiKey == "" {
				return errors.New("no API key, set --openai-api-key or EMARELAY_OPENAI_API_KEY")
			}

			config, err := loadRelayConfig()
			if err != nil {
				return err
			}

			var opts []openai.Option
			if baseURL := viper.GetString("openai-base-url"); baseURL != "" {
				opts = append(opts, openai.WithBaseURL(baseURL))
			}

			decide := rejectAll
			if autoApprove {
				decide = approveAll
			}

			return runTurn(cmd.Context(), turnSetup{
				config:        config,
				transport:     openai.NewClient(apiKey, opts...),
				message:       strings.Join(args, " "),
				decide:        decide,
				preflightPath: preflightPath,
				plain:         plain,
				out:           cmd.OutOrStdout(),
			})
		},
	}

	cmd.Flags().BoolVar(&plain, "plain", false, "Print updates as lines instead of the interactive view")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "Approve every tool and automation request")
	cmd.Flags().StringVar(&preflightPath, "preflight-db", "", "SQLite file keeping tool server validation between runs")
	cmd.Flags().String("openai-api-key", "", "OpenAI API key")
	cmd.Flags().String("openai-base-url", "", "Responses API base URL")
	_ = viper.BindPFlag("openai-api-key", cmd.Flags().Lookup("openai-api-key"))
	_ = viper.BindPFlag("openai-base-url", cmd.Flags().Lookup("openai-base-url"))
	return cmd
}
