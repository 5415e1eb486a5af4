package cmds

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/memoir/pkg/assembler"
	"github.com/go-go-golems/memoir/pkg/chat"
	"github.com/go-go-golems/memoir/pkg/config"
	"github.com/go-go-golems/memoir/pkg/conversation"
	"github.com/go-go-golems/memoir/pkg/events"
	"github.com/go-go-golems/memoir/pkg/inference"
	"github.com/go-go-golems/memoir/pkg/streaming"
)

type SettingsLoader func() (*config.Settings, error)

// RegisterChatCommand adds the one-shot chat turn command.
func RegisterChatCommand(rootCmd *cobra.Command, loadSettings SettingsLoader) {
	var (
		sessionFlag string
		branchFlag  string
		maxMessages int
		maxTokens   int
	)

	chatCmd := &cobra.Command{
		Use:   "chat [prompt]",
		Short: "Run one chat turn against the configured model, streaming tokens to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}

			service, sessionID, err := buildService(settings, sessionFlag)
			if err != nil {
				return err
			}

			opts := chat.TurnOptions{
				MaxMessages: maxMessages,
				MaxTokens:   maxTokens,
				Model: inference.Options{
					Model: settings.Model.Name,
				},
				Sink: streaming.SinkFunc(func(ev events.Event) error {
					if partial, ok := ev.(*events.EventPartialCompletion); ok {
						fmt.Print(partial.Delta)
					}
					return nil
				}),
			}
			if branchFlag != "" {
				branchID, err := conversation.ParseBranchID(branchFlag)
				if err != nil {
					return errors.Wrap(err, "invalid branch id")
				}
				opts.BranchID = &branchID
			}

			msg, err := service.RunTurn(cmd.Context(), sessionID, args[0], opts)
			if err != nil {
				return err
			}

			fmt.Println()
			fmt.Fprintf(os.Stderr, "session: %s\nmessage: %s\n", sessionID, msg.ID)
			return nil
		},
	}

	chatCmd.Flags().StringVar(&sessionFlag, "session", "", "session id (a new session is created when omitted)")
	chatCmd.Flags().StringVar(&branchFlag, "branch", "", "branch id to converse on (main timeline when omitted)")
	chatCmd.Flags().IntVar(&maxMessages, "max-messages", assembler.DefaultMaxMessages, "context window message bound")
	chatCmd.Flags().IntVar(&maxTokens, "max-tokens", assembler.DefaultMaxTokens, "context window token budget")

	rootCmd.AddCommand(chatCmd)
}

func buildService(settings *config.Settings, sessionFlag string) (*chat.Service, conversation.SessionID, error) {
	sessionID := conversation.NewSessionID()
	if sessionFlag != "" {
		parsed, err := conversation.ParseSessionID(sessionFlag)
		if err != nil {
			return nil, sessionID, errors.Wrap(err, "invalid session id")
		}
		sessionID = parsed
	}

	sessionStore, err := config.NewSessionStore(settings)
	if err != nil {
		return nil, sessionID, err
	}

	estimator := config.NewEstimator(settings)
	engine, err := inference.NewEngineFromSettings(settings.Model)
	if err != nil {
		return nil, sessionID, err
	}

	service := chat.NewService(
		sessionStore,
		assembler.NewAssembler(sessionStore, assembler.WithEstimator(estimator)),
		engine,
		streaming.NewAccumulator(sessionStore, streaming.WithEstimator(estimator)),
	)
	return service, sessionID, nil
}
