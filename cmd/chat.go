package cmd

import (
	"context"
	"fmt"
	"strings"

	"clawbridge/pkg/agent/profile"
	"clawbridge/pkg/config"
	"clawbridge/pkg/provider"
	providertypes "clawbridge/pkg/provider/types"
	"clawbridge/pkg/ui/chat"

	"github.com/spf13/cobra"
)

var promptText string

// chatCmd talks to the agent backend directly, without a chat platform.
var chatCmd = &cobra.Command{
	Use:   "chat [prompt]",
	Short: "Send a prompt or start an interactive chat",
	Long:  "Loads Clawbridge configuration, connects to the configured provider, and sends one prompt or starts an interactive console session.",
	Run: func(cmd *cobra.Command, args []string) {
		prompt := resolvePrompt(args)

		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		client, err := provider.New(cfg)
		if err != nil {
			fmt.Printf("failed to initialize provider: %v\n", err)
			return
		}

		ctx := context.Background()
		if err := client.Health(ctx); err != nil {
			fmt.Printf("provider health check failed: %v\n", err)
			return
		}

		promptFn, err := newConsolePromptFunc(ctx, cfg, client)
		if err != nil {
			fmt.Printf("failed to prepare session: %v\n", err)
			return
		}

		info := chat.RuntimeInfo{
			Provider: cfg.Agents.Defaults.Provider,
			Model:    cfg.Agents.Defaults.Model,
		}

		if prompt != "" {
			if err := chat.RunOneShot(ctx, promptFn, prompt, info); err != nil {
				fmt.Printf("chat failed: %v\n", err)
			}
			return
		}

		if err := chat.RunInteractive(ctx, promptFn, info); err != nil {
			fmt.Printf("chat failed: %v\n", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVarP(&promptText, "prompt", "p", "", "prompt text to send")
}

func resolvePrompt(args []string) string {
	if value := strings.TrimSpace(promptText); value != "" {
		return value
	}

	if len(args) == 0 {
		return ""
	}

	value := strings.TrimSpace(strings.Join(args, " "))
	if value == "" {
		return ""
	}

	return value
}

// newConsolePromptFunc creates one backend session and returns a
// prompt function bound to it. The system preamble rides along with
// the first successful turn only.
func newConsolePromptFunc(ctx context.Context, cfg *config.Config, client provider.Client) (chat.PromptFunc, error) {
	system, err := profile.ResolveSystemProfile(cfg.Agents.Defaults.Provider, cfg.Agents.Defaults.Preamble)
	if err != nil {
		return nil, err
	}

	sessionID, err := client.CreateSession(ctx, "clawbridge console")
	if err != nil {
		return nil, err
	}

	model := cfg.Agents.Defaults.Model
	prompted := false

	return func(ctx context.Context, prompt string) (providertypes.PromptResult, error) {
		turnSystem := ""
		if !prompted {
			turnSystem = system
		}

		result, err := client.Prompt(ctx, sessionID, prompt, model, turnSystem)
		if err != nil {
			return providertypes.PromptResult{}, err
		}
		prompted = true

		return result, nil
	}, nil
}
