// Package provider resolves the configured agent backend into a Client.
package provider

import (
	"context"
	"fmt"
	"log/slog"

	"clawbridge/pkg/config"
	"clawbridge/pkg/provider/fantasy"
	provideropenai "clawbridge/pkg/provider/openai"
	"clawbridge/pkg/provider/opencode"
	providertypes "clawbridge/pkg/provider/types"
)

// Client is the agent backend contract shared by all providers.
//
// Prompt sends one user turn into an existing session. The system string
// is a session preamble: providers with native system-message support
// install it once per session, the rest fold it into the prompt text.
type Client interface {
	Health(ctx context.Context) error
	CreateSession(ctx context.Context, title string) (string, error)
	Prompt(ctx context.Context, sessionID string, prompt string, model string, system string) (providertypes.PromptResult, error)
}

func New(cfg *config.Config) (Client, error) {
	providerID := cfg.Agents.Defaults.Provider
	if providerID == "" {
		providerID = "opencode"
	}

	slog.Default().With("component", "provider.factory").Debug("Resolving provider client", "provider", providerID)

	switch providerID {
	case "opencode":
		return opencode.New(cfg)
	case "openai":
		return provideropenai.New(cfg)
	case "fantasy":
		return fantasy.New(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", providerID)
	}
}
