// Package agent wraps a provider client into a per-channel conversation.
package agent

import (
	"context"
	"errors"
	"strings"
	"sync"

	"clawbridge/pkg/provider"
)

// Instance is one channel's conversation with the agent backend.
//
// The backend session is created lazily on the first prompt and the
// system preamble rides along with that first turn only. Prompts are
// serialized so a channel's turns reach the backend in order.
type Instance struct {
	client provider.Client
	model  string
	system string

	mu        sync.Mutex
	sessionID string
	prompted  bool
}

func New(client provider.Client, model string, system string) *Instance {
	return &Instance{
		client: client,
		model:  strings.TrimSpace(model),
		system: strings.TrimSpace(system),
	}
}

// Prompt sends one user turn and returns the backend's reply text.
func (i *Instance) Prompt(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", errors.New("prompt cannot be empty")
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if i.sessionID == "" {
		sessionID, err := i.client.CreateSession(ctx, "")
		if err != nil {
			return "", err
		}
		i.sessionID = sessionID
	}

	system := ""
	if !i.prompted {
		system = i.system
	}

	result, err := i.client.Prompt(ctx, i.sessionID, prompt, i.model, system)
	if err != nil {
		return "", err
	}
	i.prompted = true

	return result.Text, nil
}

// SessionID returns the backend session id, or empty before first use.
func (i *Instance) SessionID() string {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.sessionID
}

// Started reports whether a backend session exists yet.
func (i *Instance) Started() bool {
	return i.SessionID() != ""
}
