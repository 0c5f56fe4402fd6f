package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"clawbridge/pkg/agent"
	agentprofile "clawbridge/pkg/agent/profile"
	"clawbridge/pkg/config"
	"clawbridge/pkg/provider"
)

// sessionManager owns per-channel agent instances for gateway-driven prompts.
type sessionManager struct {
	client provider.Client
	cfg    *config.Config
	log    *slog.Logger
	system string

	mu       sync.RWMutex
	sessions map[string]*channelSession
}

// channelSession is the mutable state tracked for one session key.
type channelSession struct {
	instance *agent.Instance
	promptMu sync.Mutex
}

// newSessionManager builds a session manager and resolves the system profile once.
func newSessionManager(cfg *config.Config, client provider.Client, log *slog.Logger) (*sessionManager, error) {
	systemProfile, err := agentprofile.ResolveSystemProfile(cfg.Agents.Defaults.Provider, cfg.Agents.Defaults.Preamble)
	if err != nil {
		return nil, fmt.Errorf("resolve agent profile: %w", err)
	}

	if log == nil {
		log = slog.Default()
	}

	return &sessionManager{
		client:   client,
		cfg:      cfg,
		log:      log.With("component", "gateway.session_manager"),
		system:   systemProfile,
		sessions: make(map[string]*channelSession),
	}, nil
}

// Prompt routes one prompt to a channel session and serializes requests per session.
func (m *sessionManager) Prompt(ctx context.Context, sessionKey string, prompt string) (string, error) {
	session := m.sessionFor(sessionKey)

	session.promptMu.Lock()
	defer session.promptMu.Unlock()

	return session.instance.Prompt(ctx, prompt)
}

// sessionFor returns an existing session or lazily initializes a new one.
// The backend conversation itself is created on the first prompt.
func (m *sessionManager) sessionFor(sessionKey string) *channelSession {
	m.mu.RLock()
	session, ok := m.sessions[sessionKey]
	m.mu.RUnlock()
	if ok {
		return session
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok = m.sessions[sessionKey]
	if ok {
		return session
	}

	instance := agent.New(m.client, m.cfg.Agents.Defaults.Model, m.system)
	session = &channelSession{instance: instance}
	m.sessions[sessionKey] = session
	m.log.Debug("Created agent session", "session_key", sessionKey)

	return session
}

// Count returns the number of tracked channel sessions.
func (m *sessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close drops all tracked channel sessions. New messages after a reset
// start fresh backend conversations.
func (m *sessionManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for sessionKey := range m.sessions {
		delete(m.sessions, sessionKey)
	}
}
