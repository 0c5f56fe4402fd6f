// Package gateway wires channel adapters, the responder plugin system and
// the agent backend into one message pipeline.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"clawbridge/pkg/bus"
	"clawbridge/pkg/channel"
	"clawbridge/pkg/config"
	"clawbridge/pkg/history"
	"clawbridge/pkg/provider"
	"clawbridge/pkg/responder"
	"clawbridge/pkg/workspace"
)

const (
	defaultHealthHost = "0.0.0.0"
	defaultHealthPort = 18790
)

// ErrRestartRequested is returned from Run when the restart sentinel was
// observed. The caller exits with a distinct code so an external
// supervisor restarts the process.
var ErrRestartRequested = fmt.Errorf("restart requested: %w", channel.ErrShutdown)

// agentErrorPrefix matches the user-facing reply sent when the agent
// backend fails on a message.
const agentErrorPrefix = "Sorry, I encountered an error: "

type Service struct {
	cfg        *config.Config
	log        *slog.Logger
	provider   provider.Client
	manager    *sessionManager
	channels   []channel.Adapter
	layout     *workspace.Layout
	registry   *responder.Registry
	dispatcher *responder.Dispatcher
	monitor    *responder.ReloadMonitor
	history    *history.Store
	events     *bus.MessageBus

	mu               sync.RWMutex
	startedAt        time.Time
	providerLastOKAt time.Time
	providerLastErr  string
	channelStates    map[string]channelState
}

type channelState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status           string                  `json:"status"`
	UptimeSeconds    int64                   `json:"uptime_seconds"`
	ProviderLastOKAt string                  `json:"provider_last_ok_at,omitempty"`
	ProviderLastErr  string                  `json:"provider_last_error,omitempty"`
	Responders       []string                `json:"responders"`
	Sessions         int                     `json:"sessions"`
	Channels         map[string]channelState `json:"channels"`
}

func NewService(cfg *config.Config, adapters []channel.Adapter, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if len(adapters) == 0 {
		return nil, errors.New("at least one channel adapter is required")
	}
	if log == nil {
		log = slog.Default()
	}

	client, err := provider.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize provider: %w", err)
	}

	manager, err := newSessionManager(cfg, client, log)
	if err != nil {
		return nil, err
	}

	layout, err := workspace.Resolve(cfg.Agents.Defaults.Home)
	if err != nil {
		return nil, fmt.Errorf("resolve bridge home: %w", err)
	}

	respondersDir := strings.TrimSpace(cfg.Responders.Dir)
	if respondersDir == "" {
		respondersDir = layout.RespondersDir()
	}
	if trusted, reason := workspace.TrustedPluginDir(respondersDir); !trusted {
		log.Warn("Responder directory failed trust check", "dir", respondersDir, "reason", reason)
	}

	registry := responder.NewRegistry(respondersDir, log)
	if err := registry.Load(respondersDir); err != nil {
		// A missing or unreadable directory leaves the registry empty;
		// messages still flow to the agent fallback.
		log.Warn("Initial responder load failed", "dir", respondersDir, "error", err)
	}

	reloadInterval := time.Duration(cfg.Responders.ReloadCheckSeconds) * time.Second
	monitor := responder.NewReloadMonitor(registry, reloadInterval, log)

	historyPath := strings.TrimSpace(cfg.History.Path)
	if historyPath == "" {
		historyPath = layout.HistoryFile()
	}
	store := history.NewStore(historyPath, cfg.History.MaxTurns, log)

	channelStates := make(map[string]channelState, len(adapters))
	for _, adapter := range adapters {
		channelStates[adapter.Name()] = channelState{}
	}

	return &Service{
		cfg:           cfg,
		log:           log.With("component", "gateway.service"),
		provider:      client,
		manager:       manager,
		channels:      adapters,
		layout:        layout,
		registry:      registry,
		dispatcher:    responder.NewDispatcher(registry, log),
		monitor:       monitor,
		history:       store,
		events:        bus.NewMessageBus(),
		channelStates: channelStates,
	}, nil
}

// Events exposes the lifecycle event bus for observers such as the CLI.
func (s *Service) Events() *bus.MessageBus {
	return s.events
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	if err := s.checkProviderHealth(ctx); err != nil {
		return err
	}

	// A flag left over from a previous run must not trigger an immediate
	// restart loop.
	if s.layout.RestartRequested() {
		s.log.Info("Clearing stale restart flag", "path", s.layout.RestartFlag())
		if err := s.layout.ClearRestartFlag(); err != nil {
			return err
		}
	}

	serverErrors := make(chan error, 1)
	go s.runHealthServer(ctx, serverErrors)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = s.checkProviderHealth(ctx)
			}
		}
	}()

	errCh := make(chan error, len(s.channels))
	for _, adapter := range s.channels {
		adapter := adapter
		s.setChannelState(adapter.Name(), channelState{Running: true})

		go func() {
			err := adapter.Run(ctx, s.handlerFor(adapter))
			s.setChannelState(adapter.Name(), channelState{Running: false, Error: errorString(err)})
			if errors.Is(err, channel.ErrShutdown) {
				errCh <- ErrRestartRequested
				return
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("run %s channel: %w", adapter.Name(), err)
			}
		}()
	}

	defer s.events.Close()

	select {
	case <-ctx.Done():
		s.manager.Close()
		return nil
	case err := <-serverErrors:
		s.manager.Close()
		return err
	case err := <-errCh:
		s.manager.Close()
		return err
	}
}

// handlerFor binds one adapter into the shared inbound pipeline so
// responders can reply through the transport the message arrived on.
func (s *Service) handlerFor(adapter channel.Adapter) channel.Handler {
	return func(ctx context.Context, inbound bus.InboundMessage) (bus.OutboundMessage, error) {
		return s.handleInbound(ctx, adapter, inbound)
	}
}

func (s *Service) handleInbound(ctx context.Context, adapter channel.Adapter, inbound bus.InboundMessage) (bus.OutboundMessage, error) {
	outbound := bus.OutboundMessage{
		Channel:    inbound.Channel,
		ChatID:     inbound.ChatID,
		SessionKey: inbound.SessionKey,
	}

	// The restart sentinel is honored before any other work on the message.
	if s.layout.RestartRequested() {
		s.log.Info("Restart flag detected, shutting down", "path", s.layout.RestartFlag())
		if err := s.layout.ClearRestartFlag(); err != nil {
			s.log.Error("Failed to clear restart flag", "error", err)
		}
		s.manager.Close()
		s.events.Publish(ctx, bus.Event{Type: bus.EventRestartRequested})
		return outbound, ErrRestartRequested
	}

	before := s.registry.Count()
	s.monitor.Check()
	if after := s.registry.Count(); after != before {
		s.events.Publish(ctx, bus.Event{
			Type:    bus.EventRespondersReloaded,
			Payload: map[string]string{"count": strconv.Itoa(after)},
		})
	}

	s.events.Publish(ctx, bus.Event{
		Type:       bus.EventMessageReceived,
		Channel:    inbound.Channel,
		ChatID:     inbound.ChatID,
		SessionKey: inbound.SessionKey,
	})

	msg := responder.NewContext(inbound, adapter, s.provider)
	if s.dispatcher.Dispatch(ctx, msg) {
		s.events.Publish(ctx, bus.Event{
			Type:       bus.EventResponderClaimed,
			Channel:    inbound.Channel,
			ChatID:     inbound.ChatID,
			SessionKey: inbound.SessionKey,
		})
		// Claimed messages never reach the agent; responders already
		// replied through the adapter.
		return outbound, nil
	}

	reply, err := s.manager.Prompt(ctx, inbound.SessionKey, agentPrompt(inbound))
	if err != nil {
		s.log.Error("Agent prompt failed", "session_key", inbound.SessionKey, "error", err)
		s.events.Publish(ctx, bus.Event{
			Type:       bus.EventAgentFailed,
			Channel:    inbound.Channel,
			ChatID:     inbound.ChatID,
			SessionKey: inbound.SessionKey,
			Error:      err.Error(),
		})
		outbound.Content = agentErrorPrefix + err.Error()
		return outbound, nil
	}

	s.history.Append(inbound.ChatID, inbound.Content, reply)
	s.events.Publish(ctx, bus.Event{
		Type:       bus.EventAgentReplied,
		Channel:    inbound.Channel,
		ChatID:     inbound.ChatID,
		SessionKey: inbound.SessionKey,
	})

	outbound.Content = reply
	return outbound, nil
}

// agentPrompt prefixes the sender's display name so the backend can tell
// group chat participants apart.
func agentPrompt(inbound bus.InboundMessage) string {
	name := strings.TrimSpace(inbound.SenderName)
	if name == "" {
		return inbound.Content
	}

	return name + ": " + inbound.Content
}

func (s *Service) runHealthServer(ctx context.Context, errCh chan<- error) {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = defaultHealthHost
	}

	port := s.cfg.Gateway.Port
	if port <= 0 {
		port = defaultHealthPort
	}

	addr := host + ":" + strconv.Itoa(port)
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway status server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("start status server: %w", err)
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	payload := s.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	channels := make(map[string]channelState, len(s.channelStates))
	for name, state := range s.channelStates {
		channels[name] = state
	}

	providerLastOK := ""
	if !s.providerLastOKAt.IsZero() {
		providerLastOK = s.providerLastOKAt.Format(time.RFC3339)
	}

	return statusResponse{
		Status:           status,
		UptimeSeconds:    uptime,
		ProviderLastOKAt: providerLastOK,
		ProviderLastErr:  s.providerLastErr,
		Responders:       s.registry.Names(),
		Sessions:         s.manager.Count(),
		Channels:         channels,
	}
}

func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.channelStates) == 0 {
		return false
	}

	anyRunning := false
	for _, state := range s.channelStates {
		if state.Running {
			anyRunning = true
			break
		}
	}

	if !anyRunning {
		return false
	}

	if s.providerLastOKAt.IsZero() {
		return false
	}

	if s.providerLastErr != "" {
		return false
	}

	return true
}

func (s *Service) checkProviderHealth(ctx context.Context) error {
	if err := s.provider.Health(ctx); err != nil {
		s.mu.Lock()
		s.providerLastErr = err.Error()
		s.mu.Unlock()
		return fmt.Errorf("provider health check failed: %w", err)
	}

	s.mu.Lock()
	s.providerLastErr = ""
	s.providerLastOKAt = time.Now().UTC()
	s.mu.Unlock()

	return nil
}

func (s *Service) setChannelState(name string, state channelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelStates[name] = state
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
