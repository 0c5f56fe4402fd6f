package gateway

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"clawbridge/pkg/bus"
	"clawbridge/pkg/channel"
	"clawbridge/pkg/config"
	"clawbridge/pkg/history"
	"clawbridge/pkg/provider"
	providertypes "clawbridge/pkg/provider/types"
	"clawbridge/pkg/responder"
	"clawbridge/pkg/workspace"
)

type fakeProviderClient struct {
	promptErr   error
	reply       string
	promptCalls int
	lastPrompt  string
}

func (f *fakeProviderClient) Health(ctx context.Context) error { return nil }

func (f *fakeProviderClient) CreateSession(ctx context.Context, title string) (string, error) {
	return "sess-1", nil
}

func (f *fakeProviderClient) Prompt(ctx context.Context, sessionID, prompt, model, system string) (providertypes.PromptResult, error) {
	f.promptCalls++
	f.lastPrompt = prompt
	if f.promptErr != nil {
		return providertypes.PromptResult{}, f.promptErr
	}
	return providertypes.PromptResult{Text: f.reply}, nil
}

type fakeAdapter struct {
	name  string
	sends []string
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Run(ctx context.Context, handler channel.Handler) error {
	<-ctx.Done()
	return nil
}

func (f *fakeAdapter) Send(ctx context.Context, chatID, text string) error {
	f.sends = append(f.sends, text)
	return nil
}

// claimingResponder claims messages matching content and replies through
// the dispatch context.
type claimingResponder struct {
	match string
	reply string
}

func (r *claimingResponder) Handle(ctx context.Context, msg *responder.Context) (bool, error) {
	if msg.Content != r.match {
		return false, nil
	}
	if r.reply != "" {
		if err := msg.Reply(ctx, r.reply); err != nil {
			return false, err
		}
	}
	return true, nil
}

type noopResponder struct{}

func (noopResponder) Handle(ctx context.Context, msg *responder.Context) (bool, error) {
	return false, nil
}

func newTestService(t *testing.T, client provider.Client, responders map[string]responder.Responder) *Service {
	t.Helper()

	log := slog.New(slog.DiscardHandler)

	cfg := &config.Config{}
	cfg.Agents.Defaults.Provider = "opencode"
	cfg.Agents.Defaults.Model = "anthropic/claude-sonnet"

	layout, err := workspace.Resolve(filepath.Join(t.TempDir(), "home"))
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}

	dir := layout.RespondersDir()
	for name := range responders {
		if err := os.WriteFile(filepath.Join(dir, name+".so"), []byte("fake"), 0o644); err != nil {
			t.Fatalf("writing plugin file: %v", err)
		}
	}

	opener := func(path string) (responder.Responder, error) {
		name := strings.TrimSuffix(filepath.Base(path), ".so")
		resp, ok := responders[name]
		if !ok {
			return nil, errors.New("unknown responder")
		}
		return resp, nil
	}

	registry := responder.NewRegistry(dir, log, responder.WithOpener(opener))
	if err := registry.Load(dir); err != nil {
		t.Fatalf("Load error: %v", err)
	}

	manager, err := newSessionManager(cfg, client, log)
	if err != nil {
		t.Fatalf("newSessionManager error: %v", err)
	}

	return &Service{
		cfg:           cfg,
		log:           log,
		provider:      client,
		manager:       manager,
		layout:        layout,
		registry:      registry,
		dispatcher:    responder.NewDispatcher(registry, log),
		monitor:       responder.NewReloadMonitor(registry, time.Hour, log),
		history:       history.NewStore(layout.HistoryFile(), 50, log),
		events:        bus.NewMessageBus(),
		channelStates: map[string]channelState{},
	}
}

func inboundMessage(content string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:    "discord",
		SenderID:   "u1",
		SenderName: "Ada",
		ChatID:     "chan-1",
		SessionKey: "discord:chan-1",
		Content:    content,
	}
}

func TestIsReady(t *testing.T) {
	t.Parallel()

	svc := &Service{channelStates: map[string]channelState{"telegram": {Running: true}}}
	if svc.isReady() {
		t.Fatal("expected not ready without provider health")
	}

	svc.providerLastOKAt = time.Now().UTC()
	if !svc.isReady() {
		t.Fatal("expected ready with running channel and healthy provider")
	}

	svc.providerLastErr = "boom"
	if svc.isReady() {
		t.Fatal("expected not ready when provider has error")
	}
}

func TestAgentPrompt(t *testing.T) {
	t.Parallel()

	msg := inboundMessage("hello")
	if got := agentPrompt(msg); got != "Ada: hello" {
		t.Fatalf("agentPrompt = %q, want sender prefix", got)
	}

	msg.SenderName = ""
	if got := agentPrompt(msg); got != "hello" {
		t.Fatalf("agentPrompt = %q, want bare content", got)
	}
}

func TestHandleInboundFallsBackToAgent(t *testing.T) {
	client := &fakeProviderClient{reply: "agent says hi"}
	svc := newTestService(t, client, map[string]responder.Responder{"noop": noopResponder{}})
	adapter := &fakeAdapter{name: "discord"}

	outbound, err := svc.handleInbound(context.Background(), adapter, inboundMessage("hello"))
	if err != nil {
		t.Fatalf("handleInbound error: %v", err)
	}
	if outbound.Content != "agent says hi" {
		t.Fatalf("outbound.Content = %q, want agent reply", outbound.Content)
	}
	if client.lastPrompt != "Ada: hello" {
		t.Fatalf("agent received %q, want the original message with sender prefix", client.lastPrompt)
	}
	if got := svc.history.Len("chan-1"); got != 2 {
		t.Fatalf("history Len = %d, want exchange recorded", got)
	}
}

func TestHandleInboundClaimedSkipsAgent(t *testing.T) {
	client := &fakeProviderClient{reply: "should not be used"}
	svc := newTestService(t, client, map[string]responder.Responder{
		"greet": &claimingResponder{match: "hello", reply: "hi"},
		"noop":  noopResponder{},
	})
	adapter := &fakeAdapter{name: "discord"}

	outbound, err := svc.handleInbound(context.Background(), adapter, inboundMessage("hello"))
	if err != nil {
		t.Fatalf("handleInbound error: %v", err)
	}
	if outbound.Content != "" {
		t.Fatalf("outbound.Content = %q, want empty for claimed message", outbound.Content)
	}
	if client.promptCalls != 0 {
		t.Fatalf("promptCalls = %d, want agent skipped", client.promptCalls)
	}
	if len(adapter.sends) != 1 || adapter.sends[0] != "hi" {
		t.Fatalf("sends = %v, want exactly one %q", adapter.sends, "hi")
	}
}

func TestHandleInboundAgentFailure(t *testing.T) {
	client := &fakeProviderClient{promptErr: errors.New("backend down")}
	svc := newTestService(t, client, nil)
	adapter := &fakeAdapter{name: "discord"}

	outbound, err := svc.handleInbound(context.Background(), adapter, inboundMessage("hello"))
	if err != nil {
		t.Fatalf("handleInbound error: %v, want nil so the reply is delivered", err)
	}
	if !strings.HasPrefix(outbound.Content, agentErrorPrefix) {
		t.Fatalf("outbound.Content = %q, want error reply", outbound.Content)
	}
	if got := svc.history.Len("chan-1"); got != 0 {
		t.Fatalf("history Len = %d, want failed exchange not recorded", got)
	}
}

func TestHandleInboundRestartFlag(t *testing.T) {
	client := &fakeProviderClient{reply: "unused"}
	svc := newTestService(t, client, nil)
	adapter := &fakeAdapter{name: "discord"}

	// Prime a session so the restart path has something to drop.
	if _, err := svc.handleInbound(context.Background(), adapter, inboundMessage("warm up")); err != nil {
		t.Fatalf("handleInbound error: %v", err)
	}
	if svc.manager.Count() != 1 {
		t.Fatalf("session count = %d, want 1", svc.manager.Count())
	}

	if err := svc.layout.RequestRestart(); err != nil {
		t.Fatalf("RequestRestart error: %v", err)
	}

	_, err := svc.handleInbound(context.Background(), adapter, inboundMessage("hello"))
	if !errors.Is(err, ErrRestartRequested) {
		t.Fatalf("handleInbound error = %v, want restart request", err)
	}
	if svc.layout.RestartRequested() {
		t.Fatal("restart flag should be consumed")
	}
	if svc.manager.Count() != 0 {
		t.Fatalf("session count = %d, want sessions dropped", svc.manager.Count())
	}
}

func TestErrRestartRequestedSignalsShutdown(t *testing.T) {
	t.Parallel()

	if !errors.Is(ErrRestartRequested, channel.ErrShutdown) {
		t.Fatal("restart error must signal adapter shutdown")
	}
}
