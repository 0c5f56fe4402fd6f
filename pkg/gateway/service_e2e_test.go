package gateway

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"clawbridge/pkg/history"
	"clawbridge/pkg/responder"
)

// Exercises the full inbound pipeline against an in-memory provider:
// responder claim, hot reload after a plugin drop, agent fallback and
// transcript persistence.
func TestServiceEndToEnd(t *testing.T) {
	client := &fakeProviderClient{reply: "from the agent"}
	responders := map[string]responder.Responder{
		"greet": &claimingResponder{match: "hello", reply: "hi"},
		"echo":  &claimingResponder{match: "echo", reply: "echo echo"},
	}
	svc := newTestService(t, client, map[string]responder.Responder{"greet": responders["greet"]})
	// Reuse the registry's opener map through a fresh registry that knows
	// both responders, so a dropped-in plugin file resolves after reload.
	log := svc.log
	dir := svc.registry.Dir()
	opener := func(path string) (responder.Responder, error) {
		name := filepath.Base(path)
		return responders[name[:len(name)-3]], nil
	}
	svc.registry = responder.NewRegistry(dir, log, responder.WithOpener(opener))
	require.NoError(t, svc.registry.Load(dir))
	svc.dispatcher = responder.NewDispatcher(svc.registry, log)
	svc.monitor = responder.NewReloadMonitor(svc.registry, time.Nanosecond, log)

	adapter := &fakeAdapter{name: "discord"}
	ctx := context.Background()

	// Claimed by the greet responder; the agent never runs.
	outbound, err := svc.handleInbound(ctx, adapter, inboundMessage("hello"))
	require.NoError(t, err)
	require.Empty(t, outbound.Content)
	require.Equal(t, []string{"hi"}, adapter.sends)
	require.Zero(t, client.promptCalls)

	// A new plugin file appears; the count-based check picks it up on the
	// next message once the reload interval has elapsed.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "echo.so"), []byte("fake"), 0o644))
	time.Sleep(2 * time.Millisecond)

	outbound, err = svc.handleInbound(ctx, adapter, inboundMessage("echo"))
	require.NoError(t, err)
	require.Empty(t, outbound.Content)
	require.Equal(t, []string{"hi", "echo echo"}, adapter.sends)
	require.Equal(t, []string{"echo", "greet"}, svc.registry.Names())

	// Unclaimed content falls through to the agent and lands in history.
	outbound, err = svc.handleInbound(ctx, adapter, inboundMessage("what is the weather"))
	require.NoError(t, err)
	require.Equal(t, "from the agent", outbound.Content)
	require.Equal(t, 1, client.promptCalls)

	reloaded := history.NewStore(svc.layout.HistoryFile(), 50, log)
	turns := reloaded.Get("chan-1")
	require.Len(t, turns, 2)
	require.Equal(t, "what is the weather", turns[0].Content)
	require.Equal(t, "from the agent", turns[1].Content)
}
