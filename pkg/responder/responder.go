// Package responder implements the auto-responder plugin system: Go native
// plugin (.so) discovery and loading, ordered per-message dispatch with
// per-plugin fault isolation, and a time-gated hot-reload check.
//
// A responder .so must export:
//
//	var Responder responder.Responder
//
// Build one:
//
//	go build -buildmode=plugin -o responders/greet.so greet.go
package responder

import (
	"context"
	"errors"

	"clawbridge/pkg/bus"
	"clawbridge/pkg/provider"
)

// Responder is the contract every auto-responder plugin implements.
//
// Handle inspects one inbound message and returns true when it claimed the
// message. Side effects (sending replies) go through msg.Reply. Claiming
// does not stop dispatch: every registered responder still runs.
type Responder interface {
	Handle(ctx context.Context, msg *Context) (claimed bool, err error)
}

// Replier delivers reply text to a chat, chunked to the platform limit.
// Channel adapters satisfy it.
type Replier interface {
	Send(ctx context.Context, chatID string, text string) error
}

// Context is the read-only per-message snapshot passed to every responder.
//
// It is built fresh for each inbound message and must not be retained
// past the Handle call.
type Context struct {
	// Message is the full inbound payload.
	Message bus.InboundMessage

	// Derived views onto Message.
	SenderID   string
	SenderName string
	ChannelID  string
	GuildID    string
	Content    string

	replier Replier
	agent   provider.Client
}

// NewContext builds the dispatch context for one inbound message.
// The agent client is optional and may be nil.
func NewContext(msg bus.InboundMessage, replier Replier, agent provider.Client) *Context {
	return &Context{
		Message:    msg,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		ChannelID:  msg.ChatID,
		GuildID:    msg.GuildID,
		Content:    msg.Content,
		replier:    replier,
		agent:      agent,
	}
}

// Reply sends text back to the originating chat.
func (c *Context) Reply(ctx context.Context, text string) error {
	if c.replier == nil {
		return errors.New("no replier attached to context")
	}

	return c.replier.Send(ctx, c.ChannelID, text)
}

// Agent returns the optional agent backend handle, or nil.
func (c *Context) Agent() provider.Client {
	return c.agent
}
