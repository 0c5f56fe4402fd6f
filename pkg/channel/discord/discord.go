package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"clawbridge/pkg/bus"
	"clawbridge/pkg/channel"
	"clawbridge/pkg/config"

	"github.com/bwmarrin/discordgo"
)

const channelName = "discord"
const messagePreviewLimit = 240

// Discord caps messages at 2000 characters; replies above that are
// split into chunks with headroom.
const messageLimit = 2000
const chunkSize = 1900

// Adapter bridges Discord gateway events into bridge inbound/outbound messages.
type Adapter struct {
	cfg       config.DiscordConfig
	allowFrom map[string]struct{}
	log       *slog.Logger

	mu        sync.RWMutex
	session   *discordgo.Session
	botUserID string
}

// NewAdapter validates Discord configuration and constructs an adapter instance.
func NewAdapter(cfg config.DiscordConfig, log *slog.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("channels.discord.token is required")
	}

	if log == nil {
		log = slog.Default()
	}

	return &Adapter{
		cfg:       cfg,
		allowFrom: allowFromSet(cfg.AllowFrom),
		log:       log.With("component", "channel.discord"),
	}, nil
}

// Name returns the channel identifier used in bus metadata and logs.
func (a *Adapter) Name() string {
	return channelName
}

// Run opens the Discord gateway connection and forwards messages through
// the shared channel handler until the context is cancelled or the
// handler requests shutdown.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	session, err := discordgo.New("Bot " + strings.TrimSpace(a.cfg.Token))
	if err != nil {
		return fmt.Errorf("initialize discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	// Serializes handler invocations and carries a shutdown request out of
	// the event callback into this loop.
	done := make(chan error, 1)

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if err := a.handleMessage(ctx, handler, m); err != nil {
			select {
			case done <- err:
			default:
			}
		}
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	defer session.Close()

	user, err := session.User("@me")
	if err != nil {
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}

	a.mu.Lock()
	a.session = session
	a.botUserID = user.ID
	a.mu.Unlock()

	a.log.Info("Discord channel started", "username", user.Username, "bot_id", user.ID)

	select {
	case <-ctx.Done():
		return nil
	case err := <-done:
		return err
	}
}

// handleMessage processes one gateway message event. A non-nil return
// means the receive loop must stop.
func (a *Adapter) handleMessage(ctx context.Context, handler channel.Handler, m *discordgo.MessageCreate) error {
	if m.Author == nil || m.Author.ID == a.botID() || m.Author.Bot {
		return nil
	}

	content := strings.TrimSpace(m.Content)
	if content == "" {
		return nil
	}

	if !a.senderAllowed(m.Author.ID) {
		a.log.Debug("Ignoring message from unauthorized sender", "sender_id", m.Author.ID)
		return nil
	}

	inbound := bus.InboundMessage{
		Channel:    channelName,
		SenderID:   m.Author.ID,
		SenderName: senderName(m.Author),
		ChatID:     m.ChannelID,
		GuildID:    m.GuildID,
		SessionKey: sessionKey(m.ChannelID),
		Content:    content,
		Metadata: map[string]string{
			"message_id": m.ID,
		},
	}
	a.log.Info("Received message", "chat_id", m.ChannelID, "sender_id", m.Author.ID, "session_key", inbound.SessionKey, "content", previewText(content))

	stopTyping := a.startTypingIndicator(ctx, m.ChannelID)

	outbound, err := handler(ctx, inbound)
	stopTyping()
	if err != nil {
		if errors.Is(err, channel.ErrShutdown) {
			return err
		}
		a.log.Error("Failed to process inbound message", "error", err)
		outbound = bus.OutboundMessage{Error: err.Error()}
	}

	responseText := strings.TrimSpace(outbound.Content)
	if responseText == "" {
		responseText = strings.TrimSpace(outbound.Error)
	}
	if responseText == "" {
		return nil
	}
	a.log.Info("Sending message", "chat_id", m.ChannelID, "session_key", inbound.SessionKey, "content", previewText(responseText))

	if err := a.Send(ctx, m.ChannelID, responseText); err != nil {
		a.log.Error("Failed to send discord message", "error", err)
	}

	return nil
}

// Send delivers reply text to a channel, split into chunks when the text
// exceeds the platform message limit.
func (a *Adapter) Send(ctx context.Context, chatID string, text string) error {
	a.mu.RLock()
	session := a.session
	a.mu.RUnlock()
	if session == nil {
		return errors.New("discord channel is not running")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	chunks := []string{text}
	if len([]rune(text)) > messageLimit {
		chunks = channel.SplitText(text, chunkSize)
	}

	for _, chunk := range chunks {
		if _, err := session.ChannelMessageSend(chatID, chunk); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}

	return nil
}

func (a *Adapter) botID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.botUserID
}

// senderAllowed checks whether a sender is permitted by allow_from config.
//
// When no allow list is configured, all senders are accepted.
func (a *Adapter) senderAllowed(senderID string) bool {
	if len(a.allowFrom) == 0 {
		return true
	}

	_, ok := a.allowFrom[strings.TrimSpace(senderID)]
	return ok
}

// sessionKey maps one Discord channel to one runtime session namespace.
func sessionKey(chatID string) string {
	return "discord:" + strings.TrimSpace(chatID)
}

// senderName picks the best available display name for a sender.
func senderName(author *discordgo.User) string {
	if name := strings.TrimSpace(author.GlobalName); name != "" {
		return name
	}
	if name := strings.TrimSpace(author.Username); name != "" {
		return name
	}

	return author.ID
}

// allowFromSet normalizes allow_from values into a lookup set.
func allowFromSet(allowFrom []string) map[string]struct{} {
	if len(allowFrom) == 0 {
		return nil
	}

	allowed := make(map[string]struct{}, len(allowFrom))
	for _, value := range allowFrom {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}

	if len(allowed) == 0 {
		return nil
	}

	return allowed
}

// previewText returns a bounded log-safe preview of message text.
func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	return trimmed[:messagePreviewLimit] + "..."
}

// startTypingIndicator sends a typing action until the returned cancel
// function is called. Discord typing lasts about ten seconds per action.
func (a *Adapter) startTypingIndicator(ctx context.Context, chatID string) context.CancelFunc {
	a.mu.RLock()
	session := a.session
	a.mu.RUnlock()
	if session == nil {
		return func() {}
	}

	typingCtx, cancel := context.WithCancel(ctx)
	if err := session.ChannelTyping(chatID); err != nil && typingCtx.Err() == nil {
		a.log.Debug("Failed to send typing indicator", "chat_id", chatID, "error", err)
	}

	return cancel
}
