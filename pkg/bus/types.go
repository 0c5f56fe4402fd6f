package bus

// InboundMessage is one normalized message received from a channel adapter.
type InboundMessage struct {
	Channel    string            `json:"channel"`
	SenderID   string            `json:"sender_id"`
	SenderName string            `json:"sender_name,omitempty"`
	ChatID     string            `json:"chat_id"`
	GuildID    string            `json:"guild_id,omitempty"`
	Content    string            `json:"content"`
	SessionKey string            `json:"session_key"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage is one reply to be delivered back through a channel adapter.
type OutboundMessage struct {
	Channel    string            `json:"channel"`
	ChatID     string            `json:"chat_id"`
	SessionKey string            `json:"session_key,omitempty"`
	Content    string            `json:"content"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}
