package channel

import (
	"context"
	"errors"

	"clawbridge/pkg/bus"
)

// ErrShutdown signals an adapter to stop its receive loop and return.
// Handlers wrap it when the process should exit, such as a requested
// restart; adapters must propagate it instead of reporting it to the chat.
var ErrShutdown = errors.New("channel shutdown requested")

// Handler processes one inbound channel message and returns an outbound reply.
type Handler func(context.Context, bus.InboundMessage) (bus.OutboundMessage, error)

// Adapter bridges one external transport (for example Discord) into clawbridge.
//
// Send delivers text to a chat mid-dispatch, applying the platform's
// outbound chunking; responder plugins reply through it.
type Adapter interface {
	Name() string
	Run(context.Context, Handler) error
	Send(ctx context.Context, chatID string, text string) error
}

// SplitText splits text into ordered chunks of at most limit runes each.
//
// Chunk boundaries fall on rune boundaries; concatenating the chunks
// restores the original string. Limit must be positive.
func SplitText(text string, limit int) []string {
	if text == "" {
		return nil
	}
	if limit <= 0 {
		return []string{text}
	}

	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	chunks := make([]string, 0, (len(runes)+limit-1)/limit)
	for start := 0; start < len(runes); start += limit {
		end := start + limit
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}

	return chunks
}
