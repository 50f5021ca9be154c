// Package chat connects chat transports to the workflow executor.
package chat

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"workflow-assistant/backend/internal/logging"
	"workflow-assistant/backend/internal/state"
	"workflow-assistant/backend/pkg/models"
)

// FallbackFailedMessage is sent when neither a workflow nor the conversation
// model produced an answer.
const FallbackFailedMessage = "Sorry, I could not answer that right now."

// Processor runs one workflow turn. A nil result means no workflow applied.
type Processor interface {
	ProcessMessage(ctx context.Context, msg models.Message) *models.WorkflowResult
}

// Replier answers messages no workflow handled.
type Replier interface {
	Reply(ctx context.Context, key, content string) (string, error)
}

// Dispatcher turns inbound chat messages into reply text.
type Dispatcher struct {
	processor Processor
	fallback  Replier
	logger    *logging.Logger
}

// NewDispatcher creates a Dispatcher. fallback may be nil, in which case
// messages no workflow handles get no reply.
func NewDispatcher(p Processor, fallback Replier, logger *logging.Logger) *Dispatcher {
	return &Dispatcher{processor: p, fallback: fallback, logger: logger.Component("chat")}
}

// Handle returns the reply for msg, or "" when the bot should stay silent.
func (d *Dispatcher) Handle(ctx context.Context, msg models.Message) string {
	if strings.TrimSpace(msg.Content) == "" {
		return ""
	}
	if result := d.processor.ProcessMessage(ctx, msg); result != nil {
		return result.Message
	}
	if d.fallback == nil {
		return ""
	}
	reply, err := d.fallback.Reply(ctx, state.Key(msg.UserID, msg.ChannelID), msg.Content)
	if err != nil {
		d.logger.Error("conversation fallback failed", "channel", msg.ChannelID, "error", err)
		return FallbackFailedMessage
	}
	return reply
}

// ChannelID prefixes a transport-native channel id with its transport name,
// which is how reminders find their way back.
func ChannelID(transport, id string) string {
	return transport + ":" + id
}

// SplitChannelID undoes ChannelID.
func SplitChannelID(channelID string) (transport, id string, err error) {
	transport, id, ok := strings.Cut(channelID, ":")
	if !ok || transport == "" || id == "" {
		return "", "", fmt.Errorf("channel id %q has no transport prefix", channelID)
	}
	return transport, id, nil
}

// ReminderText renders a reminder for delivery.
func ReminderText(r *models.Reminder) string {
	return "Reminder: " + r.Text
}

// Split breaks text into chunks of at most limit runes, preferring line
// boundaries.
func Split(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var chunks []string
	var current strings.Builder
	n := 0
	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, strings.TrimRight(current.String(), "\n"))
			current.Reset()
			n = 0
		}
	}
	for _, line := range strings.SplitAfter(text, "\n") {
		size := utf8.RuneCountInString(line)
		if n+size > limit {
			flush()
		}
		for size > limit {
			runes := []rune(line)
			chunks = append(chunks, string(runes[:limit]))
			line = string(runes[limit:])
			size -= limit
		}
		current.WriteString(line)
		n += size
	}
	flush()
	return chunks
}
