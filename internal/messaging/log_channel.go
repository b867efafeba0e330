package messaging

import (
	"context"
	"log/slog"
	"sync"
)

// SentMessage is one message delivered through a LogChannel.
type SentMessage struct {
	To   string
	Body string
}

// LogChannel writes messages to the log instead of sending them. It is the
// channel used when no Twilio credentials are configured.
type LogChannel struct {
	mu   sync.Mutex
	sent []SentMessage
}

// NewLogChannel creates a LogChannel.
func NewLogChannel() *LogChannel {
	return &LogChannel{}
}

// ValidateAndCanonicalizeRecipient accepts any non-empty recipient as is.
func (c *LogChannel) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", ErrEmptyRecipient
	}
	return recipient, nil
}

// Send logs the message and remembers it.
func (c *LogChannel) Send(ctx context.Context, to string, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.sent = append(c.sent, SentMessage{To: to, Body: body})
	c.mu.Unlock()
	slog.Info("LogChannel.Send", "to", to, "body", body)
	return nil
}

// Sent returns a copy of every message sent so far.
func (c *LogChannel) Sent() []SentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SentMessage(nil), c.sent...)
}
