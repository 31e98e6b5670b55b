// Package mail sends the account notices (registration token, already
// registered, reset code). Delivery itself is delegated to a relay.
package mail

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrDelivery is returned when a Sender could not hand the message off.
var ErrDelivery = errors.New("mail delivery failed")

// Message is one outbound email.
type Message struct {
	From    string `json:"from,omitempty"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	// Kind names the notice template, for relays that route or render by type.
	Kind string `json:"kind"`
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to a structured logger instead of delivering
// them. The body is logged at debug level only, since it carries secrets.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(ctx context.Context, msg Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "mail: message queued", "to", msg.To, "kind", msg.Kind, "subject", msg.Subject)
	logger.DebugContext(ctx, "mail: message body", "to", msg.To, "text", msg.Text)
	return nil
}

// Outbox collects messages in memory. It is safe for concurrent use.
type Outbox struct {
	mu       sync.Mutex
	messages []Message
}

func (o *Outbox) Send(_ context.Context, msg Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, msg)
	return nil
}

// Messages returns a copy of everything sent so far.
func (o *Outbox) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Message(nil), o.messages...)
}

// To returns the messages addressed to addr.
func (o *Outbox) To(addr string) []Message {
	var out []Message
	for _, m := range o.Messages() {
		if m.To == addr {
			out = append(out, m)
		}
	}
	return out
}
