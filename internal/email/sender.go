package email

import (
	"context"
	"fmt"
	"sync"

	"github.com/hostedid/devicereset/internal/config"
	"github.com/hostedid/devicereset/internal/logger"
)

// Sender is the interface that all email providers must implement.
type Sender interface {
	// Send sends an email to the specified recipient.
	Send(ctx context.Context, msg Message) error
}

// Message represents an email message to be sent.
type Message struct {
	To       string // recipient email address
	Subject  string // email subject
	HTMLBody string // HTML email body
	TextBody string // plain-text fallback body
}

// LogSender writes messages to the log instead of delivering them. Used in
// development and as the default provider. Sent messages are kept for inspection.
type LogSender struct {
	log  *logger.Logger
	mu   sync.Mutex
	sent []Message
}

// NewLogSender creates a LogSender
func NewLogSender(log *logger.Logger) *LogSender {
	return &LogSender{log: log.WithComponent("email")}
}

// Send implements Sender.
func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.mu.Lock()
	s.sent = append(s.sent, msg)
	s.mu.Unlock()

	s.log.Info().Str("to", msg.To).Str("subject", msg.Subject).Msg("email not delivered, log provider")
	return nil
}

// Sent returns a copy of every message passed to Send
func (s *LogSender) Sent() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.sent...)
}

// NewSender builds the Sender selected by cfg.Provider
func NewSender(ctx context.Context, cfg config.EmailConfig, log *logger.Logger) (Sender, error) {
	switch cfg.Provider {
	case "", "log":
		return NewLogSender(log), nil
	case "gmail":
		return NewGmailSender(ctx, cfg.Gmail)
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
	}
}
