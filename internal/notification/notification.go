package notification

import (
	"context"
	"log/slog"
	"sync"
)

const (
	// KindRedemption is sent to the issuer when a holder redeems points.
	KindRedemption = "redemption"
	// KindMint is sent to a holder when points are minted to them.
	KindMint = "mint"
	// KindTransfer is sent to a holder receiving points from the issuer.
	KindTransfer = "transfer"
)

// Message describes a notification payload. Destination is an account address.
type Message struct {
	Kind        string
	Destination string
	Body        string
	Reference   string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the structured logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		"kind", message.Kind,
		"destination", message.Destination,
		"body", message.Body,
		"reference", message.Reference,
	)
	return nil
}

// Recorder keeps sent messages in memory; tests use it to assert on side effects.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *Recorder) Send(_ context.Context, message Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	return nil
}

// Messages returns a copy of everything sent so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}
