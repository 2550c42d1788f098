package notification

import (
	"context"
	"log/slog"
)

const (
	// KindIncomingCall alerts a receiver that a call is ringing.
	KindIncomingCall = "incoming_call"
	// KindMissedCall tells a caller the receiver never picked up or declined.
	KindMissedCall = "missed_call"
	// KindCallEnded informs both parties a call reached a terminal state.
	KindCallEnded = "call_ended"
	// KindLowBalance warns a caller their wallet cannot cover the next minute.
	KindLowBalance = "low_balance"
)

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string
	Body        string
}

// Notifier delivers call-control notifications to downstream systems. Push
// delivery itself (FCM etc.) lives outside this service.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier is a stub implementation that writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification", "kind", message.Kind, "destination", message.Destination, "body", message.Body)
	return nil
}
