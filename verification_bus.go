package chaty

import (
	"context"
	"errors"
)

// EmailVerifiedEvent announces that a user confirmed their email address.
type EmailVerifiedEvent struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

// VerificationBus is a single, unkeyed broadcast channel for verification notices.
// Listeners subscribe and filter by user id themselves.
type VerificationBus struct {
	ch     *BroadcastChannel[EmailVerifiedEvent]
	logger Logger
}

// VerificationBusOption customizes a VerificationBus.
type VerificationBusOption func(*VerificationBus)

func WithVerificationBusLogger(logger Logger) VerificationBusOption {
	return func(b *VerificationBus) {
		b.logger = normalizeLogger(logger)
	}
}

// WithVerificationBusCapacity overrides the buffer size.
func WithVerificationBusCapacity(capacity int) VerificationBusOption {
	return func(b *VerificationBus) {
		b.ch = NewBroadcastChannel[EmailVerifiedEvent](capacity)
	}
}

func NewVerificationBus(opts ...VerificationBusOption) *VerificationBus {
	b := &VerificationBus{
		ch:     NewBroadcastChannel[EmailVerifiedEvent](DefaultChannelCapacity),
		logger: defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Publish sends event to every current subscriber and returns how many got it.
// Having nobody listening is logged and reported as zero, not as an error.
func (b *VerificationBus) Publish(event EmailVerifiedEvent) (int, error) {
	n, err := b.ch.Send(event)
	if err != nil {
		if errors.Is(err, ErrNoSubscribers) {
			b.logger.Debug("email verified event has no subscribers", "user_id", event.UserID)
			return 0, nil
		}
		b.logger.Warn("email verified event not published", "user_id", event.UserID, "error", err)
		return 0, err
	}

	b.logger.Debug("email verified event published", "user_id", event.UserID, "receivers", n)
	return n, nil
}

// Subscribe returns a receiver that sees events published from now on.
func (b *VerificationBus) Subscribe() *Receiver[EmailVerifiedEvent] {
	return b.ch.Subscribe()
}

// WaitFor blocks until rx yields an event for userID. Events for other users
// are skipped and lag is tolerated.
func (b *VerificationBus) WaitFor(ctx context.Context, rx *Receiver[EmailVerifiedEvent], userID string) (EmailVerifiedEvent, error) {
	for {
		event, err := rx.Recv(ctx)
		if err != nil {
			if skipped, ok := IsLagError(err); ok {
				b.logger.Warn("verification listener lagged", "user_id", userID, "skipped", skipped)
				continue
			}
			return EmailVerifiedEvent{}, err
		}

		if event.UserID == userID {
			return event, nil
		}
	}
}

// Close shuts the bus down. Waiting listeners get ErrChannelClosed.
func (b *VerificationBus) Close() {
	b.ch.Close()
}
