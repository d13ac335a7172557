// Package notify hands password reset requests to an out-of-process
// delivery worker through the message queue.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jjudge-oj/identity/types"
)

// EventPasswordResetRequested is the event type attribute on published messages.
const EventPasswordResetRequested = "password_reset_requested"

// PasswordResetRequested is the payload a delivery worker receives.
type PasswordResetRequested struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Publisher is the subset of the message queue the notifier needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// ResetNotifier publishes PasswordResetRequested events to one channel.
type ResetNotifier struct {
	publisher Publisher
	channel   string
}

func NewResetNotifier(publisher Publisher, channel string) *ResetNotifier {
	return &ResetNotifier{publisher: publisher, channel: channel}
}

// NotifyPasswordReset publishes the event for user.
func (n *ResetNotifier) NotifyPasswordReset(ctx context.Context, event PasswordResetRequested) error {
	data, err := json.Marshal(event)
	if err != nil {
		return types.Infrastructure(err, "encode reset event")
	}
	attrs := map[string]string{
		"type":    EventPasswordResetRequested,
		"user_id": event.UserID,
	}
	if _, err := n.publisher.Publish(ctx, n.channel, data, attrs); err != nil {
		return types.Infrastructure(err, "publish reset event")
	}
	return nil
}
