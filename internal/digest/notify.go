package digest

import (
	"context"
	"fmt"
)

// Notification is one digest message.
type Notification struct {
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	JobID   string    `json:"job_id"`
	Matches []Article `json:"matches"`
}

// Notifier delivers a notification.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Publisher is a message bus client.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// PublishNotifier sends notifications as bus messages instead of mail.
type PublishNotifier struct {
	pub   Publisher
	topic string
}

// NewPublishNotifier publishes to topic through pub.
func NewPublishNotifier(pub Publisher, topic string) *PublishNotifier {
	return &PublishNotifier{pub: pub, topic: topic}
}

// Notify implements Notifier.
func (p *PublishNotifier) Notify(ctx context.Context, n Notification) error {
	if p.pub == nil {
		return fmt.Errorf("publisher is not configured")
	}
	if _, err := p.pub.Publish(ctx, p.topic, n); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
