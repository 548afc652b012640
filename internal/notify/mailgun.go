package notify

import (
	"context"
	"fmt"

	"github.com/mailgun/mailgun-go/v3"
)

type mailSender interface {
	NewMessage(from, subject, text string, to ...string) *mailgun.Message
	Send(ctx context.Context, message *mailgun.Message) (string, string, error)
}

// MailgunChannel delivers reminders by email.
type MailgunChannel struct {
	mg     mailSender
	sender string
}

// NewMailgunChannel constructs a channel sending from sender through the given domain.
func NewMailgunChannel(domain, apiKey, sender string) *MailgunChannel {
	return &MailgunChannel{mg: mailgun.NewMailgun(domain, apiKey), sender: sender}
}

// Send implements Channel.
func (c *MailgunChannel) Send(ctx context.Context, address string, msg Message) error {
	message := c.mg.NewMessage(c.sender, msg.Title, msg.Body, address)
	if _, _, err := c.mg.Send(ctx, message); err != nil {
		return fmt.Errorf("%w: mailgun: %v", ErrDelivery, err)
	}
	return nil
}
