package notify

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/messaging"
)

type fcmSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMChannel sends push notifications through Firebase Cloud Messaging. The address is a
// device registration token.
type FCMChannel struct {
	client fcmSender
}

// NewFCMChannel wraps a messaging client obtained from a firebase.App.
func NewFCMChannel(client fcmSender) *FCMChannel {
	return &FCMChannel{client: client}
}

// Send implements Channel.
func (c *FCMChannel) Send(ctx context.Context, address string, msg Message) error {
	_, err := c.client.Send(ctx, &messaging.Message{
		Token: address,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
	})
	if err != nil {
		return fmt.Errorf("%w: fcm: %v", ErrDelivery, err)
	}
	return nil
}
