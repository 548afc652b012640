// Package notify delivers reminder messages to a user's notification address.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/sirupsen/logrus"
)

// ErrDelivery marks a failed send to a single recipient.
var ErrDelivery = errors.New("notification delivery failed")

// Message is the title/body pair shown to the user.
type Message struct {
	Title string
	Body  string
}

// Channel sends a message to one address. Implementations must be safe for concurrent use
// and must wrap failures with ErrDelivery.
type Channel interface {
	Send(ctx context.Context, address string, msg Message) error
}

// IsEmail reports whether address parses as a bare email address.
func IsEmail(address string) bool {
	parsed, err := mail.ParseAddress(address)
	return err == nil && parsed.Address == strings.TrimSpace(address)
}

// Router picks the email channel for email addresses and the push channel for everything
// else. A nil channel for a kind fails delivery for that kind.
type Router struct {
	Push  Channel
	Email Channel
}

// Send implements Channel.
func (r Router) Send(ctx context.Context, address string, msg Message) error {
	target, kind := r.Push, "push"
	if IsEmail(address) {
		target, kind = r.Email, "email"
	}
	if target == nil {
		return fmt.Errorf("%w: no %s channel configured", ErrDelivery, kind)
	}
	return target.Send(ctx, address, msg)
}

// LogChannel only logs reminders. Used for local development.
type LogChannel struct {
	Log logrus.FieldLogger
}

// Send implements Channel.
func (c LogChannel) Send(ctx context.Context, address string, msg Message) error {
	logger := c.Log
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger.WithFields(logrus.Fields{
		"address": redact(address),
		"title":   msg.Title,
	}).Info("reminder")
	return nil
}

// redact keeps enough of an address to correlate log lines.
func redact(address string) string {
	if len(address) <= 6 {
		return "***"
	}
	return address[:3] + "***" + address[len(address)-3:]
}
