package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/mailgun/mailgun-go/v3"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"example.com/momentum/internal/events"
)

type recordingChannel struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (c *recordingChannel) Send(_ context.Context, address string, _ Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, address)
	return c.err
}

func TestRouterRoutesByAddressKind(t *testing.T) {
	push := &recordingChannel{}
	email := &recordingChannel{}
	router := Router{Push: push, Email: email}
	msg := Message{Title: "Time to Run!", Body: "Come back and complete your daily run goal."}

	require.NoError(t, router.Send(context.Background(), "runner@example.com", msg))
	require.NoError(t, router.Send(context.Background(), "dGVzdC10b2tlbg:APA91b", msg))

	require.Equal(t, []string{"runner@example.com"}, email.sent)
	require.Equal(t, []string{"dGVzdC10b2tlbg:APA91b"}, push.sent)
}

func TestRouterWithoutChannelFails(t *testing.T) {
	router := Router{Push: &recordingChannel{}}
	err := router.Send(context.Background(), "runner@example.com", Message{})
	require.ErrorIs(t, err, ErrDelivery)
}

func TestIsEmail(t *testing.T) {
	require.True(t, IsEmail("runner@example.com"))
	require.False(t, IsEmail("Runner <runner@example.com>"))
	require.False(t, IsEmail("fcm-token-123"))
	require.False(t, IsEmail(""))
}

type stubFCM struct {
	got *messaging.Message
	err error
}

func (s *stubFCM) Send(_ context.Context, message *messaging.Message) (string, error) {
	s.got = message
	return "projects/p/messages/1", s.err
}

func TestFCMChannel(t *testing.T) {
	client := &stubFCM{}
	channel := NewFCMChannel(client)

	require.NoError(t, channel.Send(context.Background(), "token-1", Message{Title: "t", Body: "b"}))
	require.Equal(t, "token-1", client.got.Token)
	require.Equal(t, "t", client.got.Notification.Title)
	require.Equal(t, "b", client.got.Notification.Body)

	client.err = errors.New("registration-token-not-registered")
	err := channel.Send(context.Background(), "token-1", Message{})
	require.ErrorIs(t, err, ErrDelivery)
}

type stubMailgun struct {
	impl *mailgun.MailgunImpl
	sent int
	err  error
}

func (s *stubMailgun) NewMessage(from, subject, text string, to ...string) *mailgun.Message {
	return s.impl.NewMessage(from, subject, text, to...)
}

func (s *stubMailgun) Send(context.Context, *mailgun.Message) (string, string, error) {
	s.sent++
	return "Queued", "<id@mg>", s.err
}

func TestMailgunChannel(t *testing.T) {
	stub := &stubMailgun{impl: mailgun.NewMailgun("mg.example.com", "key")}
	channel := &MailgunChannel{mg: stub, sender: "Momentum <hi@example.com>"}

	require.NoError(t, channel.Send(context.Background(), "runner@example.com", Message{Title: "t", Body: "b"}))
	require.Equal(t, 1, stub.sent)

	stub.err = errors.New("401 unauthorized")
	require.ErrorIs(t, channel.Send(context.Background(), "runner@example.com", Message{}), ErrDelivery)
}

type stubWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *stubWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func TestKafkaChannelRelaysReminder(t *testing.T) {
	writer := &stubWriter{}
	sentAt := time.Date(2025, time.April, 1, 8, 0, 0, 0, time.UTC)
	channel := &KafkaChannel{writer: writer, now: func() time.Time { return sentAt }}

	require.NoError(t, channel.Send(context.Background(), "token-1", Message{Title: "t", Body: "b"}))
	require.Len(t, writer.msgs, 1)
	require.Equal(t, []byte("token-1"), writer.msgs[0].Key)

	var reminder events.Reminder
	require.NoError(t, json.Unmarshal(writer.msgs[0].Value, &reminder))
	require.Equal(t, events.Reminder{Address: "token-1", Title: "t", Body: "b", SentAt: sentAt}, reminder)

	writer.err = errors.New("leader not available")
	require.ErrorIs(t, channel.Send(context.Background(), "token-1", Message{}), ErrDelivery)
}

func TestLogChannelNeverFails(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	require.NoError(t, LogChannel{Log: logger}.Send(context.Background(), "token-abcdef", Message{Title: "t"}))
	require.Equal(t, "***", redact("abc"))
	require.Equal(t, "tok***def", redact("token-abcdef"))
}
