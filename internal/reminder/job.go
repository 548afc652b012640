// Package reminder sends the daily run reminder to every user with a notification
// address.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"example.com/momentum/internal/domain"
	"example.com/momentum/internal/notify"
)

// DefaultMessage is the reminder every user receives.
var DefaultMessage = notify.Message{
	Title: "Time to Run!",
	Body:  "Come back and complete your daily run goal.",
}

const (
	defaultConcurrency = 16
	defaultSendTimeout = 10 * time.Second
)

// DeliveryError records a failed send to one user. It always wraps notify.ErrDelivery.
type DeliveryError struct {
	UserID string
	Err    error
}

func (e DeliveryError) Error() string {
	return fmt.Sprintf("reminder for user %s: %v", e.UserID, e.Err)
}

func (e DeliveryError) Unwrap() error {
	return e.Err
}

// Result is the outcome of one send.
type Result struct {
	UserID   string
	Err      error
	Duration time.Duration
}

// Summary aggregates a job run. Failures are reported here and in logs, never as the
// error returned by Run.
type Summary struct {
	Attempted  int
	Sent       int
	Failed     int
	Skipped    int
	Failures   []DeliveryError
	StartedAt  time.Time
	FinishedAt time.Time
}

// Option configures a Job.
type Option func(*Job)

// WithConcurrency bounds the number of sends in flight.
func WithConcurrency(n int) Option {
	return func(j *Job) {
		if n > 0 {
			j.concurrency = n
		}
	}
}

// WithSendTimeout bounds each individual send.
func WithSendTimeout(d time.Duration) Option {
	return func(j *Job) {
		if d > 0 {
			j.sendTimeout = d
		}
	}
}

// WithSkipRanToday skips users who already confirmed a run today in loc.
func WithSkipRanToday(loc *time.Location) Option {
	return func(j *Job) {
		j.skipRanToday = true
		if loc != nil {
			j.loc = loc
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(j *Job) {
		j.now = now
	}
}

// WithLogger sets the job logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(j *Job) {
		j.log = logger
	}
}

// WithMessage replaces DefaultMessage.
func WithMessage(msg notify.Message) Option {
	return func(j *Job) {
		j.message = msg
	}
}

// Job fans reminders out over a bounded task group and waits for every send to settle.
type Job struct {
	store        domain.UserStore
	channel      notify.Channel
	concurrency  int
	sendTimeout  time.Duration
	skipRanToday bool
	loc          *time.Location
	now          func() time.Time
	log          logrus.FieldLogger
	message      notify.Message
}

// NewJob constructs a Job.
func NewJob(store domain.UserStore, channel notify.Channel, opts ...Option) *Job {
	j := &Job{
		store:       store,
		channel:     channel,
		concurrency: defaultConcurrency,
		sendTimeout: defaultSendTimeout,
		loc:         time.UTC,
		now:         time.Now,
		log:         logrus.StandardLogger(),
		message:     DefaultMessage,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run enumerates users and sends each one the reminder at their own address. A failed
// enumeration stops dispatch; sends already started are still awaited and the error is
// returned with the partial Summary.
func (j *Job) Run(ctx context.Context) (Summary, error) {
	summary := Summary{StartedAt: j.now()}
	today := j.now()

	var (
		mu      sync.Mutex
		group   errgroup.Group
		enumErr error
	)
	group.SetLimit(j.concurrency)

	for user, err := range j.store.Users(ctx) {
		if err != nil {
			enumErr = err
			break
		}
		if user.NotificationAddress == "" {
			summary.Skipped++
			continue
		}
		if j.skipRanToday && domain.HasRunToday(&user, today, j.loc) {
			summary.Skipped++
			continue
		}

		mu.Lock()
		summary.Attempted++
		mu.Unlock()

		group.Go(func() error {
			result := j.send(ctx, user)
			mu.Lock()
			defer mu.Unlock()
			j.record(&summary, result)
			return nil
		})
	}

	_ = group.Wait()
	summary.FinishedAt = j.now()

	skippedCounter.Add(float64(summary.Skipped))
	runDuration.Observe(summary.FinishedAt.Sub(summary.StartedAt).Seconds())

	fields := logrus.Fields{
		"attempted": summary.Attempted,
		"sent":      summary.Sent,
		"failed":    summary.Failed,
		"skipped":   summary.Skipped,
	}
	if enumErr != nil {
		j.log.WithFields(fields).WithError(enumErr).Error("reminder run aborted: user enumeration failed")
		return summary, fmt.Errorf("enumerate users: %w", enumErr)
	}

	lastSuccess.Set(float64(summary.FinishedAt.Unix()))
	j.log.WithFields(fields).Info("reminder run finished")
	return summary, nil
}

func (j *Job) send(ctx context.Context, user domain.UserRecord) (result Result) {
	start := time.Now()
	result.UserID = user.ID
	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("%w: panic: %v", notify.ErrDelivery, r)
		}
		result.Duration = time.Since(start)
	}()

	sendCtx, cancel := context.WithTimeout(ctx, j.sendTimeout)
	defer cancel()

	if err := j.channel.Send(sendCtx, user.NotificationAddress, j.message); err != nil {
		if !errors.Is(err, notify.ErrDelivery) {
			err = fmt.Errorf("%w: %v", notify.ErrDelivery, err)
		}
		result.Err = err
	}
	return result
}

// record must be called with the summary lock held.
func (j *Job) record(summary *Summary, result Result) {
	sendLatency.Observe(result.Duration.Seconds())
	if result.Err == nil {
		summary.Sent++
		sendCounter.WithLabelValues(outcomeSent).Inc()
		return
	}

	failure := DeliveryError{UserID: result.UserID, Err: result.Err}
	summary.Failed++
	summary.Failures = append(summary.Failures, failure)
	sendCounter.WithLabelValues(outcomeFailed).Inc()
	j.log.WithField("user_id", result.UserID).WithError(result.Err).Warn("reminder delivery failed")
}
