// Package feedback turns a user's run history into motivational text through a generative
// text provider.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"example.com/momentum/internal/llm"
)

var (
	// ErrUnauthenticated is returned when the request carries no caller identity.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrInvalidArgument is returned for a missing, malformed or empty history.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInternal is returned when the provider fails or answers with nothing.
	ErrInternal = errors.New("feedback generation failed")
)

const (
	defaultMaxTokens  = 300
	defaultTimeout    = 20 * time.Second
	defaultMaxEntries = 365

	dateLayout = "January 2, 2006"
)

const preamble = `You are a supportive running coach. Review the runner's history below and write a short, constructive message.
Focus on trends in consistency and duration, and call out milestones such as streaks of consecutive days or longer runs.
Keep the tone encouraging and practical, and suggest one concrete next step.
Talk about the runs and habits only; never judge the runner's character or self-worth.

Run history:
`

// Entry is one run as submitted by the client.
type Entry struct {
	Date     time.Time
	Duration int
}

// Option configures a Service.
type Option func(*Service)

// WithMaxTokens caps the provider's output length.
func WithMaxTokens(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxTokens = n
		}
	}
}

// WithTimeout bounds a single provider call.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithMaxEntries limits how many of the most recent runs go into the prompt.
func WithMaxEntries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxEntries = n
		}
	}
}

// WithLogger sets the logger used for provider failures.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Service) {
		s.log = logger
	}
}

// Service generates feedback for one request at a time.
type Service struct {
	provider   llm.Provider
	loc        *time.Location
	maxTokens  int
	timeout    time.Duration
	maxEntries int
	log        logrus.FieldLogger
}

// NewService constructs a Service. Run dates in prompts are rendered in loc.
func NewService(provider llm.Provider, loc *time.Location, opts ...Option) *Service {
	if loc == nil {
		loc = time.UTC
	}
	s := &Service{
		provider:   provider,
		loc:        loc,
		maxTokens:  defaultMaxTokens,
		timeout:    defaultTimeout,
		maxEntries: defaultMaxEntries,
		log:        logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate returns the provider's text for the requester's history. Provider errors are
// logged and reported as ErrInternal.
func (s *Service) Generate(ctx context.Context, requester string, history []Entry) (string, error) {
	if strings.TrimSpace(requester) == "" {
		requestCounter.WithLabelValues(outcomeUnauthenticated).Inc()
		return "", ErrUnauthenticated
	}
	if len(history) == 0 {
		requestCounter.WithLabelValues(outcomeInvalid).Inc()
		return "", fmt.Errorf("%w: history must be a non-empty array", ErrInvalidArgument)
	}
	for i, entry := range history {
		if entry.Duration < 0 {
			requestCounter.WithLabelValues(outcomeInvalid).Inc()
			return "", fmt.Errorf("%w: history[%d].duration must not be negative", ErrInvalidArgument, i)
		}
	}

	prompt := s.BuildPrompt(history)

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	text, err := s.provider.Generate(callCtx, prompt, s.maxTokens)
	providerLatency.Observe(time.Since(start).Seconds())

	logger := s.log.WithFields(logrus.Fields{"user_id": requester, "runs": len(history)})
	if err != nil {
		requestCounter.WithLabelValues(outcomeFailed).Inc()
		logger.WithError(err).Error("feedback provider call failed")
		return "", ErrInternal
	}
	if strings.TrimSpace(text) == "" {
		requestCounter.WithLabelValues(outcomeFailed).Inc()
		logger.Error("feedback provider returned empty text")
		return "", ErrInternal
	}

	requestCounter.WithLabelValues(outcomeGenerated).Inc()
	return text, nil
}

// BuildPrompt renders the preamble followed by one line per run. Only the most recent
// maxEntries runs are listed; indices keep their position in the full history.
func (s *Service) BuildPrompt(history []Entry) string {
	offset := 0
	if len(history) > s.maxEntries {
		offset = len(history) - s.maxEntries
	}

	var b strings.Builder
	b.WriteString(preamble)
	for i, entry := range history[offset:] {
		fmt.Fprintf(&b, "Run %d: %d minutes on %s\n", offset+i+1, entry.Duration, entry.Date.In(s.loc).Format(dateLayout))
	}
	return b.String()
}
