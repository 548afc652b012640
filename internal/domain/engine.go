package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"example.com/momentum/internal/observability"
)

// maxWriteAttempts bounds the reload-and-reapply loop after a lost conditional write.
const maxWriteAttempts = 3

// Option configures optional behaviour for the Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLogger overrides the logger used to report conflicts.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(e *Engine) {
		e.log = logger
	}
}

// Engine applies goal-cycle transitions to stored users. Each mutation is committed as a
// compare-and-swap against the version that was read, so the precondition check and the
// write form one unit.
type Engine struct {
	store UserStore
	loc   *time.Location
	now   func() time.Time
	log   logrus.FieldLogger
}

// NewEngine constructs an Engine. loc is the reference zone for calendar-day comparisons.
func NewEngine(store UserStore, loc *time.Location, opts ...Option) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	e := &Engine{
		store: store,
		loc:   loc,
		now:   time.Now,
		log:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Location returns the reference time zone.
func (e *Engine) Location() *time.Location {
	return e.loc
}

// Now returns the engine clock's current time.
func (e *Engine) Now() time.Time {
	return e.now()
}

// Profile loads a user, creating the empty record on first contact.
func (e *Engine) Profile(ctx context.Context, userID string) (*UserRecord, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	user, err := e.store.Get(ctx, userID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	if err := e.store.Create(ctx, NewUserRecord(userID, e.now())); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	e.log.WithField("user_id", userID).Info("user record created")
	return e.store.Get(ctx, userID)
}

// HasRunToday reports whether the user already confirmed a run today.
func (e *Engine) HasRunToday(user *UserRecord) bool {
	return HasRunToday(user, e.now(), e.loc)
}

// State reports the user's goal-cycle state as of now.
func (e *Engine) State(user *UserRecord) GoalState {
	return State(user, e.now(), e.loc)
}

// SetGoal sets a new goal and restarts today's check.
func (e *Engine) SetGoal(ctx context.Context, userID string, minutes int) (*UserRecord, error) {
	if err := validateMinutes("goal", minutes); err != nil {
		return nil, err
	}
	user, _, err := e.mutate(ctx, userID, MutationGoalSet, func(u *UserRecord) (*RunRecord, error) {
		return nil, SetGoal(u, minutes)
	})
	return user, err
}

// IncrementGoal raises the current goal by delta minutes.
func (e *Engine) IncrementGoal(ctx context.Context, userID string, delta int) (*UserRecord, error) {
	if err := validateMinutes("delta", delta); err != nil {
		return nil, err
	}
	user, _, err := e.mutate(ctx, userID, MutationGoalIncremented, func(u *UserRecord) (*RunRecord, error) {
		return nil, IncrementGoal(u, delta)
	})
	return user, err
}

// ConfirmResult describes a committed run confirmation.
type ConfirmResult struct {
	User   *UserRecord
	Run    RunRecord
	Streak int
}

// ConfirmRun records today's run for the user and returns the updated streak.
func (e *Engine) ConfirmRun(ctx context.Context, userID string) (*ConfirmResult, error) {
	now := e.now()
	runID := uuid.NewString()

	user, run, err := e.mutate(ctx, userID, MutationRunConfirmed, func(u *UserRecord) (*RunRecord, error) {
		run, err := ConfirmRun(u, now, e.loc)
		if err != nil {
			return nil, err
		}
		run.ID = runID
		u.History[len(u.History)-1].ID = runID
		return &run, nil
	})
	if err != nil {
		return nil, err
	}

	observability.RecordRunConfirmed(now)
	return &ConfirmResult{User: user, Run: *run, Streak: user.Streak}, nil
}

// SetNotificationAddress registers where reminders for the user are delivered.
func (e *Engine) SetNotificationAddress(ctx context.Context, userID, address string) (*UserRecord, error) {
	user, _, err := e.mutate(ctx, userID, MutationNotificationAddress, func(u *UserRecord) (*RunRecord, error) {
		return nil, SetNotificationAddress(u, address)
	})
	return user, err
}

func (e *Engine) mutate(ctx context.Context, userID string, kind MutationKind, apply func(*UserRecord) (*RunRecord, error)) (*UserRecord, *RunRecord, error) {
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		current, err := e.Profile(ctx, userID)
		if err != nil {
			return nil, nil, err
		}

		next := current.Clone()
		appended, err := apply(&next)
		if err != nil {
			return nil, nil, err
		}
		next.Version = current.Version + 1
		next.UpdatedAt = e.now().UTC()

		err = e.store.Save(ctx, Mutation{
			Kind:            kind,
			ExpectedVersion: current.Version,
			Next:            next,
			Appended:        appended,
		})
		if err == nil {
			observability.RecordTransition(string(kind))
			return &next, appended, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, nil, err
		}

		observability.RecordConflict(string(kind))
		e.log.WithFields(logrus.Fields{
			"user_id": userID,
			"kind":    kind,
			"attempt": attempt,
		}).Warn("conditional write lost, reloading")
	}
	return nil, nil, fmt.Errorf("%s for user %s: %w", kind, userID, ErrConflict)
}
