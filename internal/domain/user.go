// Package domain holds the goal and streak rules for run momentum users.
package domain

import (
	"context"
	"errors"
	"iter"
	"time"
)

var (
	// ErrValidation marks malformed or out-of-range input to an engine operation.
	ErrValidation = errors.New("validation failed")
	// ErrPrecondition marks a goal-cycle rule violation, e.g. a second run on the same day.
	ErrPrecondition = errors.New("precondition failed")
	// ErrConflict is returned when a conditional write lost against a concurrent writer.
	ErrConflict = errors.New("concurrent update conflict")
	// ErrUserNotFound is returned by stores when no record exists for an id.
	ErrUserNotFound = errors.New("user not found")
)

// MaxGoalMinutes bounds goals and increments to a single day.
const MaxGoalMinutes = 24 * 60

// RunRecord is one confirmed run.
type RunRecord struct {
	ID       string
	Date     time.Time
	Duration int
}

// UserRecord is the mutable progression state of a single user.
type UserRecord struct {
	ID                  string
	CurrentGoal         *int
	History             []RunRecord
	LastRun             *time.Time
	Streak              int
	LongestStreak       int
	NotificationAddress string
	Version             int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// HasGoal reports whether a goal is currently set.
func (u *UserRecord) HasGoal() bool {
	return u.CurrentGoal != nil && *u.CurrentGoal > 0
}

// Clone returns a deep copy so transitions never alias stored state.
func (u UserRecord) Clone() UserRecord {
	out := u
	if u.CurrentGoal != nil {
		goal := *u.CurrentGoal
		out.CurrentGoal = &goal
	}
	if u.LastRun != nil {
		last := *u.LastRun
		out.LastRun = &last
	}
	if u.History != nil {
		out.History = append([]RunRecord(nil), u.History...)
	}
	return out
}

// NewUserRecord builds the empty record created on first contact.
func NewUserRecord(id string, now time.Time) UserRecord {
	return UserRecord{
		ID:        id,
		History:   []RunRecord{},
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
}

// GoalState is the position of a user in the daily goal cycle.
type GoalState string

const (
	StateNoGoal             GoalState = "no_goal"
	StateGoalSetNotRunToday GoalState = "goal_set_not_run_today"
	StateGoalSetRanToday    GoalState = "goal_set_ran_today"
)

// MutationKind names the operation that produced a Mutation. Stores use it to route
// change events.
type MutationKind string

const (
	MutationGoalSet             MutationKind = "goal.set"
	MutationGoalIncremented     MutationKind = "goal.incremented"
	MutationRunConfirmed        MutationKind = "run.confirmed"
	MutationNotificationAddress MutationKind = "notification_address.updated"
)

// Mutation is a conditional write: it applies only while the stored version still equals
// ExpectedVersion. Appended, when set, is the run added to the end of history.
type Mutation struct {
	Kind            MutationKind
	ExpectedVersion int64
	Next            UserRecord
	Appended        *RunRecord
}

// UserStore persists user records.
type UserStore interface {
	Get(ctx context.Context, userID string) (*UserRecord, error)
	Create(ctx context.Context, record UserRecord) error
	Save(ctx context.Context, mutation Mutation) error
	// Users enumerates every record once, lazily. Yielded records do not carry history.
	Users(ctx context.Context) iter.Seq2[UserRecord, error]
}
