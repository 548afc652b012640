// Package events defines the payloads emitted through the outbox for user state changes.
package events

import "time"

// Event types, one per committed mutation kind.
const (
	TypeGoalSet                    = "goal.set"
	TypeGoalIncremented            = "goal.incremented"
	TypeRunConfirmed               = "run.confirmed"
	TypeNotificationAddressUpdated = "notification_address.updated"
)

// GoalChanged is emitted when a goal is set or incremented.
type GoalChanged struct {
	UserID      string    `json:"user_id"`
	GoalMinutes int       `json:"goal_minutes"`
	Version     int64     `json:"version"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// RunConfirmed is emitted once per recorded run.
type RunConfirmed struct {
	RunID         string    `json:"run_id"`
	UserID        string    `json:"user_id"`
	DurationMin   int       `json:"duration_min"`
	ConfirmedAt   time.Time `json:"confirmed_at"`
	Streak        int       `json:"streak"`
	LongestStreak int       `json:"longest_streak"`
	Version       int64     `json:"version"`
}

// NotificationAddressUpdated records that reminder routing changed. The address itself is
// not carried.
type NotificationAddressUpdated struct {
	UserID     string    `json:"user_id"`
	Registered bool      `json:"registered"`
	Version    int64     `json:"version"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Reminder is the message relayed to an external delivery worker.
type Reminder struct {
	Address string    `json:"address"`
	Title   string    `json:"title"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sent_at"`
}
