package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseMinutes parses a goal value that arrived as text, such as a legacy "30".
func ParseMinutes(raw string) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("%w: duration is required", ErrValidation)
	}
	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("%w: duration %q is not a whole number of minutes", ErrValidation, raw)
	}
	return value, nil
}

func validateMinutes(field string, value int) error {
	if value <= 0 {
		return fmt.Errorf("%w: %s must be > 0", ErrValidation, field)
	}
	if value > MaxGoalMinutes {
		return fmt.Errorf("%w: %s must be <= %d", ErrValidation, field, MaxGoalMinutes)
	}
	return nil
}

// SetGoal replaces the goal and clears lastRun so today's check starts over.
func SetGoal(user *UserRecord, minutes int) error {
	if err := validateMinutes("goal", minutes); err != nil {
		return err
	}
	goal := minutes
	user.CurrentGoal = &goal
	user.LastRun = nil
	return nil
}

// HasRunToday reports whether lastRun falls on now's calendar date in loc.
func HasRunToday(user *UserRecord, now time.Time, loc *time.Location) bool {
	if user.LastRun == nil {
		return false
	}
	return calendarDay(*user.LastRun, loc).Equal(calendarDay(now, loc))
}

// ConfirmRun appends today's run and advances the streak, returning the appended run.
// The updated streak is left on user.Streak.
func ConfirmRun(user *UserRecord, now time.Time, loc *time.Location) (RunRecord, error) {
	if !user.HasGoal() {
		return RunRecord{}, fmt.Errorf("%w: no goal set", ErrPrecondition)
	}
	if HasRunToday(user, now, loc) {
		return RunRecord{}, fmt.Errorf("%w: run already confirmed today", ErrPrecondition)
	}

	run := RunRecord{Date: now, Duration: *user.CurrentGoal}
	user.History = append(user.History, run)

	yesterday := calendarDay(now, loc).AddDate(0, 0, -1)
	if user.LastRun != nil && calendarDay(*user.LastRun, loc).Equal(yesterday) {
		user.Streak++
	} else {
		user.Streak = 1
	}
	if user.Streak > user.LongestStreak {
		user.LongestStreak = user.Streak
	}

	last := now
	user.LastRun = &last
	return run, nil
}

// IncrementGoal raises the current goal by delta minutes.
func IncrementGoal(user *UserRecord, delta int) error {
	if err := validateMinutes("delta", delta); err != nil {
		return err
	}
	if !user.HasGoal() {
		return fmt.Errorf("%w: no goal set", ErrValidation)
	}
	next := *user.CurrentGoal + delta
	if next > MaxGoalMinutes {
		return fmt.Errorf("%w: goal would exceed %d minutes", ErrValidation, MaxGoalMinutes)
	}
	user.CurrentGoal = &next
	return nil
}

// maxAddressLength covers FCM registration tokens with room to spare.
const maxAddressLength = 4096

// SetNotificationAddress stores the reminder destination. An empty address clears it.
func SetNotificationAddress(user *UserRecord, address string) error {
	address = strings.TrimSpace(address)
	if len(address) > maxAddressLength {
		return fmt.Errorf("%w: notification address too long", ErrValidation)
	}
	user.NotificationAddress = address
	return nil
}

// State places the user in the goal cycle as of now.
func State(user *UserRecord, now time.Time, loc *time.Location) GoalState {
	switch {
	case !user.HasGoal():
		return StateNoGoal
	case HasRunToday(user, now, loc):
		return StateGoalSetRanToday
	default:
		return StateGoalSetNotRunToday
	}
}

// calendarDay truncates t to its date in loc, expressed as midnight UTC so that
// AddDate steps whole days regardless of DST transitions in loc.
func calendarDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
