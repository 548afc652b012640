package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func goalOf(minutes int) *int { return &minutes }

func timeRef(t time.Time) *time.Time { return &t }

func TestConfirmRunStreakScenario(t *testing.T) {
	minutes, err := ParseMinutes("30")
	require.NoError(t, err)

	user := NewUserRecord("user-1", time.Now())
	require.NoError(t, SetGoal(&user, minutes))

	day1 := time.Date(2025, time.March, 1, 7, 30, 0, 0, time.UTC)
	run, err := ConfirmRun(&user, day1, time.UTC)
	require.NoError(t, err)
	require.Equal(t, 1, user.Streak)
	require.Equal(t, []RunRecord{{Date: day1, Duration: 30}}, user.History)
	require.Equal(t, 30, run.Duration)

	day2 := day1.AddDate(0, 0, 1)
	_, err = ConfirmRun(&user, day2, time.UTC)
	require.NoError(t, err)
	require.Equal(t, 2, user.Streak)

	day4 := day1.AddDate(0, 0, 3)
	_, err = ConfirmRun(&user, day4, time.UTC)
	require.NoError(t, err)
	require.Equal(t, 1, user.Streak)
	require.Equal(t, 2, user.LongestStreak)
	require.Len(t, user.History, 3)
	require.Equal(t, day4, *user.LastRun)
}

func TestConfirmRunIncrementsFromYesterday(t *testing.T) {
	now := time.Date(2025, time.June, 10, 0, 5, 0, 0, time.UTC)
	for _, streak := range []int{0, 1, 6, 99} {
		user := UserRecord{
			ID:          "u",
			CurrentGoal: goalOf(20),
			Streak:      streak,
			LastRun:     timeRef(time.Date(2025, time.June, 9, 23, 59, 0, 0, time.UTC)),
		}
		_, err := ConfirmRun(&user, now, time.UTC)
		require.NoError(t, err)
		require.Equal(t, streak+1, user.Streak)
	}
}

func TestConfirmRunResetsAfterGapOrWithoutLastRun(t *testing.T) {
	now := time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)
	cases := map[string]*time.Time{
		"no last run":     nil,
		"two days ago":    timeRef(now.AddDate(0, 0, -2)),
		"a year ago":      timeRef(now.AddDate(-1, 0, 0)),
		"future last run": timeRef(now.AddDate(0, 0, 3)),
	}
	for name, lastRun := range cases {
		t.Run(name, func(t *testing.T) {
			user := UserRecord{ID: "u", CurrentGoal: goalOf(15), Streak: 8, LastRun: lastRun}
			_, err := ConfirmRun(&user, now, time.UTC)
			require.NoError(t, err)
			require.Equal(t, 1, user.Streak)
		})
	}
}

func TestConfirmRunTwiceSameDayFails(t *testing.T) {
	user := UserRecord{ID: "u", CurrentGoal: goalOf(10)}
	morning := time.Date(2025, time.January, 5, 6, 0, 0, 0, time.UTC)

	_, err := ConfirmRun(&user, morning, time.UTC)
	require.NoError(t, err)

	_, err = ConfirmRun(&user, morning.Add(12*time.Hour), time.UTC)
	require.ErrorIs(t, err, ErrPrecondition)
	require.Len(t, user.History, 1)
	require.Equal(t, 1, user.Streak)
}

func TestConfirmRunWithoutGoalFails(t *testing.T) {
	user := UserRecord{ID: "u"}
	_, err := ConfirmRun(&user, time.Now(), time.UTC)
	require.ErrorIs(t, err, ErrPrecondition)
	require.Empty(t, user.History)
	require.Nil(t, user.LastRun)
}

func TestCalendarDayUsesReferenceZone(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	user := UserRecord{ID: "u", CurrentGoal: goalOf(10)}

	// 2025-03-01 20:00 UTC is already 2025-03-02 in Tokyo.
	first := time.Date(2025, time.March, 1, 20, 0, 0, 0, time.UTC)
	_, err := ConfirmRun(&user, first, tokyo)
	require.NoError(t, err)

	// 2025-03-02 10:00 UTC is still 2025-03-02 in Tokyo: same day.
	require.True(t, HasRunToday(&user, time.Date(2025, time.March, 2, 10, 0, 0, 0, time.UTC), tokyo))
	// In UTC the two instants fall on different days.
	require.False(t, HasRunToday(&user, time.Date(2025, time.March, 2, 10, 0, 0, 0, time.UTC), time.UTC))
}

func TestCalendarDayAcrossDaylightSaving(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	user := UserRecord{ID: "u", CurrentGoal: goalOf(10)}

	saturday := time.Date(2025, time.March, 8, 23, 30, 0, 0, ny)
	_, err = ConfirmRun(&user, saturday, ny)
	require.NoError(t, err)

	// Clocks spring forward on 2025-03-09; the day is 23 hours long.
	sunday := time.Date(2025, time.March, 9, 23, 30, 0, 0, ny)
	_, err = ConfirmRun(&user, sunday, ny)
	require.NoError(t, err)
	require.Equal(t, 2, user.Streak)
}

func TestIncrementGoal(t *testing.T) {
	user := UserRecord{ID: "u", CurrentGoal: goalOf(30)}
	require.NoError(t, IncrementGoal(&user, 10))
	require.Equal(t, 40, *user.CurrentGoal)

	for _, delta := range []int{0, -5} {
		err := IncrementGoal(&user, delta)
		require.ErrorIs(t, err, ErrValidation)
		require.Equal(t, 40, *user.CurrentGoal)
	}

	err := IncrementGoal(&user, MaxGoalMinutes)
	require.ErrorIs(t, err, ErrValidation)
	require.Equal(t, 40, *user.CurrentGoal)
}

func TestIncrementGoalWithoutGoalFails(t *testing.T) {
	user := UserRecord{ID: "u"}
	err := IncrementGoal(&user, 10)
	require.ErrorIs(t, err, ErrValidation)
	require.Nil(t, user.CurrentGoal)
}

func TestSetGoalAlwaysClearsLastRun(t *testing.T) {
	cases := []*time.Time{nil, timeRef(time.Now()), timeRef(time.Now().AddDate(0, 0, -10))}
	for _, lastRun := range cases {
		user := UserRecord{ID: "u", CurrentGoal: goalOf(5), LastRun: lastRun, Streak: 3}
		require.NoError(t, SetGoal(&user, 45))
		require.Nil(t, user.LastRun)
		require.Equal(t, 45, *user.CurrentGoal)
		require.Equal(t, 3, user.Streak)
	}
}

func TestSetGoalRejectsNonPositive(t *testing.T) {
	last := time.Now()
	user := UserRecord{ID: "u", CurrentGoal: goalOf(5), LastRun: &last}
	for _, value := range []int{0, -1, MaxGoalMinutes + 1} {
		err := SetGoal(&user, value)
		require.True(t, errors.Is(err, ErrValidation))
	}
	require.Equal(t, 5, *user.CurrentGoal)
	require.NotNil(t, user.LastRun)
}

func TestParseMinutes(t *testing.T) {
	value, err := ParseMinutes(" 30 ")
	require.NoError(t, err)
	require.Equal(t, 30, value)

	for _, raw := range []string{"", "  ", "abc", "12.5"} {
		_, err := ParseMinutes(raw)
		require.ErrorIs(t, err, ErrValidation)
	}
}

func TestState(t *testing.T) {
	now := time.Date(2025, time.May, 1, 9, 0, 0, 0, time.UTC)
	user := UserRecord{ID: "u"}
	require.Equal(t, StateNoGoal, State(&user, now, time.UTC))

	require.NoError(t, SetGoal(&user, 20))
	require.Equal(t, StateGoalSetNotRunToday, State(&user, now, time.UTC))

	_, err := ConfirmRun(&user, now, time.UTC)
	require.NoError(t, err)
	require.Equal(t, StateGoalSetRanToday, State(&user, now, time.UTC))
	require.Equal(t, StateGoalSetNotRunToday, State(&user, now.AddDate(0, 0, 1), time.UTC))

	require.NoError(t, SetGoal(&user, 25))
	require.Equal(t, StateGoalSetNotRunToday, State(&user, now, time.UTC))
}

func TestSetNotificationAddress(t *testing.T) {
	user := UserRecord{ID: "u"}
	require.NoError(t, SetNotificationAddress(&user, "  runner@example.com "))
	require.Equal(t, "runner@example.com", user.NotificationAddress)

	require.NoError(t, SetNotificationAddress(&user, ""))
	require.Empty(t, user.NotificationAddress)

	long := make([]byte, maxAddressLength+1)
	for i := range long {
		long[i] = 'a'
	}
	require.ErrorIs(t, SetNotificationAddress(&user, string(long)), ErrValidation)
}
