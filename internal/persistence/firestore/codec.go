package firestore

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"example.com/momentum/internal/domain"
)

// Document field names. They match the record shape written by the mobile client.
const (
	fieldCurrentGoal         = "currentGoal"
	fieldHistory             = "history"
	fieldLastRun             = "lastRun"
	fieldStreak              = "streak"
	fieldLongestStreak       = "longestStreak"
	fieldNotificationAddress = "notificationAddress"
	fieldLegacyToken         = "fcmToken"
	fieldVersion             = "version"
	fieldCreatedAt           = "createdAt"
	fieldUpdatedAt           = "updatedAt"

	fieldRunID       = "id"
	fieldRunDate     = "date"
	fieldRunDuration = "duration"
)

// summaryFields is the projection used for enumeration; history is never loaded there.
var summaryFields = []string{
	fieldCurrentGoal,
	fieldLastRun,
	fieldStreak,
	fieldLongestStreak,
	fieldNotificationAddress,
	fieldLegacyToken,
	fieldVersion,
	fieldCreatedAt,
	fieldUpdatedAt,
}

// summaryWriteFields are the fields Save rewrites. createdAt and any fields written by the
// client alone are left as stored.
var summaryWriteFields = []string{
	fieldCurrentGoal,
	fieldLastRun,
	fieldStreak,
	fieldLongestStreak,
	fieldNotificationAddress,
	fieldVersion,
	fieldUpdatedAt,
}

func encodeUser(u domain.UserRecord) map[string]any {
	data := encodeSummary(u)
	data[fieldHistory] = encodeHistory(u.History)
	data[fieldCreatedAt] = u.CreatedAt
	return data
}

func encodeSummary(u domain.UserRecord) map[string]any {
	data := map[string]any{
		fieldCurrentGoal:         nil,
		fieldLastRun:             nil,
		fieldStreak:              int64(u.Streak),
		fieldLongestStreak:       int64(u.LongestStreak),
		fieldNotificationAddress: u.NotificationAddress,
		fieldVersion:             u.Version,
		fieldUpdatedAt:           u.UpdatedAt,
	}
	if u.CurrentGoal != nil {
		data[fieldCurrentGoal] = int64(*u.CurrentGoal)
	}
	if u.LastRun != nil {
		data[fieldLastRun] = *u.LastRun
	}
	return data
}

// encodeUpdates turns a committed transition into field updates. The appended run is
// added with ArrayUnion so stored history entries are never rewritten.
func encodeUpdates(next domain.UserRecord, appended *domain.RunRecord) []firestore.Update {
	fields := encodeSummary(next)
	updates := make([]firestore.Update, 0, len(summaryWriteFields)+1)
	for _, path := range summaryWriteFields {
		updates = append(updates, firestore.Update{Path: path, Value: fields[path]})
	}
	if appended != nil {
		updates = append(updates, firestore.Update{Path: fieldHistory, Value: firestore.ArrayUnion(encodeRun(*appended))})
	}
	return updates
}

func encodeHistory(history []domain.RunRecord) []any {
	out := make([]any, 0, len(history))
	for _, run := range history {
		out = append(out, encodeRun(run))
	}
	return out
}

func encodeRun(run domain.RunRecord) map[string]any {
	entry := map[string]any{
		fieldRunDate:     run.Date,
		fieldRunDuration: int64(run.Duration),
	}
	if run.ID != "" {
		entry[fieldRunID] = run.ID
	}
	return entry
}

// decodeUser reads a stored document. History entries that cannot be read are left out
// of the record; they stay in the document because Save only ever appends.
func decodeUser(id string, data map[string]any) (domain.UserRecord, error) {
	user, err := decodeSummary(id, data)
	if err != nil {
		return domain.UserRecord{}, err
	}
	user.History = decodeHistory(data[fieldHistory])
	return user, nil
}

// decodeSummary reads every field except history. Goals may be numbers, numeric strings
// or "" (no goal); a legacy fcmToken stands in for a missing notificationAddress.
func decodeSummary(id string, data map[string]any) (domain.UserRecord, error) {
	user := domain.UserRecord{ID: id}

	goal, err := decodeGoal(data[fieldCurrentGoal])
	if err != nil {
		return domain.UserRecord{}, fmt.Errorf("user %s: %w", id, err)
	}
	user.CurrentGoal = goal

	if last, ok := data[fieldLastRun].(time.Time); ok {
		last = last.UTC()
		user.LastRun = &last
	}

	streak, err := decodeInt(fieldStreak, data[fieldStreak])
	if err != nil {
		return domain.UserRecord{}, fmt.Errorf("user %s: %w", id, err)
	}
	user.Streak = streak

	longest, err := decodeInt(fieldLongestStreak, data[fieldLongestStreak])
	if err != nil {
		return domain.UserRecord{}, fmt.Errorf("user %s: %w", id, err)
	}
	user.LongestStreak = max(longest, streak)

	version, err := decodeInt(fieldVersion, data[fieldVersion])
	if err != nil {
		return domain.UserRecord{}, fmt.Errorf("user %s: %w", id, err)
	}
	user.Version = int64(version)

	address, _ := data[fieldNotificationAddress].(string)
	if strings.TrimSpace(address) == "" {
		address, _ = data[fieldLegacyToken].(string)
	}
	user.NotificationAddress = strings.TrimSpace(address)

	if created, ok := data[fieldCreatedAt].(time.Time); ok {
		user.CreatedAt = created.UTC()
	}
	if updated, ok := data[fieldUpdatedAt].(time.Time); ok {
		user.UpdatedAt = updated.UTC()
	}
	return user, nil
}

// decodeGoal reads currentGoal the way the web client's parseInt did: "12.5" is 12, "1e2"
// is 1, and text without leading digits means no goal.
func decodeGoal(raw any) (*int, error) {
	var minutes int
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		parsed, ok := leadingInt(v)
		if !ok {
			return nil, nil
		}
		minutes = parsed
	default:
		parsed, err := decodeInt(fieldCurrentGoal, v)
		if err != nil {
			return nil, err
		}
		minutes = parsed
	}
	if minutes <= 0 {
		return nil, nil
	}
	return &minutes, nil
}

func decodeHistory(raw any) []domain.RunRecord {
	items, _ := raw.([]any)
	history := make([]domain.RunRecord, 0, len(items))
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		date, ok := entry[fieldRunDate].(time.Time)
		if !ok {
			continue
		}
		duration, err := decodeInt(fieldRunDuration, entry[fieldRunDuration])
		if err != nil {
			continue
		}
		id, _ := entry[fieldRunID].(string)
		history = append(history, domain.RunRecord{ID: id, Date: date.UTC(), Duration: duration})
	}
	return history
}

// decodeInt accepts whole or fractional numbers and numeric strings, truncating toward
// zero. Only values of an unrelated type are an error.
func decodeInt(field string, raw any) (int, error) {
	switch v := raw.(type) {
	case nil:
		return 0, nil
	case int64:
		return int(v), nil
	case int:
		return v, nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, nil
		}
		return int(math.Trunc(v)), nil
	case string:
		n, _ := leadingInt(v)
		return n, nil
	default:
		return 0, fmt.Errorf("%s: unsupported type %T", field, raw)
	}
}

// leadingInt parses the optional sign and digits at the start of s, ignoring the rest.
func leadingInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits || end-digits > 9 {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}
