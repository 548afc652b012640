package feedback

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ParseHistory extracts the "history" array from a request body. Dates may be RFC 3339
// strings, Unix seconds, or timestamp objects of the form {"seconds", "nanoseconds"}
// (underscore-prefixed keys are accepted too). Durations may be numbers or numeric
// strings.
func ParseHistory(body []byte) ([]Entry, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: body is not valid JSON", ErrInvalidArgument)
	}
	history := gjson.GetBytes(body, "history")
	if !history.Exists() || history.Type == gjson.Null {
		return nil, fmt.Errorf("%w: history is required", ErrInvalidArgument)
	}
	if !history.IsArray() {
		return nil, fmt.Errorf("%w: history must be an array", ErrInvalidArgument)
	}

	items := history.Array()
	entries := make([]Entry, 0, len(items))
	for i, item := range items {
		if !item.IsObject() {
			return nil, fmt.Errorf("%w: history[%d] must be an object", ErrInvalidArgument, i)
		}
		date, err := parseDate(item.Get("date"))
		if err != nil {
			return nil, fmt.Errorf("%w: history[%d].date: %v", ErrInvalidArgument, i, err)
		}
		duration, err := parseDuration(item.Get("duration"))
		if err != nil {
			return nil, fmt.Errorf("%w: history[%d].duration: %v", ErrInvalidArgument, i, err)
		}
		entries = append(entries, Entry{Date: date, Duration: duration})
	}
	return entries, nil
}

func parseDate(value gjson.Result) (time.Time, error) {
	switch {
	case !value.Exists() || value.Type == gjson.Null:
		return time.Time{}, errors.New("missing")
	case value.Type == gjson.String:
		return time.Parse(time.RFC3339Nano, value.Str)
	case value.Type == gjson.Number:
		return time.Unix(value.Int(), 0).UTC(), nil
	case value.IsObject():
		seconds := firstOf(value, "seconds", "_seconds")
		if seconds.Type != gjson.Number {
			return time.Time{}, errors.New("timestamp object without seconds")
		}
		nanos := firstOf(value, "nanoseconds", "_nanoseconds")
		return time.Unix(seconds.Int(), nanos.Int()).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported value %s", value.Raw)
	}
}

func parseDuration(value gjson.Result) (int, error) {
	var minutes float64
	switch value.Type {
	case gjson.Number:
		minutes = value.Num
	case gjson.String:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value.Str), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", value.Str)
		}
		minutes = parsed
	default:
		return 0, errors.New("must be a number")
	}
	if minutes != math.Trunc(minutes) {
		return 0, fmt.Errorf("%v is not a whole number of minutes", minutes)
	}
	if minutes < 0 {
		return 0, errors.New("must not be negative")
	}
	return int(minutes), nil
}

func firstOf(value gjson.Result, keys ...string) gjson.Result {
	for _, key := range keys {
		if got := value.Get(key); got.Exists() {
			return got
		}
	}
	return gjson.Result{}
}
