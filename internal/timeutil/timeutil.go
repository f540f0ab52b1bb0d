/**
 * @description
 * Time helpers for the snapshot pipeline: agent timestamp normalization, hour
 * bucketing, and daily-anchor calendar math.
 *
 * @dependencies
 * - standard "time", "math", "strconv"
 *
 * @notes
 * - NormalizeTimestamp never fails: a malformed ts_utc falls back to the ingestion
 *   instant. That trades accuracy for liveness so a fleet of agents with broken
 *   clocks still shows up on the dashboard. Documented policy, do not "fix" it to
 *   reject.
 */

package timeutil

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// epochMillisThreshold disambiguates epoch seconds from epoch milliseconds.
// Anything below 1e12 is seconds (1e12 ms is ~2001, 1e12 s is ~33658).
const epochMillisThreshold = 1e12

var textLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// NormalizeTimestamp converts an untyped ts_utc value from an ingestion payload
// into a UTC instant. Accepts epoch seconds, epoch milliseconds and date-time
// text; anything absent or unparseable resolves to now.
func NormalizeTimestamp(v interface{}, now time.Time) time.Time {
	if v == nil {
		return now.UTC()
	}
	switch t := v.(type) {
	case float64:
		return fromEpoch(t, now)
	case int64:
		return fromEpoch(float64(t), now)
	case int:
		return fromEpoch(float64(t), now)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return now.UTC()
		}
		for _, layout := range textLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.UTC()
			}
		}
		return now.UTC()
	default:
		return now.UTC()
	}
}

func fromEpoch(v float64, now time.Time) time.Time {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return now.UTC()
	}
	ms := v
	if v < epochMillisThreshold {
		ms = v * 1000
	}
	if ms > math.MaxInt64 {
		return now.UTC()
	}
	return time.UnixMilli(int64(ms)).UTC()
}

// CoerceNumber parses an untyped payload value as a finite number.
// Returns nil for absent, non-numeric or non-finite input — never zero.
func CoerceNumber(v interface{}) *float64 {
	var n float64
	switch t := v.(type) {
	case nil:
		return nil
	case float64:
		n = t
	case int:
		n = float64(t)
	case int64:
		n = float64(t)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil
		}
		n = parsed
	default:
		return nil
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return nil
	}
	return &n
}

// HourFloor truncates t to the start of its UTC hour.
func HourFloor(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// PrevHourWindow returns the [start, end) bounds of the hour that completed
// most recently before now. At 10:05 it returns (09:00, 10:00).
func PrevHourWindow(now time.Time) (time.Time, time.Time) {
	end := HourFloor(now)
	return end.Add(-time.Hour), end
}

// AnchorInstant returns the UTC instant of today's daily anchor: anchorHour
// o'clock of now's calendar day in the reference timezone. For Asia/Tokyo and
// anchor hour 8 that is 23:00 UTC of the previous calendar day.
func AnchorInstant(now time.Time, loc *time.Location, anchorHour int) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), anchorHour, 0, 0, 0, loc).UTC()
}

// AnchorDate formats the anchor's calendar date in the reference timezone.
func AnchorDate(anchor time.Time, loc *time.Location) string {
	return anchor.In(loc).Format("2006-01-02")
}
