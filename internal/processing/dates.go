package processing

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the canonical form every date field is emitted in.
const DateLayout = "2006-01-02T00:00:00Z"

// TimestampLayout is used for modification timestamps, which keep their time of day.
const TimestampLayout = "2006-01-02T15:04:05Z"

// PartySentinel marks an absent party event date in the source feed and in the index.
const PartySentinel = "0002-11-30T00:00:00Z"

// ErrInvalidDate is returned for values that cannot be read as a calendar date.
var ErrInvalidDate = errors.New("invalid date")

var (
	isoDate   = regexp.MustCompile(`^(\d{4})(?:-(\d{1,2})(?:-(\d{1,2}))?)?(?:[T ].*)?$`)
	yearRange = regexp.MustCompile(`^(\d{4})\s*-\s*(\d{4})$`)
	upperTok  = regexp.MustCompile(`^[A-Z]{2,5}$`)
)

// NormaliseDate accepts YYYY, YYYY-MM, YYYY-MM-DD and zero-padded pseudo dates
// such as YYYY-00-00. Missing or zero month/day become 01. A zero year is rejected.
func NormaliseDate(raw string) (string, error) {
	t, err := ParseDate(raw)
	if err != nil {
		return "", err
	}
	return t.Format(DateLayout), nil
}

// ParseDate is NormaliseDate returning the time value.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	m := isoDate.FindStringSubmatch(raw)
	if m == nil {
		if t, err := ParseLegacyTimestamp(raw); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}

	year, _ := strconv.Atoi(m[1])
	if year == 0 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}
	month, day := 1, 1
	if m[2] != "" {
		month, _ = strconv.Atoi(m[2])
		if month == 0 {
			month = 1
		}
	}
	if m[3] != "" {
		day, _ = strconv.Atoi(m[3])
		if day == 0 {
			day = 1
		}
	}
	if month > 12 || day > 31 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Month() != time.Month(month) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}
	return t, nil
}

// minEpochDigits keeps eight digit compact dates out of the epoch branch.
const minEpochDigits = 9

// ParseTimestamp reads a modification timestamp. Accepted forms are RFC3339,
// "2006-01-02 15:04:05", compact "20060102" dates, Unix epoch seconds of at
// least nine digits, the ctime-like legislation form and any value ParseDate
// accepts.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrInvalidDate)
	}

	if epoch, err := strconv.ParseInt(raw, 10, 64); err == nil && len(raw) >= minEpochDigits {
		return time.Unix(epoch, 0).UTC(), nil
	}

	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"20060102",
	}
	for _, f := range formats {
		if ts, err := time.Parse(f, raw); err == nil {
			return ts.UTC(), nil
		}
	}

	if ts, err := ParseLegacyTimestamp(raw); err == nil {
		return ts, nil
	}
	return ParseDate(raw)
}

// ParseLegacyTimestamp reads "Mon Jan 02 15:04:05 CET 2006" style values. The
// timezone token is dropped and the result is read as UTC.
func ParseLegacyTimestamp(raw string) (time.Time, error) {
	fields := strings.Fields(raw)
	kept := fields[:0:0]
	for i, f := range fields {
		// keep the weekday and month abbreviations, drop the upper-case zone token
		if i > 1 && upperTok.MatchString(f) {
			continue
		}
		kept = append(kept, f)
	}
	ts, err := time.Parse("Mon Jan 02 15:04:05 2006", strings.Join(kept, " "))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}
	return ts.UTC(), nil
}

// FormatTimestamp renders t in the index timestamp form.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// YearRange splits "YYYY-YYYY" into its two years. ok is false for other input.
func YearRange(raw string) (start, end string, ok bool) {
	m := yearRange.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// Year returns the year of a normalised date, or 0.
func Year(normalised string) int64 {
	if len(normalised) < 4 {
		return 0
	}
	y, err := strconv.ParseInt(normalised[:4], 10, 64)
	if err != nil {
		return 0
	}
	return y
}
