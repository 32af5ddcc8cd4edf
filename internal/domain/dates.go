package domain

import (
	"errors"
	"strings"
	"time"
)

// DayLayout is the canonical storage format of a day.
const DayLayout = "2006-01-02"

// WireLayout is the day format used in remote request URLs.
const WireLayout = "02-01-2006"

// EpochSentinel is what failed date parsing produces upstream. It is never
// a valid day.
const EpochSentinel = "1970-01-01"

// ErrInvalidDate is returned when no accepted layout parses the input, or
// when it parses to EpochSentinel.
var ErrInvalidDate = errors.New("invalid date")

// acceptedLayouts are tried in order. Day-first wins over month-first, so
// "01-02-2024" is the 1st of February. Single-digit layout elements accept
// zero-padded input too.
var acceptedLayouts = []string{
	"2006-1-2",
	"2-1-2006",
	"1-2-2006",
	"2006/1/2",
	"2/1/2006",
	"1/2/2006",
}

// NormalizeDay converts s to YYYY-MM-DD.
func NormalizeDay(s string) (string, error) {
	t, err := ParseDay(s)
	if err != nil {
		return "", err
	}
	return t.Format(DayLayout), nil
}

// ParseDay parses s with the accepted layouts and returns midnight UTC of
// that day.
func ParseDay(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrInvalidDate
	}
	for _, layout := range acceptedLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if t.Format(DayLayout) == EpochSentinel {
			return time.Time{}, ErrInvalidDate
		}
		return t, nil
	}
	return time.Time{}, ErrInvalidDate
}

// FormatDay renders t as YYYY-MM-DD.
func FormatDay(t time.Time) string {
	return t.Format(DayLayout)
}
