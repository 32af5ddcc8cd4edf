package util

import "time"

// Days returns every calendar day from start to end inclusive, each at
// midnight UTC. It returns nil when end is before start.
func Days(start, end time.Time) []time.Time {
	start = TruncateDay(start)
	end = TruncateDay(end)
	if end.Before(start) {
		return nil
	}

	days := make([]time.Time, 0, int(end.Sub(start).Hours()/24)+1)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// TruncateDay returns midnight UTC of t's calendar date in t's location.
func TruncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Today returns midnight UTC of the current date in loc (local time when
// loc is nil).
func Today(loc *time.Location) time.Time {
	now := time.Now()
	if loc != nil {
		now = now.In(loc)
	}
	return TruncateDay(now)
}
