package entity

import "time"

// DateOnly truncates a timestamp to UTC midnight. All feature group event
// times are stored this way so joins on date behave across drivers.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string into a UTC midnight timestamp.
func ParseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

// FormatDate renders a timestamp as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
