package domain

import "time"

// DateLayout is the canonical on-disk and on-wire date format.
const DateLayout = "2006-01-02"

// Day truncates t to a calendar date (midnight UTC). All dates flowing through
// the engine are normalised this way so map keys and comparisons line up.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string into a normalised date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return Day(t), nil
}

// DaysBetween returns the whole calendar days from a to b (b - a). Negative
// when b precedes a.
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)) / (24 * time.Hour))
}

// IsBusinessDay reports whether d falls Monday through Friday. Market holidays
// are not modelled; days the exchange was closed simply have no cached price.
func IsBusinessDay(d time.Time) bool {
	wd := d.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}
