package inboxservice

import (
	"time"
	"unicode/utf8"
)

const (
	DefaultPreviewLength = 32
	ellipsis             = "..."
)

// Preview shortens text to at most limit runes, marking the cut with "...".
func Preview(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit]) + ellipsis
}

// TimeLabel renders t relative to now in loc: the time of day for today,
// "Yesterday", the weekday within the last week, and a date otherwise. The year
// is shown only when it differs from the current one.
func TimeLabel(t, now time.Time, loc *time.Location) string {
	if t.IsZero() {
		return ""
	}
	if loc == nil {
		loc = time.Local
	}
	t, now = t.In(loc), now.In(loc)
	day := func(x time.Time) time.Time {
		y, m, d := x.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	}
	today := day(now)
	msgDay := day(t)

	switch {
	case !msgDay.Before(today):
		return t.Format("3:04 PM")
	case msgDay.Equal(today.AddDate(0, 0, -1)):
		return "Yesterday"
	case msgDay.After(today.AddDate(0, 0, -7)):
		return t.Weekday().String()
	case t.Year() == now.Year():
		return t.Format("Jan 2")
	default:
		return t.Format("Jan 2, 2006")
	}
}
