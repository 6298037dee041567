// Package review holds the immutable review record and the calendar-day
// helpers shared by every stage of the pipeline.
package review

import (
	"fmt"
	"time"
)

// DayLayout is the canonical textual form of a day.
const DayLayout = "2006-01-02"

// Review is a single app-store review. Reviews are produced by a source
// collaborator and never modified afterwards.
type Review struct {
	ID       string    `json:"review_id"`
	AppID    string    `json:"app_id"`
	Day      time.Time `json:"-"`
	Text     string    `json:"content"`
	Rating   int       `json:"score,omitempty"`
	ThumbsUp int       `json:"thumbs_up,omitempty"`
	Language string    `json:"language,omitempty"`
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD string.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse day %q: %w", s, err)
	}
	return t, nil
}

// FormatDay renders a day as YYYY-MM-DD.
func FormatDay(t time.Time) string {
	return t.Format(DayLayout)
}

// AddDays moves a day by n calendar days.
func AddDays(day time.Time, n int) time.Time {
	return Day(day).AddDate(0, 0, n)
}

// Range returns every day from start to end inclusive. It returns nil when
// end is before start.
func Range(start, end time.Time) []time.Time {
	start, end = Day(start), Day(end)
	if end.Before(start) {
		return nil
	}
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// Window returns the size-day window ending at target, oldest first:
// [target-(size-1), target].
func Window(target time.Time, size int) []time.Time {
	if size <= 0 {
		return nil
	}
	return Range(AddDays(target, -(size - 1)), target)
}
