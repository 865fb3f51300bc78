// Package daterange splits calendar date intervals into month-aligned chunks.
package daterange

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Layout is the ISO calendar date layout used by the API and in object keys.
const Layout = "2006-01-02"

// TodayToken resolves to the current date wherever a date is accepted.
const TodayToken = "TODAY"

var (
	// ErrInvalidMaxDays is returned when the chunk span limit is not positive.
	ErrInvalidMaxDays = errors.New("max days must be positive")

	// ErrInvertedInterval is returned when start is after end.
	ErrInvertedInterval = errors.New("start date is after end date")
)

// Interval is a closed range of calendar dates.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Chunk is a sub-interval confined to one calendar month.
type Chunk struct {
	Start time.Time
	End   time.Time
}

// Days returns the number of calendar days covered, both ends inclusive.
func (c Chunk) Days() int {
	return int(c.End.Sub(c.Start).Hours()/24) + 1
}

func (c Chunk) String() string {
	return c.Start.Format(Layout) + ".." + c.End.Format(Layout)
}

func (i Interval) String() string {
	return i.Start.Format(Layout) + ".." + i.End.Format(Layout)
}

// Date returns midnight UTC of the given calendar day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Truncate drops the clock part of t, keeping its calendar day.
func Truncate(t time.Time) time.Time {
	return Date(t.Year(), t.Month(), t.Day())
}

// MonthEnd returns the last calendar day of d's month.
func MonthEnd(d time.Time) time.Time {
	firstNext := Date(d.Year(), d.Month(), 1).AddDate(0, 1, 0)
	return firstNext.AddDate(0, 0, -1)
}

// ParseDate parses an ISO YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(Layout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// Resolve parses a configured date value. Empty values and the TODAY token
// (any case) resolve to the calendar day of now.
func Resolve(value string, now time.Time) (time.Time, error) {
	v := strings.TrimSpace(value)
	if v == "" || strings.EqualFold(v, TodayToken) {
		return Truncate(now), nil
	}
	return ParseDate(v)
}

// Normalize returns an interval with start and end swapped if needed.
func Normalize(start, end time.Time) (Interval, bool) {
	start, end = Truncate(start), Truncate(end)
	if start.After(end) {
		return Interval{Start: end, End: start}, true
	}
	return Interval{Start: start, End: end}, false
}

// Split cuts [start, end] into ordered chunks that never cross a month
// boundary and never span more than maxDays days. The chunks are contiguous
// and together cover the interval exactly.
func Split(start, end time.Time, maxDays int) ([]Chunk, error) {
	if maxDays <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMaxDays, maxDays)
	}
	start, end = Truncate(start), Truncate(end)
	if start.After(end) {
		return nil, fmt.Errorf("%w: %s > %s", ErrInvertedInterval, start.Format(Layout), end.Format(Layout))
	}

	// No month holds more than 31 days.
	if maxDays > 31 {
		maxDays = 31
	}

	var chunks []Chunk
	cur := start
	for !cur.After(end) {
		candidateEnd := minDate(MonthEnd(cur), end)
		maxByDays := cur.AddDate(0, 0, maxDays-1)
		chunkEnd := minDate(candidateEnd, maxByDays)

		chunks = append(chunks, Chunk{Start: cur, End: chunkEnd})
		cur = chunkEnd.AddDate(0, 0, 1)
	}
	return chunks, nil
}

func minDate(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
