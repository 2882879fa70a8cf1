// Package summary filters a snapshot of transactions and aggregates the
// survivors into the totals and chart series shown on the home and report
// views. Everything here is a pure function of its inputs.
package summary

import (
	"fmt"
	"strings"
	"time"
)

// DayLayout is the wire format for filter dates.
const DayLayout = "2006-01-02"

// BucketSize selects the calendar grouping of the time series.
type BucketSize int

const (
	// BucketDay groups by calendar day (home view).
	BucketDay BucketSize = iota
	// BucketMonth groups by calendar month (report view).
	BucketMonth
)

// ParseBucketSize parses "day" or "month". An empty string is BucketDay.
func ParseBucketSize(s string) (BucketSize, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "day":
		return BucketDay, nil
	case "month":
		return BucketMonth, nil
	}
	return BucketDay, fmt.Errorf("unknown bucket size: %q", s)
}

func (b BucketSize) String() string {
	if b == BucketMonth {
		return "month"
	}
	return "day"
}

// SortOrder orders the visible transactions.
type SortOrder int

const (
	// SortDateDesc lists newest first; undated records go last.
	SortDateDesc SortOrder = iota
	SortAmountAsc
	SortAmountDesc
)

// ParseSortOrder parses "date", "amount_asc" or "amount_desc". An empty string
// is SortDateDesc.
func ParseSortOrder(s string) (SortOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "date", "date_desc":
		return SortDateDesc, nil
	case "amount_asc", "asc":
		return SortAmountAsc, nil
	case "amount_desc", "desc":
		return SortAmountDesc, nil
	}
	return SortDateDesc, fmt.Errorf("unknown sort order: %q", s)
}

// FilterSpec parameterizes one aggregation call. The zero value keeps every
// record.
type FilterSpec struct {
	Start *time.Time
	End   *time.Time

	// Categories restricts records to these verbatim labels. Empty means no
	// restriction.
	Categories []string

	Search string
	Bucket BucketSize
	Sort   SortOrder

	// Location defines where calendar days begin and end. Nil means time.Local.
	Location *time.Location
}

func (f FilterSpec) location() *time.Location {
	if f.Location == nil {
		return time.Local
	}
	return f.Location
}

// CurrentMonth returns the home view default: from the first day of now's
// month through now's day.
func CurrentMonth(now time.Time, loc *time.Location) FilterSpec {
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	return FilterSpec{Start: &start, End: &end, Location: loc}
}

// ParseDay parses a YYYY-MM-DD filter bound. An empty string is no bound.
func ParseDay(s string, loc *time.Location) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(DayLayout, s, loc)
	if err != nil {
		return nil, fmt.Errorf("parsing day %q: %w", s, err)
	}
	return &t, nil
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func endOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 23, 59, 59, int(time.Second-time.Nanosecond), loc)
}
