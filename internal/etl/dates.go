package etl

import (
	"fmt"
	"strings"
	"time"
)

// strippedOffsets are dropped from API timestamps, which are then read as
// naive wall-clock times. Other offsets are kept and honoured.
var strippedOffsets = []string{"-04:00", "-03:00"}

const naiveLayout = "2006-01-02T15:04:05.999999999"

// parseAPITime reads a date as sent by the API. Naive results carry time.UTC
// as a wall-clock placeholder.
func parseAPITime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, suffix := range strippedOffsets {
		if strings.HasSuffix(s, suffix) {
			t, err := time.Parse(naiveLayout, strings.TrimSuffix(s, suffix))
			return t, err == nil
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(naiveLayout, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func parseAPITimePtr(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, ok := parseAPITime(*s)
	if !ok {
		return nil
	}
	return &t
}

// wallClock drops the zone so offset-aware and naive times compare by their
// printed date and time.
func wallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// dateRange is an inclusive filter on order creation dates. A bare end date
// means midnight at the start of that day.
type dateRange struct {
	start, end *time.Time
}

func newDateRange(start, end string) (dateRange, error) {
	var r dateRange
	var err error
	if r.start, err = parseBound(start); err != nil {
		return r, fmt.Errorf("invalid start date: %w", err)
	}
	if r.end, err = parseBound(end); err != nil {
		return r, fmt.Errorf("invalid end date: %w", err)
	}
	return r, nil
}

func parseBound(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.DateOnly, naiveLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%q is not YYYY-MM-DD", s)
}

func (r dateRange) active() bool {
	return r.start != nil || r.end != nil
}

// contains reports whether a date_created value lies in the range. Missing or
// malformed dates are excluded while a range is active.
func (r dateRange) contains(created *string) bool {
	if !r.active() {
		return true
	}
	if created == nil {
		return false
	}
	t, ok := parseAPITime(*created)
	if !ok {
		return false
	}
	t = wallClock(t)
	if r.start != nil && t.Before(*r.start) {
		return false
	}
	if r.end != nil && t.After(*r.end) {
		return false
	}
	return true
}
