package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Window is one weekly availability slot: a weekday plus the earliest
// acceptable start time on that day. Numeric weekdays count from Monday as
// 0, so "5 19:00" reads as Saturday from 19:00. Weekday names are accepted
// too ("Sat 19:00").
type Window struct {
	Day    time.Weekday
	Hour   int
	Minute int
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseWindow parses a single "<weekday> <HH:MM>" slot. The weekday is a
// number (Monday is 0) or a name.
func ParseWindow(s string) (Window, error) {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) != 2 {
		return Window{}, fmt.Errorf("window %q: want \"<weekday> <HH:MM>\"", s)
	}

	var day time.Weekday
	if n, err := strconv.Atoi(fields[0]); err == nil {
		if n < 0 || n > 6 {
			return Window{}, fmt.Errorf("window %q: weekday %d out of range", s, n)
		}
		day = time.Weekday((n + 1) % 7)
	} else {
		named, ok := weekdayNames[strings.ToLower(fields[0])]
		if !ok {
			return Window{}, fmt.Errorf("window %q: unknown weekday %q", s, fields[0])
		}
		day = named
	}

	clock := fields[1]
	if !strings.Contains(clock, ":") {
		clock += ":00"
	}
	hm := strings.SplitN(clock, ":", 2)
	hour, err := strconv.Atoi(hm[0])
	if err != nil || hour < 0 || hour > 23 {
		return Window{}, fmt.Errorf("window %q: bad hour %q", s, hm[0])
	}
	minute, err := strconv.Atoi(hm[1])
	if err != nil || minute < 0 || minute > 59 {
		return Window{}, fmt.Errorf("window %q: bad minute %q", s, hm[1])
	}

	return Window{Day: day, Hour: hour, Minute: minute}, nil
}

// ParseWindows parses every slot, failing on the first invalid one.
func ParseWindows(specs []string) ([]Window, error) {
	windows := make([]Window, 0, len(specs))
	for _, s := range specs {
		w, err := ParseWindow(s)
		if err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	return windows, nil
}

// Admits reports whether t falls on the window's weekday at or after its
// start time.
func (w Window) Admits(t time.Time) bool {
	if t.Weekday() != w.Day {
		return false
	}
	if t.Hour() != w.Hour {
		return t.Hour() > w.Hour
	}
	return t.Minute() >= w.Minute
}

// AnyAdmits reports whether at least one window admits t. An empty window
// list admits everything: no windows configured means no availability
// filtering.
func AnyAdmits(windows []Window, t time.Time) bool {
	if len(windows) == 0 {
		return true
	}
	for _, w := range windows {
		if w.Admits(t) {
			return true
		}
	}
	return false
}
