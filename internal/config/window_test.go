package config

import (
	"testing"
	"time"
)

func TestParseWindow(t *testing.T) {
	cases := []struct {
		in   string
		want Window
	}{
		{"5 19:00", Window{Day: time.Saturday, Hour: 19}},
		{"6 10:00", Window{Day: time.Sunday, Hour: 10}},
		{"Fri 19:30", Window{Day: time.Friday, Hour: 19, Minute: 30}},
		{"sunday 09:15", Window{Day: time.Sunday, Hour: 9, Minute: 15}},
		{"0 8", Window{Day: time.Monday, Hour: 8}},
	}

	for _, tc := range cases {
		got, err := ParseWindow(tc.in)
		if err != nil {
			t.Fatalf("ParseWindow(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("ParseWindow(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func TestParseWindowRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "friday", "8 19:00", "mon 25:00", "mon 19:61", "noonday 19:00"} {
		if _, err := ParseWindow(in); err == nil {
			t.Errorf("ParseWindow(%q): expected error", in)
		}
	}
}

func TestWindowAdmits(t *testing.T) {
	// 05 Dec 2099 is a Saturday, which "5 19:00" selects.
	w, err := ParseWindow("5 19:00")
	if err != nil {
		t.Fatalf("ParseWindow: %v", err)
	}

	at := time.Date(2099, time.December, 5, 19, 30, 0, 0, time.UTC)
	if !w.Admits(at) {
		t.Errorf("19:30 Saturday should be admitted by Saturday 19:00")
	}

	early := time.Date(2099, time.December, 5, 18, 59, 0, 0, time.UTC)
	if w.Admits(early) {
		t.Errorf("18:59 Saturday should not be admitted by Saturday 19:00")
	}

	exact := time.Date(2099, time.December, 5, 19, 0, 0, 0, time.UTC)
	if !w.Admits(exact) {
		t.Errorf("19:00 Saturday should be admitted at-or-after 19:00")
	}

	wrongDay := time.Date(2099, time.December, 6, 20, 0, 0, 0, time.UTC)
	if w.Admits(wrongDay) {
		t.Errorf("Sunday should not be admitted by a Saturday window")
	}
}

func TestAnyAdmitsEmptyWindowsAdmitsAll(t *testing.T) {
	at := time.Date(2099, time.December, 5, 3, 0, 0, 0, time.UTC)
	if !AnyAdmits(nil, at) {
		t.Error("no windows configured should admit everything")
	}
}
