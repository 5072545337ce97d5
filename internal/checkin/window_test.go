package checkin

import (
	"testing"
	"time"
)

func at(hh, mm int) time.Time {
	return time.Date(2024, 3, 11, hh, mm, 0, 0, time.UTC)
}

func TestCheckInWindow_DefaultOffsets(t *testing.T) {
	w := CheckInWindow(at(10, 0), DefaultOffsets())
	if !w.Start.Equal(at(9, 30)) {
		t.Errorf("opens at %s, want 09:30", w.Start.Format("15:04"))
	}
	if !w.End.Equal(at(10, 15)) {
		t.Errorf("closes at %s, want 10:15", w.End.Format("15:04"))
	}
}

func TestWindow_Contains_BoundariesInclusive(t *testing.T) {
	w := CheckInWindow(at(10, 0), DefaultOffsets())
	cases := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"exactly at open", at(9, 30), true},
		{"one second before open", at(9, 30).Add(-time.Second), false},
		{"at start", at(10, 0), true},
		{"exactly at close", at(10, 15), true},
		{"one second after close", at(10, 15).Add(time.Second), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := w.Contains(tc.now); got != tc.want {
				t.Errorf("Contains(%s) = %v, want %v", tc.now.Format(time.TimeOnly), got, tc.want)
			}
		})
	}
}

func TestWindow_Overlaps(t *testing.T) {
	cases := []struct {
		name string
		a, b Window
		want bool
	}{
		{"partial", Window{at(10, 0), at(11, 0)}, Window{at(10, 30), at(11, 30)}, true},
		{"gap", Window{at(10, 0), at(11, 0)}, Window{at(11, 5), at(12, 0)}, false},
		{"touching ends", Window{at(8, 0), at(9, 0)}, Window{at(9, 0), at(10, 0)}, false},
		{"contained", Window{at(14, 0), at(15, 30)}, Window{at(14, 30), at(15, 0)}, true},
		{"identical", Window{at(10, 0), at(11, 0)}, Window{at(10, 0), at(11, 0)}, true},
		{"zero length same instant", Window{at(10, 0), at(10, 0)}, Window{at(10, 0), at(10, 0)}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.Overlaps(tc.b); got != tc.want {
				t.Errorf("a.Overlaps(b) = %v, want %v", got, tc.want)
			}
			if got := tc.b.Overlaps(tc.a); got != tc.want {
				t.Errorf("b.Overlaps(a) = %v, want %v (not symmetric)", got, tc.want)
			}
		})
	}
}

func TestWindow_OverlapsItself(t *testing.T) {
	for _, w := range []Window{
		{at(6, 0), at(7, 0)},
		{at(23, 0), at(23, 59)},
		OccupancyWindow(at(18, 0), 0),
	} {
		if !w.Overlaps(w) {
			t.Errorf("window %v does not overlap itself", w)
		}
	}
}

func TestSessionDuration_DefaultsToSixtyMinutes(t *testing.T) {
	for _, minutes := range []int{0, -5} {
		if got := SessionDuration(minutes); got != time.Hour {
			t.Errorf("SessionDuration(%d) = %s, want 1h", minutes, got)
		}
	}
	if got := SessionDuration(90); got != 90*time.Minute {
		t.Errorf("SessionDuration(90) = %s", got)
	}
}

func TestDayOf(t *testing.T) {
	loc := time.FixedZone("BRT", -3*60*60)
	d := DayOf(time.Date(2024, 3, 11, 23, 59, 0, 0, loc))
	if !d.Start.Equal(time.Date(2024, 3, 11, 0, 0, 0, 0, loc)) {
		t.Errorf("day start = %s", d.Start)
	}
	if !d.End.Equal(time.Date(2024, 3, 12, 0, 0, 0, 0, loc)) {
		t.Errorf("day end = %s", d.End)
	}
}
