package checkin

import "time"

// DefaultSessionDuration is used when a session carries no usable duration.
const DefaultSessionDuration = 60 * time.Minute

// Offsets controls when check-in opens and closes relative to a session start.
type Offsets struct {
	OpensBefore time.Duration
	ClosesAfter time.Duration
}

// DefaultOffsets opens check-in 30 minutes before start and closes it 15 minutes after.
func DefaultOffsets() Offsets {
	return Offsets{OpensBefore: 30 * time.Minute, ClosesAfter: 15 * time.Minute}
}

// Window is a time range. Check-in windows are tested inclusively with
// Contains; occupancy windows are compared half-open with Overlaps.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether start <= t <= end.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Overlaps reports whether [w.Start, w.End) and [o.Start, o.End) intersect.
// Windows sharing a start instant always overlap, so a zero-length window
// still overlaps itself.
func (w Window) Overlaps(o Window) bool {
	if w.Start.Equal(o.Start) {
		return true
	}
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

// SessionDuration converts a minute count into a duration, falling back to
// DefaultSessionDuration when the count is not positive.
func SessionDuration(minutes int) time.Duration {
	if minutes <= 0 {
		return DefaultSessionDuration
	}
	return time.Duration(minutes) * time.Minute
}

// CheckInWindow returns the range during which attendance may be recorded for
// a session starting at start.
func CheckInWindow(start time.Time, off Offsets) Window {
	return Window{Start: start.Add(-off.OpensBefore), End: start.Add(off.ClosesAfter)}
}

// OccupancyWindow returns the range a student is busy attending a session.
func OccupancyWindow(start time.Time, durationMinutes int) Window {
	return Window{Start: start, End: start.Add(SessionDuration(durationMinutes))}
}
