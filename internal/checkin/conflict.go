package checkin

import "fmt"

// FindConflict returns the first existing window that overlaps candidate.
func FindConflict(candidate Window, existing []AttendanceWindow) (AttendanceWindow, bool) {
	for _, e := range existing {
		if candidate.Overlaps(e.Window) {
			return e, true
		}
	}
	return AttendanceWindow{}, false
}

// DetectConflict rejects with ErrScheduleConflict when the student already
// holds an attendance that overlaps the target session.
func DetectConflict(target Session, existing []AttendanceWindow) error {
	for _, e := range existing {
		if e.Source == SourceLesson && e.SessionID == target.ID {
			return reject(ErrScheduleConflict, "already checked in to this session")
		}
	}
	c, ok := FindConflict(target.Occupancy(), existing)
	if !ok {
		return nil
	}
	return reject(ErrScheduleConflict, fmt.Sprintf(
		"already checked in to a session from %s to %s",
		c.Window.Start.Format("15:04"), c.Window.End.Format("15:04"),
	))
}
