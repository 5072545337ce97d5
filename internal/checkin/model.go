package checkin

import "time"

// SessionStatus tracks a scheduled lesson through its lifecycle.
type SessionStatus string

const (
	SessionScheduled SessionStatus = "scheduled"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
)

// Session is one scheduled occurrence of a turma meeting.
type Session struct {
	ID              string        `json:"id"`
	TurmaID         string        `json:"turma_id"`
	Title           string        `json:"title"`
	StartsAt        time.Time     `json:"starts_at"`
	DurationMinutes int           `json:"duration_minutes"`
	Status          SessionStatus `json:"status"`
}

// CheckInWindow returns when attendance may be recorded for the session.
func (s Session) CheckInWindow(off Offsets) Window {
	return CheckInWindow(s.StartsAt, off)
}

// Occupancy returns the half-open range the session keeps a student busy.
func (s Session) Occupancy() Window {
	return OccupancyWindow(s.StartsAt, s.DurationMinutes)
}

// SubscriptionStatus mirrors the billing entitlement state.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionSuspended SubscriptionStatus = "suspended"
)

// Subscription is a student's paid access to a plan.
type Subscription struct {
	ID        string             `json:"id"`
	StudentID string             `json:"student_id"`
	PlanID    string             `json:"plan_id"`
	Status    SubscriptionStatus `json:"status"`
	StartDate time.Time          `json:"start_date"`
	EndDate   *time.Time         `json:"end_date,omitempty"`
}

// Covers reports whether the subscription is active and valid at t.
// A missing end date means open-ended.
func (s Subscription) Covers(t time.Time) bool {
	if s.Status != SubscriptionActive {
		return false
	}
	if !s.StartDate.IsZero() && t.Before(s.StartDate) {
		return false
	}
	if s.EndDate != nil && t.After(*s.EndDate) {
		return false
	}
	return true
}

// Method is how the student identified at check-in.
type Method string

const (
	MethodManual    Method = "manual"
	MethodQRCode    Method = "qr_code"
	MethodBiometric Method = "biometric"
	MethodKiosk     Method = "kiosk"
)

// Valid reports whether m is a supported method.
func (m Method) Valid() bool {
	switch m {
	case MethodManual, MethodQRCode, MethodBiometric, MethodKiosk:
		return true
	default:
		return false
	}
}

// Status is the attendance outcome recorded for a session.
type Status string

const (
	StatusPresent   Status = "present"
	StatusLate      Status = "late"
	StatusAbsent    Status = "absent"
	StatusCancelled Status = "cancelled"
)

// Attended reports whether the status counts as being at the session.
func (s Status) Attended() bool {
	return s == StatusPresent || s == StatusLate
}

// holdsSeat reports whether a record with this status keeps the student busy
// for the session. Absent and cancelled records never do; an unset status is
// treated as attended.
func (s Status) holdsSeat() bool {
	return s != StatusAbsent && s != StatusCancelled
}

// LegacyAttendance is a row from the flat attendances table joined with its
// class. Class timing columns are nullable on old data.
type LegacyAttendance struct {
	ID          string
	StudentID   string
	ClassID     string
	CheckInTime *time.Time
	ClassStart  *time.Time
	ClassEnd    *time.Time
	Status      Status
}

// LessonAttendance is a row from turma_attendances joined with its lesson.
type LessonAttendance struct {
	ID              string
	StudentID       string
	LessonID        string
	MarkedAt        *time.Time
	ScheduledAt     *time.Time
	DurationMinutes *int
	Status          Status
}

// Source identifies which table an attendance window came from.
type Source string

const (
	SourceLegacy Source = "legacy"
	SourceLesson Source = "lesson"
)

// AttendanceWindow is the normalized shape the conflict detector compares.
type AttendanceWindow struct {
	RecordID  string
	SessionID string
	Source    Source
	Window    Window
}

// FromLegacy normalizes a legacy row. The second result is false when the
// row has no class start or is marked absent or cancelled.
func FromLegacy(a LegacyAttendance) (AttendanceWindow, bool) {
	if a.ClassStart == nil || a.ClassStart.IsZero() || !a.Status.holdsSeat() {
		return AttendanceWindow{}, false
	}
	w := OccupancyWindow(*a.ClassStart, 0)
	if a.ClassEnd != nil && a.ClassEnd.After(*a.ClassStart) {
		w.End = *a.ClassEnd
	}
	return AttendanceWindow{RecordID: a.ID, SessionID: a.ClassID, Source: SourceLegacy, Window: w}, true
}

// FromLesson normalizes a turma attendance row. The second result is false
// when the lesson has no scheduled date or the record is absent or cancelled.
func FromLesson(a LessonAttendance) (AttendanceWindow, bool) {
	if a.ScheduledAt == nil || a.ScheduledAt.IsZero() || !a.Status.holdsSeat() {
		return AttendanceWindow{}, false
	}
	minutes := 0
	if a.DurationMinutes != nil {
		minutes = *a.DurationMinutes
	}
	return AttendanceWindow{
		RecordID:  a.ID,
		SessionID: a.LessonID,
		Source:    SourceLesson,
		Window:    OccupancyWindow(*a.ScheduledAt, minutes),
	}, true
}

// Normalize merges both shapes, dropping rows without usable timing.
func Normalize(legacy []LegacyAttendance, lessons []LessonAttendance) []AttendanceWindow {
	out := make([]AttendanceWindow, 0, len(legacy)+len(lessons))
	for _, a := range legacy {
		if w, ok := FromLegacy(a); ok {
			out = append(out, w)
		}
	}
	for _, a := range lessons {
		if w, ok := FromLesson(a); ok {
			out = append(out, w)
		}
	}
	return out
}
