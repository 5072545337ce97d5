package checkin

import "errors"

var (
	// ErrNotEligible means the student holds no active subscription covering the check-in time.
	ErrNotEligible = errors.New("not eligible")
	// ErrWindowClosed means the session does not accept check-ins right now.
	ErrWindowClosed = errors.New("check-in window closed")
	// ErrScheduleConflict means the student already attends an overlapping session today.
	ErrScheduleConflict = errors.New("schedule conflict")

	ErrSessionNotFound = errors.New("session not found")
)

// Rejection is a user-facing refusal of a check-in attempt. It unwraps to one
// of ErrNotEligible, ErrWindowClosed or ErrScheduleConflict.
type Rejection struct {
	Kind    error
	Message string
}

func (r *Rejection) Error() string {
	if r.Message == "" {
		return r.Kind.Error()
	}
	return r.Kind.Error() + ": " + r.Message
}

func (r *Rejection) Unwrap() error { return r.Kind }

// Code is a stable identifier for API clients.
func (r *Rejection) Code() string {
	switch r.Kind {
	case ErrNotEligible:
		return "not_eligible"
	case ErrWindowClosed:
		return "window_closed"
	case ErrScheduleConflict:
		return "schedule_conflict"
	default:
		return "rejected"
	}
}

func reject(kind error, msg string) *Rejection {
	return &Rejection{Kind: kind, Message: msg}
}
