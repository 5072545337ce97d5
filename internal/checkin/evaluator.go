package checkin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// SubscriptionSource loads a student's subscriptions.
type SubscriptionSource interface {
	ActiveSubscriptions(ctx context.Context, studentID string) ([]Subscription, error)
}

// SessionSource loads a scheduled session. Implementations return
// ErrSessionNotFound when the id is unknown.
type SessionSource interface {
	Session(ctx context.Context, sessionID string) (Session, error)
}

// AttendanceSource loads a student's attendance for a calendar day from both
// historical tables.
type AttendanceSource interface {
	LegacyAttendances(ctx context.Context, studentID string, day Window) ([]LegacyAttendance, error)
	LessonAttendances(ctx context.Context, studentID string, day Window) ([]LessonAttendance, error)
}

// Decision is the outcome of an accepted check-in attempt.
type Decision struct {
	StudentID string
	Session   Session
	Window    Window
	Status    Status
	At        time.Time
}

// Evaluator decides whether a student may check in to a session.
type Evaluator struct {
	subs       SubscriptionSource
	sessions   SessionSource
	attendance AttendanceSource
	offsets    Offsets
}

// NewEvaluator wires the evaluator to its data sources.
func NewEvaluator(subs SubscriptionSource, sessions SessionSource, attendance AttendanceSource, offsets Offsets) *Evaluator {
	return &Evaluator{subs: subs, sessions: sessions, attendance: attendance, offsets: offsets}
}

// Offsets returns the configured check-in offsets.
func (e *Evaluator) Offsets() Offsets { return e.offsets }

// Evaluate checks subscription, window and conflicts in that order. Domain
// refusals are returned as *Rejection; anything else is a data-access error.
func (e *Evaluator) Evaluate(ctx context.Context, studentID, sessionID string, now time.Time) (Decision, error) {
	if studentID == "" || sessionID == "" {
		return Decision{}, errors.New("student and session required")
	}

	subs, err := e.subs.ActiveSubscriptions(ctx, studentID)
	if err != nil {
		return Decision{}, fmt.Errorf("load subscriptions: %w", err)
	}
	if !anyCovers(subs, now) {
		return Decision{}, reject(ErrNotEligible, "no active subscription")
	}

	session, err := e.sessions.Session(ctx, sessionID)
	if err != nil {
		return Decision{}, err
	}
	win := session.CheckInWindow(e.offsets)
	if err := checkWindow(session, win, now); err != nil {
		return Decision{}, err
	}

	existing, err := e.todaysAttendance(ctx, studentID, now)
	if err != nil {
		return Decision{}, err
	}
	if err := DetectConflict(session, existing); err != nil {
		return Decision{}, err
	}

	status := StatusPresent
	if now.After(session.StartsAt) {
		status = StatusLate
	}
	return Decision{StudentID: studentID, Session: session, Window: win, Status: status, At: now}, nil
}

func (e *Evaluator) todaysAttendance(ctx context.Context, studentID string, now time.Time) ([]AttendanceWindow, error) {
	day := DayOf(now)
	var (
		legacy  []LegacyAttendance
		lessons []LessonAttendance
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		legacy, err = e.attendance.LegacyAttendances(gctx, studentID, day)
		if err != nil {
			return fmt.Errorf("load legacy attendance: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		lessons, err = e.attendance.LessonAttendances(gctx, studentID, day)
		if err != nil {
			return fmt.Errorf("load lesson attendance: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return Normalize(legacy, lessons), nil
}

func checkWindow(s Session, win Window, now time.Time) error {
	switch s.Status {
	case SessionCancelled:
		return reject(ErrWindowClosed, "session was cancelled")
	case SessionCompleted:
		return reject(ErrWindowClosed, "session already completed")
	}
	if now.Before(win.Start) {
		return reject(ErrWindowClosed, "check-in opens at "+win.Start.Format("15:04"))
	}
	if now.After(win.End) {
		return reject(ErrWindowClosed, "check-in closed at "+win.End.Format("15:04"))
	}
	return nil
}

func anyCovers(subs []Subscription, now time.Time) bool {
	for _, s := range subs {
		if s.Covers(now) {
			return true
		}
	}
	return false
}

// DayOf returns the calendar day containing t, in t's location, as [midnight, next midnight).
func DayOf(t time.Time) Window {
	y, m, d := t.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	return Window{Start: start, End: start.AddDate(0, 0, 1)}
}
