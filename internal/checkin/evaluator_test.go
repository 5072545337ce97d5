package checkin

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSubs struct {
	subs []Subscription
	err  error
}

func (f fakeSubs) ActiveSubscriptions(context.Context, string) ([]Subscription, error) {
	return f.subs, f.err
}

type fakeSessions map[string]Session

func (f fakeSessions) Session(_ context.Context, id string) (Session, error) {
	s, ok := f[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

type fakeAttendance struct {
	legacy    []LegacyAttendance
	lessons   []LessonAttendance
	legacyErr error
	calls     atomic.Int32
}

func (f *fakeAttendance) LegacyAttendances(context.Context, string, Window) ([]LegacyAttendance, error) {
	f.calls.Add(1)
	return f.legacy, f.legacyErr
}

func (f *fakeAttendance) LessonAttendances(context.Context, string, Window) ([]LessonAttendance, error) {
	f.calls.Add(1)
	return f.lessons, nil
}

func activeSub() Subscription {
	return Subscription{ID: "sub-1", StudentID: "stu-1", Status: SubscriptionActive, StartDate: at(0, 0).AddDate(0, -1, 0)}
}

func newTestEvaluator(subs []Subscription, att *fakeAttendance) *Evaluator {
	sessions := fakeSessions{
		"lesson-10": {ID: "lesson-10", StartsAt: at(10, 0), DurationMinutes: 60, Status: SessionScheduled},
		"lesson-cx": {ID: "lesson-cx", StartsAt: at(10, 0), DurationMinutes: 60, Status: SessionCancelled},
	}
	return NewEvaluator(fakeSubs{subs: subs}, sessions, att, DefaultOffsets())
}

func TestEvaluate_NoActiveSubscription_NotEligible(t *testing.T) {
	expired := activeSub()
	expired.Status = SubscriptionExpired
	att := &fakeAttendance{lessons: []LessonAttendance{lessonRow("a", "other", at(10, 0), 60)}}

	for _, now := range []time.Time{at(10, 0), at(3, 0), at(22, 0)} {
		_, err := newTestEvaluator([]Subscription{expired}, att).Evaluate(context.Background(), "stu-1", "lesson-10", now)
		if !errors.Is(err, ErrNotEligible) {
			t.Fatalf("at %s: expected ErrNotEligible, got %v", now.Format("15:04"), err)
		}
	}
	if att.calls.Load() != 0 {
		t.Errorf("attendance must not be loaded for ineligible students, got %d calls", att.calls.Load())
	}
}

func TestEvaluate_SubscriptionOutsideValidity_NotEligible(t *testing.T) {
	sub := activeSub()
	sub.EndDate = ptr(at(0, 0).Add(-time.Hour))

	_, err := newTestEvaluator([]Subscription{sub}, &fakeAttendance{}).Evaluate(context.Background(), "stu-1", "lesson-10", at(10, 0))
	if !errors.Is(err, ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible, got %v", err)
	}
}

func TestEvaluate_WindowBoundaries(t *testing.T) {
	ev := newTestEvaluator([]Subscription{activeSub()}, &fakeAttendance{})

	if _, err := ev.Evaluate(context.Background(), "stu-1", "lesson-10", at(9, 30)); err != nil {
		t.Fatalf("check-in exactly at open must pass, got %v", err)
	}
	_, err := ev.Evaluate(context.Background(), "stu-1", "lesson-10", at(9, 30).Add(-time.Second))
	if !errors.Is(err, ErrWindowClosed) {
		t.Fatalf("expected ErrWindowClosed one second before open, got %v", err)
	}
	_, err = ev.Evaluate(context.Background(), "stu-1", "lesson-10", at(10, 15).Add(time.Second))
	if !errors.Is(err, ErrWindowClosed) {
		t.Fatalf("expected ErrWindowClosed after close, got %v", err)
	}
}

func TestEvaluate_CancelledSession_WindowClosed(t *testing.T) {
	_, err := newTestEvaluator([]Subscription{activeSub()}, &fakeAttendance{}).Evaluate(context.Background(), "stu-1", "lesson-cx", at(10, 0))
	if !errors.Is(err, ErrWindowClosed) {
		t.Fatalf("expected ErrWindowClosed, got %v", err)
	}
}

func TestEvaluate_UnknownSession(t *testing.T) {
	_, err := newTestEvaluator([]Subscription{activeSub()}, &fakeAttendance{}).Evaluate(context.Background(), "stu-1", "nope", at(10, 0))
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestEvaluate_Conflict(t *testing.T) {
	att := &fakeAttendance{lessons: []LessonAttendance{lessonRow("a", "early", at(9, 30), 60)}}

	_, err := newTestEvaluator([]Subscription{activeSub()}, att).Evaluate(context.Background(), "stu-1", "lesson-10", at(9, 50))
	if !errors.Is(err, ErrScheduleConflict) {
		t.Fatalf("expected ErrScheduleConflict, got %v", err)
	}
	if att.calls.Load() != 2 {
		t.Errorf("expected both attendance shapes to be read, got %d calls", att.calls.Load())
	}
}

func TestEvaluate_AcceptedStatus(t *testing.T) {
	ev := newTestEvaluator([]Subscription{activeSub()}, &fakeAttendance{})

	d, err := ev.Evaluate(context.Background(), "stu-1", "lesson-10", at(9, 45))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Status != StatusPresent {
		t.Errorf("status before start = %s, want present", d.Status)
	}

	d, err = ev.Evaluate(context.Background(), "stu-1", "lesson-10", at(10, 5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Status != StatusLate {
		t.Errorf("status after start = %s, want late", d.Status)
	}
	if !d.Window.Start.Equal(at(9, 30)) || !d.Window.End.Equal(at(10, 15)) {
		t.Errorf("unexpected window %v", d.Window)
	}
}

func TestEvaluate_DataAccessErrorPropagates(t *testing.T) {
	boom := errors.New("connection refused")
	att := &fakeAttendance{legacyErr: boom}

	_, err := newTestEvaluator([]Subscription{activeSub()}, att).Evaluate(context.Background(), "stu-1", "lesson-10", at(10, 0))
	if !errors.Is(err, boom) {
		t.Fatalf("expected underlying error, got %v", err)
	}
	var rej *Rejection
	if errors.As(err, &rej) {
		t.Fatalf("infrastructure failure must not be a rejection: %v", err)
	}
}

func TestEvaluate_SubscriptionErrorPropagates(t *testing.T) {
	boom := errors.New("timeout")
	ev := NewEvaluator(fakeSubs{err: boom}, fakeSessions{}, &fakeAttendance{}, DefaultOffsets())

	_, err := ev.Evaluate(context.Background(), "stu-1", "lesson-10", at(10, 0))
	if !errors.Is(err, boom) {
		t.Fatalf("expected underlying error, got %v", err)
	}
}
