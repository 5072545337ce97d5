package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"academy/internal/checkin"
	"academy/internal/faceclient"
	"academy/internal/metrics"
	"academy/internal/pattern"
	"academy/internal/queue"
)

var (
	// ErrBiometricMismatch means the check-in photo did not match the student.
	ErrBiometricMismatch = errors.New("biometric verification failed")
	ErrInvalidRequest    = errors.New("invalid check-in request")
	// ErrRefreshRevoked means a refresh token was unknown, expired or already used.
	ErrRefreshRevoked = errors.New("refresh token revoked")
)

// Record is one persisted check-in.
type Record struct {
	ID          string         `json:"id"`
	TurmaID     string         `json:"turma_id"`
	SessionID   string         `json:"session_id"`
	StudentID   string         `json:"student_id"`
	Status      checkin.Status `json:"status"`
	Method      checkin.Method `json:"method"`
	KioskID     string         `json:"kiosk_id,omitempty"`
	CheckedInAt time.Time      `json:"checked_in_at"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Request is a check-in attempt.
type Request struct {
	StudentID string
	SessionID string
	Method    checkin.Method
	ImageURL  string
	KioskID   string
}

// Store is the persistence the service needs beyond the evaluator's sources.
type Store interface {
	InsertAttendance(ctx context.Context, rec Record) (Record, error)
	ListAttendance(ctx context.Context, studentID string, limit, offset int) ([]Record, error)
	SessionsForStudent(ctx context.Context, studentID string, day checkin.Window) ([]checkin.Session, error)
	LessonAttendances(ctx context.Context, studentID string, day checkin.Window) ([]checkin.LessonAttendance, error)
	GetPattern(ctx context.Context, studentID string) (*pattern.Pattern, error)
	UpsertKiosk(ctx context.Context, kioskID string) error
	SaveRefreshToken(ctx context.Context, kioskID, token string, expiresAt time.Time) error
	RevokeRefreshToken(ctx context.Context, kioskID, token string) (bool, error)
}

// FaceVerifier matches a photo against a student's enrolled face.
type FaceVerifier interface {
	Verify(ctx context.Context, studentID, imageURL string) (*faceclient.VerifyResult, error)
}

// SubscriptionCache drops memoized subscriptions for a student.
type SubscriptionCache interface {
	Invalidate(ctx context.Context, studentID string) error
}

// Service runs check-ins: eligibility, persistence and follow-up work.
type Service struct {
	store     Store
	evaluator *checkin.Evaluator
	face      FaceVerifier
	jobs      queue.Publisher
	metrics   *metrics.Recorder
	subs      SubscriptionCache
	loc       *time.Location
	now       func() time.Time
}

// NewService wires the service. face, jobs and rec may be nil.
func NewService(store Store, evaluator *checkin.Evaluator, face FaceVerifier, jobs queue.Publisher, rec *metrics.Recorder, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		store:     store,
		evaluator: evaluator,
		face:      face,
		jobs:      jobs,
		metrics:   rec,
		loc:       loc,
		now:       time.Now,
	}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithSubscriptionCache retries a NotEligible decision once after dropping
// the student's cached subscriptions.
func (s *Service) WithSubscriptionCache(c SubscriptionCache) *Service {
	s.subs = c
	return s
}

func (s *Service) clock() time.Time { return s.now().In(s.loc) }

// CheckIn evaluates and records an attendance. Rejections are returned as
// *checkin.Rejection; a lost insert race surfaces as ErrWriteConflict.
func (s *Service) CheckIn(ctx context.Context, req Request) (Record, error) {
	if req.StudentID == "" || req.SessionID == "" {
		return Record{}, fmt.Errorf("%w: student and session required", ErrInvalidRequest)
	}
	if req.Method == "" {
		req.Method = checkin.MethodManual
	}
	if !req.Method.Valid() {
		return Record{}, fmt.Errorf("%w: unsupported method %q", ErrInvalidRequest, req.Method)
	}
	if req.Method == checkin.MethodBiometric && req.ImageURL == "" {
		return Record{}, fmt.Errorf("%w: image url required for biometric check-in", ErrInvalidRequest)
	}

	now := s.clock()
	decision, err := s.evaluate(ctx, req, now)
	s.metrics.ObserveDecision(err, s.clock().Sub(now))
	if err != nil {
		return Record{}, err
	}
	if req.Method == checkin.MethodBiometric {
		if err := s.verifyFace(ctx, req); err != nil {
			return Record{}, err
		}
	}

	rec, err := s.store.InsertAttendance(ctx, Record{
		TurmaID:     decision.Session.TurmaID,
		SessionID:   decision.Session.ID,
		StudentID:   req.StudentID,
		Status:      decision.Status,
		Method:      req.Method,
		KioskID:     req.KioskID,
		CheckedInAt: now,
	})
	if err != nil {
		return Record{}, err
	}
	log.Printf("student %s checked in to session %s (%s, %s)", rec.StudentID, rec.SessionID, rec.Status, rec.Method)

	if s.jobs != nil {
		msg := queue.Message{Kind: queue.KindPatternRefresh, StudentID: rec.StudentID, At: now}
		if err := s.jobs.Publish(ctx, msg); err != nil {
			log.Printf("queue publish failed for %s: %v", rec.StudentID, err)
		}
	}
	return rec, nil
}

func (s *Service) evaluate(ctx context.Context, req Request, now time.Time) (checkin.Decision, error) {
	decision, err := s.evaluator.Evaluate(ctx, req.StudentID, req.SessionID, now)
	if s.subs == nil || !errors.Is(err, checkin.ErrNotEligible) {
		return decision, err
	}
	if ierr := s.subs.Invalidate(ctx, req.StudentID); ierr != nil {
		log.Printf("subscription cache invalidate %s: %v", req.StudentID, ierr)
		return decision, err
	}
	return s.evaluator.Evaluate(ctx, req.StudentID, req.SessionID, now)
}

func (s *Service) verifyFace(ctx context.Context, req Request) error {
	if s.face == nil {
		return errors.New("biometric check-in not configured")
	}
	res, err := s.face.Verify(ctx, req.StudentID, req.ImageURL)
	if err != nil {
		return fmt.Errorf("face verification: %w", err)
	}
	if !res.Verified {
		return ErrBiometricMismatch
	}
	return nil
}

// TodaySessions lists the student's sessions for the current day with their check-in state.
func (s *Service) TodaySessions(ctx context.Context, studentID string) ([]checkin.SessionAvailability, error) {
	now := s.clock()
	day := checkin.DayOf(now)
	sessions, err := s.store.SessionsForStudent(ctx, studentID, day)
	if err != nil {
		return nil, err
	}
	attended, err := s.store.LessonAttendances(ctx, studentID, day)
	if err != nil {
		return nil, err
	}
	checkedIn := make(map[string]bool, len(attended))
	for _, a := range attended {
		if a.Status != checkin.StatusCancelled && a.Status != checkin.StatusAbsent {
			checkedIn[a.LessonID] = true
		}
	}
	return checkin.ListAvailability(sessions, checkedIn, now, s.evaluator.Offsets()), nil
}

// History returns a page of the student's attendance.
func (s *Service) History(ctx context.Context, studentID string, limit, offset int) ([]Record, error) {
	return s.store.ListAttendance(ctx, studentID, limit, offset)
}

// Pattern returns the last computed attendance pattern, or nil.
func (s *Service) Pattern(ctx context.Context, studentID string) (*pattern.Pattern, error) {
	return s.store.GetPattern(ctx, studentID)
}

// RegisterKiosk validates and persists kiosk metadata.
func (s *Service) RegisterKiosk(ctx context.Context, kioskID string) error {
	if kioskID == "" {
		return errors.New("kiosk id required")
	}
	return s.store.UpsertKiosk(ctx, kioskID)
}

// SaveRefreshToken records an issued kiosk refresh token.
func (s *Service) SaveRefreshToken(ctx context.Context, kioskID, token string, expiresAt time.Time) error {
	return s.store.SaveRefreshToken(ctx, kioskID, token, expiresAt)
}

// ConsumeRefreshToken revokes a live refresh token so it can be exchanged
// exactly once.
func (s *Service) ConsumeRefreshToken(ctx context.Context, kioskID, token string) error {
	ok, err := s.store.RevokeRefreshToken(ctx, kioskID, token)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRefreshRevoked
	}
	return nil
}
