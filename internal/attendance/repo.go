package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"academy/internal/checkin"
	"academy/internal/pattern"
)

// ErrWriteConflict is returned when the storage layer refuses a duplicate
// attendance, typically a concurrent check-in that won the race.
var ErrWriteConflict = errors.New("attendance already recorded")

const pgUniqueViolation = "23505"

// Repository persists academy data in Postgres. An empty organization id
// disables tenant filtering.
type Repository struct {
	db    *sql.DB
	orgID string
}

// NewRepository creates a repo scoped to one organization.
func NewRepository(db *sql.DB, orgID string) *Repository {
	return &Repository{db: db, orgID: orgID}
}

// ActiveSubscriptions returns the student's subscriptions in active status.
func (r *Repository) ActiveSubscriptions(ctx context.Context, studentID string) ([]checkin.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, student_id, plan_id, status, start_date, end_date
		FROM student_subscriptions
		WHERE student_id = $1 AND status = 'active' AND is_active
		  AND ($2::text = '' OR organization_id::text = $2)
	`, studentID, r.orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subs []checkin.Subscription
	for rows.Next() {
		var s checkin.Subscription
		if err := rows.Scan(&s.ID, &s.StudentID, &s.PlanID, &s.Status, &s.StartDate, &s.EndDate); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

const sessionColumns = `l.id, l.turma_id, COALESCE(l.title, ''), l.scheduled_date, COALESCE(l.duration, 0), l.status`

func scanSession(row interface{ Scan(...any) error }) (checkin.Session, error) {
	var s checkin.Session
	err := row.Scan(&s.ID, &s.TurmaID, &s.Title, &s.StartsAt, &s.DurationMinutes, &s.Status)
	return s, err
}

// Session loads one turma lesson.
func (r *Repository) Session(ctx context.Context, sessionID string) (checkin.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM turma_lessons l
		JOIN turmas t ON t.id = l.turma_id
		WHERE l.id = $1 AND ($2::text = '' OR t.organization_id::text = $2)
	`, sessionID, r.orgID)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return checkin.Session{}, checkin.ErrSessionNotFound
	}
	return s, err
}

// SessionsForStudent returns lessons in the day for turmas the student is enrolled in.
func (r *Repository) SessionsForStudent(ctx context.Context, studentID string, day checkin.Window) ([]checkin.Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM turma_lessons l
		JOIN turmas t ON t.id = l.turma_id
		JOIN turma_students ts ON ts.turma_id = l.turma_id AND ts.student_id = $1 AND ts.is_active
		WHERE l.scheduled_date >= $2 AND l.scheduled_date < $3
		  AND ($4::text = '' OR t.organization_id::text = $4)
		ORDER BY l.scheduled_date
	`, studentID, day.Start, day.End, r.orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []checkin.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// LegacyAttendances reads the flat attendances table. Rows whose class has
// no start time are still returned and dropped by the normalizer.
func (r *Repository) LegacyAttendances(ctx context.Context, studentID string, day checkin.Window) ([]checkin.LegacyAttendance, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.id, a.student_id, a.class_id, a.check_in_time, c.start_time, c.end_time, a.status
		FROM attendances a
		LEFT JOIN classes c ON c.id = a.class_id
		WHERE a.student_id = $1
		  AND COALESCE(c.start_time, a.check_in_time) >= $2
		  AND COALESCE(c.start_time, a.check_in_time) < $3
	`, studentID, day.Start, day.End)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []checkin.LegacyAttendance
	for rows.Next() {
		var a checkin.LegacyAttendance
		var status sql.NullString
		if err := rows.Scan(&a.ID, &a.StudentID, &a.ClassID, &a.CheckInTime, &a.ClassStart, &a.ClassEnd, &status); err != nil {
			return nil, err
		}
		a.Status = parseStatus(status.String)
		out = append(out, a)
	}
	return out, rows.Err()
}

// parseStatus accepts both the upper-case enum of the old tables and the
// lower-case values written by this service.
func parseStatus(s string) checkin.Status {
	switch s {
	case "PRESENT", "present":
		return checkin.StatusPresent
	case "LATE", "late":
		return checkin.StatusLate
	case "ABSENT", "absent":
		return checkin.StatusAbsent
	case "CANCELLED", "cancelled", "EXCUSED":
		return checkin.StatusCancelled
	default:
		return checkin.StatusPresent
	}
}

// LessonAttendances reads turma_attendances joined with their lessons.
func (r *Repository) LessonAttendances(ctx context.Context, studentID string, day checkin.Window) ([]checkin.LessonAttendance, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ta.id, ta.student_id, ta.lesson_id, ta.marked_at, l.scheduled_date, l.duration, ta.status
		FROM turma_attendances ta
		LEFT JOIN turma_lessons l ON l.id = ta.lesson_id
		WHERE ta.student_id = $1
		  AND COALESCE(l.scheduled_date, ta.marked_at) >= $2
		  AND COALESCE(l.scheduled_date, ta.marked_at) < $3
	`, studentID, day.Start, day.End)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []checkin.LessonAttendance
	for rows.Next() {
		var a checkin.LessonAttendance
		var duration sql.NullInt32
		var status string
		if err := rows.Scan(&a.ID, &a.StudentID, &a.LessonID, &a.MarkedAt, &a.ScheduledAt, &duration, &status); err != nil {
			return nil, err
		}
		a.Status = parseStatus(status)
		if duration.Valid {
			d := int(duration.Int32)
			a.DurationMinutes = &d
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// InsertAttendance writes a new turma attendance. The (lesson_id, student_id)
// unique constraint turns a lost race into ErrWriteConflict.
func (r *Repository) InsertAttendance(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO turma_attendances (id, turma_id, lesson_id, student_id, status, method, kiosk_id, marked_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)
		RETURNING created_at
	`, rec.ID, rec.TurmaID, rec.SessionID, rec.StudentID, rec.Status, rec.Method, rec.KioskID, rec.CheckedInAt)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return Record{}, ErrWriteConflict
		}
		return Record{}, err
	}
	return rec, nil
}

// ListAttendance returns a student's turma attendance, newest first.
func (r *Repository) ListAttendance(ctx context.Context, studentID string, limit, offset int) ([]Record, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT ta.id, ta.turma_id, ta.lesson_id, ta.student_id, ta.status, COALESCE(ta.method, ''),
		       COALESCE(ta.kiosk_id, ''), ta.marked_at, ta.created_at
		FROM turma_attendances ta
		WHERE ta.student_id = $1
		ORDER BY ta.marked_at DESC
		LIMIT $2 OFFSET $3
	`, studentID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.TurmaID, &rec.SessionID, &rec.StudentID, &rec.Status, &rec.Method,
			&rec.KioskID, &rec.CheckedInAt, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecentOutcomes returns up to n attendance outcomes across both tables, newest first.
func (r *Repository) RecentOutcomes(ctx context.Context, studentID string, n int) ([]pattern.Outcome, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, checked_at FROM (
			SELECT ta.status AS status, ta.marked_at AS checked_at,
			       COALESCE(l.scheduled_date, ta.marked_at) AS happened_at
			FROM turma_attendances ta
			LEFT JOIN turma_lessons l ON l.id = ta.lesson_id
			WHERE ta.student_id = $1 AND ta.status <> 'cancelled'
			UNION ALL
			SELECT COALESCE(a.status, 'PRESENT'), a.check_in_time, COALESCE(c.start_time, a.check_in_time)
			FROM attendances a
			LEFT JOIN classes c ON c.id = a.class_id
			WHERE a.student_id = $1
		) h
		WHERE happened_at IS NOT NULL
		ORDER BY happened_at DESC
		LIMIT $2
	`, studentID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []pattern.Outcome
	for rows.Next() {
		var status string
		var o pattern.Outcome
		if err := rows.Scan(&status, &o.CheckedInAt); err != nil {
			return nil, err
		}
		o.Status = parseStatus(status)
		out = append(out, o)
	}
	return out, rows.Err()
}

// StudentsActiveSince lists students with any turma attendance after since.
func (r *Repository) StudentsActiveSince(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT student_id FROM turma_attendances WHERE marked_at >= $1
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpsertPattern stores a computed attendance pattern.
func (r *Repository) UpsertPattern(ctx context.Context, p pattern.Pattern) error {
	days := make([]int32, len(p.PreferredDays))
	for i, d := range p.PreferredDays {
		days[i] = int32(d)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_patterns (student_id, total_classes, attended_classes, attendance_rate,
			consecutive_absences, preferred_days, average_check_in_time, recent_trend, last_calculated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (student_id) DO UPDATE SET
			total_classes = EXCLUDED.total_classes,
			attended_classes = EXCLUDED.attended_classes,
			attendance_rate = EXCLUDED.attendance_rate,
			consecutive_absences = EXCLUDED.consecutive_absences,
			preferred_days = EXCLUDED.preferred_days,
			average_check_in_time = EXCLUDED.average_check_in_time,
			recent_trend = EXCLUDED.recent_trend,
			last_calculated = EXCLUDED.last_calculated
	`, p.StudentID, p.TotalClasses, p.AttendedClasses, p.AttendanceRate, p.ConsecutiveAbsences,
		days, p.AverageCheckInTime, p.RecentTrend, p.CalculatedAt)
	return err
}

// GetPattern returns the stored pattern or nil when none was computed yet.
func (r *Repository) GetPattern(ctx context.Context, studentID string) (*pattern.Pattern, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT student_id, total_classes, attended_classes, attendance_rate, consecutive_absences,
		       preferred_days, average_check_in_time, recent_trend, last_calculated
		FROM attendance_patterns WHERE student_id = $1
	`, studentID)
	var p pattern.Pattern
	var days []int32
	if err := row.Scan(&p.StudentID, &p.TotalClasses, &p.AttendedClasses, &p.AttendanceRate,
		&p.ConsecutiveAbsences, pgtype.NewMap().SQLScanner(&days), &p.AverageCheckInTime, &p.RecentTrend, &p.CalculatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get pattern: %w", err)
	}
	for _, d := range days {
		p.PreferredDays = append(p.PreferredDays, time.Weekday(d))
	}
	return &p, nil
}

// UpsertKiosk ensures a kiosk record exists.
func (r *Repository) UpsertKiosk(ctx context.Context, kioskID string) error {
	if kioskID == "" {
		return errors.New("kiosk id required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO kiosks (kiosk_id, organization_id)
		VALUES ($1, NULLIF($2, ''))
		ON CONFLICT (kiosk_id) DO NOTHING
	`, kioskID, r.orgID)
	return err
}

// RevokeRefreshToken marks a live token revoked and reports whether it was
// live. Expired, unknown and already revoked tokens return false.
func (r *Repository) RevokeRefreshToken(ctx context.Context, kioskID, token string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked = TRUE
		WHERE kiosk_id = $1 AND token = $2 AND NOT revoked AND expires_at > NOW()
	`, kioskID, token)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// SaveRefreshToken stores a kiosk refresh token for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, kioskID, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (kiosk_id, token, expires_at)
		VALUES ($1, $2, $3)
	`, kioskID, token, expiresAt)
	return err
}
