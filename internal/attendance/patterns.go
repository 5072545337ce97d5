package attendance

import (
	"context"
	"time"

	"academy/internal/pattern"
	"academy/internal/queue"
)

// PatternStore is the persistence used to rebuild attendance patterns.
type PatternStore interface {
	RecentOutcomes(ctx context.Context, studentID string, n int) ([]pattern.Outcome, error)
	UpsertPattern(ctx context.Context, p pattern.Pattern) error
	StudentsActiveSince(ctx context.Context, since time.Time) ([]string, error)
}

// PatternRefresher recomputes stored attendance patterns.
type PatternRefresher struct {
	store PatternStore
	loc   *time.Location
	now   func() time.Time
}

// NewPatternRefresher creates a refresher. Weekdays and check-in times are
// read in loc, which defaults to UTC.
func NewPatternRefresher(store PatternStore, loc *time.Location) *PatternRefresher {
	if loc == nil {
		loc = time.UTC
	}
	return &PatternRefresher{store: store, loc: loc, now: time.Now}
}

// Refresh rebuilds and stores one student's pattern.
func (r *PatternRefresher) Refresh(ctx context.Context, studentID string) (pattern.Pattern, error) {
	outcomes, err := r.store.RecentOutcomes(ctx, studentID, pattern.HistorySize)
	if err != nil {
		return pattern.Pattern{}, err
	}
	local := make([]pattern.Outcome, len(outcomes))
	for i, o := range outcomes {
		local[i] = o
		if o.CheckedInAt != nil {
			t := o.CheckedInAt.In(r.loc)
			local[i].CheckedInAt = &t
		}
	}
	p := pattern.Compute(studentID, local, r.now().UTC())
	return p, r.store.UpsertPattern(ctx, p)
}

// EnqueueActive publishes a refresh for every student seen within lookback
// and returns how many were queued.
func (r *PatternRefresher) EnqueueActive(ctx context.Context, jobs queue.Publisher, lookback time.Duration) (int, error) {
	now := r.now().UTC()
	ids, err := r.store.StudentsActiveSince(ctx, now.Add(-lookback))
	if err != nil {
		return 0, err
	}
	for i, id := range ids {
		if err := jobs.Publish(ctx, queue.Message{Kind: queue.KindPatternRefresh, StudentID: id, At: now}); err != nil {
			return i, err
		}
	}
	return len(ids), nil
}
