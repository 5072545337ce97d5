// Package pattern summarizes a student's recent attendance history.
package pattern

import (
	"fmt"
	"sort"
	"time"

	"academy/internal/checkin"
)

const (
	// HistorySize is how many recent outcomes feed a pattern.
	HistorySize = 50
	recentSize  = 10
	trendDelta  = 10.0
)

// Trend compares recent attendance with the long-run rate.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
)

// Outcome is one attendance result, most recent first when passed to Compute.
type Outcome struct {
	Status      checkin.Status
	CheckedInAt *time.Time
}

// Pattern is the derived summary stored per student.
type Pattern struct {
	StudentID           string         `json:"student_id"`
	TotalClasses        int            `json:"total_classes"`
	AttendedClasses     int            `json:"attended_classes"`
	AttendanceRate      float64        `json:"attendance_rate"`
	ConsecutiveAbsences int            `json:"consecutive_absences"`
	PreferredDays       []time.Weekday `json:"preferred_days"`
	AverageCheckInTime  string         `json:"average_check_in_time"`
	RecentTrend         Trend          `json:"recent_trend"`
	CalculatedAt        time.Time      `json:"calculated_at"`
}

// Compute builds a pattern from outcomes ordered most recent first.
func Compute(studentID string, outcomes []Outcome, now time.Time) Pattern {
	if len(outcomes) > HistorySize {
		outcomes = outcomes[:HistorySize]
	}
	p := Pattern{StudentID: studentID, TotalClasses: len(outcomes), RecentTrend: TrendStable, CalculatedAt: now}

	for _, o := range outcomes {
		if o.Status.Attended() {
			p.AttendedClasses++
		}
	}
	p.AttendanceRate = rate(p.AttendedClasses, p.TotalClasses)

	for _, o := range outcomes {
		if o.Status != checkin.StatusAbsent {
			break
		}
		p.ConsecutiveAbsences++
	}

	p.PreferredDays = preferredDays(outcomes)
	p.AverageCheckInTime = averageClock(outcomes)

	recent := outcomes
	if len(recent) > recentSize {
		recent = recent[:recentSize]
	}
	if len(recent) > 0 {
		present := 0
		for _, o := range recent {
			if o.Status != checkin.StatusAbsent {
				present++
			}
		}
		r := rate(present, len(recent))
		switch {
		case r > p.AttendanceRate+trendDelta:
			p.RecentTrend = TrendImproving
		case r < p.AttendanceRate-trendDelta:
			p.RecentTrend = TrendDeclining
		}
	}
	return p
}

func rate(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

// preferredDays returns up to three weekdays by check-in frequency; ties go
// to the earlier weekday.
func preferredDays(outcomes []Outcome) []time.Weekday {
	var freq [7]int
	for _, o := range outcomes {
		if o.CheckedInAt != nil {
			freq[o.CheckedInAt.Weekday()]++
		}
	}
	days := make([]time.Weekday, 0, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		if freq[d] > 0 {
			days = append(days, d)
		}
	}
	sort.SliceStable(days, func(i, j int) bool { return freq[days[i]] > freq[days[j]] })
	if len(days) > 3 {
		days = days[:3]
	}
	return days
}

func averageClock(outcomes []Outcome) string {
	total, n := 0, 0
	for _, o := range outcomes {
		if o.CheckedInAt == nil {
			continue
		}
		total += o.CheckedInAt.Hour()*60 + o.CheckedInAt.Minute()
		n++
	}
	if n == 0 {
		return ""
	}
	avg := int(float64(total)/float64(n) + 0.5)
	return fmt.Sprintf("%02d:%02d", avg/60, avg%60)
}
