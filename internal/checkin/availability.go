package checkin

import (
	"sort"
	"time"
)

// Availability labels a session from one student's point of view.
type Availability string

const (
	Available Availability = "available"
	CheckedIn Availability = "checked_in"
	NotYet    Availability = "not_yet"
	Expired   Availability = "expired"
)

// SessionAvailability is one row of the kiosk session list.
type SessionAvailability struct {
	Session    Session      `json:"session"`
	OpensAt    time.Time    `json:"opens_at"`
	ClosesAt   time.Time    `json:"closes_at"`
	EndsAt     time.Time    `json:"ends_at"`
	State      Availability `json:"state"`
	CanCheckIn bool         `json:"can_check_in"`
}

// ListAvailability labels sessions for a student at now. checkedIn holds the
// ids of sessions the student already attends. Results are ordered by start.
func ListAvailability(sessions []Session, checkedIn map[string]bool, now time.Time, off Offsets) []SessionAvailability {
	out := make([]SessionAvailability, 0, len(sessions))
	for _, s := range sessions {
		win := s.CheckInWindow(off)
		a := SessionAvailability{
			Session:  s,
			OpensAt:  win.Start,
			ClosesAt: win.End,
			EndsAt:   s.Occupancy().End,
		}
		switch {
		case checkedIn[s.ID]:
			a.State = CheckedIn
		case s.Status == SessionCancelled || s.Status == SessionCompleted:
			a.State = Expired
		case now.Before(win.Start):
			a.State = NotYet
		case win.Contains(now):
			a.State = Available
			a.CanCheckIn = true
		default:
			a.State = Expired
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Session.StartsAt.Before(out[j].Session.StartsAt)
	})
	return out
}
