package schedule

import (
	"time"

	"github.com/google/uuid"
)

// Booking is the subset of an appointment the conflict detector needs. The
// caller converts its appointment records so this package stays free of the
// appointment model.
type Booking struct {
	AppointmentID uuid.UUID
	StartAt       time.Time
	Cancelled     bool
}

// FilterAvailable removes candidate slots whose start time is already taken
// by a non-cancelled booking on the same date. When excludeID is non-nil it
// names an appointment being rescheduled, whose own slot stays offerable.
//
// All appointments share one fixed width, so exact start-time equality is the
// whole overlap check. Pure: no state, identical inputs give identical output.
func FilterAvailable(candidates []Slot, existing []Booking, excludeID uuid.UUID) []Slot {
	if len(candidates) == 0 {
		return nil
	}

	date := candidates[0].Date

	taken := make(map[string]bool, len(existing))
	for _, b := range existing {
		if b.Cancelled {
			continue
		}
		if excludeID != uuid.Nil && b.AppointmentID == excludeID {
			continue
		}
		if b.StartAt.Format(DateLayout) != date {
			continue
		}
		taken[b.StartAt.Format(ClockLayout)] = true
	}

	free := make([]Slot, 0, len(candidates))
	for _, s := range candidates {
		if taken[s.Start] {
			continue
		}
		free = append(free, s)
	}
	return free
}
