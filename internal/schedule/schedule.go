package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDuplicateWeekday = errors.New("more than one schedule entry for the same weekday")
	ErrInvalidHours     = errors.New("invalid clinic hours")
)

// ClinicHours is one weekday's open/close range for a practitioner.
// Times are practitioner-local wall clock, "HH:MM".
type ClinicHours struct {
	ID             uuid.UUID
	PractitionerID uuid.UUID
	Weekday        time.Weekday
	OpenTime       string
	CloseTime      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ValidateWeek rejects duplicate weekdays and ranges that are malformed or
// empty. Duplicates are caught here, at schedule-write time, so the resolver
// never has to guess which of two entries wins.
func ValidateWeek(entries []ClinicHours) error {
	seen := make(map[time.Weekday]bool, len(entries))
	for _, e := range entries {
		if seen[e.Weekday] {
			return fmt.Errorf("%w: %s", ErrDuplicateWeekday, e.Weekday)
		}
		seen[e.Weekday] = true

		open, err := parseClock(e.OpenTime)
		if err != nil {
			return fmt.Errorf("%w: open_time %q: %v", ErrInvalidHours, e.OpenTime, err)
		}
		close, err := parseClock(e.CloseTime)
		if err != nil {
			return fmt.Errorf("%w: close_time %q: %v", ErrInvalidHours, e.CloseTime, err)
		}
		if open >= close {
			return fmt.Errorf("%w: %s opens at %s but closes at %s", ErrInvalidHours, e.Weekday, e.OpenTime, e.CloseTime)
		}
	}
	return nil
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

func formatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
