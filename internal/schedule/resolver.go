package schedule

import "time"

// DefaultSlotWidth is the fixed consultation length. Every offered slot
// starts on a multiple of this width from the clinic's opening time.
const DefaultSlotWidth = 30 * time.Minute

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

// Slot is a derived candidate start time. Slots are never persisted; they are
// recomputed from clinic hours and the current appointment set on every read.
type Slot struct {
	Date  string    `json:"date"`
	Start string    `json:"start"`
	At    time.Time `json:"-"`
}

// ResolveSlots generates the candidate slots for one calendar date. It returns
// nil when the practitioner has no hours for that weekday, and treats an entry
// whose open time is not before its close time as closed rather than an error.
// A slot that would run past closing is not offered.
func ResolveSlots(week []ClinicHours, date time.Time, width time.Duration) []Slot {
	if width <= 0 {
		width = DefaultSlotWidth
	}

	var hours *ClinicHours
	for i := range week {
		if week[i].Weekday == date.Weekday() {
			hours = &week[i]
			break
		}
	}
	if hours == nil {
		return nil
	}

	open, err := parseClock(hours.OpenTime)
	if err != nil {
		return nil
	}
	close, err := parseClock(hours.CloseTime)
	if err != nil {
		return nil
	}
	if open >= close {
		return nil
	}

	step := int(width / time.Minute)
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)

	var slots []Slot
	for m := open; m+step <= close; m += step {
		slots = append(slots, Slot{
			Date:  day.Format(DateLayout),
			Start: formatClock(m),
			At:    day.Add(time.Duration(m) * time.Minute),
		})
	}
	return slots
}
