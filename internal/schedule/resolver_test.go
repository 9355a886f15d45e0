package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mondayWeek is a schedule with a single Monday 09:00-12:00 entry.
func mondayWeek() []ClinicHours {
	return []ClinicHours{
		{Weekday: time.Monday, OpenTime: "09:00", CloseTime: "12:00"},
	}
}

// aMonday is 2025-06-02, which falls on a Monday.
var aMonday = time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

func TestResolveSlots_MondayMorning(t *testing.T) {
	slots := ResolveSlots(mondayWeek(), aMonday, DefaultSlotWidth)

	want := []string{"09:00", "09:30", "10:00", "10:30", "11:00", "11:30"}
	require.Len(t, slots, len(want))
	for i, s := range slots {
		assert.Equal(t, want[i], s.Start, "slot[%d]", i)
		assert.Equal(t, "2025-06-02", s.Date, "slot[%d]", i)
	}
}

func TestResolveSlots_ExcludesSlotEndingPastClose(t *testing.T) {
	week := []ClinicHours{
		{Weekday: time.Monday, OpenTime: "09:00", CloseTime: "09:45"},
	}
	slots := ResolveSlots(week, aMonday, DefaultSlotWidth)
	require.Len(t, slots, 1, "only the 09:00 slot fits before closing")
	assert.Equal(t, "09:00", slots[0].Start)
}

func TestResolveSlots_ClosedWeekday(t *testing.T) {
	tuesday := aMonday.AddDate(0, 0, 1)
	assert.Nil(t, ResolveSlots(mondayWeek(), tuesday, DefaultSlotWidth))
}

func TestResolveSlots_MalformedHoursTreatedAsClosed(t *testing.T) {
	cases := []struct {
		name  string
		open  string
		close string
	}{
		{"open equals close", "09:00", "09:00"},
		{"open after close", "14:00", "09:00"},
		{"garbage open", "9am", "12:00"},
		{"garbage close", "09:00", "noon"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			week := []ClinicHours{
				{Weekday: time.Monday, OpenTime: tc.open, CloseTime: tc.close},
			}
			assert.Nil(t, ResolveSlots(week, aMonday, DefaultSlotWidth))
		})
	}
}

func TestResolveSlots_Idempotent(t *testing.T) {
	first := ResolveSlots(mondayWeek(), aMonday, DefaultSlotWidth)
	second := ResolveSlots(mondayWeek(), aMonday, DefaultSlotWidth)
	assert.Equal(t, first, second)
}

func TestResolveSlots_ChronologicalOrder(t *testing.T) {
	week := []ClinicHours{
		{Weekday: time.Monday, OpenTime: "08:00", CloseTime: "17:00"},
	}
	slots := ResolveSlots(week, aMonday, DefaultSlotWidth)
	for i := 1; i < len(slots); i++ {
		assert.True(t, slots[i-1].At.Before(slots[i].At), "slots out of order at %d: %v then %v", i, slots[i-1].At, slots[i].At)
	}
}

func TestValidateWeek(t *testing.T) {
	ok := []ClinicHours{
		{Weekday: time.Monday, OpenTime: "09:00", CloseTime: "17:00"},
		{Weekday: time.Wednesday, OpenTime: "10:00", CloseTime: "14:00"},
	}
	require.NoError(t, ValidateWeek(ok))

	dup := append(ok, ClinicHours{Weekday: time.Monday, OpenTime: "18:00", CloseTime: "20:00"})
	assert.ErrorIs(t, ValidateWeek(dup), ErrDuplicateWeekday)

	backwards := []ClinicHours{
		{Weekday: time.Friday, OpenTime: "17:00", CloseTime: "09:00"},
	}
	assert.ErrorIs(t, ValidateWeek(backwards), ErrInvalidHours)
}
