package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalink/consult-scheduling/internal/config"
	redisclient "github.com/vitalink/consult-scheduling/internal/redis"
	"github.com/vitalink/consult-scheduling/internal/schedule"
)

// fakeRepo is an in-memory Repository. CreatePendingAppointment and
// CommitTransition emulate the store's conditional semantics, including the
// unique-active-slot constraint.
type fakeRepo struct {
	patients      map[uuid.UUID]*Patient
	practitioners map[uuid.UUID]*Practitioner
	week          []schedule.ClinicHours
	appointments  map[uuid.UUID]*Appointment
	events        []EventLog
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		patients:      make(map[uuid.UUID]*Patient),
		practitioners: make(map[uuid.UUID]*Practitioner),
		appointments:  make(map[uuid.UUID]*Appointment),
	}
}

func (f *fakeRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	if p, ok := f.patients[id]; ok {
		return p, nil
	}
	return nil, ErrPatientNotFound
}

func (f *fakeRepo) GetPractitionerByID(_ context.Context, id uuid.UUID) (*Practitioner, error) {
	if p, ok := f.practitioners[id]; ok {
		return p, nil
	}
	return nil, ErrPractitionerNotFound
}

func (f *fakeRepo) GetWeeklySchedule(_ context.Context, _ uuid.UUID) ([]schedule.ClinicHours, error) {
	return f.week, nil
}

func (f *fakeRepo) ReplaceWeeklySchedule(_ context.Context, _ uuid.UUID, entries []schedule.ClinicHours) error {
	f.week = entries
	return nil
}

func (f *fakeRepo) ListAppointmentsForDay(_ context.Context, practitionerID uuid.UUID, day time.Time) ([]Appointment, error) {
	var out []Appointment
	for _, a := range f.appointments {
		if a.PractitionerID == practitionerID && a.StartAt.Format(schedule.DateLayout) == day.Format(schedule.DateLayout) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeRepo) FindActiveAppointmentAt(_ context.Context, practitionerID uuid.UUID, startAt time.Time) (*Appointment, error) {
	for _, a := range f.appointments {
		if a.PractitionerID == practitionerID && a.StartAt.Equal(startAt) && a.Status != StatusCancelled {
			copied := *a
			return &copied, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (f *fakeRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	if a, ok := f.appointments[id]; ok {
		copied := *a
		return &copied, nil
	}
	return nil, ErrAppointmentNotFound
}

func (f *fakeRepo) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	a, err := f.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &AppointmentDetail{Appointment: *a}, nil
}

func (f *fakeRepo) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID, _, _ int) ([]AppointmentDetail, error) {
	var out []AppointmentDetail
	for _, a := range f.appointments {
		if a.PatientID == patientID {
			out = append(out, AppointmentDetail{Appointment: *a})
		}
	}
	return out, nil
}

func (f *fakeRepo) CreatePendingAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	if existing, err := f.FindActiveAppointmentAt(ctx, a.PractitionerID, a.StartAt); err == nil && existing != nil {
		return nil, ErrSlotConflict
	}
	copied := a
	f.appointments[a.ID] = &copied
	result := copied
	return &result, nil
}

func (f *fakeRepo) CommitTransition(ctx context.Context, id uuid.UUID, expected Status, updated Appointment) (*Appointment, error) {
	current, ok := f.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if current.Status != expected {
		return nil, ErrInvalidTransition
	}
	if !updated.StartAt.Equal(current.StartAt) {
		if existing, err := f.FindActiveAppointmentAt(ctx, updated.PractitionerID, updated.StartAt); err == nil && existing != nil && existing.ID != id {
			return nil, ErrSlotConflict
		}
	}
	copied := updated
	f.appointments[id] = &copied
	result := copied
	return &result, nil
}

func (f *fakeRepo) FindStalePending(_ context.Context, now time.Time) ([]Appointment, error) {
	var out []Appointment
	for _, a := range f.appointments {
		if a.Status == StatusPending && a.StartAt.Before(now) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeRepo) InsertEvent(_ context.Context, ev EventLog) error {
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeRepo) eventTypes() []string {
	out := make([]string, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.EventType)
	}
	return out
}

// inlineLocker runs the critical section directly; busy simulates a held lock.
type inlineLocker struct {
	busy bool
}

func (l inlineLocker) WithSlotLock(ctx context.Context, _ uuid.UUID, _ time.Time, fn func(ctx context.Context) error) error {
	if l.busy {
		return redisclient.ErrLockNotAcquired
	}
	return fn(ctx)
}

type serviceFixture struct {
	svc            *Service
	repo           *fakeRepo
	practitionerID uuid.UUID
	patientID      uuid.UUID
}

// newServiceFixture wires a service whose clock is pinned to testNow, with one
// practitioner open Mondays 09:00-12:00 and one patient.
func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	repo := newFakeRepo()
	practitionerID, patientID := uuid.New(), uuid.New()
	repo.practitioners[practitionerID] = &Practitioner{ID: practitionerID, Name: "Dr. Osei"}
	repo.patients[patientID] = &Patient{ID: patientID, Name: "Ama Mensah"}
	repo.week = []schedule.ClinicHours{
		{PractitionerID: practitionerID, Weekday: time.Monday, OpenTime: "09:00", CloseTime: "12:00"},
	}

	svc := NewService(repo, inlineLocker{}, config.Config{SlotWidth: 30 * time.Minute})
	svc.now = func() time.Time { return testNow }

	return &serviceFixture{svc: svc, repo: repo, practitionerID: practitionerID, patientID: patientID}
}

func TestService_Book(t *testing.T) {
	f := newServiceFixture(t)

	appt, err := f.svc.Book(context.Background(), f.practitionerID, f.patientID, agreedAt)
	require.NoError(t, err)

	assert.Equal(t, StatusPending, appt.Status)
	assert.True(t, appt.StartAt.Equal(agreedAt))
	assert.Contains(t, f.repo.eventTypes(), EventAppointmentBooked)
}

func TestService_BookValidation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		startAt time.Time
	}{
		{"in the past", testNow.Add(-time.Hour)},
		{"closed weekday", agreedAt.AddDate(0, 0, 1)},                // a Tuesday
		{"misaligned to slot grid", agreedAt.Add(10 * time.Minute)},  // 10:10
		{"outside clinic hours", agreedAt.Add(4 * time.Hour)},        // 14:00
		{"sub-minute precision", agreedAt.Add(30 * time.Second)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Book(ctx, f.practitionerID, f.patientID, tc.startAt)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	_, err := f.svc.Book(ctx, f.practitionerID, uuid.New(), agreedAt)
	assert.ErrorIs(t, err, ErrPatientNotFound)

	_, err = f.svc.Book(ctx, uuid.New(), f.patientID, agreedAt)
	assert.ErrorIs(t, err, ErrPractitionerNotFound)
}

func TestService_BookSlotConflict(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.Book(ctx, f.practitionerID, f.patientID, agreedAt)
	require.NoError(t, err)

	otherPatient := uuid.New()
	f.repo.patients[otherPatient] = &Patient{ID: otherPatient, Name: "Kofi Boateng"}

	_, err = f.svc.Book(ctx, f.practitionerID, otherPatient, agreedAt)
	assert.ErrorIs(t, err, ErrSlotConflict)
}

func TestService_BookLockBusy(t *testing.T) {
	f := newServiceFixture(t)
	f.svc.locker = inlineLocker{busy: true}

	_, err := f.svc.Book(context.Background(), f.practitionerID, f.patientID, agreedAt)
	assert.ErrorIs(t, err, ErrSlotBeingBooked)
}

func TestService_GetAvailableSlots(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, f.practitionerID, f.patientID, agreedAt) // Monday 10:00
	require.NoError(t, err)

	slots, err := f.svc.GetAvailableSlots(ctx, f.practitionerID, agreedAt, uuid.Nil)
	require.NoError(t, err)
	require.Len(t, slots, 5)
	for _, s := range slots {
		assert.NotEqual(t, "10:00", s.Start)
	}

	// Excluding the appointment being rescheduled restores its slot.
	slots, err = f.svc.GetAvailableSlots(ctx, f.practitionerID, agreedAt, appt.ID)
	require.NoError(t, err)
	assert.Len(t, slots, 6)

	// Closed weekday: nothing to offer.
	slots, err = f.svc.GetAvailableSlots(ctx, f.practitionerID, agreedAt.AddDate(0, 0, 1), uuid.Nil)
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestService_ConfirmAndComplete(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, f.practitionerID, f.patientID, agreedAt)
	require.NoError(t, err)

	confirmed, err := f.svc.Confirm(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, confirmed.Status)
	assert.True(t, confirmed.StartAt.Equal(agreedAt), "confirm must not touch the agreed time")

	// Not started yet.
	_, err = f.svc.MarkCompleted(ctx, appt.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	f.svc.now = func() time.Time { return agreedAt.Add(time.Hour) }
	done, err := f.svc.MarkCompleted(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
}

func TestService_NegotiationAcceptFlow(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, f.practitionerID, f.patientID, agreedAt)
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, appt.ID)
	require.NoError(t, err)

	newTime := agreedAt.Add(30 * time.Minute) // Monday 10:30, still offerable
	proposed, err := f.svc.ProposeReschedule(ctx, appt.ID, RolePractitioner, newTime, "running late")
	require.NoError(t, err)
	assert.Equal(t, StatusPractitionerReschedulePending, proposed.Status)
	assert.True(t, proposed.StartAt.Equal(agreedAt))
	require.NotNil(t, proposed.ProposedStartAt)
	assert.True(t, proposed.ProposedStartAt.Equal(newTime))

	// Proposer cannot approve their own offer.
	_, err = f.svc.RespondToReschedule(ctx, appt.ID, RolePractitioner, true)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	accepted, err := f.svc.RespondToReschedule(ctx, appt.ID, RolePatient, true)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, accepted.Status)
	assert.True(t, accepted.StartAt.Equal(newTime))
	assert.Nil(t, accepted.ProposedStartAt)
	assert.Nil(t, accepted.ProposedBy)

	assert.Contains(t, f.repo.eventTypes(), EventRescheduleProposed)
	assert.Contains(t, f.repo.eventTypes(), EventRescheduleAccepted)
}

func TestService_NegotiationRejectRestores(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, f.practitionerID, f.patientID, agreedAt)
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, appt.ID)
	require.NoError(t, err)

	_, err = f.svc.ProposeReschedule(ctx, appt.ID, RolePatient, agreedAt.Add(time.Hour), "")
	require.NoError(t, err)

	rejected, err := f.svc.RespondToReschedule(ctx, appt.ID, RolePractitioner, false)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, rejected.Status)
	assert.True(t, rejected.StartAt.Equal(agreedAt), "reject must restore the pre-proposal time")
	assert.Nil(t, rejected.ProposedStartAt)
}

func TestService_NegotiationWithdraw(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, f.practitionerID, f.patientID, agreedAt)
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, appt.ID)
	require.NoError(t, err)
	_, err = f.svc.ProposeReschedule(ctx, appt.ID, RolePractitioner, agreedAt.Add(time.Hour), "")
	require.NoError(t, err)

	// Counter-party cannot withdraw.
	_, err = f.svc.WithdrawProposal(ctx, appt.ID, RolePatient)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	withdrawn, err := f.svc.WithdrawProposal(ctx, appt.ID, RolePractitioner)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, withdrawn.Status)
	assert.True(t, withdrawn.StartAt.Equal(agreedAt))
}

func TestService_AcceptConflictsWithLaterBooking(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, f.practitionerID, f.patientID, agreedAt)
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, appt.ID)
	require.NoError(t, err)

	target := agreedAt.Add(time.Hour) // Monday 11:00
	_, err = f.svc.ProposeReschedule(ctx, appt.ID, RolePractitioner, target, "")
	require.NoError(t, err)

	// Someone else books the proposed slot before the patient responds.
	otherPatient := uuid.New()
	f.repo.patients[otherPatient] = &Patient{ID: otherPatient, Name: "Yaw Owusu"}
	_, err = f.svc.Book(ctx, f.practitionerID, otherPatient, target)
	require.NoError(t, err)

	_, err = f.svc.RespondToReschedule(ctx, appt.ID, RolePatient, true)
	assert.ErrorIs(t, err, ErrSlotConflict)

	// The negotiation state is untouched by the failed commit.
	current, err := f.repo.GetAppointmentByID(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPractitionerReschedulePending, current.Status)
	assert.True(t, current.StartAt.Equal(agreedAt))
}

func TestService_Cancel(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, f.practitionerID, f.patientID, agreedAt)
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(ctx, appt.ID, RolePatient, "found another clinic")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelReason)
	assert.Equal(t, "found another clinic", *cancelled.CancelReason)

	// Terminal: nothing further is allowed.
	_, err = f.svc.Confirm(ctx, appt.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestService_ReplaceWeeklySchedule(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	err := f.svc.ReplaceWeeklySchedule(ctx, f.practitionerID, []schedule.ClinicHours{
		{Weekday: time.Tuesday, OpenTime: "08:00", CloseTime: "16:00"},
		{Weekday: time.Tuesday, OpenTime: "17:00", CloseTime: "19:00"},
	})
	assert.ErrorIs(t, err, ErrValidation, "duplicate weekday must be rejected at write time")

	err = f.svc.ReplaceWeeklySchedule(ctx, f.practitionerID, []schedule.ClinicHours{
		{Weekday: time.Tuesday, OpenTime: "08:00", CloseTime: "16:00"},
	})
	require.NoError(t, err)
}

func TestService_SweepStalePending(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, f.practitionerID, f.patientID, agreedAt)
	require.NoError(t, err)

	// Start time passes without a confirmation.
	f.svc.now = func() time.Time { return agreedAt.Add(time.Hour) }

	require.NoError(t, f.svc.SweepStalePending(ctx))

	swept, err := f.repo.GetAppointmentByID(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, swept.Status)
	require.NotNil(t, swept.CancelReason)
}
