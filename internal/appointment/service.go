package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/vitalink/consult-scheduling/internal/config"
	redisclient "github.com/vitalink/consult-scheduling/internal/redis"
	"github.com/vitalink/consult-scheduling/internal/schedule"
)

const (
	EventAppointmentBooked     = "APPOINTMENT_BOOKED"
	EventAppointmentConfirmed  = "APPOINTMENT_CONFIRMED"
	EventAppointmentCancelled  = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted  = "APPOINTMENT_COMPLETED"
	EventRescheduleProposed    = "RESCHEDULE_PROPOSED"
	EventRescheduleAccepted    = "RESCHEDULE_ACCEPTED"
	EventRescheduleRejected    = "RESCHEDULE_REJECTED"
	EventProposalWithdrawn     = "RESCHEDULE_PROPOSAL_WITHDRAWN"
)

var (
	ErrSlotConflict    = errors.New("slot already has an active appointment")
	ErrSlotBeingBooked = errors.New("slot is currently being booked, please retry")
)

type Service struct {
	repo   Repository
	locker redisclient.Locker
	cfg    config.Config
	now    func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, cfg config.Config) *Service {
	return &Service{
		repo:   repo,
		locker: locker,
		cfg:    cfg,
		now:    time.Now,
	}
}

// GetAvailableSlots derives the offerable slots for one practitioner and date:
// clinic hours -> candidate slots -> minus slots taken by active appointments.
// excludeID, when non-nil, names an appointment being rescheduled whose own
// slot stays offerable. The result is advisory; the store re-checks at commit.
func (s *Service) GetAvailableSlots(ctx context.Context, practitionerID uuid.UUID, date time.Time, excludeID uuid.UUID) ([]schedule.Slot, error) {
	if _, err := s.repo.GetPractitionerByID(ctx, practitionerID); err != nil {
		return nil, err
	}

	week, err := s.repo.GetWeeklySchedule(ctx, practitionerID)
	if err != nil {
		return nil, fmt.Errorf("load weekly schedule: %w", err)
	}

	candidates := schedule.ResolveSlots(week, date, s.cfg.SlotWidth)
	if len(candidates) == 0 {
		return nil, nil
	}

	appts, err := s.repo.ListAppointmentsForDay(ctx, practitionerID, date)
	if err != nil {
		return nil, fmt.Errorf("load appointments for day: %w", err)
	}

	return schedule.FilterAvailable(candidates, toBookings(appts), excludeID), nil
}

// Book creates a pending appointment for a patient. The slot is validated
// against clinic hours up front, then re-checked for freedom inside the
// distributed lock so two callers working from the same stale availability
// view cannot both commit.
func (s *Service) Book(ctx context.Context, practitionerID, patientID uuid.UUID, startAt time.Time) (*Appointment, error) {
	if _, err := s.repo.GetPatientByID(ctx, patientID); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetPractitionerByID(ctx, practitionerID); err != nil {
		return nil, err
	}

	now := s.now()
	if !startAt.After(now) {
		return nil, fmt.Errorf("%w: start time is in the past", ErrValidation)
	}
	if err := s.validateSlotTime(ctx, practitionerID, startAt); err != nil {
		return nil, err
	}

	var created *Appointment

	err := s.locker.WithSlotLock(ctx, practitionerID, startAt, func(lockCtx context.Context) error {
		// Inside the critical section re-check that the slot is still free.
		existing, err := s.repo.FindActiveAppointmentAt(lockCtx, practitionerID, startAt)
		if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
			return fmt.Errorf("check active appointment: %w", err)
		}
		if existing != nil {
			return ErrSlotConflict
		}

		appt, err := s.repo.CreatePendingAppointment(lockCtx, NewBooking(practitionerID, patientID, startAt, now))
		if err != nil {
			return fmt.Errorf("create pending appointment: %w", err)
		}

		created = appt

		s.logEvent(lockCtx, appt.ID, EventAppointmentBooked, map[string]any{
			"practitioner_id": practitionerID.String(),
			"patient_id":      patientID.String(),
			"start_at":        startAt,
		})

		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	return created, nil
}

// Confirm moves a pending appointment to confirmed (practitioner only).
func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.applyTransition(ctx, id, Transition{
		Action: ActionConfirm,
		Actor:  RolePractitioner,
		Now:    s.now(),
	}, EventAppointmentConfirmed, nil)
}

// Reject declines a pending booking request (practitioner only).
func (s *Service) Reject(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.applyTransition(ctx, id, Transition{
		Action: ActionReject,
		Actor:  RolePractitioner,
		Now:    s.now(),
	}, EventAppointmentCancelled, map[string]any{"rejected": true})
}

// Cancel cancels an appointment from any non-terminal state.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor Role, reason string) (*Appointment, error) {
	return s.applyTransition(ctx, id, Transition{
		Action: ActionCancel,
		Actor:  actor,
		Reason: reason,
		Now:    s.now(),
	}, EventAppointmentCancelled, map[string]any{
		"cancelled_by": string(actor),
		"reason":       reason,
	})
}

// ProposeReschedule opens a proposal for a new start time. At most one
// proposal can be open per appointment; the state machine rejects proposing
// from an already reschedule-pending state.
func (s *Service) ProposeReschedule(ctx context.Context, id uuid.UUID, actor Role, newStartAt time.Time, reason string) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.validateSlotTime(ctx, appt.PractitionerID, newStartAt); err != nil {
		return nil, err
	}

	return s.applyTransitionTo(ctx, appt, Transition{
		Action:     ActionProposeReschedule,
		Actor:      actor,
		NewStartAt: newStartAt,
		Reason:     reason,
		Now:        s.now(),
	}, EventRescheduleProposed, map[string]any{
		"proposed_by":       string(actor),
		"proposed_start_at": newStartAt,
		"reason":            reason,
	})
}

// RespondToReschedule lets the counter-party accept or reject the open
// proposal. Accepting overwrites the agreed time and must therefore hold the
// slot lock for the proposed time and re-check freedom, exactly like Book.
// Rejecting restores nothing because StartAt was never touched.
func (s *Service) RespondToReschedule(ctx context.Context, id uuid.UUID, actor Role, accept bool) (*Appointment, error) {
	if !accept {
		return s.applyTransition(ctx, id, Transition{
			Action: ActionRejectReschedule,
			Actor:  actor,
			Now:    s.now(),
		}, EventRescheduleRejected, map[string]any{"decided_by": string(actor)})
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	updated, err := Apply(*appt, Transition{
		Action: ActionAcceptReschedule,
		Actor:  actor,
		Now:    s.now(),
	})
	if err != nil {
		return nil, err
	}

	var committed *Appointment

	err = s.locker.WithSlotLock(ctx, appt.PractitionerID, updated.StartAt, func(lockCtx context.Context) error {
		existing, err := s.repo.FindActiveAppointmentAt(lockCtx, appt.PractitionerID, updated.StartAt)
		if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
			return fmt.Errorf("check active appointment: %w", err)
		}
		if existing != nil && existing.ID != appt.ID {
			return ErrSlotConflict
		}

		committed, err = s.repo.CommitTransition(lockCtx, appt.ID, appt.Status, updated)
		if err != nil {
			return fmt.Errorf("commit accepted reschedule: %w", err)
		}
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	s.logEvent(ctx, committed.ID, EventRescheduleAccepted, map[string]any{
		"decided_by": string(actor),
		"start_at":   committed.StartAt,
	})

	return committed, nil
}

// WithdrawProposal lets the proposer take back their own open proposal.
func (s *Service) WithdrawProposal(ctx context.Context, id uuid.UUID, actor Role) (*Appointment, error) {
	return s.applyTransition(ctx, id, Transition{
		Action: ActionWithdrawProposal,
		Actor:  actor,
		Now:    s.now(),
	}, EventProposalWithdrawn, map[string]any{"withdrawn_by": string(actor)})
}

// MarkCompleted closes out a confirmed appointment whose start time has passed.
func (s *Service) MarkCompleted(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.applyTransition(ctx, id, Transition{
		Action: ActionMarkCompleted,
		Actor:  RolePractitioner,
		Now:    s.now(),
	}, EventAppointmentCompleted, nil)
}

// ReplaceWeeklySchedule swaps a practitioner's clinic hours after validating
// weekday uniqueness and open/close sanity.
func (s *Service) ReplaceWeeklySchedule(ctx context.Context, practitionerID uuid.UUID, entries []schedule.ClinicHours) error {
	if _, err := s.repo.GetPractitionerByID(ctx, practitionerID); err != nil {
		return err
	}
	if err := schedule.ValidateWeek(entries); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := s.repo.ReplaceWeeklySchedule(ctx, practitionerID, entries); err != nil {
		return fmt.Errorf("replace weekly schedule: %w", err)
	}
	return nil
}

// SweepStalePending is intended to be called by the worker periodically. It
// cancels pending bookings whose start time passed without a confirmation.
func (s *Service) SweepStalePending(ctx context.Context) error {
	now := s.now()
	stale, err := s.repo.FindStalePending(ctx, now)
	if err != nil {
		return fmt.Errorf("find stale pending appointments: %w", err)
	}

	for _, appt := range stale {
		updated, err := Apply(appt, Transition{
			Action: ActionCancel,
			Actor:  RolePractitioner,
			Reason: "not confirmed before start time",
			Now:    now,
		})
		if err != nil {
			log.Printf("skip stale appointment %s: %v", appt.ID, err)
			continue
		}
		if _, err := s.repo.CommitTransition(ctx, appt.ID, StatusPending, updated); err != nil {
			if errors.Is(err, ErrAppointmentNotFound) || errors.Is(err, ErrInvalidTransition) {
				continue // someone else moved it first
			}
			log.Printf("failed to sweep appointment %s: %v", appt.ID, err)
			continue
		}
		s.logEvent(ctx, appt.ID, EventAppointmentCancelled, map[string]any{
			"cancelled_by": "sweep_worker",
			"reason":       "not confirmed before start time",
		})
	}

	return nil
}

// GetAppointment retrieves a fully hydrated appointment by ID.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	detail, err := s.repo.GetAppointmentDetail(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return detail, nil
}

// ListAppointmentsByPatient retrieves appointments for a specific patient.
func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]AppointmentDetail, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}

	appointments, err := s.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appointments, nil
}

// applyTransition loads, applies and conditionally commits a transition that
// does not move the agreed start time, so no slot lock is needed.
func (s *Service) applyTransition(ctx context.Context, id uuid.UUID, t Transition, eventType string, payload map[string]any) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.applyTransitionTo(ctx, appt, t, eventType, payload)
}

func (s *Service) applyTransitionTo(ctx context.Context, appt *Appointment, t Transition, eventType string, payload map[string]any) (*Appointment, error) {
	updated, err := Apply(*appt, t)
	if err != nil {
		return nil, err
	}

	committed, err := s.repo.CommitTransition(ctx, appt.ID, appt.Status, updated)
	if err != nil {
		return nil, fmt.Errorf("commit %s: %w", t.Action, err)
	}

	s.logEvent(ctx, committed.ID, eventType, payload)

	return committed, nil
}

// validateSlotTime checks that a requested start time lands on a slot the
// clinic actually offers for that date: aligned to the slot width and inside
// the practitioner's hours. A closed day yields no candidates and fails here.
func (s *Service) validateSlotTime(ctx context.Context, practitionerID uuid.UUID, startAt time.Time) error {
	week, err := s.repo.GetWeeklySchedule(ctx, practitionerID)
	if err != nil {
		return fmt.Errorf("load weekly schedule: %w", err)
	}

	if startAt.Second() != 0 || startAt.Nanosecond() != 0 {
		return fmt.Errorf("%w: start time must be aligned to whole minutes", ErrValidation)
	}

	want := startAt.Format(schedule.ClockLayout)
	for _, slot := range schedule.ResolveSlots(week, startAt, s.cfg.SlotWidth) {
		if slot.Start == want {
			return nil
		}
	}
	return fmt.Errorf("%w: %s is not an offerable slot for this practitioner", ErrValidation, startAt.Format("2006-01-02 15:04"))
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("failed to marshal event payload for %s: %v", eventType, err)
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		log.Printf("failed to insert event log %s for appointment %s: %v", eventType, appointmentID, err)
	}
}

func toBookings(appts []Appointment) []schedule.Booking {
	out := make([]schedule.Booking, 0, len(appts))
	for _, a := range appts {
		out = append(out, schedule.Booking{
			AppointmentID: a.ID,
			StartAt:       a.StartAt,
			Cancelled:     a.Status == StatusCancelled,
		})
	}
	return out
}
