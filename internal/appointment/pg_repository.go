package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitalink/consult-scheduling/internal/schedule"
)

// PgxDB is the subset of pgxpool.Pool the repository uses; pgxmock satisfies
// it in tests.
type PgxDB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgRepository struct {
	db PgxDB
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{db: pool}
}

// NewPgRepositoryWithDB allows injecting mocks for tests.
func NewPgRepositoryWithDB(db PgxDB) *PgRepository {
	return &PgRepository{db: db}
}

const uniqueViolation = "23505"

// isSlotTaken reports whether err is the partial unique index on
// (practitioner_id, start_at) rejecting a second active appointment.
func isSlotTaken(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func scanPractitioner(row pgx.Row) (*Practitioner, error) {
	var p Practitioner
	var specialty *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&specialty,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPractitionerNotFound
		}
		return nil, err
	}

	p.Specialty = specialty
	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var proposedStartAt *time.Time
	var proposedBy, rescheduleReason, cancelReason *string

	err := row.Scan(
		&a.ID,
		&a.PractitionerID,
		&a.PatientID,
		&a.StartAt,
		&a.Status,
		&proposedStartAt,
		&proposedBy,
		&rescheduleReason,
		&cancelReason,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.ProposedStartAt = proposedStartAt
	if proposedBy != nil {
		role := Role(*proposedBy)
		a.ProposedBy = &role
	}
	a.RescheduleReason = rescheduleReason
	a.CancelReason = cancelReason
	return &a, nil
}

const appointmentColumns = `id, practitioner_id, patient_id, start_at, status, proposed_start_at, proposed_by, reschedule_reason, cancel_reason, created_at, updated_at`

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetPractitionerByID(ctx context.Context, id uuid.UUID) (*Practitioner, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM practitioners
		WHERE id = $1
	`, id)
	return scanPractitioner(row)
}

func (r *PgRepository) GetWeeklySchedule(ctx context.Context, practitionerID uuid.UUID) ([]schedule.ClinicHours, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, practitioner_id, weekday, open_time, close_time, created_at, updated_at
		FROM clinic_schedules
		WHERE practitioner_id = $1
		ORDER BY weekday
	`, practitionerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var week []schedule.ClinicHours
	for rows.Next() {
		var h schedule.ClinicHours
		var weekday int16
		if err := rows.Scan(&h.ID, &h.PractitionerID, &weekday, &h.OpenTime, &h.CloseTime, &h.CreatedAt, &h.UpdatedAt); err != nil {
			return nil, err
		}
		h.Weekday = time.Weekday(weekday)
		week = append(week, h)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return week, nil
}

func (r *PgRepository) ReplaceWeeklySchedule(ctx context.Context, practitionerID uuid.UUID, entries []schedule.ClinicHours) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace schedule: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		DELETE FROM clinic_schedules WHERE practitioner_id = $1
	`, practitionerID); err != nil {
		return fmt.Errorf("clear weekly schedule: %w", err)
	}

	for _, e := range entries {
		if _, err := tx.Exec(ctx, `
			INSERT INTO clinic_schedules (id, practitioner_id, weekday, open_time, close_time, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, now(), now())
		`, uuid.New(), practitionerID, int16(e.Weekday), e.OpenTime, e.CloseTime); err != nil {
			return fmt.Errorf("insert schedule entry: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (r *PgRepository) ListAppointmentsForDay(ctx context.Context, practitionerID uuid.UUID, day time.Time) ([]Appointment, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.AddDate(0, 0, 1)

	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE practitioner_id = $1
		  AND start_at >= $2
		  AND start_at < $3
		ORDER BY start_at
	`, practitionerID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) FindActiveAppointmentAt(ctx context.Context, practitionerID uuid.UUID, startAt time.Time) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE practitioner_id = $1
		  AND start_at = $2
		  AND status <> 'cancelled'
		LIMIT 1
	`, practitionerID, startAt)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	appt, err := r.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	patient, err := r.GetPatientByID(ctx, appt.PatientID)
	if err != nil && !errors.Is(err, ErrPatientNotFound) {
		return nil, err
	}
	practitioner, err := r.GetPractitionerByID(ctx, appt.PractitionerID)
	if err != nil && !errors.Is(err, ErrPractitionerNotFound) {
		return nil, err
	}

	return &AppointmentDetail{
		Appointment:  *appt,
		Patient:      patient,
		Practitioner: practitioner,
	}, nil
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]AppointmentDetail, error) {
	rows, err := r.db.Query(ctx, `
		SELECT a.id, a.practitioner_id, a.patient_id, a.start_at, a.status,
		       a.proposed_start_at, a.proposed_by, a.reschedule_reason, a.cancel_reason,
		       a.created_at, a.updated_at,
		       p.name, p.specialty
		FROM appointments a
		JOIN practitioners p ON p.id = a.practitioner_id
		WHERE a.patient_id = $1
		ORDER BY a.start_at DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AppointmentDetail
	for rows.Next() {
		var a Appointment
		var proposedStartAt *time.Time
		var proposedBy, rescheduleReason, cancelReason *string
		var practitionerName string
		var specialty *string

		if err := rows.Scan(
			&a.ID, &a.PractitionerID, &a.PatientID, &a.StartAt, &a.Status,
			&proposedStartAt, &proposedBy, &rescheduleReason, &cancelReason,
			&a.CreatedAt, &a.UpdatedAt,
			&practitionerName, &specialty,
		); err != nil {
			return nil, err
		}

		a.ProposedStartAt = proposedStartAt
		if proposedBy != nil {
			role := Role(*proposedBy)
			a.ProposedBy = &role
		}
		a.RescheduleReason = rescheduleReason
		a.CancelReason = cancelReason

		result = append(result, AppointmentDetail{
			Appointment: a,
			Practitioner: &Practitioner{
				ID:        a.PractitionerID,
				Name:      practitionerName,
				Specialty: specialty,
			},
		})
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) CreatePendingAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments (id, practitioner_id, patient_id, start_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pending', now(), now())
		RETURNING `+appointmentColumns+`
	`, a.ID, a.PractitionerID, a.PatientID, a.StartAt)

	created, err := scanAppointment(row)
	if err != nil {
		if isSlotTaken(err) {
			return nil, ErrSlotConflict
		}
		return nil, err
	}
	return created, nil
}

// CommitTransition performs the conditional write that makes every transition
// atomic: the row only changes if its status still equals the status the
// caller validated against. A zero-row match means the record moved under us
// (stale expected status) or never existed; the partial unique index turns a
// concurrent claim of the same start time into ErrSlotConflict.
func (r *PgRepository) CommitTransition(ctx context.Context, id uuid.UUID, expected Status, updated Appointment) (*Appointment, error) {
	var proposedBy *string
	if updated.ProposedBy != nil {
		v := string(*updated.ProposedBy)
		proposedBy = &v
	}

	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    start_at = $3,
		    proposed_start_at = $4,
		    proposed_by = $5,
		    reschedule_reason = $6,
		    cancel_reason = $7,
		    updated_at = now()
		WHERE id = $1
		  AND status = $8
		RETURNING `+appointmentColumns+`
	`, id, updated.Status, updated.StartAt, updated.ProposedStartAt, proposedBy, updated.RescheduleReason, updated.CancelReason, expected)

	committed, err := scanAppointment(row)
	if err == nil {
		return committed, nil
	}
	if isSlotTaken(err) {
		return nil, ErrSlotConflict
	}
	if !errors.Is(err, ErrAppointmentNotFound) {
		return nil, err
	}

	// Distinguish a vanished row from a stale expected status.
	if _, getErr := r.GetAppointmentByID(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("%w: appointment is no longer %s", ErrInvalidTransition, expected)
}

func (r *PgRepository) FindStalePending(ctx context.Context, now time.Time) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'pending'
		  AND start_at < $1
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
