package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/vitalink/consult-scheduling/internal/schedule"
)

var (
	ErrPatientNotFound      = errors.New("patient not found")
	ErrPractitionerNotFound = errors.New("practitioner not found")
	ErrAppointmentNotFound  = errors.New("appointment not found")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetPractitionerByID(ctx context.Context, id uuid.UUID) (*Practitioner, error)

	// Weekly clinic hours
	GetWeeklySchedule(ctx context.Context, practitionerID uuid.UUID) ([]schedule.ClinicHours, error)
	ReplaceWeeklySchedule(ctx context.Context, practitionerID uuid.UUID, entries []schedule.ClinicHours) error

	// For slot derivation and conflict checks
	ListAppointmentsForDay(ctx context.Context, practitionerID uuid.UUID, day time.Time) ([]Appointment, error)
	FindActiveAppointmentAt(ctx context.Context, practitionerID uuid.UUID, startAt time.Time) (*Appointment, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]AppointmentDetail, error)

	// Creation and conditional commits
	CreatePendingAppointment(ctx context.Context, a Appointment) (*Appointment, error)
	CommitTransition(ctx context.Context, id uuid.UUID, expected Status, updated Appointment) (*Appointment, error)

	// Sweep worker
	FindStalePending(ctx context.Context, now time.Time) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
