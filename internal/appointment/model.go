package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"

	// A reschedule proposal is open, named for the proposing side.
	StatusPractitionerReschedulePending Status = "practitioner_reschedule_pending"
	StatusPatientReschedulePending      Status = "patient_reschedule_pending"
)

// Terminal reports whether no further transition may touch the record.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// ReschedulePending reports whether a proposal is currently open.
func (s Status) ReschedulePending() bool {
	return s == StatusPractitionerReschedulePending || s == StatusPatientReschedulePending
}

type Role string

const (
	RolePatient      Role = "patient"
	RolePractitioner Role = "practitioner"
)

// Counterpart returns the other side of the negotiation.
func (r Role) Counterpart() Role {
	if r == RolePatient {
		return RolePractitioner
	}
	return RolePatient
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Practitioner struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Appointment is the authoritative record of one consultation booking.
//
// StartAt always holds the last agreed time. An open proposal lives in
// ProposedStartAt/ProposedBy and only overwrites StartAt at the moment it is
// accepted; the proposed fields are set iff Status is one of the two
// reschedule-pending states.
type Appointment struct {
	ID               uuid.UUID
	PractitionerID   uuid.UUID
	PatientID        uuid.UUID
	StartAt          time.Time
	Status           Status
	ProposedStartAt  *time.Time
	ProposedBy       *Role
	RescheduleReason *string
	CancelReason     *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

type AppointmentDetail struct {
	Appointment
	Patient      *Patient
	Practitioner *Practitioner
}
