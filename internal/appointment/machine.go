package appointment

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrValidation        = errors.New("validation failed")
)

type Action string

const (
	ActionConfirm           Action = "confirm"
	ActionReject            Action = "reject"
	ActionCancel            Action = "cancel"
	ActionProposeReschedule Action = "propose_reschedule"
	ActionAcceptReschedule  Action = "accept_reschedule"
	ActionRejectReschedule  Action = "reject_reschedule"
	ActionWithdrawProposal  Action = "withdraw_proposal"
	ActionMarkCompleted     Action = "mark_completed"
)

// Transition is one requested state change. NewStartAt is only read for
// propose, Reason only for cancel and propose.
type Transition struct {
	Action     Action
	Actor      Role
	NewStartAt time.Time
	Reason     string
	Now        time.Time
}

// transitionTable lists, per action and actor role, the statuses the action
// may start from. Anything absent here is illegal; the dynamic guards in
// Apply (proposer vs counter-party, start time in the past) narrow further.
var transitionTable = map[Action]map[Role][]Status{
	ActionConfirm: {
		RolePractitioner: {StatusPending},
	},
	ActionReject: {
		RolePractitioner: {StatusPending},
	},
	ActionCancel: {
		RolePatient:      {StatusPending, StatusConfirmed, StatusPractitionerReschedulePending, StatusPatientReschedulePending},
		RolePractitioner: {StatusPending, StatusConfirmed, StatusPractitionerReschedulePending, StatusPatientReschedulePending},
	},
	ActionProposeReschedule: {
		RolePractitioner: {StatusPending, StatusConfirmed},
		RolePatient:      {StatusConfirmed},
	},
	ActionAcceptReschedule: {
		RolePatient:      {StatusPractitionerReschedulePending, StatusPatientReschedulePending},
		RolePractitioner: {StatusPractitionerReschedulePending, StatusPatientReschedulePending},
	},
	ActionRejectReschedule: {
		RolePatient:      {StatusPractitionerReschedulePending, StatusPatientReschedulePending},
		RolePractitioner: {StatusPractitionerReschedulePending, StatusPatientReschedulePending},
	},
	ActionWithdrawProposal: {
		RolePatient:      {StatusPractitionerReschedulePending, StatusPatientReschedulePending},
		RolePractitioner: {StatusPractitionerReschedulePending, StatusPatientReschedulePending},
	},
	ActionMarkCompleted: {
		RolePractitioner: {StatusConfirmed},
	},
}

// NewBooking builds the initial pending record for a patient's booking request.
func NewBooking(practitionerID, patientID uuid.UUID, startAt, now time.Time) Appointment {
	return Appointment{
		ID:             uuid.New(),
		PractitionerID: practitionerID,
		PatientID:      patientID,
		StartAt:        startAt,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Apply validates a transition against the table and the role guards, then
// returns the mutated copy. Validation completes before any field changes, so
// on error the input record is returned untouched. The status change and any
// StartAt overwrite land in the same returned value; persistence commits them
// as one conditional write.
func Apply(a Appointment, t Transition) (Appointment, error) {
	allowed, ok := transitionTable[t.Action]
	if !ok {
		return a, fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, t.Action)
	}
	froms, ok := allowed[t.Actor]
	if !ok {
		return a, fmt.Errorf("%w: %s may not %s", ErrInvalidTransition, t.Actor, t.Action)
	}
	if !statusIn(a.Status, froms) {
		return a, fmt.Errorf("%w: cannot %s from %s", ErrInvalidTransition, t.Action, a.Status)
	}

	switch t.Action {
	case ActionAcceptReschedule, ActionRejectReschedule:
		// Only the counter-party decides; a proposer cannot approve their own offer.
		if a.ProposedBy == nil || a.ProposedStartAt == nil {
			return a, fmt.Errorf("%w: no open proposal", ErrInvalidTransition)
		}
		if *a.ProposedBy == t.Actor {
			return a, fmt.Errorf("%w: %s may not decide their own proposal", ErrInvalidTransition, t.Actor)
		}
	case ActionWithdrawProposal:
		if a.ProposedBy == nil || *a.ProposedBy != t.Actor {
			return a, fmt.Errorf("%w: only the proposer may withdraw", ErrInvalidTransition)
		}
	case ActionMarkCompleted:
		if !a.StartAt.Before(t.Now) {
			return a, fmt.Errorf("%w: appointment has not started yet", ErrInvalidTransition)
		}
	case ActionProposeReschedule:
		if t.NewStartAt.IsZero() {
			return a, fmt.Errorf("%w: proposed start time is required", ErrValidation)
		}
	}

	out := a
	switch t.Action {
	case ActionConfirm:
		out.Status = StatusConfirmed
	case ActionReject:
		out.Status = StatusCancelled
	case ActionCancel:
		out.Status = StatusCancelled
		if t.Reason != "" {
			reason := t.Reason
			out.CancelReason = &reason
		}
		// Cancelling mid-negotiation abandons the open proposal.
		clearProposal(&out)
	case ActionProposeReschedule:
		if t.Actor == RolePractitioner {
			out.Status = StatusPractitionerReschedulePending
		} else {
			out.Status = StatusPatientReschedulePending
		}
		proposed := t.NewStartAt
		actor := t.Actor
		out.ProposedStartAt = &proposed
		out.ProposedBy = &actor
		if t.Reason != "" {
			reason := t.Reason
			out.RescheduleReason = &reason
		}
	case ActionAcceptReschedule:
		out.Status = StatusConfirmed
		out.StartAt = *a.ProposedStartAt
		clearProposal(&out)
	case ActionRejectReschedule, ActionWithdrawProposal:
		out.Status = StatusConfirmed
		clearProposal(&out)
	case ActionMarkCompleted:
		out.Status = StatusCompleted
	}

	out.UpdatedAt = t.Now
	return out, nil
}

func clearProposal(a *Appointment) {
	a.ProposedStartAt = nil
	a.ProposedBy = nil
	a.RescheduleReason = nil
}

func statusIn(s Status, set []Status) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}
