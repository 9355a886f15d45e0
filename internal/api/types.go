package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/vitalink/consult-scheduling/internal/appointment"
)

// timeLayout is the wire format for appointment times: practitioner-local
// wall clock, minute precision, no zone.
const timeLayout = "2006-01-02T15:04"

type BookRequest struct {
	PractitionerID string `json:"practitioner_id"`
	PatientID      string `json:"patient_id"`
	StartAt        string `json:"start_at"`
}

type CancelRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

type ProposeRescheduleRequest struct {
	Actor      string `json:"actor"`
	NewStartAt string `json:"new_start_at"`
	Reason     string `json:"reason,omitempty"`
}

type RespondRescheduleRequest struct {
	Actor    string `json:"actor"`
	Decision string `json:"decision"` // accept | reject
}

type WithdrawProposalRequest struct {
	Actor string `json:"actor"`
}

type ScheduleEntryRequest struct {
	Weekday   int    `json:"weekday"` // 0 = Sunday .. 6 = Saturday
	OpenTime  string `json:"open_time"`
	CloseTime string `json:"close_time"`
}

type ReplaceScheduleRequest struct {
	Entries []ScheduleEntryRequest `json:"entries"`
}

type AppointmentResponse struct {
	ID               uuid.UUID `json:"id"`
	PractitionerID   uuid.UUID `json:"practitioner_id"`
	PatientID        uuid.UUID `json:"patient_id"`
	StartAt          string    `json:"start_at"`
	Status           string    `json:"status"`
	ProposedStartAt  *string   `json:"proposed_start_at,omitempty"`
	ProposedBy       *string   `json:"proposed_by,omitempty"`
	RescheduleReason *string   `json:"reschedule_reason,omitempty"`
	CancelReason     *string   `json:"cancel_reason,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	resp := AppointmentResponse{
		ID:               a.ID,
		PractitionerID:   a.PractitionerID,
		PatientID:        a.PatientID,
		StartAt:          a.StartAt.Format(timeLayout),
		Status:           string(a.Status),
		RescheduleReason: a.RescheduleReason,
		CancelReason:     a.CancelReason,
	}
	if a.ProposedStartAt != nil {
		v := a.ProposedStartAt.Format(timeLayout)
		resp.ProposedStartAt = &v
	}
	if a.ProposedBy != nil {
		v := string(*a.ProposedBy)
		resp.ProposedBy = &v
	}
	return resp
}

func parseWallClock(s string) (time.Time, error) {
	return time.ParseInLocation(timeLayout, s, time.UTC)
}
