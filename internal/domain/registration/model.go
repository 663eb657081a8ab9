package registration

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/clinsync/clinsync/pkg/records"
)

// Submission outcomes reported to the caller. Partial/exact match
// outcomes reuse the remote service's own status strings.
const (
	StatusRegistered    = "registered"
	StatusQueuedOffline = "queued-offline"
)

// ErrSubmissionInFlight is returned when the same logical draft is
// submitted again before the first attempt resolved.
var ErrSubmissionInFlight = errors.New("registration: submission already in flight for this draft")

// ValidationError is a locally detected problem with the draft. It
// never reaches the network or the outbox.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// DuplicateConsultationError means the patient already has a
// consultation today at this location, based on locally available
// data.
type DuplicateConsultationError struct {
	Name  string
	Phone string
}

func (e *DuplicateConsultationError) Error() string {
	return fmt.Sprintf("duplicate consultation for %s (%s) today", e.Name, e.Phone)
}

// ConsultationSummary is one of today's already-known consultations at
// the current location, supplied by the caller for the offline
// duplicate check. The check deliberately covers only this list, not
// the whole local cache.
type ConsultationSummary struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// SubmitInput is a validated-on-entry registration draft. The
// consultation payload is opaque and carried through untouched.
type SubmitInput struct {
	Name                  string                `json:"name"`
	DOB                   *time.Time            `json:"dob"`
	Sex                   string                `json:"sex"`
	Phone                 string                `json:"phone"`
	SecondaryPhone        *string               `json:"secondary_phone,omitempty"`
	Referral              *string               `json:"referral,omitempty"`
	IsDOBEstimated        bool                  `json:"is_dob_estimated"`
	PriorPatientID        string                `json:"prior_patient_id,omitempty"`
	Location              string                `json:"location"`
	FreeVisitWindowDays   int                   `json:"free_visit_window_days,omitempty"`
	ConsultationData      json.RawMessage       `json:"consultation_data,omitempty"`
	ExistingConsultations []ConsultationSummary `json:"existing_consultations,omitempty"`
	// LocalKey is the temp id from a prior queued-offline attempt of
	// this same draft; supplying it makes a re-submit idempotent.
	LocalKey string `json:"local_key,omitempty"`
}

// Validate checks the draft before any network or storage work.
func (in *SubmitInput) Validate(now time.Time) error {
	if records.NormalizeName(in.Name) == "" {
		return &ValidationError{Field: "name", Reason: "required"}
	}
	if in.DOB == nil {
		return &ValidationError{Field: "dob", Reason: "required"}
	}
	if in.DOB.After(now) {
		return &ValidationError{Field: "dob", Reason: "must not be in the future"}
	}
	if phone := records.NormalizePhone(in.Phone); len(phone) != 10 {
		return &ValidationError{Field: "phone", Reason: "must be a 10-digit number"}
	}
	return nil
}

// toRequest builds the remote register call for this draft.
func (in *SubmitInput) toRequest(correlationID string) records.RegisterRequest {
	return records.RegisterRequest{
		CorrelationID:       correlationID,
		PriorPatientID:      in.PriorPatientID,
		Name:                in.Name,
		DOB:                 in.DOB,
		Sex:                 in.Sex,
		Phone:               records.NormalizePhone(in.Phone),
		SecondaryPhone:      in.SecondaryPhone,
		Referral:            in.Referral,
		IsDOBEstimated:      in.IsDOBEstimated,
		Location:            in.Location,
		FreeVisitWindowDays: in.FreeVisitWindowDays,
		ConsultationData:    in.ConsultationData,
	}
}

// SubmitResult is the discriminated outcome of a submission. Every
// outcome carries a distinct user-facing message; a caller is never
// told "success" unless the draft persisted somewhere.
type SubmitResult struct {
	Status       string                      `json:"status"`
	Message      string                      `json:"message"`
	Patient      *records.PatientRecord      `json:"patient,omitempty"`
	Consultation *records.ConsultationRecord `json:"consultation,omitempty"`
	Matches      []records.PatientRecord     `json:"matches,omitempty"`
}
