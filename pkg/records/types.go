// Package records holds the wire types shared by the registration
// coordinator, the search adapter, the sync reconciler and the remote
// service client.
package records

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Search kinds accepted by the patient index.
const (
	KindName  = "name"
	KindPhone = "phone"
)

// Consultation status values.
const (
	ConsultationPending   = "pending"
	ConsultationCompleted = "completed"
)

// OutboxEntry types.
const (
	EntryTypeNewPatient = "new_patient"
)

// OfflineIDPrefix marks locally synthesized identifiers for records
// that have not been accepted by the remote service yet.
const OfflineIDPrefix = "offline-"

// PatientRecord is a patient as seen by this gateway. ID is the
// server-issued identifier once synced; until then it carries a
// locally synthesized "offline-<millis>" value.
type PatientRecord struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	DOB            *time.Time `json:"dob,omitempty"`
	Sex            string     `json:"sex,omitempty"`
	Phone          string     `json:"phone"`
	SecondaryPhone *string    `json:"secondary_phone,omitempty"`
	IsDOBEstimated bool       `json:"is_dob_estimated"`
	DriveID        *string    `json:"drive_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Synced reports whether the record carries a server-issued id.
func (p *PatientRecord) Synced() bool {
	return p.ID != "" && !strings.HasPrefix(p.ID, OfflineIDPrefix)
}

// ConsultationRecord is the consultation half of a registration. The
// clinical payload is opaque to the gateway and carried through as-is.
type ConsultationRecord struct {
	ID               string          `json:"id,omitempty"`
	PatientID        string          `json:"patient_id"`
	Location         string          `json:"location"`
	Status           string          `json:"status"`
	ConsultationData json.RawMessage `json:"consultation_data,omitempty"`
}

// OutboxPayload is the atomic patient+consultation pair queued for a
// later sync. Both halves are written together or not at all.
type OutboxPayload struct {
	Patient      PatientRecord      `json:"patient"`
	Consultation ConsultationRecord `json:"consultation"`
}

// OutboxEntry is one queued offline registration.
type OutboxEntry struct {
	Key      string        `json:"key"`
	Type     string        `json:"type"`
	Payload  OutboxPayload `json:"payload"`
	QueuedAt time.Time     `json:"queued_at"`
}

// Register call statuses returned by the remote service.
const (
	RegisterSuccess      = "success"
	RegisterError        = "error"
	RegisterPartialMatch = "partial_match"
	RegisterExactMatch   = "exact_match"
)

// RegisterRequest is the full registration draft sent to the remote
// service. CorrelationID lets the service dedupe replays of the same
// logical draft (the reconciler reuses the outbox key here).
type RegisterRequest struct {
	CorrelationID       string          `json:"correlation_id,omitempty"`
	PriorPatientID      string          `json:"prior_patient_id,omitempty"`
	Name                string          `json:"name"`
	DOB                 *time.Time      `json:"dob,omitempty"`
	Sex                 string          `json:"sex,omitempty"`
	Phone               string          `json:"phone"`
	SecondaryPhone      *string         `json:"secondary_phone,omitempty"`
	Referral            *string         `json:"referral,omitempty"`
	IsDOBEstimated      bool            `json:"is_dob_estimated"`
	Location            string          `json:"location"`
	FreeVisitWindowDays int             `json:"free_visit_window_days,omitempty"`
	ConsultationData    json.RawMessage `json:"consultation_data,omitempty"`
}

// RegisterResponse is the remote service's answer to a register call.
// Matches is populated for partial_match/exact_match outcomes.
type RegisterResponse struct {
	Status       string              `json:"status"`
	Message      string              `json:"message,omitempty"`
	Patient      *PatientRecord      `json:"patient,omitempty"`
	Consultation *ConsultationRecord `json:"consultation,omitempty"`
	Matches      []PatientRecord     `json:"matches,omitempty"`
}

// NewOfflineID synthesizes a temporary local identifier from a
// timestamp, e.g. "offline-1717171717000".
func NewOfflineID(t time.Time) string {
	return fmt.Sprintf("%s%d", OfflineIDPrefix, t.UnixMilli())
}

// IsOfflineID reports whether id is a locally synthesized identifier.
func IsOfflineID(id string) bool {
	return strings.HasPrefix(id, OfflineIDPrefix)
}

// NormalizePhone strips everything but digits.
func NormalizePhone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeName lowercases and collapses internal whitespace so that
// " Asha  Rao " and "asha rao" compare equal.
func NormalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// MatchKey builds the deterministic duplicate-detection key for a
// name+phone pair.
func MatchKey(name, phone string) string {
	return NormalizeName(name) + ":" + NormalizePhone(phone)
}
