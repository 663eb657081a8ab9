package registration

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinsync/clinsync/internal/platform/connectivity"
	"github.com/clinsync/clinsync/internal/platform/remote"
	"github.com/clinsync/clinsync/pkg/records"
)

// RemoteRegistrar is the slice of the remote client the coordinator
// needs.
type RemoteRegistrar interface {
	Register(ctx context.Context, req records.RegisterRequest) (*records.RegisterResponse, error)
}

// failureReporter is implemented by monitors that accept call-outcome
// feedback (the probe does; the manual monitor does not).
type failureReporter interface {
	ReportFailure()
	ReportSuccess()
}

// Coordinator accepts validated registration drafts, tries the remote
// service, and reroutes network failures into the durable outbox. It
// performs no automatic retries: a draft is retried only by explicit
// user action, and queued entries are the sync reconciler's job.
type Coordinator struct {
	remote  RemoteRegistrar
	monitor connectivity.Monitor
	outbox  *Outbox
	log     zerolog.Logger
	now     func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewCoordinator(r RemoteRegistrar, m connectivity.Monitor, o *Outbox, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		remote:   r,
		monitor:  m,
		outbox:   o,
		log:      log,
		now:      time.Now,
		inflight: make(map[string]struct{}),
	}
}

// Submit runs one registration attempt. Outcomes:
//   - remote accepted: StatusRegistered with the server-confirmed pair
//   - remote found near matches: the remote status and candidates are
//     passed through for user confirmation, nothing is queued
//   - remote rejected: the rejection error is returned, nothing is
//     queued
//   - offline or network failure: the draft is queued in the outbox
//     under a temporary id and StatusQueuedOffline is returned
//   - validation or duplicate-for-today failure: an error, before any
//     network or storage work
func (c *Coordinator) Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	if err := in.Validate(c.now()); err != nil {
		return nil, err
	}

	draftKey := records.MatchKey(in.Name, in.Phone)
	if !c.begin(draftKey) {
		return nil, ErrSubmissionInFlight
	}
	defer c.end(draftKey)

	if !c.monitor.Online() {
		// Don't even attempt the network on an offline hint.
		return c.queueOffline(ctx, in)
	}

	resp, err := c.remote.Register(ctx, in.toRequest(in.LocalKey))
	switch {
	case err == nil:
		c.reportSuccess()
		return c.fromRemote(resp)
	case remote.IsNetwork(err):
		c.log.Warn().Err(err).Msg("register call failed in transit, queueing offline")
		c.reportFailure()
		return c.queueOffline(ctx, in)
	default:
		// Service rejections (and local encode faults) are
		// authoritative; queueing them would hide a real answer.
		return nil, err
	}
}

func (c *Coordinator) fromRemote(resp *records.RegisterResponse) (*SubmitResult, error) {
	switch resp.Status {
	case records.RegisterSuccess:
		return &SubmitResult{
			Status:       StatusRegistered,
			Message:      "Patient registered.",
			Patient:      resp.Patient,
			Consultation: resp.Consultation,
		}, nil
	case records.RegisterPartialMatch, records.RegisterExactMatch:
		return &SubmitResult{
			Status:  resp.Status,
			Message: "Possible existing patient found. Confirm before registering.",
			Matches: resp.Matches,
		}, nil
	default:
		// A decoded business rejection.
		return nil, &remote.ServiceError{StatusCode: http.StatusUnprocessableEntity, Message: resp.Message}
	}
}

func (c *Coordinator) queueOffline(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	// Best-effort duplicate check against today's known consultations
	// for this location.
	draftKey := records.MatchKey(in.Name, in.Phone)
	for _, existing := range in.ExistingConsultations {
		if records.MatchKey(existing.Name, existing.Phone) == draftKey {
			return nil, &DuplicateConsultationError{Name: in.Name, Phone: records.NormalizePhone(in.Phone)}
		}
	}

	// Re-submitting a draft that is already queued must not queue it
	// twice.
	if in.LocalKey != "" {
		if entry, err := c.outbox.Get(ctx, in.LocalKey); err == nil {
			return queuedResult(entry), nil
		}
	}

	now := c.now()
	tempID := records.NewOfflineID(now)
	entry := &records.OutboxEntry{
		Key:  tempID,
		Type: records.EntryTypeNewPatient,
		Payload: records.OutboxPayload{
			Patient: records.PatientRecord{
				ID:             tempID,
				Name:           in.Name,
				DOB:            in.DOB,
				Sex:            in.Sex,
				Phone:          records.NormalizePhone(in.Phone),
				SecondaryPhone: in.SecondaryPhone,
				IsDOBEstimated: in.IsDOBEstimated,
				CreatedAt:      now,
			},
			Consultation: records.ConsultationRecord{
				PatientID:        tempID,
				Location:         in.Location,
				Status:           records.ConsultationPending,
				ConsultationData: in.ConsultationData,
			},
		},
		QueuedAt: now,
	}

	if err := c.outbox.Put(ctx, entry); err != nil {
		// No further fallback exists; the caller must learn that the
		// registration is lost.
		c.log.Error().Err(err).Str("key", tempID).Msg("outbox write failed")
		return nil, err
	}

	c.log.Info().Str("key", tempID).Msg("registration queued offline")
	return queuedResult(entry), nil
}

func queuedResult(entry *records.OutboxEntry) *SubmitResult {
	patient := entry.Payload.Patient
	consultation := entry.Payload.Consultation
	return &SubmitResult{
		Status:       StatusQueuedOffline,
		Message:      "No connection to the clinic server. The registration was saved on this device and will sync when the connection returns.",
		Patient:      &patient,
		Consultation: &consultation,
	}
}

func (c *Coordinator) begin(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[key]; busy {
		return false
	}
	c.inflight[key] = struct{}{}
	return true
}

func (c *Coordinator) end(key string) {
	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()
}

func (c *Coordinator) reportFailure() {
	if r, ok := c.monitor.(failureReporter); ok {
		r.ReportFailure()
	}
}

func (c *Coordinator) reportSuccess() {
	if r, ok := c.monitor.(failureReporter); ok {
		r.ReportSuccess()
	}
}
