// Package sync drains the offline outbox back to the remote service
// once connectivity returns.
package sync

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/clinsync/clinsync/internal/domain/registration"
	"github.com/clinsync/clinsync/internal/platform/connectivity"
	"github.com/clinsync/clinsync/internal/platform/remote"
	"github.com/clinsync/clinsync/pkg/records"
)

// RemoteSync is the slice of the remote client the reconciler needs.
type RemoteSync interface {
	Register(ctx context.Context, req records.RegisterRequest) (*records.RegisterResponse, error)
	SearchPatients(ctx context.Context, term, kind string) ([]records.PatientRecord, error)
}

// Reconciler replays queued registrations, oldest first, whenever the
// connection comes back. Drains are serialized: a reconnect during a
// running drain does not start a second one.
type Reconciler struct {
	remote  RemoteSync
	monitor connectivity.Monitor
	outbox  *registration.Outbox
	log     zerolog.Logger

	mu sync.Mutex
}

func NewReconciler(r RemoteSync, m connectivity.Monitor, o *registration.Outbox, log zerolog.Logger) *Reconciler {
	return &Reconciler{remote: r, monitor: m, outbox: o, log: log}
}

// Start subscribes to connectivity transitions and drains on every
// offline-to-online flip. The returned cancel stops the subscription.
func (r *Reconciler) Start(ctx context.Context) func() {
	return r.monitor.Subscribe(func(online bool) {
		if !online {
			return
		}
		go func() {
			if _, err := r.Drain(ctx); err != nil {
				r.log.Warn().Err(err).Msg("outbox drain interrupted")
			}
		}()
	})
}

// Drain replays every queued entry and returns how many synced. A
// network failure stops the drain where it stands; the remainder
// waits for the next reconnect. A service rejection parks that entry
// and the drain continues.
//
// Each replay carries the outbox key as its correlation id, so a
// crash between "remote accepted" and "entry removed" is safe: the
// remote service dedupes the second attempt.
func (r *Reconciler) Drain(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.outbox.List(ctx)
	if err != nil {
		return 0, err
	}

	synced := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return synced, err
		}
		ok, err := r.drainOne(ctx, entry)
		if err != nil {
			if remote.IsNetwork(err) {
				r.log.Info().Int("synced", synced).Msg("connection lost mid-drain, stopping")
			}
			return synced, err
		}
		if ok {
			synced++
		}
	}

	if synced > 0 {
		r.log.Info().Int("synced", synced).Msg("outbox drained")
	}
	return synced, nil
}

// drainOne replays a single entry. The bool reports whether the entry
// ended up synced (created or adopted remotely) as opposed to parked.
func (r *Reconciler) drainOne(ctx context.Context, entry *records.OutboxEntry) (bool, error) {
	patient := entry.Payload.Patient

	// The patient may already exist remotely: registered at another
	// terminal while this one was offline, or accepted on a replay
	// whose acknowledgment never arrived. Probe by phone before
	// creating anything.
	if serverID, err := r.findExisting(ctx, &patient); err != nil {
		return false, err
	} else if serverID != "" {
		r.log.Info().Str("key", entry.Key).Str("server_id", serverID).
			Msg("queued patient already exists remotely, mapping without create")
		return true, r.acknowledge(ctx, entry, serverID)
	}

	req := records.RegisterRequest{
		CorrelationID:    entry.Key,
		Name:             patient.Name,
		DOB:              patient.DOB,
		Sex:              patient.Sex,
		Phone:            patient.Phone,
		SecondaryPhone:   patient.SecondaryPhone,
		IsDOBEstimated:   patient.IsDOBEstimated,
		Location:         entry.Payload.Consultation.Location,
		ConsultationData: entry.Payload.Consultation.ConsultationData,
	}

	resp, err := r.remote.Register(ctx, req)
	if err != nil {
		if remote.IsService(err) {
			r.log.Warn().Err(err).Str("key", entry.Key).Msg("remote rejected queued entry, parking it")
			return false, r.outbox.Reject(ctx, entry, err.Error())
		}
		return false, err
	}

	switch resp.Status {
	case records.RegisterSuccess:
		return true, r.acknowledge(ctx, entry, resp.Patient.ID)
	case records.RegisterExactMatch:
		// The probe missed it but the service is certain. Adopt the
		// match instead of creating a twin.
		if len(resp.Matches) > 0 {
			return true, r.acknowledge(ctx, entry, resp.Matches[0].ID)
		}
		return false, r.outbox.Reject(ctx, entry, "exact match reported without a candidate")
	case records.RegisterPartialMatch:
		// Nobody is present to confirm a near match during a drain.
		return false, r.outbox.Reject(ctx, entry, "needs manual review: possible existing patient")
	default:
		return false, r.outbox.Reject(ctx, entry, resp.Message)
	}
}

// findExisting probes the remote index for a patient matching the
// queued draft's normalized name and phone. Phone alone is not enough
// to skip the create.
func (r *Reconciler) findExisting(ctx context.Context, patient *records.PatientRecord) (string, error) {
	candidates, err := r.remote.SearchPatients(ctx, patient.Phone, records.KindPhone)
	if err != nil {
		if remote.IsService(err) {
			// A broken probe must not block the drain; the register
			// call's own dedupe still applies.
			r.log.Warn().Err(err).Msg("pre-drain duplicate probe failed")
			return "", nil
		}
		return "", err
	}

	want := records.MatchKey(patient.Name, patient.Phone)
	for _, c := range candidates {
		// Only a server-issued id can become the mapping target.
		if !c.Synced() {
			continue
		}
		if records.MatchKey(c.Name, c.Phone) == want {
			return c.ID, nil
		}
	}
	return "", nil
}

// acknowledge records the temp-to-server id mapping, then removes the
// entry. Mapping first: if the process dies between the two writes,
// the next drain finds the mapping again instead of losing it.
func (r *Reconciler) acknowledge(ctx context.Context, entry *records.OutboxEntry, serverID string) error {
	if err := r.outbox.MapID(ctx, entry.Key, serverID); err != nil {
		return err
	}
	return r.outbox.Remove(ctx, entry.Key)
}
