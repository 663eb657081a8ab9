// Package search answers partial-name and partial-phone patient
// lookups, preferring the remote index and falling back to the local
// cache when the service cannot be reached. A response is wholly
// remote or wholly local, never a mix.
package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/clinsync/clinsync/internal/platform/connectivity"
	"github.com/clinsync/clinsync/internal/platform/remote"
	"github.com/clinsync/clinsync/pkg/records"
)

// Result provenance.
const (
	SourceRemote = "remote"
	SourceCache  = "cache"
)

// ValidationError rejects a term before any network call.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// RemoteSearcher is the slice of the remote client the adapter needs.
type RemoteSearcher interface {
	SearchPatients(ctx context.Context, term, kind string) ([]records.PatientRecord, error)
	SearchLegacyRecords(ctx context.Context, phone string) ([]records.PatientRecord, error)
}

type failureReporter interface {
	ReportFailure()
	ReportSuccess()
}

// Result is one search answer with its provenance.
type Result struct {
	Source     string                  `json:"source"`
	Candidates []records.PatientRecord `json:"candidates"`
}

type Adapter struct {
	remote  RemoteSearcher
	monitor connectivity.Monitor
	cache   *Cache
	log     zerolog.Logger
}

func NewAdapter(r RemoteSearcher, m connectivity.Monitor, cache *Cache, log zerolog.Logger) *Adapter {
	return &Adapter{remote: r, monitor: m, cache: cache, log: log}
}

// Search resolves term against the remote index when the online hint
// holds, warming the cache with what comes back; on a network-class
// failure or an offline hint it answers from the local cache instead.
// Service rejections are surfaced, not recovered.
func (a *Adapter) Search(ctx context.Context, term, kind string) (*Result, error) {
	term, err := normalizeTerm(term, kind)
	if err != nil {
		return nil, err
	}

	if !a.monitor.Online() {
		return a.searchLocal(ctx, term, kind)
	}

	candidates, err := a.remote.SearchPatients(ctx, term, kind)
	switch {
	case err == nil:
		a.reportSuccess()
	case remote.IsNetwork(err):
		a.log.Warn().Err(err).Str("term", term).Msg("remote search unreachable, using local cache")
		a.reportFailure()
		return a.searchLocal(ctx, term, kind)
	default:
		return nil, err
	}

	// Before declaring "no results" on a phone search, consult the
	// legacy-records index. Its failure is not recovered locally.
	if len(candidates) == 0 && kind == records.KindPhone {
		legacy, lerr := a.remote.SearchLegacyRecords(ctx, term)
		if lerr != nil {
			a.log.Warn().Err(lerr).Str("phone", term).Msg("legacy-record lookup failed")
		} else {
			candidates = legacy
		}
	}

	if len(candidates) > 0 {
		if cerr := a.cache.PutPrefix(ctx, kind, cachePrefix(term, kind), candidates); cerr != nil {
			// The cache is advisory; a failed warm must not fail the
			// search.
			a.log.Warn().Err(cerr).Msg("search cache warm failed")
		}
	}

	return &Result{Source: SourceRemote, Candidates: candidates}, nil
}

func (a *Adapter) searchLocal(ctx context.Context, term, kind string) (*Result, error) {
	candidates, err := a.cache.SearchLocal(ctx, term, kind)
	if err != nil {
		return nil, err
	}
	return &Result{Source: SourceCache, Candidates: candidates}, nil
}

func normalizeTerm(term, kind string) (string, error) {
	switch kind {
	case records.KindPhone:
		digits := records.NormalizePhone(term)
		if digits == "" {
			return "", &ValidationError{Reason: "enter at least one digit of the phone number"}
		}
		return digits, nil
	case records.KindName:
		trimmed := strings.TrimSpace(term)
		if trimmed == "" {
			return "", &ValidationError{Reason: "enter a name to search for"}
		}
		return trimmed, nil
	default:
		return "", fmt.Errorf("unknown search kind %q", kind)
	}
}

// cachePrefix computes the prefix-index key for a fetched term: the
// first eight digits for phones, the normalized term for names.
func cachePrefix(term, kind string) string {
	if kind == records.KindPhone && len(term) > PrefixThreshold {
		return term[:PrefixThreshold]
	}
	if kind == records.KindName {
		return records.NormalizeName(term)
	}
	return term
}

func (a *Adapter) reportFailure() {
	if r, ok := a.monitor.(failureReporter); ok {
		r.ReportFailure()
	}
}

func (a *Adapter) reportSuccess() {
	if r, ok := a.monitor.(failureReporter); ok {
		r.ReportSuccess()
	}
}
