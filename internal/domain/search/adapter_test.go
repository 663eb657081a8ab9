package search

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/clinsync/clinsync/internal/platform/connectivity"
	"github.com/clinsync/clinsync/internal/platform/remote"
	"github.com/clinsync/clinsync/internal/platform/store"
	"github.com/clinsync/clinsync/pkg/records"
)

type fakeRemote struct {
	mu          sync.Mutex
	searchCalls int
	legacyCalls int
	results     []records.PatientRecord
	legacy      []records.PatientRecord
	err         error
	lastTerm    string
	lastKind    string

	// When set, each search signals enter and then waits on release,
	// letting a test hold a call in flight.
	enter   chan struct{}
	release chan struct{}
}

func (f *fakeRemote) SearchPatients(_ context.Context, term, kind string) ([]records.PatientRecord, error) {
	f.mu.Lock()
	f.searchCalls++
	f.lastTerm = term
	f.lastKind = kind
	enter, release := f.enter, f.release
	err := f.err
	results := f.results
	f.mu.Unlock()

	if enter != nil {
		enter <- struct{}{}
		<-release
	}
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (f *fakeRemote) SearchLegacyRecords(_ context.Context, _ string) ([]records.PatientRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.legacyCalls++
	return f.legacy, nil
}

func (f *fakeRemote) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.searchCalls
}

func (f *fakeRemote) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastTerm
}

func patient(id, name, phone string) records.PatientRecord {
	return records.PatientRecord{ID: id, Name: name, Phone: phone}
}

func newTestAdapter(r *fakeRemote, online bool) (*Adapter, *Cache) {
	cache := NewCache(store.NewMemory())
	monitor := connectivity.NewManual(online)
	return NewAdapter(r, monitor, cache, zerolog.Nop()), cache
}

func TestSearchRemoteWarmsCache(t *testing.T) {
	fr := &fakeRemote{results: []records.PatientRecord{
		patient("pat-1", "Asha Rao", "9876543210"),
		patient("pat-2", "Ravi Kumar", "9876543299"),
	}}
	adapter, cache := newTestAdapter(fr, true)

	result, err := adapter.Search(context.Background(), "98765432", records.KindPhone)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if result.Source != SourceRemote {
		t.Fatalf("source = %q, want %q", result.Source, SourceRemote)
	}
	if len(result.Candidates) != 2 {
		t.Fatalf("got %d candidates, want 2", len(result.Candidates))
	}

	entry, err := cache.GetPrefix(context.Background(), records.KindPhone, "98765432")
	if err != nil {
		t.Fatalf("GetPrefix after search: %v", err)
	}
	if len(entry.Candidates) != 2 {
		t.Fatalf("cached %d candidates, want 2", len(entry.Candidates))
	}

	local, err := cache.SearchLocal(context.Background(), "9876543299", records.KindPhone)
	if err != nil {
		t.Fatalf("SearchLocal: %v", err)
	}
	if len(local) != 1 || local[0].ID != "pat-2" {
		t.Fatalf("warmed lookup = %+v, want pat-2", local)
	}
}

func TestSearchNetworkFailureFallsBackToCache(t *testing.T) {
	fr := &fakeRemote{err: &remote.NetworkError{Op: "search", Err: errors.New("connection refused")}}
	adapter, cache := newTestAdapter(fr, true)

	err := cache.PutPrefix(context.Background(), records.KindPhone, "98765432",
		[]records.PatientRecord{patient("pat-1", "Asha Rao", "9876543210")})
	if err != nil {
		t.Fatalf("PutPrefix: %v", err)
	}

	result, err := adapter.Search(context.Background(), "9876543210", records.KindPhone)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if result.Source != SourceCache {
		t.Fatalf("source = %q, want %q", result.Source, SourceCache)
	}
	if len(result.Candidates) != 1 || result.Candidates[0].ID != "pat-1" {
		t.Fatalf("candidates = %+v, want pat-1", result.Candidates)
	}
}

func TestSearchNetworkFailureEmptyCacheIsEmptyAnswer(t *testing.T) {
	fr := &fakeRemote{err: &remote.NetworkError{Op: "search", Err: errors.New("timeout")}}
	adapter, _ := newTestAdapter(fr, true)

	result, err := adapter.Search(context.Background(), "12345678", records.KindPhone)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if result.Source != SourceCache {
		t.Fatalf("source = %q, want %q", result.Source, SourceCache)
	}
	if len(result.Candidates) != 0 {
		t.Fatalf("got %d candidates from empty cache, want 0", len(result.Candidates))
	}
}

func TestSearchOfflineHintSkipsRemote(t *testing.T) {
	fr := &fakeRemote{results: []records.PatientRecord{patient("pat-1", "Asha Rao", "9876543210")}}
	adapter, _ := newTestAdapter(fr, false)

	result, err := adapter.Search(context.Background(), "Asha", records.KindName)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if fr.calls() != 0 {
		t.Fatalf("remote called %d times while offline, want 0", fr.calls())
	}
	if result.Source != SourceCache {
		t.Fatalf("source = %q, want %q", result.Source, SourceCache)
	}
}

func TestSearchServiceErrorIsSurfaced(t *testing.T) {
	fr := &fakeRemote{err: &remote.ServiceError{StatusCode: 503, Message: "index rebuilding"}}
	adapter, _ := newTestAdapter(fr, true)

	_, err := adapter.Search(context.Background(), "Asha", records.KindName)
	if !remote.IsService(err) {
		t.Fatalf("err = %v, want service error", err)
	}
}

func TestSearchEmptyTermRejected(t *testing.T) {
	adapter, _ := newTestAdapter(&fakeRemote{}, true)

	for _, kind := range []string{records.KindName, records.KindPhone} {
		_, err := adapter.Search(context.Background(), "   ", kind)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("kind %s: err = %v, want validation error", kind, err)
		}
	}
}

func TestSearchEmptyPhoneResultConsultsLegacyIndex(t *testing.T) {
	fr := &fakeRemote{legacy: []records.PatientRecord{patient("leg-1", "Old Record", "9876543210")}}
	adapter, _ := newTestAdapter(fr, true)

	result, err := adapter.Search(context.Background(), "9876543210", records.KindPhone)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if fr.legacyCalls != 1 {
		t.Fatalf("legacy index consulted %d times, want 1", fr.legacyCalls)
	}
	if len(result.Candidates) != 1 || result.Candidates[0].ID != "leg-1" {
		t.Fatalf("candidates = %+v, want leg-1", result.Candidates)
	}
}

func TestSearchLocalMatchesSecondaryPhone(t *testing.T) {
	cache := NewCache(store.NewMemory())
	secondary := "8001112222"
	rec := patient("pat-9", "Meena Iyer", "9998887777")
	rec.SecondaryPhone = &secondary
	if err := cache.PutPrefix(context.Background(), records.KindPhone, "99988877",
		[]records.PatientRecord{rec}); err != nil {
		t.Fatalf("PutPrefix: %v", err)
	}

	matches, err := cache.SearchLocal(context.Background(), "800111", records.KindPhone)
	if err != nil {
		t.Fatalf("SearchLocal: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "pat-9" {
		t.Fatalf("matches = %+v, want pat-9 via secondary phone", matches)
	}
}

func TestSearchLocalNameIsCaseInsensitive(t *testing.T) {
	cache := NewCache(store.NewMemory())
	if err := cache.PutPrefix(context.Background(), records.KindName, "asha",
		[]records.PatientRecord{patient("pat-1", "Asha Rao", "9876543210")}); err != nil {
		t.Fatalf("PutPrefix: %v", err)
	}

	matches, err := cache.SearchLocal(context.Background(), "aSHa r", records.KindName)
	if err != nil {
		t.Fatalf("SearchLocal: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
}
