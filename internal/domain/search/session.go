package search

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/clinsync/clinsync/pkg/records"
)

const (
	// PrefixThreshold is the digit count at which a phone term is
	// worth a remote fetch. Below it, only the already-fetched set is
	// filtered.
	PrefixThreshold = 8

	// DebounceInterval absorbs fast typing between fetch attempts.
	DebounceInterval = 300 * time.Millisecond
)

// DeliverFunc receives each answer for the term that produced it.
// Stale completions are discarded before delivery, so a later answer
// never overwrites a newer input's answer.
type DeliverFunc func(term string, result *Result, err error)

// Session serves a phone number being typed character by character.
// It issues at most one remote fetch per distinct 8-digit prefix and
// filters everything else from the last fetched set. Delivery may
// happen on the debounce timer's goroutine.
type Session struct {
	adapter  *Adapter
	deliver  DeliverFunc
	ctx      context.Context
	debounce time.Duration

	mu          sync.Mutex
	timer       *time.Timer
	current     string
	lastPrefix  string
	lastResults []records.PatientRecord
}

func NewSession(ctx context.Context, adapter *Adapter, deliver DeliverFunc) *Session {
	return &Session{
		adapter:  adapter,
		deliver:  deliver,
		ctx:      ctx,
		debounce: DebounceInterval,
	}
}

// Input feeds the latest typed value. A pending debounce timer is
// cleared whenever the input changes before it fires.
func (s *Session) Input(term string) {
	digits := records.NormalizePhone(term)

	s.mu.Lock()
	s.current = digits
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	if len(digits) < PrefixThreshold {
		result := s.filterLocked(digits)
		s.mu.Unlock()
		s.deliver(term, result, nil)
		return
	}

	prefix := digits[:PrefixThreshold]
	if prefix == s.lastPrefix {
		// Same prefix family: the cached set already covers it.
		result := s.filterLocked(digits)
		s.mu.Unlock()
		s.deliver(term, result, nil)
		return
	}

	s.timer = time.AfterFunc(s.debounce, func() { s.fetch(prefix) })
	s.mu.Unlock()
}

// Close cancels any pending fetch.
func (s *Session) Close() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
}

func (s *Session) fetch(prefix string) {
	s.mu.Lock()
	stale := !strings.HasPrefix(s.current, prefix)
	s.mu.Unlock()
	if stale {
		return
	}

	result, err := s.adapter.Search(s.ctx, prefix, records.KindPhone)

	s.mu.Lock()
	// The input may have moved to another prefix while the fetch was
	// in flight; a stale completion is discarded, not delivered.
	if !strings.HasPrefix(s.current, prefix) {
		s.mu.Unlock()
		return
	}
	current := s.current
	if err != nil {
		s.mu.Unlock()
		s.deliver(current, nil, err)
		return
	}

	s.lastPrefix = prefix
	s.lastResults = result.Candidates
	filtered := s.filterLocked(current)
	filtered.Source = result.Source
	s.mu.Unlock()

	s.deliver(current, filtered, nil)
}

// filterLocked narrows the last fetched set to entries containing the
// typed digits. Callers hold s.mu.
func (s *Session) filterLocked(digits string) *Result {
	result := &Result{Source: SourceCache}
	if digits == "" {
		return result
	}
	for _, p := range s.lastResults {
		if strings.Contains(records.NormalizePhone(p.Phone), digits) ||
			(p.SecondaryPhone != nil && strings.Contains(records.NormalizePhone(*p.SecondaryPhone), digits)) {
			result.Candidates = append(result.Candidates, p)
		}
	}
	return result
}
