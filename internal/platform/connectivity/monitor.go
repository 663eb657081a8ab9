// Package connectivity tracks whether the remote clinic backend is
// reachable and exposes the answer as an observable boolean. The
// online value is a hint: an online-reported call can still fail with
// a network error, and callers must handle that exactly as if the
// monitor had said offline.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Monitor is the connectivity hint consumed by the search adapter, the
// registration coordinator and the sync reconciler.
type Monitor interface {
	Online() bool
	// Subscribe registers fn for connectivity transitions. fn is
	// invoked with the new state. The returned function cancels the
	// subscription.
	Subscribe(fn func(online bool)) (cancel func())
}

type subscribers struct {
	mu     sync.Mutex
	online bool
	nextID int
	subs   map[int]func(online bool)
}

func newSubscribers(online bool) *subscribers {
	return &subscribers{online: online, subs: make(map[int]func(bool))}
}

// Online reports the current hint.
func (s *subscribers) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Subscribe registers fn for transitions and returns its cancel.
func (s *subscribers) Subscribe(fn func(online bool)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// set updates the state and notifies subscribers on a transition.
func (s *subscribers) set(online bool) {
	s.mu.Lock()
	if s.online == online {
		s.mu.Unlock()
		return
	}
	s.online = online
	fns := make([]func(bool), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
}

// Probe polls the remote service's health endpoint and flips the hint
// on reported call outcomes in between polls.
type Probe struct {
	*subscribers
	healthURL string
	interval  time.Duration
	client    *http.Client
	log       zerolog.Logger
}

// NewProbe builds a monitor that checks healthURL every interval.
// The monitor starts optimistic (online) until the first probe says
// otherwise.
func NewProbe(healthURL string, interval time.Duration, log zerolog.Logger) *Probe {
	return &Probe{
		subscribers: newSubscribers(true),
		healthURL:   healthURL,
		interval:    interval,
		client:      &http.Client{Timeout: 5 * time.Second},
		log:         log,
	}
}

// Start runs the probe loop until ctx is cancelled. Run it in its own
// goroutine.
func (p *Probe) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.check(ctx)
		}
	}
}

func (p *Probe) check(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.healthURL, nil)
	if err != nil {
		p.log.Error().Err(err).Msg("connectivity probe misconfigured")
		return
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.transition(false)
		return
	}
	resp.Body.Close()
	// Any response proves the service is reachable; its status code
	// is the health endpoint's business, not the transport's.
	p.transition(true)
}

// ReportFailure flips the hint to offline immediately. Callers invoke
// it when a remote call fails with a network-class error so the next
// operation does not wait a full probe interval to learn the truth.
func (p *Probe) ReportFailure() { p.transition(false) }

// ReportSuccess flips the hint back to online after a call got
// through.
func (p *Probe) ReportSuccess() { p.transition(true) }

func (p *Probe) transition(online bool) {
	was := p.Online()
	p.set(online)
	if was != online {
		p.log.Info().Bool("online", online).Msg("connectivity changed")
	}
}

// Manual is a monitor whose state is set by hand. Used by one-shot
// CLI commands and tests.
type Manual struct {
	*subscribers
}

// NewManual returns a Manual monitor in the given initial state.
func NewManual(online bool) *Manual {
	return &Manual{subscribers: newSubscribers(online)}
}

// Set updates the state, notifying subscribers on a transition.
func (m *Manual) Set(online bool) { m.set(online) }
