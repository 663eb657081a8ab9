package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/clinsync/clinsync/internal/platform/store"
	"github.com/clinsync/clinsync/pkg/records"
)

// PrefixEntry is the last remote result set fetched for a lookup
// prefix, kept for local filtering and offline fallback. Advisory
// only: a hit is never authoritative when a fresher remote answer is
// obtainable.
type PrefixEntry struct {
	Prefix     string                  `json:"prefix"`
	Candidates []records.PatientRecord `json:"candidates"`
	FetchedAt  time.Time               `json:"fetched_at"`
}

// Cache wraps the local store's search keyspaces: per-prefix result
// sets plus individually warmed patient records.
type Cache struct {
	store store.Store
}

func NewCache(s store.Store) *Cache {
	return &Cache{store: s}
}

// PutPrefix stores the result set fetched for prefix and warms each
// candidate into the per-patient cache for offline search. Concurrent
// writes from overlapping searches may race; last-writer-wins is fine
// for advisory data.
func (c *Cache) PutPrefix(ctx context.Context, kind, prefix string, candidates []records.PatientRecord) error {
	entry := PrefixEntry{Prefix: prefix, Candidates: candidates, FetchedAt: time.Now()}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode prefix entry: %w", err)
	}
	if err := c.store.Set(ctx, prefixKey(kind, prefix), payload); err != nil {
		return err
	}

	for _, p := range candidates {
		if p.ID == "" {
			continue
		}
		raw, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode patient %s: %w", p.ID, err)
		}
		if err := c.store.Set(ctx, store.CachedPatientKey(p.ID), raw); err != nil {
			return err
		}
	}
	return nil
}

// GetPrefix returns the cached result set for prefix, if any.
func (c *Cache) GetPrefix(ctx context.Context, kind, prefix string) (*PrefixEntry, error) {
	raw, err := c.store.Get(ctx, prefixKey(kind, prefix))
	if err != nil {
		return nil, err
	}
	var entry PrefixEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decode prefix entry %q: %w", prefix, err)
	}
	return &entry, nil
}

// SearchLocal scans the warmed patient records: phone terms match by
// digit containment (either phone), name terms case-insensitively.
// An empty result is a valid answer.
func (c *Cache) SearchLocal(ctx context.Context, term, kind string) ([]records.PatientRecord, error) {
	raw, err := c.store.List(ctx, store.CachedPatientPrefix)
	if err != nil {
		return nil, err
	}

	var matches []records.PatientRecord
	for _, val := range raw {
		var p records.PatientRecord
		if err := json.Unmarshal(val, &p); err != nil {
			continue // a corrupt cache entry must not break the search
		}
		if matchesTerm(&p, term, kind) {
			matches = append(matches, p)
		}
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Name < matches[j].Name })
	return matches, nil
}

func matchesTerm(p *records.PatientRecord, term, kind string) bool {
	switch kind {
	case records.KindPhone:
		digits := records.NormalizePhone(term)
		if strings.Contains(records.NormalizePhone(p.Phone), digits) {
			return true
		}
		if p.SecondaryPhone != nil && strings.Contains(records.NormalizePhone(*p.SecondaryPhone), digits) {
			return true
		}
		return false
	case records.KindName:
		return strings.Contains(records.NormalizeName(p.Name), records.NormalizeName(term))
	default:
		return false
	}
}

func prefixKey(kind, prefix string) string {
	if kind == records.KindPhone {
		return store.PhonePrefixKey(prefix)
	}
	return store.NamePrefixKey(prefix)
}
