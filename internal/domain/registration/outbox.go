package registration

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/clinsync/clinsync/internal/platform/store"
	"github.com/clinsync/clinsync/pkg/records"
)

// Outbox is the durable queue of registrations accepted while the
// remote service was unreachable. Entries leave the queue only after
// the remote service acknowledges them.
type Outbox struct {
	store store.Store
}

func NewOutbox(s store.Store) *Outbox {
	return &Outbox{store: s}
}

// Put persists an entry. The patient and consultation travel inside
// one value, so the pair is written both-or-neither.
func (o *Outbox) Put(ctx context.Context, entry *records.OutboxEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode outbox entry: %w", err)
	}
	return o.store.Set(ctx, store.OutboxKey(entry.Key), payload)
}

// Get returns the entry queued under key, or store.ErrNotFound.
func (o *Outbox) Get(ctx context.Context, key string) (*records.OutboxEntry, error) {
	raw, err := o.store.Get(ctx, store.OutboxKey(key))
	if err != nil {
		return nil, err
	}
	var entry records.OutboxEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decode outbox entry %q: %w", key, err)
	}
	return &entry, nil
}

// List returns all queued entries, oldest first. Keys embed the
// queueing timestamp, so lexical order is chronological.
func (o *Outbox) List(ctx context.Context) ([]*records.OutboxEntry, error) {
	raw, err := o.store.List(ctx, store.OutboxPrefix)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]*records.OutboxEntry, 0, len(keys))
	for _, k := range keys {
		var entry records.OutboxEntry
		if err := json.Unmarshal(raw[k], &entry); err != nil {
			return nil, fmt.Errorf("decode outbox entry %q: %w", k, err)
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

// Remove deletes an acknowledged entry.
func (o *Outbox) Remove(ctx context.Context, key string) error {
	return o.store.Delete(ctx, store.OutboxKey(key))
}

// Reject parks an entry the remote service refused during a drain. A
// rejection is an acknowledgment, so the entry leaves the queue, but
// it is preserved for operator review instead of being dropped.
func (o *Outbox) Reject(ctx context.Context, entry *records.OutboxEntry, reason string) error {
	parked := struct {
		records.OutboxEntry
		Reason string `json:"reason"`
	}{OutboxEntry: *entry, Reason: reason}

	payload, err := json.Marshal(parked)
	if err != nil {
		return fmt.Errorf("encode rejected entry: %w", err)
	}
	if err := o.store.Set(ctx, store.RejectedKey(entry.Key), payload); err != nil {
		return err
	}
	return o.Remove(ctx, entry.Key)
}

// MapID records the server-issued id for a temporary offline id.
func (o *Outbox) MapID(ctx context.Context, tempID, serverID string) error {
	return o.store.Set(ctx, store.IDMapKey(tempID), []byte(serverID))
}

// ResolveID returns the server-issued id previously mapped for
// tempID, or store.ErrNotFound if the entry has not synced.
func (o *Outbox) ResolveID(ctx context.Context, tempID string) (string, error) {
	raw, err := o.store.Get(ctx, store.IDMapKey(tempID))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}
