// Package store provides the durable key-value store backing the
// offline outbox and the patient search cache. Entries written here
// must survive a process restart without network access.
package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a key has no value.
var ErrNotFound = errors.New("store: key not found")

// StorageError wraps a failed store operation. A failed outbox write
// is the last line of defense for a registration, so callers surface
// it as a hard failure rather than swallowing it.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Store is a durable key-value store. Writes are atomic per key with
// last-writer-wins semantics; no cross-key transactions are offered.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// List returns all entries whose key starts with prefix.
	List(ctx context.Context, prefix string) (map[string][]byte, error)
}

// Key namespaces. The outbox and the cache share one store but never
// one prefix.
const (
	OutboxPrefix        = "outbox:"
	RejectedPrefix      = "rejected:"
	IDMapPrefix         = "idmap:"
	PhonePrefixKeyspace = "cache:phone:"
	NamePrefixKeyspace  = "cache:name:"
	CachedPatientPrefix = "cache:patient:"
)

// OutboxKey returns the store key for a queued registration.
func OutboxKey(id string) string { return OutboxPrefix + id }

// RejectedKey returns the store key for an entry the remote service
// rejected during a drain.
func RejectedKey(id string) string { return RejectedPrefix + id }

// IDMapKey returns the store key mapping a temporary offline id to
// its server-issued id.
func IDMapKey(tempID string) string { return IDMapPrefix + tempID }

// PhonePrefixKey returns the cache key for a fetched phone-prefix
// result set.
func PhonePrefixKey(prefix string) string { return PhonePrefixKeyspace + prefix }

// NamePrefixKey returns the cache key for a fetched name-search
// result set.
func NamePrefixKey(prefix string) string { return NamePrefixKeyspace + prefix }

// CachedPatientKey returns the cache key for a single warmed patient
// record.
func CachedPatientKey(id string) string { return CachedPatientPrefix + id }
