// Package lease implements the exclusive, time-bounded claim on a topic_id
// described in spec §4.5: a blob at leases/{topic_id} whose existence and
// expires_at field model the Free/Held/Expired state machine of Design
// Note §9, built entirely on blobstore's CAS primitives.
package lease

import (
	"encoding/json"
	"fmt"
	"time"

	"contentpipe/internal/blobstore"
	"contentpipe/internal/errs"
	"contentpipe/internal/pipeline"
)

// Manager acquires, renews, releases, and reclaims leases over topic ids.
type Manager struct {
	store *blobstore.Store
	ttl   time.Duration
	now   func() time.Time
}

// New returns a lease Manager backed by store with the given TTL.
func New(store *blobstore.Store, ttl time.Duration) *Manager {
	return &Manager{store: store, ttl: ttl, now: time.Now}
}

func key(topicID string) string {
	return "leases/" + topicID
}

// Held is a successfully acquired or renewed lease, carrying the etag
// needed to renew or release it.
type Held struct {
	Record pipeline.LeaseRecord
	ETag   string
}

// Acquire claims topic_id for ownerID. If the topic is already Held by a
// non-expired lease, it returns errs.RateLimited (spec §4.2 step 1: "the
// worker returns immediately — another worker owns the item"). If the
// existing lease is Expired, it reclaims it via if-match replace.
func (m *Manager) Acquire(topicID, ownerID string) (*Held, error) {
	const op = "lease.Acquire"
	now := m.now()
	record := pipeline.LeaseRecord{
		TopicID:       topicID,
		OwnerID:       ownerID,
		AcquiredAt:    now,
		ExpiresAt:     now.Add(m.ttl),
		AttemptNumber: 1,
	}
	body, err := json.Marshal(record)
	if err != nil {
		return nil, errs.New(op, errs.Fatal, err)
	}

	etag, createErr := m.store.CreateIfAbsent(key(topicID), body)
	if createErr == nil {
		return &Held{Record: record, ETag: etag}, nil
	}
	if createErr != blobstore.ErrExists {
		return nil, errs.New(op, errs.Transient, createErr)
	}

	// Free→Held failed because a blob is present: inspect it for Expired→Held.
	current, currentETag, getErr := m.store.Get(key(topicID))
	if getErr != nil {
		return nil, errs.New(op, errs.Transient, getErr)
	}
	var existing pipeline.LeaseRecord
	if err := json.Unmarshal(current, &existing); err != nil {
		return nil, errs.New(op, errs.Transient, fmt.Errorf("corrupt lease record: %w", err))
	}
	if now.Before(existing.ExpiresAt) || now.Equal(existing.ExpiresAt) {
		// Held by someone else and not yet expired: not an error, just lost the race.
		return nil, errs.New(op, errs.RateLimited, fmt.Errorf("topic %s held by %s until %s", topicID, existing.OwnerID, existing.ExpiresAt))
	}
	record.AttemptNumber = existing.AttemptNumber + 1
	body, err = json.Marshal(record)
	if err != nil {
		return nil, errs.New(op, errs.Fatal, err)
	}
	newETag, replaceErr := m.store.ReplaceIfMatch(key(topicID), currentETag, body)
	if replaceErr != nil {
		// Another worker reclaimed first; treat as "lost the race", not fatal.
		return nil, errs.New(op, errs.RateLimited, replaceErr)
	}
	return &Held{Record: record, ETag: newETag}, nil
}

// Renew extends a held lease's expiry by the manager's TTL, using if-match
// so a renewal after the lease has already been reclaimed fails loudly
// instead of silently clobbering the new owner.
func (m *Manager) Renew(h *Held) error {
	const op = "lease.Renew"
	h.Record.ExpiresAt = m.now().Add(m.ttl)
	body, err := json.Marshal(h.Record)
	if err != nil {
		return errs.New(op, errs.Fatal, err)
	}
	newETag, err := m.store.ReplaceIfMatch(key(h.Record.TopicID), h.ETag, body)
	if err != nil {
		if err == blobstore.ErrETagMismatch {
			return errs.New(op, errs.SelfValidation, fmt.Errorf("lease for %s was reclaimed during renewal", h.Record.TopicID))
		}
		return errs.New(op, errs.Transient, err)
	}
	h.ETag = newETag
	return nil
}

// Release deletes the lease blob, returning the topic to Free.
func (m *Manager) Release(h *Held) error {
	if err := m.store.Delete(key(h.Record.TopicID)); err != nil {
		return errs.New("lease.Release", errs.Transient, err)
	}
	return nil
}

// RenewLoop renews h at half the manager's TTL until stop is closed or a
// renewal fails, reporting failures on errc. Callers run this in its own
// goroutine alongside the long-running operation the lease protects (spec
// §4.5: "A worker renews at TTL/2").
func (m *Manager) RenewLoop(h *Held, stop <-chan struct{}) <-chan error {
	errc := make(chan error, 1)
	go func() {
		ticker := time.NewTicker(m.ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := m.Renew(h); err != nil {
					errc <- err
					return
				}
			}
		}
	}()
	return errc
}
