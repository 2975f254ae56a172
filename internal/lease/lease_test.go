package lease

import (
	"path/filepath"
	"testing"
	"time"

	"contentpipe/internal/blobstore"
	"contentpipe/internal/errs"
)

func newTestManager(t *testing.T, ttl time.Duration) *Manager {
	t.Helper()
	store, err := blobstore.New(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatalf("blobstore.New: %v", err)
	}
	return New(store, ttl)
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	m := newTestManager(t, time.Minute)

	held, err := m.Acquire("topic-1", "worker-a")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if held.Record.OwnerID != "worker-a" || held.Record.AttemptNumber != 1 {
		t.Fatalf("unexpected lease record: %+v", held.Record)
	}

	if err := m.Release(held); err != nil {
		t.Fatalf("Release: %v", err)
	}

	// Free again: a second worker can now acquire the same topic.
	held2, err := m.Acquire("topic-1", "worker-b")
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	if held2.Record.OwnerID != "worker-b" {
		t.Fatalf("expected worker-b to win the freed lease, got %+v", held2.Record)
	}
}

// TestAcquireRejectsHeldUnexpiredLease covers spec §4.5's P2 exclusion
// invariant: a second worker must not acquire a topic already held by a
// non-expired lease.
func TestAcquireRejectsHeldUnexpiredLease(t *testing.T) {
	m := newTestManager(t, time.Minute)

	if _, err := m.Acquire("topic-2", "worker-a"); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	_, err := m.Acquire("topic-2", "worker-b")
	if err == nil {
		t.Fatal("expected the second Acquire to fail while the lease is held and unexpired")
	}
	if errs.KindOf(err) != errs.RateLimited {
		t.Fatalf("expected errs.RateLimited, got %v (%v)", errs.KindOf(err), err)
	}
}

// TestAcquireReclaimsExpiredLease exercises the Expired→Held reclamation
// path: once the held lease's TTL has elapsed, a different worker must be
// able to take it over via the if-match replace.
func TestAcquireReclaimsExpiredLease(t *testing.T) {
	m := newTestManager(t, time.Minute)
	start := time.Now().UTC()
	m.now = func() time.Time { return start }

	first, err := m.Acquire("topic-3", "worker-a")
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	if first.Record.AttemptNumber != 1 {
		t.Fatalf("expected attempt 1, got %d", first.Record.AttemptNumber)
	}

	// Advance time past the TTL without worker-a renewing or releasing.
	m.now = func() time.Time { return start.Add(2 * time.Minute) }

	second, err := m.Acquire("topic-3", "worker-b")
	if err != nil {
		t.Fatalf("expected reclamation of the expired lease to succeed, got: %v", err)
	}
	if second.Record.OwnerID != "worker-b" {
		t.Fatalf("expected worker-b to reclaim, got %+v", second.Record)
	}
	if second.Record.AttemptNumber != 2 {
		t.Fatalf("expected AttemptNumber to increment across reclamation, got %d", second.Record.AttemptNumber)
	}

	// worker-a's stale Held is now invalid: renewing it must fail loudly
	// rather than clobber worker-b's lease (if-match on the old etag).
	if err := m.Renew(first); err == nil {
		t.Fatal("expected Renew on a reclaimed lease to fail")
	} else if errs.KindOf(err) != errs.SelfValidation {
		t.Fatalf("expected errs.SelfValidation, got %v (%v)", errs.KindOf(err), err)
	}
}

func TestRenewExtendsExpiry(t *testing.T) {
	m := newTestManager(t, time.Minute)
	start := time.Now().UTC()
	m.now = func() time.Time { return start }

	held, err := m.Acquire("topic-4", "worker-a")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	firstExpiry := held.Record.ExpiresAt

	m.now = func() time.Time { return start.Add(30 * time.Second) }
	if err := m.Renew(held); err != nil {
		t.Fatalf("Renew: %v", err)
	}
	if !held.Record.ExpiresAt.After(firstExpiry) {
		t.Fatalf("expected Renew to push ExpiresAt forward, got %v (was %v)", held.Record.ExpiresAt, firstExpiry)
	}

	// A lease another worker cannot yet reclaim after a renewal, since the
	// renewed expiry is still in the future relative to "now".
	if _, err := m.Acquire("topic-4", "worker-b"); err == nil {
		t.Fatal("expected Acquire by another worker to fail against a freshly renewed lease")
	}
}

// TestRenewLoopStopsCleanly confirms RenewLoop renews on its ticker and
// exits without reporting an error once stop is closed.
func TestRenewLoopStopsCleanly(t *testing.T) {
	m := newTestManager(t, 40*time.Millisecond)

	held, err := m.Acquire("topic-5", "worker-a")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	stop := make(chan struct{})
	errc := m.RenewLoop(held, stop)

	time.Sleep(150 * time.Millisecond) // several TTL/2 ticks
	close(stop)

	select {
	case err := <-errc:
		t.Fatalf("expected no renewal error before stop, got: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	if err := m.Release(held); err != nil {
		t.Fatalf("Release after renew loop: %v", err)
	}
}

// TestRenewLoopReportsReclamation verifies that once another worker reclaims
// an expired lease, the original owner's RenewLoop observes the failure on
// errc instead of silently renewing a lease it no longer owns. Two Managers
// share one store but each has its own fixed `now`, set once at
// construction, so neither goroutine mutates shared state concurrently.
func TestRenewLoopReportsReclamation(t *testing.T) {
	store, err := blobstore.New(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatalf("blobstore.New: %v", err)
	}
	start := time.Now().UTC()
	ttl := 20 * time.Millisecond

	owner := New(store, ttl)
	owner.now = func() time.Time { return start } // never advances: renews always look valid to its own clock

	reclaimer := New(store, ttl)
	reclaimer.now = func() time.Time { return start.Add(time.Hour) } // sees the lease as long expired

	held, err := owner.Acquire("topic-6", "worker-a")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	stop := make(chan struct{})
	defer close(stop)
	errc := owner.RenewLoop(held, stop)

	if _, err := reclaimer.Acquire("topic-6", "worker-b"); err != nil {
		t.Fatalf("expected worker-b to reclaim the expired lease: %v", err)
	}

	select {
	case err := <-errc:
		if errs.KindOf(err) != errs.SelfValidation {
			t.Fatalf("expected errs.SelfValidation from RenewLoop, got %v (%v)", errs.KindOf(err), err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected RenewLoop to report the reclamation")
	}
}
