package dedup

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestSeenRejectsWithinWindow(t *testing.T) {
	ctx := context.Background()
	store, err := Open(filepath.Join(t.TempDir(), "dedup.db"), 14*24*time.Hour)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	hash := ContentHash("AI Breakthrough", "some body text")
	seen, err := store.Seen(ctx, hash)
	if err != nil || seen {
		t.Fatalf("expected unseen, got seen=%v err=%v", seen, err)
	}
	if err := store.Insert(ctx, hash); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	seen, err = store.Seen(ctx, hash)
	if err != nil || !seen {
		t.Fatalf("expected seen after insert, got seen=%v err=%v", seen, err)
	}
}

func TestSeenExpiresOutsideWindow(t *testing.T) {
	ctx := context.Background()
	store, err := Open(filepath.Join(t.TempDir(), "dedup.db"), time.Hour)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	fakeNow := time.Now()
	store.now = func() time.Time { return fakeNow }

	hash := ContentHash("Title", "body")
	if err := store.Insert(ctx, hash); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	fakeNow = fakeNow.Add(2 * time.Hour)
	seen, err := store.Seen(ctx, hash)
	if err != nil {
		t.Fatalf("Seen: %v", err)
	}
	if seen {
		t.Fatalf("expected hash to have fallen out of the window")
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	in := "  Hello, World!!  Foo-Bar.  "
	once := Normalize(in)
	twice := Normalize(once)
	if once != twice {
		t.Fatalf("Normalize not idempotent: %q vs %q", once, twice)
	}
}
