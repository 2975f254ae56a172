package collector

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"contentpipe/internal/blobstore"
	"contentpipe/internal/dedup"
	"contentpipe/internal/lease"
	"contentpipe/internal/pipeline"
	"contentpipe/internal/queue"
	"contentpipe/internal/sources"
)

type fakeAdapter struct {
	kind  pipeline.SourceKind
	items []pipeline.SourceItem
	err   error
}

func (f *fakeAdapter) Kind() pipeline.SourceKind { return f.kind }
func (f *fakeAdapter) Fetch(ctx context.Context, q sources.Query) ([]pipeline.SourceItem, error) {
	return f.items, f.err
}

func newTestCollector(t *testing.T, registry sources.Registry, gate QualityGate, maxPerRun int) *Collector {
	t.Helper()
	dir := t.TempDir()
	blobs, err := blobstore.New(filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("blobstore.New: %v", err)
	}
	dedupStore, err := dedup.Open(filepath.Join(dir, "dedup.db"), 14*24*time.Hour)
	if err != nil {
		t.Fatalf("dedup.Open: %v", err)
	}
	t.Cleanup(func() { dedupStore.Close() })
	leases := lease.New(blobs, time.Minute)
	q := queue.New(blobs, leases, "content-processing-requests", 5)
	return &Collector{Registry: registry, Dedup: dedupStore, Blobs: blobs, Queue: q, Gate: gate, MaxPerRun: maxPerRun}
}

func TestCollectAppliesQualityGateAndDedup(t *testing.T) {
	now := time.Now().UTC()
	reddit := &fakeAdapter{kind: pipeline.SourceReddit, items: []pipeline.SourceItem{
		{ID: "1", Title: "Big News", Content: "body one", Source: pipeline.SourceReddit, NativeScore: 100, CollectedAt: now},
		{ID: "2", Title: "Small News", Content: "body two", Source: pipeline.SourceReddit, NativeScore: 1, CollectedAt: now},
		{ID: "3", Title: "Big News", Content: "body one", Source: pipeline.SourceReddit, NativeScore: 100, CollectedAt: now}, // duplicate content
	}}
	registry := sources.NewRegistry(reddit, nil, nil)
	c := newTestCollector(t, registry, QualityGate{MinScoreReddit: 25, MinBoostsMastodon: 5}, 10)

	stats, err := c.Collect(context.Background(), []Target{{Kind: pipeline.SourceReddit}})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if stats.Collected != 3 {
		t.Fatalf("expected 3 collected, got %d", stats.Collected)
	}
	if stats.Published != 1 {
		t.Fatalf("expected 1 published, got %d", stats.Published)
	}
	if stats.RejectedQuality != 1 {
		t.Fatalf("expected 1 rejected for quality, got %d", stats.RejectedQuality)
	}
	if stats.RejectedDedup != 1 {
		t.Fatalf("expected 1 rejected for dedup, got %d", stats.RejectedDedup)
	}

	depth, err := c.Queue.Depth()
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if depth != 1 {
		t.Fatalf("expected 1 queued message, got %d", depth)
	}
}

// TestCollectFailsOpenOnDedupError verifies a dedup-store error does not
// abort the run (spec.md:161, 233: "fail-open ... log and proceed") — the
// item must still be published even though dedup protection is unavailable.
func TestCollectFailsOpenOnDedupError(t *testing.T) {
	now := time.Now().UTC()
	reddit := &fakeAdapter{kind: pipeline.SourceReddit, items: []pipeline.SourceItem{
		{ID: "1", Title: "Still Goes Through", Content: "body", URL: "https://example.com/1", Source: pipeline.SourceReddit, NativeScore: 100, CollectedAt: now},
	}}
	registry := sources.NewRegistry(reddit, nil, nil)
	c := newTestCollector(t, registry, QualityGate{MinScoreReddit: 25}, 10)
	c.Dedup.Close() // force Seen/Insert to error

	stats, err := c.Collect(context.Background(), []Target{{Kind: pipeline.SourceReddit}})
	if err != nil {
		t.Fatalf("Collect should fail open on dedup error, got: %v", err)
	}
	if stats.Published != 1 {
		t.Fatalf("expected the item to publish despite the dedup error, got stats=%+v", stats)
	}
}

// TestCollectionBlobResolvesToSourceItem verifies that a processor reading
// msg.CollectionBlob off the queue gets back the exact accepted item, not
// the whole run's audit record (spec §4.2's process_topic handler needs one
// pipeline.SourceItem to reconstruct, not a full CollectionRecord).
func TestCollectionBlobResolvesToSourceItem(t *testing.T) {
	now := time.Now().UTC()
	reddit := &fakeAdapter{kind: pipeline.SourceReddit, items: []pipeline.SourceItem{
		{ID: "1", Title: "Big News", Content: "body one", URL: "https://example.com/1", Source: pipeline.SourceReddit, NativeScore: 100, CollectedAt: now},
	}}
	registry := sources.NewRegistry(reddit, nil, nil)
	c := newTestCollector(t, registry, QualityGate{MinScoreReddit: 25}, 10)

	if _, err := c.Collect(context.Background(), []Target{{Kind: pipeline.SourceReddit}}); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	received, err := c.Queue.Receive(context.Background(), "test-processor")
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if received == nil {
		t.Fatal("expected a queued message")
	}
	raw, err := json.Marshal(received.Message.Payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	var msg pipeline.TopicMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal TopicMessage: %v", err)
	}

	body, _, err := c.Blobs.Get(msg.CollectionBlob)
	if err != nil {
		t.Fatalf("Get(%s): %v", msg.CollectionBlob, err)
	}
	var item pipeline.SourceItem
	if err := json.Unmarshal(body, &item); err != nil {
		t.Fatalf("unmarshal SourceItem: %v", err)
	}
	if item.Title != "Big News" || item.URL != "https://example.com/1" {
		t.Fatalf("collection_blob did not round-trip the accepted item, got %+v", item)
	}
}

func TestCollectRecordsPerSourceFailureWithoutAbortingOthers(t *testing.T) {
	failing := &fakeAdapter{kind: pipeline.SourceReddit, err: context.DeadlineExceeded}
	ok := &fakeAdapter{kind: pipeline.SourceMastodon, items: []pipeline.SourceItem{
		{ID: "1", Title: "Toot", Content: "content", Source: pipeline.SourceMastodon, NativeScore: 10, CollectedAt: time.Now()},
	}}
	registry := sources.NewRegistry(failing, ok, nil)
	c := newTestCollector(t, registry, QualityGate{MinScoreReddit: 25, MinBoostsMastodon: 5}, 10)

	stats, err := c.Collect(context.Background(), []Target{
		{Kind: pipeline.SourceReddit},
		{Kind: pipeline.SourceMastodon},
	})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if stats.Collected != 1 || stats.Published != 1 {
		t.Fatalf("expected the healthy source to still publish, got %+v", stats)
	}
}

func TestCollectCapsAtMaxPerRun(t *testing.T) {
	var items []pipeline.SourceItem
	for i := 0; i < 5; i++ {
		items = append(items, pipeline.SourceItem{
			ID:          string(rune('a' + i)),
			Title:       "Title " + string(rune('a'+i)),
			Content:     "content " + string(rune('a'+i)),
			Source:      pipeline.SourceReddit,
			NativeScore: 100,
			CollectedAt: time.Now(),
		})
	}
	reddit := &fakeAdapter{kind: pipeline.SourceReddit, items: items}
	registry := sources.NewRegistry(reddit, nil, nil)
	c := newTestCollector(t, registry, QualityGate{MinScoreReddit: 25}, 2)

	stats, err := c.Collect(context.Background(), []Target{{Kind: pipeline.SourceReddit}})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if stats.Published != 2 {
		t.Fatalf("expected published capped at 2, got %d", stats.Published)
	}
}
