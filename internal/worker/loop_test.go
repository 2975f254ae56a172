package worker

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"contentpipe/internal/blobstore"
	"contentpipe/internal/lease"
	"contentpipe/internal/pipeline"
	"contentpipe/internal/queue"
)

func TestLoopProcessesEnqueuedMessages(t *testing.T) {
	dir := t.TempDir()
	blobs, err := blobstore.New(filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("blobstore.New: %v", err)
	}
	leases := lease.New(blobs, time.Minute)
	q := queue.New(blobs, leases, "test-stage", 5)
	if _, err := q.Enqueue(pipeline.OpProcessTopic, "test", "corr-1", pipeline.RawPayload{"topic_id": "t1"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	var handled int32
	handler := func(ctx context.Context, msg queue.Received) error {
		atomic.AddInt32(&handled, 1)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	logger := log.New(os.Stderr, "test ", log.LstdFlags)
	Loop(ctx, q, 2, 20*time.Millisecond, logger, nil, handler)

	if atomic.LoadInt32(&handled) != 1 {
		t.Fatalf("expected exactly 1 message handled, got %d", handled)
	}
	depth, err := q.Depth()
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if depth != 0 {
		t.Fatalf("expected the acked message to be gone, got depth %d", depth)
	}
}
