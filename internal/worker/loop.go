package worker

import (
	"context"
	"log"
	"time"

	"contentpipe/internal/errs"
	"contentpipe/internal/queue"
)

// Handler processes one received message. A non-*errs.Error return is
// treated as Transient (errs.KindOf's default), so errors a handler did not
// classify still fall back to a safe retry. Panics are not recovered.
type Handler func(ctx context.Context, msg queue.Received) error

// Loop drains q with a bounded pool of concurrent workers — the
// "goroutine-per-message model with a bounded worker pool" of spec §5 —
// dispatching each received message to handle. It blocks until ctx is
// canceled.
func Loop(ctx context.Context, q *queue.Queue, maxConcurrency int, pollInterval time.Duration, logger *log.Logger, server *Server, handle Handler) {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	sem := make(chan struct{}, maxConcurrency)
	ownerID := "worker-" + time.Now().UTC().Format("20060102150405")

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		received, err := q.Receive(ctx, ownerID)
		if err != nil {
			logger.Printf("receive: %v", err)
			continue
		}
		if received == nil {
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		go func(r *queue.Received) {
			defer func() { <-sem }()
			runOne(ctx, q, r, logger, server, handle)
		}(received)
	}
}

func runOne(ctx context.Context, q *queue.Queue, r *queue.Received, logger *log.Logger, server *Server, handle Handler) {
	err := handle(ctx, *r)
	if err == nil {
		if ackErr := q.Ack(r); ackErr != nil {
			logger.Printf("ack %s: %v", r.Message.MessageID, ackErr)
		}
		if server != nil {
			server.RecordProcessed()
		}
		return
	}

	logger.Printf("handle %s (%s): %v", r.Message.MessageID, r.Message.Operation, err)
	if server != nil {
		server.RecordFailed()
	}
	switch errs.KindOf(err) {
	case errs.Fatal:
		log.Fatalf("fatal error processing %s: %v", r.Message.MessageID, err)
	default:
		if nackErr := q.Nack(r); nackErr != nil {
			logger.Printf("nack %s: %v", r.Message.MessageID, nackErr)
		}
	}
}
