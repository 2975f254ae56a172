// Command processor drains content-processing-requests, turning each
// accepted topic into a drafted, quality-gated article (spec §4.2).
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"contentpipe/internal/ai"
	"contentpipe/internal/blobstore"
	"contentpipe/internal/config"
	"contentpipe/internal/errs"
	"contentpipe/internal/lease"
	"contentpipe/internal/pipeline"
	"contentpipe/internal/processor"
	"contentpipe/internal/queue"
	"contentpipe/internal/ratelimit"
	"contentpipe/internal/worker"
)

func main() {
	logger := log.New(os.Stdout, "processor ", log.LstdFlags|log.LUTC)
	cfg := config.FromEnv()

	blobs, err := blobstore.New(cfg.BlobRoot)
	if err != nil {
		logger.Fatalf("blobstore: %v", err)
	}
	leases := lease.New(blobs, cfg.LeaseTTL())
	inbound := queue.New(blobs, leases, "content-processing-requests", cfg.MaxRedeliveries)
	markdownQueue := queue.New(blobs, leases, "markdown-requests", cfg.MaxRedeliveries)

	openAILimiter := ratelimit.New(cfg.OpenAIQPM, 2*time.Second, cfg.MaxBackoff())
	generator := ai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, openAILimiter)

	p := &processor.Processor{
		Blobs:               blobs,
		Leases:              leases,
		Generator:           generator,
		MarkdownQueue:       markdownQueue,
		QualityRetryEnabled: cfg.QualityRetryEnabled,
		QualityThreshold:    cfg.QualityThreshold,
		MaxAttempts:         3,
	}

	srv := worker.NewServer("processor", inbound, logger)
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Printf("listening on %s", cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-stop
		cancel()
	}()

	worker.Loop(ctx, inbound, cfg.MaxConcurrency, cfg.PollInterval, logger, srv, handle(blobs, p))
	logger.Printf("shutting down...")
	_ = httpSrv.Close()
}

// handle decodes a process_topic message, reconstructs the SourceItem it
// names via msg.CollectionBlob, and runs it through the processor.
func handle(blobs *blobstore.Store, p *processor.Processor) worker.Handler {
	return func(ctx context.Context, received queue.Received) error {
		var msg pipeline.TopicMessage
		if err := decodePayload(received.Message.Payload, &msg); err != nil {
			return errs.Wrap("processor.handle", errs.Validation, err)
		}

		body, _, err := blobs.Get(msg.CollectionBlob)
		if err != nil {
			return errs.Wrap("processor.handle", errs.Transient, err)
		}
		var item pipeline.SourceItem
		if err := json.Unmarshal(body, &item); err != nil {
			return errs.Wrap("processor.handle", errs.Validation, err)
		}

		_, err = p.Process(ctx, msg, item)
		return err
	}
}

func decodePayload(payload pipeline.RawPayload, v any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
