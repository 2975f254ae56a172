// Command markdowngen drains markdown-requests, rendering each processed
// article into YAML-front-matter markdown (spec §4.3).
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

	"contentpipe/internal/blobstore"
	"contentpipe/internal/config"
	"contentpipe/internal/errs"
	"contentpipe/internal/lease"
	"contentpipe/internal/markdowngen"
	"contentpipe/internal/pipeline"
	"contentpipe/internal/queue"
	"contentpipe/internal/worker"
)

func main() {
	logger := log.New(os.Stdout, "markdowngen ", log.LstdFlags|log.LUTC)
	cfg := config.FromEnv()

	blobs, err := blobstore.New(cfg.BlobRoot)
	if err != nil {
		logger.Fatalf("blobstore: %v", err)
	}
	leases := lease.New(blobs, cfg.LeaseTTL())
	inbound := queue.New(blobs, leases, "markdown-requests", cfg.MaxRedeliveries)
	publishQueue := queue.New(blobs, leases, "site-publish-requests", cfg.MaxRedeliveries)

	g := &markdowngen.Generator{Blobs: blobs, PublishQueue: publishQueue}

	srv := worker.NewServer("markdowngen", inbound, logger)
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

	worker.Loop(ctx, inbound, cfg.MaxConcurrency, cfg.PollInterval, logger, srv, handle(g))
	logger.Printf("shutting down...")
	_ = httpSrv.Close()
}

func handle(g *markdowngen.Generator) worker.Handler {
	return func(_ context.Context, received queue.Received) error {
		var payload pipeline.GenerateMarkdownPayload
		if err := decodePayload(received.Message.Payload, &payload); err != nil {
			return errs.Wrap("markdowngen.handle", errs.Validation, err)
		}
		return g.Render(payload.ArticleBlob, payload.TopicID, payload.Filename)
	}
}

func decodePayload(payload pipeline.RawPayload, v any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
