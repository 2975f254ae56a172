// Command collector runs the collect operation of spec §4.1 on a timer,
// exposing the shared worker HTTP surface (GET /health, /status, POST
// /wake) alongside it.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"contentpipe/internal/blobstore"
	"contentpipe/internal/collector"
	"contentpipe/internal/config"
	"contentpipe/internal/dedup"
	"contentpipe/internal/httpx"
	"contentpipe/internal/lease"
	"contentpipe/internal/pipeline"
	"contentpipe/internal/providers"
	"contentpipe/internal/queue"
	"contentpipe/internal/ratelimit"
	"contentpipe/internal/sources"
	"contentpipe/internal/worker"
)

func main() {
	logger := log.New(os.Stdout, "collector ", log.LstdFlags|log.LUTC)
	cfg := config.FromEnv()

	blobs, err := blobstore.New(cfg.BlobRoot)
	if err != nil {
		logger.Fatalf("blobstore: %v", err)
	}
	dedupStore, err := dedup.Open(filepath.Join(cfg.BlobRoot, "..", "dedup.db"), cfg.DedupWindow())
	if err != nil {
		logger.Fatalf("dedup: %v", err)
	}
	defer dedupStore.Close()
	leases := lease.New(blobs, cfg.LeaseTTL())
	processQueue := queue.New(blobs, leases, "content-processing-requests", cfg.MaxRedeliveries)
	selfQueue := queue.New(blobs, leases, "collector", cfg.MaxRedeliveries)

	redditLimiter := ratelimit.New(cfg.RedditQPM, 2*time.Second, cfg.MaxBackoff())
	mastodonLimiter := ratelimit.New(cfg.MastodonQPM, 2*time.Second, cfg.MaxBackoff())
	client := httpx.SharedClient(30 * time.Second)

	registry := sources.NewRegistry(
		&sources.Reddit{Deps: sources.Deps{Client: client, Limiter: redditLimiter, Spec: providers.Resolve(providers.Reddit)}, AccessToken: cfg.RedditAccessToken},
		&sources.Mastodon{Deps: sources.Deps{Client: client, Limiter: mastodonLimiter, Spec: providers.Resolve(providers.Mastodon)}},
		&sources.RSS{Deps: sources.Deps{Client: client, Limiter: ratelimit.New(60, 2*time.Second, cfg.MaxBackoff()), Spec: providers.Resolve(providers.RSS)}},
	)

	c := &collector.Collector{
		Registry:  registry,
		Dedup:     dedupStore,
		Blobs:     blobs,
		Queue:     processQueue,
		Gate:      collector.QualityGate{MinScoreReddit: cfg.MinScoreReddit, MinBoostsMastodon: cfg.MinBoostsMastodon},
		MaxPerRun: cfg.MaxArticlesPerRun,
		Logger:    logger,
	}
	targets := buildTargets(cfg)

	srv := worker.NewServer("collector", selfQueue, logger)
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

	// selfQueue only ever carries /wake-synthesized triggers (spec §6's
	// local test endpoint); any message on it just runs one more pass.
	go worker.Loop(ctx, selfQueue, 1, cfg.PollInterval, logger, srv, func(context.Context, queue.Received) error {
		runOnce(c, targets, srv, logger)
		return nil
	})

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Printf("shutting down...")
			_ = httpSrv.Close()
			return
		case <-ticker.C:
			runOnce(c, targets, srv, logger)
		}
	}
}

// runOnce triggers one collection pass, either from the timer or a /wake
// request landing in the collector's own queue (spec §6: "a local wake
// endpoint for manual/test triggers").
func runOnce(c *collector.Collector, targets []collector.Target, srv *worker.Server, logger *log.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	stats, err := c.Collect(ctx, targets)
	if err != nil {
		logger.Printf("collect: %v", err)
		srv.RecordFailed()
		return
	}
	srv.RecordProcessed()
	logger.Printf("collected=%d published=%d rejected_quality=%d rejected_dedup=%d",
		stats.Collected, stats.Published, stats.RejectedQuality, stats.RejectedDedup)
}

func buildTargets(cfg config.Config) []collector.Target {
	var targets []collector.Target
	for _, sub := range cfg.RedditSubreddits {
		targets = append(targets, collector.Target{Kind: pipeline.SourceReddit, Query: sources.Query{Target: sub, Limit: 100}})
	}
	for _, tag := range cfg.MastodonHashtags {
		if cfg.MastodonInstance == "" {
			continue
		}
		targets = append(targets, collector.Target{Kind: pipeline.SourceMastodon, Query: sources.Query{Target: tag, InstanceURL: cfg.MastodonInstance, Limit: 40}})
	}
	for _, feed := range cfg.RSSFeedURLs {
		targets = append(targets, collector.Target{Kind: pipeline.SourceRSS, Query: sources.Query{Target: feed}})
	}
	return targets
}
