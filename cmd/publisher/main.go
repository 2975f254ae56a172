// Command publisher drains site-publish-requests, building and deploying
// the static site from the current markdown set (spec §4.4).
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
	"contentpipe/internal/config"
	"contentpipe/internal/dockerbuild"
	"contentpipe/internal/lease"
	"contentpipe/internal/publisher"
	"contentpipe/internal/queue"
	"contentpipe/internal/worker"
)

func main() {
	logger := log.New(os.Stdout, "publisher ", log.LstdFlags|log.LUTC)
	cfg := config.FromEnv()

	blobs, err := blobstore.New(cfg.BlobRoot)
	if err != nil {
		logger.Fatalf("blobstore: %v", err)
	}
	leases := lease.New(blobs, cfg.LeaseTTL())
	inbound := queue.New(blobs, leases, "site-publish-requests", cfg.MaxRedeliveries)

	builder, err := buildBuilder(cfg)
	if err != nil {
		logger.Fatalf("builder: %v", err)
	}

	p := &publisher.Publisher{
		Blobs:         blobs,
		Leases:        leases,
		Builder:       builder,
		WorkDir:       filepath.Join(cfg.BlobRoot, "..", "publish-work"),
		BuildTimeout:  cfg.BuildTimeout(),
		ExpectedFiles: []string{"index.html"},
	}

	srv := worker.NewServer("publisher", inbound, logger)
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

	worker.Loop(ctx, inbound, 1, cfg.PollInterval, logger, srv, func(context.Context, queue.Received) error {
		result, err := p.Run()
		if err != nil {
			return err
		}
		logger.Printf("published %d files (backup: %s)", result.FilesDeployed, result.BackupPath)
		return nil
	})
	logger.Printf("shutting down...")
	_ = httpSrv.Close()
}

// buildBuilder picks ExecBuilder or DockerBuilder per PUBLISH_BUILD_BACKEND
// (spec §4.4 step 4: "a no-network sandbox if available").
func buildBuilder(cfg config.Config) (publisher.Builder, error) {
	if cfg.PublishBuildBackend != "docker" {
		return &publisher.ExecBuilder{
			Command: "site-generator",
			Timeout: cfg.BuildTimeout(),
		}, nil
	}
	client, err := dockerbuild.NewClient()
	if err != nil {
		return nil, err
	}
	return &publisher.DockerBuilder{
		Client:  client,
		Image:   "contentpipe-site-generator:latest",
		Command: []string{"--content", "/content", "--output", "/output"},
		Timeout: cfg.BuildTimeout(),
	}, nil
}
