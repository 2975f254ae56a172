// Command autoscaler polls one stage's queue depth and applies the
// scale-to-zero decision of spec §5a to its Kubernetes Deployment. It
// stands in for KEDA in environments where a ScaledObject isn't available;
// either mechanism calls the same scaler.Decide function.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"contentpipe/internal/blobstore"
	"contentpipe/internal/config"
	"contentpipe/internal/lease"
	"contentpipe/internal/queue"
	"contentpipe/internal/scaler"
)

func main() {
	logger := log.New(os.Stdout, "autoscaler ", log.LstdFlags|log.LUTC)
	cfg := config.FromEnv()
	if cfg.KubeScaleTarget == "" {
		logger.Fatalf("KUBE_SCALE_TARGET is required")
	}
	queueName := os.Getenv("SCALE_QUEUE_NAME")
	if queueName == "" {
		logger.Fatalf("SCALE_QUEUE_NAME is required")
	}

	blobs, err := blobstore.New(cfg.BlobRoot)
	if err != nil {
		logger.Fatalf("blobstore: %v", err)
	}
	leases := lease.New(blobs, cfg.LeaseTTL())
	q := queue.New(blobs, leases, queueName, cfg.MaxRedeliveries)

	client, deployment, err := scaler.NewScaleClient(cfg.KubeScaleTarget)
	if err != nil {
		logger.Fatalf("scale client: %v", err)
	}
	decideCfg := scaler.Config{MaxReplicas: cfg.ScaleMaxReplicas, MinDepthPerReplica: cfg.ScaleMinDepthPerReplica}

	ctx, cancel := context.WithCancel(context.Background())
	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-stop
		cancel()
	}()

	ticker := time.NewTicker(cfg.ScaleCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Printf("shutting down...")
			return
		case <-ticker.C:
			depth, err := q.Depth()
			if err != nil {
				logger.Printf("depth: %v", err)
				continue
			}
			replicas := scaler.Decide(depth, decideCfg)
			applyCtx, applyCancel := context.WithTimeout(ctx, 10*time.Second)
			err = client.Apply(applyCtx, deployment, replicas)
			applyCancel()
			if err != nil {
				logger.Printf("apply scale %d to %s: %v", replicas, deployment, err)
				continue
			}
			logger.Printf("queue %s depth=%d -> %s replicas=%d", queueName, depth, deployment, replicas)
		}
	}
}
