// Package scaler implements the scale-to-zero decision of spec §5a: a
// pure function from queue depth to a replica count, plus an optional
// k8s.io/client-go-backed client that applies the decision to a
// Deployment's scale subresource. KEDA (or any other external scaler)
// remains the thing that actually watches queue depth and calls this;
// scaler only supplies the decision and, optionally, the mechanism to
// carry it out.
package scaler

// Config bounds the decision: only an empty queue scales the stage to zero;
// any positive depth gets ceil(depth/MinDepthPerReplica) replicas (at least
// one), capped at MaxReplicas.
type Config struct {
	MaxReplicas        int
	MinDepthPerReplica int // queue messages that justify one more replica
}

// Decide returns the replica count a stage should run at for the given
// queue depth. depth == 0 scales to zero (spec §1: "KEDA-driven
// scale-to-zero"); the publisher's cap of 1 (spec §4.4 "scale cap = 1") is
// expressed by the caller passing Config{MaxReplicas: 1}.
func Decide(depth int, cfg Config) int {
	if depth <= 0 {
		return 0
	}
	perReplica := cfg.MinDepthPerReplica
	if perReplica <= 0 {
		perReplica = 1
	}
	replicas := (depth + perReplica - 1) / perReplica
	if replicas < 1 {
		replicas = 1
	}
	if cfg.MaxReplicas > 0 && replicas > cfg.MaxReplicas {
		replicas = cfg.MaxReplicas
	}
	return replicas
}
