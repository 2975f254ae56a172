// Package collector implements the collect operation of spec §4.1: fetch
// from every configured source, apply the per-source quality gate, drop
// duplicates, persist an audit record, and enqueue one process_topic
// message per accepted item.
package collector

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"contentpipe/internal/blobstore"
	"contentpipe/internal/dedup"
	"contentpipe/internal/pipeline"
	"contentpipe/internal/queue"
	"contentpipe/internal/sources"
)

// Target names one fetch the collector should perform: an adapter kind plus
// its query (a subreddit, a mastodon instance+hashtag, a feed URL).
type Target struct {
	Kind  pipeline.SourceKind
	Query sources.Query
}

// QualityGate decides whether an item clears the bar for the requests
// queue, per spec §4.1 ("native engagement signal must meet the configured
// minimum for its source").
type QualityGate struct {
	MinScoreReddit    int
	MinBoostsMastodon int
}

func (g QualityGate) Accepts(item pipeline.SourceItem) bool {
	switch item.Source {
	case pipeline.SourceReddit:
		return item.NativeScore >= g.MinScoreReddit
	case pipeline.SourceMastodon:
		return item.NativeScore >= g.MinBoostsMastodon
	case pipeline.SourceRSS:
		return true // RSS carries no native engagement signal; every item passes
	default:
		return false
	}
}

type Collector struct {
	Registry  sources.Registry
	Dedup     *dedup.Store
	Blobs     *blobstore.Store
	Queue     *queue.Queue
	Gate      QualityGate
	MaxPerRun int
	Logger    *log.Logger // optional; defaults to the standard logger
}

func (c *Collector) logf(format string, args ...any) {
	if c.Logger != nil {
		c.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// Collect runs one pass across targets and returns the run's stats. Each
// target's failure is recorded in SourceStatus and does not abort the other
// targets (spec §4.1 edge case: "a single source outage must not block
// collection from the others").
func (c *Collector) Collect(ctx context.Context, targets []Target) (pipeline.CollectStats, error) {
	record := pipeline.CollectionRecord{
		CollectionID: uuid.NewString(),
		StartedAt:    time.Now().UTC(),
		SourceStatus: map[string]pipeline.SourceStatus{},
	}

	var stats pipeline.CollectStats
	for _, target := range targets {
		adapter, ok := c.Registry.Resolve(target.Kind)
		if !ok {
			record.SourceStatus[string(target.Kind)] = pipeline.SourceStatus{OK: false, Error: "no adapter registered"}
			continue
		}
		items, err := adapter.Fetch(ctx, target.Query)
		status := pipeline.SourceStatus{OK: err == nil, Fetched: len(items)}
		if err != nil {
			status.Error = err.Error()
		}
		record.SourceStatus[string(target.Kind)] = status
		if err != nil {
			continue
		}
		record.Items = append(record.Items, items...)
		stats.Collected += len(items)
	}

	record.FinishedAt = time.Now().UTC()
	collectionBlobKey := fmt.Sprintf("collections/%s.json", record.CollectionID)
	if err := putJSON(c.Blobs, collectionBlobKey, record); err != nil {
		return stats, err
	}

	published := 0
	for _, item := range record.Items {
		if published >= c.MaxPerRun {
			break
		}
		if !c.Gate.Accepts(item) {
			stats.RejectedQuality++
			continue
		}
		hash := dedup.ContentHash(item.Title, item.Content)
		seen, err := c.Dedup.Seen(ctx, hash)
		if err != nil {
			// Fail-open: dedup-store errors must not abort the whole
			// collection run (spec.md:161, 233) — proceed without dedup
			// protection for this item rather than dropping every other
			// still-pending item/source in this Collect call.
			c.logf("collector: dedup seen check failed, proceeding without dedup: %v", err)
		} else if seen {
			stats.RejectedDedup++
			continue
		}

		topicID := uuid.NewString()
		// The full collection record holds every fetched item for audit, but
		// carries no topic_id linkage (topic ids are minted here, after the
		// record is already written). Each accepted item additionally gets
		// its own small blob keyed by topic_id, which is what downstream
		// process_topic.collection_blob actually points to — the processor
		// needs one item, not the whole run's audit trail.
		topicItemKey := fmt.Sprintf("collections/%s/topics/%s.json", record.CollectionID, topicID)
		if err := putJSON(c.Blobs, topicItemKey, item); err != nil {
			return stats, err
		}
		msg := pipeline.TopicMessage{
			TopicID:        topicID,
			Title:          item.Title,
			Source:         string(item.Source),
			URL:            item.URL,
			Upvotes:        item.NativeScore,
			Comments:       item.CommentCount,
			Subreddit:      item.SourceMetadata["subreddit"],
			CollectedAt:    item.CollectedAt,
			PriorityScore:  priorityScore(item),
			CollectionID:   record.CollectionID,
			CollectionBlob: topicItemKey,
		}
		payload, err := toPayload(msg)
		if err != nil {
			return stats, err
		}
		if _, err := c.Queue.Enqueue(pipeline.OpProcessTopic, "collector", topicID, payload); err != nil {
			return stats, err
		}
		// Mark the hash seen only after the message is durably enqueued
		// (spec.md:70, 161): if the process crashes between enqueue and
		// insert, a retried collection pass will simply see the hash as
		// unseen again and re-enqueue, which the queue's at-least-once
		// delivery already tolerates. Marking it first would risk
		// permanently, silently dropping the item on any retry.
		if err := c.Dedup.Insert(ctx, hash); err != nil {
			c.logf("collector: dedup insert failed, proceeding without dedup: %v", err)
		}
		published++
		stats.Published++
	}
	return stats, nil
}

// priorityScore ranks accepted items for downstream processing order: raw
// engagement normalized by a log scale so a single viral outlier doesn't
// starve every other topic (spec §4.1: "priority_score orders, it does not
// gate").
func priorityScore(item pipeline.SourceItem) float64 {
	engagement := float64(item.NativeScore) + float64(item.CommentCount)*0.5
	if engagement < 0 {
		engagement = 0
	}
	return logScale(engagement)
}

func logScale(v float64) float64 {
	if v <= 0 {
		return 0
	}
	scaled := 1.0
	for v >= 10 {
		v /= 10
		scaled++
	}
	return scaled + v/10
}
