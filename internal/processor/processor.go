// Package processor implements the process_topic protocol of spec §4.2:
// acquire the topic's lease, load any prior (rejected) attempts, generate
// an article, derive its deterministic metadata, gate it on quality,
// persist the result, and hand off to the markdown stage.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"contentpipe/internal/ai"
	"contentpipe/internal/blobstore"
	"contentpipe/internal/errs"
	"contentpipe/internal/lease"
	"contentpipe/internal/metadata"
	"contentpipe/internal/pipeline"
	"contentpipe/internal/queue"
)

type Processor struct {
	Blobs               *blobstore.Store
	Leases              *lease.Manager
	Generator           ai.Generator
	MarkdownQueue       *queue.Queue
	QualityRetryEnabled bool
	QualityThreshold    float64
	MaxAttempts         int
}

func articleBlobKey(topicID string) string {
	return fmt.Sprintf("articles/%s.json", topicID)
}

func attemptBlobKey(topicID string, attempt int) string {
	return fmt.Sprintf("articles/%s/attempt-%d.json", topicID, attempt)
}

// Process runs the full process_topic protocol for one topic message.
// Re-running it for a topic that already has a persisted article is
// idempotent: it returns the existing article unchanged rather than
// generating a new one (spec §8 P4 — "reprocessing a topic_id that already
// succeeded must not produce a second, different article").
func (p *Processor) Process(ctx context.Context, msg pipeline.TopicMessage, item pipeline.SourceItem) (pipeline.ProcessedArticle, error) {
	if existing, ok, err := p.loadExisting(msg.TopicID); err != nil {
		return pipeline.ProcessedArticle{}, err
	} else if ok {
		return existing, nil
	}

	held, err := p.Leases.Acquire(msg.TopicID, "processor-"+uuid.NewString())
	if err != nil {
		return pipeline.ProcessedArticle{}, err
	}
	stop := make(chan struct{})
	renewErrc := p.Leases.RenewLoop(held, stop)
	defer close(stop)

	priorAttempts, err := p.loadPriorAttempts(msg.TopicID)
	if err != nil {
		p.Leases.Release(held)
		return pipeline.ProcessedArticle{}, err
	}

	article, err := p.generateWithQualityGate(ctx, msg, item, priorAttempts)
	if err != nil {
		p.Leases.Release(held)
		return pipeline.ProcessedArticle{}, err
	}

	select {
	case renewErr := <-renewErrc:
		p.Leases.Release(held)
		return pipeline.ProcessedArticle{}, errs.Wrap("processor.Process", errs.SelfValidation, renewErr)
	default:
	}

	if err := p.persist(article); err != nil {
		p.Leases.Release(held)
		return pipeline.ProcessedArticle{}, err
	}

	payload, err := toPayload(pipeline.GenerateMarkdownPayload{
		ArticleBlob: articleBlobKey(msg.TopicID),
		TopicID:     msg.TopicID,
		Filename:    article.Filename,
	})
	if err != nil {
		p.Leases.Release(held)
		return pipeline.ProcessedArticle{}, err
	}
	if _, err := p.MarkdownQueue.Enqueue(pipeline.OpGenerateMarkdown, "processor", msg.TopicID, payload); err != nil {
		p.Leases.Release(held)
		return pipeline.ProcessedArticle{}, err
	}

	if err := p.Leases.Release(held); err != nil {
		return pipeline.ProcessedArticle{}, err
	}
	return article, nil
}

func (p *Processor) loadExisting(topicID string) (pipeline.ProcessedArticle, bool, error) {
	exists, err := p.Blobs.Exists(articleBlobKey(topicID))
	if err != nil {
		return pipeline.ProcessedArticle{}, false, errs.Wrap("processor.loadExisting", errs.Transient, err)
	}
	if !exists {
		return pipeline.ProcessedArticle{}, false, nil
	}
	body, _, err := p.Blobs.Get(articleBlobKey(topicID))
	if err != nil {
		return pipeline.ProcessedArticle{}, false, errs.Wrap("processor.loadExisting", errs.Transient, err)
	}
	var article pipeline.ProcessedArticle
	if err := json.Unmarshal(body, &article); err != nil {
		return pipeline.ProcessedArticle{}, false, errs.Wrap("processor.loadExisting", errs.Transient, err)
	}
	return article, true, nil
}

func (p *Processor) loadPriorAttempts(topicID string) ([]string, error) {
	keys, err := p.Blobs.List(fmt.Sprintf("articles/%s/", topicID))
	if err != nil {
		return nil, errs.Wrap("processor.loadPriorAttempts", errs.Transient, err)
	}
	attempts := make([]string, 0, len(keys))
	for _, key := range keys {
		body, _, err := p.Blobs.Get(key)
		if err != nil {
			continue
		}
		attempts = append(attempts, string(body))
	}
	return attempts, nil
}

// generateWithQualityGate calls the generator, optionally retrying up to
// MaxAttempts times when the draft's self-assessed quality falls below
// QualityThreshold (spec §9: quality-retry loop is permitted, gated by
// config.QualityRetryEnabled, not mandatory).
func (p *Processor) generateWithQualityGate(ctx context.Context, msg pipeline.TopicMessage, item pipeline.SourceItem, priorAttempts []string) (pipeline.ProcessedArticle, error) {
	maxAttempts := 1
	if p.QualityRetryEnabled && p.MaxAttempts > 1 {
		maxAttempts = p.MaxAttempts
	}

	var lastDraft ai.Draft
	var lastCosts pipeline.Costs
	attemptsSoFar := append([]string{}, priorAttempts...)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		draft, costs, err := p.Generator.GenerateArticle(ctx, item, attemptsSoFar)
		if err != nil {
			return pipeline.ProcessedArticle{}, err
		}
		lastDraft, lastCosts = draft, costs
		if draft.Quality >= p.QualityThreshold || attempt == maxAttempts {
			break
		}
		rejected, marshalErr := json.Marshal(draft)
		if marshalErr == nil {
			if _, putErr := p.Blobs.Put(attemptBlobKey(msg.TopicID, attempt), rejected); putErr == nil {
				attemptsSoFar = append(attemptsSoFar, string(rejected))
			}
		}
	}

	normalizedTitle, err := p.Generator.NormalizeTitle(ctx, lastDraft.Title)
	if err != nil {
		return pipeline.ProcessedArticle{}, err
	}

	processedAt := time.Now().UTC()
	slug := metadata.Slugify(normalizedTitle)
	filename := metadata.Filename(processedAt.Format("2006-01-02"), slug)
	article := pipeline.ProcessedArticle{
		ArticleID:       uuid.NewString(),
		OriginalTopicID: msg.TopicID,
		Title:           normalizedTitle,
		SEOTitle:        metadata.SEOTitle(normalizedTitle),
		MetaDescription: metadata.MetaDescription(lastDraft.Body),
		Slug:            slug,
		Filename:        filename,
		URL:             metadata.ArticleURL(filename),
		Content:         lastDraft.Body,
		WordCount:       wordCount(lastDraft.Body),
		QualityScore:    lastDraft.Quality,
		Metadata: pipeline.ArticleMetadata{
			Source:          msg.Source,
			Subreddit:       msg.Subreddit,
			ProcessedAt:     processedAt.Format(time.RFC3339),
			ContractVersion: "1",
		},
		Costs: lastCosts,
	}
	return article, nil
}

func (p *Processor) persist(article pipeline.ProcessedArticle) error {
	body, err := json.Marshal(article)
	if err != nil {
		return errs.Wrap("processor.persist", errs.Fatal, err)
	}
	if _, err := p.Blobs.Put(articleBlobKey(article.OriginalTopicID), body); err != nil {
		return errs.Wrap("processor.persist", errs.Transient, err)
	}
	return nil
}

func wordCount(body string) int {
	count := 0
	inWord := false
	for _, r := range body {
		isSpace := r == ' ' || r == '\n' || r == '\t' || r == '\r'
		if isSpace {
			inWord = false
			continue
		}
		if !inWord {
			count++
			inWord = true
		}
	}
	return count
}

func toPayload(v pipeline.GenerateMarkdownPayload) (pipeline.RawPayload, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, errs.Wrap("processor.toPayload", errs.Fatal, err)
	}
	var payload pipeline.RawPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errs.Wrap("processor.toPayload", errs.Fatal, err)
	}
	return payload, nil
}
