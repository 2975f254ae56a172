// Package pipeline holds the wire/blob data types shared by every stage:
// the entities of spec §3, serialized exactly as documented.
package pipeline

import "time"

// SourceKind tags which adapter produced a SourceItem. Dispatch from kind to
// adapter is a table lookup (internal/sources), not a type hierarchy.
type SourceKind string

const (
	SourceReddit   SourceKind = "reddit"
	SourceMastodon SourceKind = "mastodon"
	SourceRSS      SourceKind = "rss"
)

// SourceItem is a normalized external post, post-fetch, pre-quality-gate.
type SourceItem struct {
	ID             string            `json:"id"`
	Title          string            `json:"title"`
	Content        string            `json:"content"`
	URL            string            `json:"url,omitempty"`
	Source         SourceKind        `json:"source"`
	SourceMetadata map[string]string `json:"source_metadata,omitempty"`
	CollectedAt    time.Time         `json:"collected_at"`
	NativeScore    int               `json:"native_score"`
	CommentCount   int               `json:"comment_count"`
	Author         string            `json:"author,omitempty"`
}

// TopicMessage is the queue payload the collector emits to
// content-processing-requests — one per accepted item.
type TopicMessage struct {
	TopicID        string    `json:"topic_id"`
	Title          string    `json:"title"`
	Source         string    `json:"source"`
	URL            string    `json:"url,omitempty"`
	Upvotes        int       `json:"upvotes,omitempty"`
	Comments       int       `json:"comments,omitempty"`
	Subreddit      string    `json:"subreddit,omitempty"`
	CollectedAt    time.Time `json:"collected_at"`
	PriorityScore  float64   `json:"priority_score"`
	CollectionID   string    `json:"collection_id"`
	CollectionBlob string    `json:"collection_blob"`
}

// CollectionRecord is the audit blob written once per collector run.
type CollectionRecord struct {
	CollectionID string                  `json:"collection_id"`
	StartedAt    time.Time               `json:"started_at"`
	FinishedAt   time.Time               `json:"finished_at"`
	Items        []SourceItem            `json:"items"`
	SourceStatus map[string]SourceStatus `json:"source_status"`
	Stats        CollectStats            `json:"stats"`
}

// SourceStatus records per-source success/failure so a source outage fails
// only that source (spec §4.1 edge cases).
type SourceStatus struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Fetched int    `json:"fetched"`
}

// CollectStats is the return value of collector.Collect.
type CollectStats struct {
	Collected       int `json:"collected"`
	Published       int `json:"published"`
	RejectedQuality int `json:"rejected_quality"`
	RejectedDedup   int `json:"rejected_dedup"`
}

// Provenance records one step that contributed to a processed article (a
// research fragment, a model call, a prior attempt) for audit purposes.
type Provenance struct {
	Step      string    `json:"step"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Costs accumulates model spend for one topic across attempts.
type Costs struct {
	USD    float64 `json:"usd"`
	Model  string  `json:"model"`
	Tokens int     `json:"tokens"`
}

// ArticleMetadata is attached to a ProcessedArticle.
type ArticleMetadata struct {
	Source          string `json:"source"`
	Subreddit       string `json:"subreddit,omitempty"`
	ProcessedAt     string `json:"processed_at"`
	ContractVersion string `json:"contract_version"`
}

// ProcessedArticle is the processor's output — the single source of truth
// for slug/filename/url consumed by every downstream stage (spec §4.2).
type ProcessedArticle struct {
	ArticleID       string          `json:"article_id"`
	OriginalTopicID string          `json:"original_topic_id"`
	Title           string          `json:"title"`
	SEOTitle        string          `json:"seo_title"`
	MetaDescription string          `json:"meta_description,omitempty"`
	Slug            string          `json:"slug"`
	Filename        string          `json:"filename"`
	URL             string          `json:"url"`
	Content         string          `json:"content"`
	WordCount       int             `json:"word_count"`
	QualityScore    float64         `json:"quality_score"`
	Metadata        ArticleMetadata `json:"metadata"`
	Provenance      []Provenance    `json:"provenance,omitempty"`
	Costs           Costs           `json:"costs"`
}

// MarkdownFrontMatter is emitted above the article body (spec §4.3).
type MarkdownFrontMatter struct {
	Title   string   `yaml:"title"`
	Date    string   `yaml:"date"`
	Slug    string   `yaml:"slug"`
	URL     string   `yaml:"url"`
	Source  string   `yaml:"source"`
	Tags    []string `yaml:"tags,omitempty"`
	CostUSD float64  `yaml:"cost_usd,omitempty"`
}

// LeaseRecord is the body of the blob at leases/{topic_id}.
type LeaseRecord struct {
	TopicID       string    `json:"topic_id"`
	OwnerID       string    `json:"owner_id"`
	AcquiredAt    time.Time `json:"acquired_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	AttemptNumber int       `json:"attempt_number"`
}

// QueueMessage is the envelope of spec §6, shared by every queue.
type QueueMessage struct {
	MessageID     string     `json:"message_id"`
	Operation     string     `json:"operation"`
	ServiceName   string     `json:"service_name"`
	Timestamp     time.Time  `json:"timestamp"`
	CorrelationID string     `json:"correlation_id"`
	Payload       RawPayload `json:"payload"`
}

// RawPayload defers payload decoding to the operation-specific type.
type RawPayload = map[string]any

const (
	OpProcessTopic     = "process_topic"
	OpGenerateMarkdown = "generate_markdown"
	OpPublishSite      = "publish_site"
)

// GenerateMarkdownPayload is process_topic's downstream message payload.
type GenerateMarkdownPayload struct {
	ArticleBlob string `json:"article_blob"`
	TopicID     string `json:"topic_id"`
	Filename    string `json:"filename"`
}

// PublishSitePayload is content-agnostic; the publisher enumerates current
// markdown state itself.
type PublishSitePayload struct {
	Trigger   string    `json:"trigger"`
	Timestamp time.Time `json:"timestamp"`
}
