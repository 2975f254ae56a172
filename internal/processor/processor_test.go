package processor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"contentpipe/internal/ai"
	"contentpipe/internal/blobstore"
	"contentpipe/internal/lease"
	"contentpipe/internal/pipeline"
	"contentpipe/internal/queue"
)

type fakeGenerator struct {
	drafts     []ai.Draft
	calls      int
	normalized string
}

func (f *fakeGenerator) GenerateArticle(ctx context.Context, item pipeline.SourceItem, prior []string) (ai.Draft, pipeline.Costs, error) {
	d := f.drafts[f.calls]
	if f.calls < len(f.drafts)-1 {
		f.calls++
	}
	return d, pipeline.Costs{USD: 0.01, Model: "test", Tokens: 100}, nil
}

func (f *fakeGenerator) NormalizeTitle(ctx context.Context, title string) (string, error) {
	if f.normalized != "" {
		return f.normalized, nil
	}
	return title, nil
}

func newTestProcessor(t *testing.T, gen ai.Generator, qualityRetry bool, maxAttempts int) *Processor {
	t.Helper()
	dir := t.TempDir()
	blobs, err := blobstore.New(filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("blobstore.New: %v", err)
	}
	leases := lease.New(blobs, time.Minute)
	mdQueue := queue.New(blobs, leases, "markdown-requests", 5)
	return &Processor{
		Blobs:               blobs,
		Leases:              leases,
		Generator:           gen,
		MarkdownQueue:       mdQueue,
		QualityRetryEnabled: qualityRetry,
		QualityThreshold:    0.6,
		MaxAttempts:         maxAttempts,
	}
}

func TestProcessGeneratesAndEnqueuesMarkdown(t *testing.T) {
	gen := &fakeGenerator{drafts: []ai.Draft{{Title: "A Great Title", Body: "Body text here.", Quality: 0.9}}}
	p := newTestProcessor(t, gen, true, 3)

	msg := pipeline.TopicMessage{TopicID: "topic-1", Source: "reddit"}
	item := pipeline.SourceItem{Title: "Original", Content: "stuff"}

	article, err := p.Process(context.Background(), msg, item)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if article.Title != "A Great Title" || article.Slug == "" || article.Filename == "" {
		t.Fatalf("unexpected article: %+v", article)
	}

	depth, err := p.MarkdownQueue.Depth()
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if depth != 1 {
		t.Fatalf("expected 1 markdown message enqueued, got %d", depth)
	}
}

func TestProcessIsIdempotentOnReprocessing(t *testing.T) {
	gen := &fakeGenerator{drafts: []ai.Draft{{Title: "First", Body: "Body.", Quality: 0.9}}}
	p := newTestProcessor(t, gen, true, 3)

	msg := pipeline.TopicMessage{TopicID: "topic-2", Source: "reddit"}
	item := pipeline.SourceItem{Title: "Original", Content: "stuff"}

	first, err := p.Process(context.Background(), msg, item)
	if err != nil {
		t.Fatalf("first Process: %v", err)
	}

	gen.drafts = []ai.Draft{{Title: "Second", Body: "Different.", Quality: 0.9}}
	second, err := p.Process(context.Background(), msg, item)
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if second.ArticleID != first.ArticleID || second.Title != first.Title {
		t.Fatalf("expected idempotent reprocessing to return the same article, got %+v vs %+v", first, second)
	}
}

func TestProcessRetriesBelowQualityThreshold(t *testing.T) {
	gen := &fakeGenerator{drafts: []ai.Draft{
		{Title: "Weak", Body: "meh", Quality: 0.2},
		{Title: "Better", Body: "much improved content", Quality: 0.8},
	}}
	p := newTestProcessor(t, gen, true, 3)

	msg := pipeline.TopicMessage{TopicID: "topic-3", Source: "reddit"}
	item := pipeline.SourceItem{Title: "Original", Content: "stuff"}

	article, err := p.Process(context.Background(), msg, item)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if article.Title != "Better" {
		t.Fatalf("expected the retried draft to win, got %+v", article)
	}
	if article.QualityScore != 0.8 {
		t.Fatalf("expected quality score 0.8, got %v", article.QualityScore)
	}
}

// TestProcessSlugifiesNormalizedTitleNotRawDraft covers spec §8 scenario 2:
// a non-Latin-script draft title must be translated/transliterated before
// slug derivation, or two unrelated non-ASCII topics collapse onto the same
// "untitled" filename and silently overwrite each other.
func TestProcessSlugifiesNormalizedTitleNotRawDraft(t *testing.T) {
	gen := &fakeGenerator{
		drafts:     []ai.Draft{{Title: "米政権内の対中強硬派に焦り", Body: "body", Quality: 0.9}},
		normalized: "US administration hawks on China show concern",
	}
	p := newTestProcessor(t, gen, true, 3)

	msg := pipeline.TopicMessage{TopicID: "topic-cjk", Source: "reddit"}
	item := pipeline.SourceItem{Title: "Original", Content: "stuff"}

	article, err := p.Process(context.Background(), msg, item)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if article.Slug == "untitled" {
		t.Fatalf("expected slug derived from the normalized title, got %q", article.Slug)
	}
	if article.Title != gen.normalized {
		t.Fatalf("expected article title to be the normalized title, got %q", article.Title)
	}
}
