package markdowngen

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"contentpipe/internal/blobstore"
	"contentpipe/internal/lease"
	"contentpipe/internal/pipeline"
	"contentpipe/internal/queue"
)

func newTestGenerator(t *testing.T) (*Generator, *blobstore.Store) {
	t.Helper()
	dir := t.TempDir()
	blobs, err := blobstore.New(filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("blobstore.New: %v", err)
	}
	leases := lease.New(blobs, time.Minute)
	publishQueue := queue.New(blobs, leases, "publish-requests", 5)
	return &Generator{Blobs: blobs, PublishQueue: publishQueue}, blobs
}

func putArticle(t *testing.T, blobs *blobstore.Store, key string, article pipeline.ProcessedArticle) {
	t.Helper()
	body, err := json.Marshal(article)
	if err != nil {
		t.Fatalf("marshal article: %v", err)
	}
	if _, err := blobs.Put(key, body); err != nil {
		t.Fatalf("put article: %v", err)
	}
}

func TestRenderWritesFrontMatterAndBody(t *testing.T) {
	g, blobs := newTestGenerator(t)
	article := pipeline.ProcessedArticle{
		ArticleID:       "art-1",
		OriginalTopicID: "topic-1",
		Title:           "A Great Title",
		Slug:            "a-great-title",
		Filename:        "2026-07-31-a-great-title.html",
		URL:             "/articles/2026-07-31-a-great-title.html",
		Content:         "This is the article body.",
		Metadata: pipeline.ArticleMetadata{
			Source:      "reddit",
			ProcessedAt: "2026-07-31T00:00:00Z",
		},
		Costs: pipeline.Costs{USD: 0.05, Model: "gpt-test", Tokens: 500},
	}
	putArticle(t, blobs, "articles/topic-1.json", article)

	if err := g.Render("articles/topic-1.json", "topic-1", article.Filename); err != nil {
		t.Fatalf("Render: %v", err)
	}

	body, _, err := blobs.Get("markdown/2026-07-31-a-great-title.md")
	if err != nil {
		t.Fatalf("Get rendered markdown: %v", err)
	}
	doc := string(body)
	if !strings.HasPrefix(doc, "---\n") {
		t.Fatalf("expected front matter fence at start, got %q", doc[:20])
	}
	if !strings.Contains(doc, "title: A Great Title") {
		t.Fatalf("expected title in front matter, got %s", doc)
	}
	if !strings.Contains(doc, "This is the article body.") {
		t.Fatalf("expected body content present, got %s", doc)
	}

	depth, err := g.PublishQueue.Depth()
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if depth != 1 {
		t.Fatalf("expected 1 publish message enqueued, got %d", depth)
	}
}

func TestRenderFilenameMatchesURLInvariant(t *testing.T) {
	g, blobs := newTestGenerator(t)
	article := pipeline.ProcessedArticle{
		OriginalTopicID: "topic-2",
		Title:           "Another Post",
		Slug:            "another-post",
		Filename:        "2026-07-31-another-post.html",
		URL:             "/articles/2026-07-31-another-post.html",
		Content:         "Body.",
		Metadata:        pipeline.ArticleMetadata{Source: "rss"},
	}
	putArticle(t, blobs, "articles/topic-2.json", article)

	if err := g.Render("articles/topic-2.json", "topic-2", article.Filename); err != nil {
		t.Fatalf("Render: %v", err)
	}

	stem := strings.TrimSuffix(article.Filename, ".html")
	if "/articles/"+stem+".html" != article.URL {
		t.Fatalf("stem %q does not match URL %q", stem, article.URL)
	}
	exists, err := blobs.Exists("markdown/" + stem + ".md")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists {
		t.Fatalf("expected markdown blob at markdown/%s.md", stem)
	}
}

func TestRenderDefaultsDateWhenMissing(t *testing.T) {
	g, blobs := newTestGenerator(t)
	article := pipeline.ProcessedArticle{
		OriginalTopicID: "topic-3",
		Title:           "No Date Post",
		Filename:        "2026-07-31-no-date-post.html",
		URL:             "/articles/2026-07-31-no-date-post.html",
		Content:         "Body text.",
		Metadata:        pipeline.ArticleMetadata{Source: "mastodon"},
	}
	putArticle(t, blobs, "articles/topic-3.json", article)

	if err := g.Render("articles/topic-3.json", "topic-3", article.Filename); err != nil {
		t.Fatalf("Render: %v", err)
	}

	body, _, err := blobs.Get("markdown/2026-07-31-no-date-post.md")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if strings.Contains(string(body), `date: ""`) {
		t.Fatalf("expected a non-empty default date, got %s", body)
	}
}
