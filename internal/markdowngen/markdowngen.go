// Package markdowngen implements the generate_markdown operation of spec
// §4.3: read a processed article blob, render YAML front-matter plus the
// article body, and write the result as a markdown blob — the same
// front-matter-then-body shape as the teacher's
// apps/ReleaseParty/backend/internal/releaseparty/generate.go, but with the
// front matter marshaled through gopkg.in/yaml.v3 instead of hand-rolled.
package markdowngen

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"contentpipe/internal/blobstore"
	"contentpipe/internal/errs"
	"contentpipe/internal/metadata"
	"contentpipe/internal/pipeline"
	"contentpipe/internal/queue"
)

type Generator struct {
	Blobs        *blobstore.Store
	PublishQueue *queue.Queue
}

func markdownBlobKey(filenameWithoutExt string) string {
	return fmt.Sprintf("markdown/%s.md", filenameWithoutExt)
}

// Render loads the article at articleBlobKey, writes its rendered markdown
// under markdown/{stem}.md — stem being the canonical date-slug filename
// with its extension stripped — and enqueues a publish_site trigger. The
// stem equals the URL's final path segment minus its ".html" by
// construction (spec §4.3
// invariant), since both derive from the same internal/metadata.Filename
// call made once in the processor.
func (g *Generator) Render(articleBlobKey, topicID, filename string) error {
	body, _, err := g.Blobs.Get(articleBlobKey)
	if err != nil {
		return errs.Wrap("markdowngen.Render", errs.Transient, err)
	}
	var article pipeline.ProcessedArticle
	if err := json.Unmarshal(body, &article); err != nil {
		return errs.Wrap("markdowngen.Render", errs.Transient, err)
	}

	front := pipeline.MarkdownFrontMatter{
		Title:   article.Title,
		Date:    article.Metadata.ProcessedAt,
		Slug:    article.Slug,
		URL:     article.URL,
		Source:  article.Metadata.Source,
		CostUSD: article.Costs.USD,
	}
	if front.Date == "" {
		front.Date = time.Now().UTC().Format(time.RFC3339)
	}

	frontMatterYAML, err := yaml.Marshal(front)
	if err != nil {
		return errs.Wrap("markdowngen.Render", errs.Fatal, err)
	}

	var doc strings.Builder
	doc.WriteString("---\n")
	doc.Write(frontMatterYAML)
	doc.WriteString("---\n\n")
	doc.WriteString(article.Content)
	doc.WriteString("\n")

	stem := metadata.Stem(filename)
	if _, err := g.Blobs.Put(markdownBlobKey(stem), []byte(doc.String())); err != nil {
		return errs.Wrap("markdowngen.Render", errs.Transient, err)
	}

	payload, err := toPayload(pipeline.PublishSitePayload{
		Trigger:   "generate_markdown:" + topicID,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if _, err := g.PublishQueue.Enqueue(pipeline.OpPublishSite, "markdowngen", topicID, payload); err != nil {
		return errs.Wrap("markdowngen.Render", errs.Transient, err)
	}
	return nil
}

func toPayload(v pipeline.PublishSitePayload) (pipeline.RawPayload, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, errs.Wrap("markdowngen.toPayload", errs.Fatal, err)
	}
	var payload pipeline.RawPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errs.Wrap("markdowngen.toPayload", errs.Fatal, err)
	}
	return payload, nil
}
