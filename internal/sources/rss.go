package sources

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"time"

	"contentpipe/internal/errs"
	"contentpipe/internal/pipeline"
)

// RSS fetches and parses a single feed. It carries no native score or
// comment count, so the collector's quality gate accepts every RSS item;
// no recency check is applied to this source kind.
type RSS struct {
	Deps
}

func (f *RSS) Kind() pipeline.SourceKind { return pipeline.SourceRSS }

func (f *RSS) Fetch(ctx context.Context, q Query) ([]pipeline.SourceItem, error) {
	if err := f.Limiter.Wait(ctx); err != nil {
		return nil, errs.Wrap("rss.Fetch", errs.Transient, err)
	}
	if q.Target == "" {
		return nil, errs.New("rss.Fetch", errs.Validation, fmt.Errorf("feed url is required"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.Target, nil)
	if err != nil {
		return nil, errs.Wrap("rss.Fetch", errs.Fatal, err)
	}
	req.Header.Set("User-Agent", f.Spec.UserAgent)
	req.Header.Set("Accept", f.Spec.Accept)

	resp, err := f.Client.Do(req)
	if err != nil {
		f.Limiter.OnFailure(ctx, nil)
		return nil, errs.Wrap("rss.Fetch", errs.Transient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		f.Limiter.OnFailure(ctx, resp.Header)
		return nil, errs.New("rss.Fetch", errs.Transient, fmt.Errorf("feed server error: %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, errs.New("rss.Fetch", errs.Validation, fmt.Errorf("feed request error: %d", resp.StatusCode))
	}
	f.Limiter.OnSuccess()

	var feed rssFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, errs.Wrap("rss.Fetch", errs.Validation, err)
	}

	limit := q.Limit
	if limit <= 0 || limit > len(feed.Channel.Items) {
		limit = len(feed.Channel.Items)
	}
	now := time.Now().UTC()
	items := make([]pipeline.SourceItem, 0, limit)
	for _, it := range feed.Channel.Items[:limit] {
		items = append(items, pipeline.SourceItem{
			ID:          it.GUID,
			Title:       it.Title,
			Content:     it.Description,
			URL:         it.Link,
			Source:      pipeline.SourceRSS,
			CollectedAt: now,
		})
	}
	return items, nil
}

type rssFeed struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	GUID        string `xml:"guid"`
}
