package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"contentpipe/internal/errs"
	"contentpipe/internal/pipeline"
)

// Mastodon fetches a hashtag timeline from one instance. The instance host
// is per-query rather than fixed in Deps.Spec, since the spec treats
// Mastodon as federated (spec §4.1: "one or more Mastodon instances").
type Mastodon struct {
	Deps
}

func (m *Mastodon) Kind() pipeline.SourceKind { return pipeline.SourceMastodon }

var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

func (m *Mastodon) Fetch(ctx context.Context, q Query) ([]pipeline.SourceItem, error) {
	if err := m.Limiter.Wait(ctx); err != nil {
		return nil, errs.Wrap("mastodon.Fetch", errs.Transient, err)
	}
	if q.InstanceURL == "" {
		return nil, errs.New("mastodon.Fetch", errs.Validation, fmt.Errorf("instance url is required"))
	}
	limit := q.Limit
	if limit <= 0 || limit > 40 {
		limit = 40
	}
	endpoint := fmt.Sprintf("%s/api/v1/timelines/tag/%s?limit=%d", q.InstanceURL, url.PathEscape(q.Target), limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errs.Wrap("mastodon.Fetch", errs.Fatal, err)
	}
	req.Header.Set("User-Agent", m.Spec.UserAgent)
	req.Header.Set("Accept", m.Spec.Accept)

	resp, err := m.Client.Do(req)
	if err != nil {
		m.Limiter.OnFailure(ctx, nil)
		return nil, errs.Wrap("mastodon.Fetch", errs.Transient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		m.Limiter.OnFailure(ctx, resp.Header)
		return nil, errs.New("mastodon.Fetch", errs.RateLimited, fmt.Errorf("mastodon rate limited: %d", resp.StatusCode))
	}
	if resp.StatusCode >= 500 {
		m.Limiter.OnFailure(ctx, resp.Header)
		return nil, errs.New("mastodon.Fetch", errs.Transient, fmt.Errorf("mastodon server error: %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, errs.New("mastodon.Fetch", errs.Validation, fmt.Errorf("mastodon request error: %d", resp.StatusCode))
	}
	m.Limiter.OnSuccess()

	var statuses []mastodonStatus
	if err := json.NewDecoder(resp.Body).Decode(&statuses); err != nil {
		return nil, errs.Wrap("mastodon.Fetch", errs.Transient, err)
	}

	now := time.Now().UTC()
	items := make([]pipeline.SourceItem, 0, len(statuses))
	for _, s := range statuses {
		plain := html.UnescapeString(htmlTagPattern.ReplaceAllString(s.Content, ""))
		items = append(items, pipeline.SourceItem{
			ID:           s.ID,
			Title:        firstLine(plain),
			Content:      plain,
			URL:          s.URL,
			Source:       pipeline.SourceMastodon,
			CollectedAt:  now,
			NativeScore:  s.ReblogsCount + s.FavouritesCount,
			CommentCount: s.RepliesCount,
			Author:       s.Account.Acct,
		})
	}
	return items, nil
}

type mastodonStatus struct {
	ID              string `json:"id"`
	Content         string `json:"content"`
	URL             string `json:"url"`
	RepliesCount    int    `json:"replies_count"`
	ReblogsCount    int    `json:"reblogs_count"`
	FavouritesCount int    `json:"favourites_count"`
	Account         struct {
		Acct string `json:"acct"`
	} `json:"account"`
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	if len(s) > 120 {
		return s[:120]
	}
	return s
}
