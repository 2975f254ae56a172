package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"contentpipe/internal/errs"
	"contentpipe/internal/pipeline"
)

// Reddit fetches a subreddit listing, the same request shape as the
// teacher's cmdSocialRedditSubredditPosts (GET /r/{sub}/{sort}) stripped of
// its CLI flag parsing and account/auth plumbing.
type Reddit struct {
	Deps
	AccessToken string
}

func (r *Reddit) Kind() pipeline.SourceKind { return pipeline.SourceReddit }

func (r *Reddit) Fetch(ctx context.Context, q Query) ([]pipeline.SourceItem, error) {
	if err := r.Limiter.Wait(ctx); err != nil {
		return nil, errs.Wrap("reddit.Fetch", errs.Transient, err)
	}
	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	endpoint := fmt.Sprintf("%s/r/%s/hot?limit=%d&raw_json=1", r.Spec.BaseURL, url.PathEscape(q.Target), limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errs.Wrap("reddit.Fetch", errs.Fatal, err)
	}
	req.Header.Set("User-Agent", r.Spec.UserAgent)
	req.Header.Set("Accept", r.Spec.Accept)
	if r.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.AccessToken)
	}

	resp, err := r.Client.Do(req)
	if err != nil {
		r.Limiter.OnFailure(ctx, nil)
		return nil, errs.Wrap("reddit.Fetch", errs.Transient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		r.Limiter.OnFailure(ctx, resp.Header)
		return nil, errs.New("reddit.Fetch", errs.RateLimited, fmt.Errorf("reddit rate limited: %d", resp.StatusCode))
	}
	if resp.StatusCode >= 500 {
		r.Limiter.OnFailure(ctx, resp.Header)
		return nil, errs.New("reddit.Fetch", errs.Transient, fmt.Errorf("reddit server error: %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, errs.New("reddit.Fetch", errs.Validation, fmt.Errorf("reddit request error: %d", resp.StatusCode))
	}
	r.Limiter.OnSuccess()

	var listing redditListing
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, errs.Wrap("reddit.Fetch", errs.Transient, err)
	}

	now := time.Now().UTC()
	items := make([]pipeline.SourceItem, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		d := child.Data
		items = append(items, pipeline.SourceItem{
			ID:           "t3_" + d.ID,
			Title:        d.Title,
			Content:      d.Selftext,
			URL:          "https://www.reddit.com" + d.Permalink,
			Source:       pipeline.SourceReddit,
			CollectedAt:  now,
			NativeScore:  d.Score,
			CommentCount: d.NumComments,
			Author:       d.Author,
			SourceMetadata: map[string]string{
				"subreddit": d.Subreddit,
			},
		})
	}
	return items, nil
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Selftext    string `json:"selftext"`
	Permalink   string `json:"permalink"`
	Score       int    `json:"score"`
	NumComments int    `json:"num_comments"`
	Author      string `json:"author"`
	Subreddit   string `json:"subreddit"`
}
