// Package sources implements one SourceAdapter per upstream (reddit,
// mastodon, rss) dispatched through a small table, the same shape as the
// teacher's per-platform social_*_cmd.go files dispatched from social_cmd.go
// — here generalized from CLI subcommands to a fetch-and-normalize contract.
package sources

import (
	"context"
	"net/http"

	"contentpipe/internal/pipeline"
	"contentpipe/internal/providers"
	"contentpipe/internal/ratelimit"
)

// SourceAdapter fetches raw listings from one upstream and normalizes them
// into SourceItems, per spec §4.1 steps 1-2.
type SourceAdapter interface {
	Kind() pipeline.SourceKind
	Fetch(ctx context.Context, query Query) ([]pipeline.SourceItem, error)
}

// Query narrows a fetch to one source-specific target (a subreddit, a
// Mastodon instance + hashtag, an RSS feed URL).
type Query struct {
	Target      string // subreddit name, hashtag, or feed URL
	InstanceURL string // mastodon only: the instance host
	Limit       int
}

// Deps are the shared, already-constructed collaborators every adapter
// needs: an HTTP client, the dependency's rate limiter, and its provider
// spec. Adapters never construct their own client or limiter.
type Deps struct {
	Client  *http.Client
	Limiter *ratelimit.Limiter
	Spec    providers.Spec
}

// Registry dispatches by SourceKind, mirroring social_cmd.go's switch over
// socialPlatform but resolved once at startup instead of per CLI invocation.
type Registry map[pipeline.SourceKind]SourceAdapter

func NewRegistry(reddit, mastodon, rss SourceAdapter) Registry {
	return Registry{
		pipeline.SourceReddit:   reddit,
		pipeline.SourceMastodon: mastodon,
		pipeline.SourceRSS:      rss,
	}
}

func (r Registry) Resolve(kind pipeline.SourceKind) (SourceAdapter, bool) {
	a, ok := r[kind]
	return a, ok
}
