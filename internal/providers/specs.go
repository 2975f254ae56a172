// Package providers centralizes per-external-dependency defaults (base URL,
// user agent, Accept header, default headers) so source adapters and the OpenAI
// client don't each duplicate these constants.
package providers

// ID names one external dependency the rate limiter and retry policy key
// on (spec §4.5: "Per external dependency (OpenAI, Reddit, Mastodon)").
type ID string

const (
	Reddit   ID = "reddit"
	Mastodon ID = "mastodon"
	RSS      ID = "rss"
	OpenAI   ID = "openai"
)

// Spec is a provider's fixed request shape.
type Spec struct {
	BaseURL        string
	UserAgent      string
	Accept         string
	DefaultHeaders map[string]string
}

var Specs = map[ID]Spec{
	Reddit: {
		BaseURL:   "https://oauth.reddit.com",
		UserAgent: "contentpipe-collector/1.0",
		Accept:    "application/json",
	},
	Mastodon: {
		BaseURL:   "", // per-instance; caller supplies the instance host
		UserAgent: "contentpipe-collector/1.0",
		Accept:    "application/json",
	},
	RSS: {
		UserAgent: "contentpipe-collector/1.0",
		Accept:    "application/rss+xml, application/xml, text/xml",
	},
	OpenAI: {
		BaseURL:   "https://api.openai.com",
		UserAgent: "contentpipe-processor/1.0",
		Accept:    "application/json",
		DefaultHeaders: map[string]string{
			"Content-Type": "application/json",
		},
	},
}

// Resolve returns the Spec for id, or the zero Spec if unknown.
func Resolve(id ID) Spec {
	return Specs[id]
}
