// Package config builds one explicit Config value per process at startup.
// No package-level settings object is read by any pipeline operation;
// every function that needs configuration takes it as a parameter.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every recognized option from spec §6, plus the ambient
// settings (blob root, listen address, poll interval) needed to run outside
// of a real cloud account.
type Config struct {
	BlobRoot string // local filesystem root standing in for the blob store

	DedupWindowDays     int
	LeaseTTLSeconds     int
	MaxBackoffSeconds   int
	RedditQPM           int
	MastodonQPM         int
	OpenAIQPM           int
	MinScoreReddit      int
	MinBoostsMastodon   int
	MaxArticlesPerRun   int
	BuildTimeoutSeconds int
	DisableAutoShutdown bool
	MaxRedeliveries     int
	MaxConcurrency      int
	QualityRetryEnabled bool
	QualityThreshold    float64

	PublishBuildBackend string // "exec" | "docker"

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	RedditSubreddits  []string // collector targets, comma-separated in env
	RedditAccessToken string
	MastodonInstance  string
	MastodonHashtags  []string
	RSSFeedURLs       []string

	KubeScaleTarget         string // "namespace/deployment"; empty disables the scale client
	ScaleMaxReplicas        int
	ScaleMinDepthPerReplica int
	ScaleCheckInterval      time.Duration

	ListenAddr   string // worker HTTP surface (spec §6: /health, /status, /wake)
	PollInterval time.Duration
}

// FromEnv builds a Config from the process environment, applying the
// documented defaults for anything unset. It never panics; callers decide
// whether a missing credential is fatal.
func FromEnv() Config {
	return Config{
		BlobRoot: env("PIPELINE_BLOB_ROOT", "./data/blobs"),

		DedupWindowDays:     envInt("DEDUP_WINDOW_DAYS", 14),
		LeaseTTLSeconds:     envInt("LEASE_TTL_SECONDS", 900),
		MaxBackoffSeconds:   envInt("MAX_BACKOFF_SECONDS", 300),
		RedditQPM:           envInt("REDDIT_QPM", 60),
		MastodonQPM:         envInt("MASTODON_QPM", 60),
		OpenAIQPM:           envInt("OPENAI_QPM", 60),
		MinScoreReddit:      envInt("MIN_SCORE_REDDIT", 25),
		MinBoostsMastodon:   envInt("MIN_BOOSTS_MASTODON", 5),
		MaxArticlesPerRun:   envInt("MAX_ARTICLES_PER_RUN", 100),
		BuildTimeoutSeconds: envInt("BUILD_TIMEOUT_SECONDS", 300),
		DisableAutoShutdown: envBool("DISABLE_AUTO_SHUTDOWN", false),
		MaxRedeliveries:     envInt("MAX_REDELIVERIES", 5),
		MaxConcurrency:      envInt("MAX_CONCURRENCY", 8),
		QualityRetryEnabled: envBool("QUALITY_RETRY_ENABLED", true),
		QualityThreshold:    envFloat("QUALITY_THRESHOLD", 0.55),

		PublishBuildBackend: env("PUBLISH_BUILD_BACKEND", "exec"),

		OpenAIAPIKey:  env("OPENAI_API_KEY", ""),
		OpenAIBaseURL: env("OPENAI_BASE_URL", "https://api.openai.com"),
		OpenAIModel:   env("OPENAI_MODEL", "gpt-4o-mini"),

		RedditSubreddits:  envList("REDDIT_SUBREDDITS", []string{"technology"}),
		RedditAccessToken: env("REDDIT_ACCESS_TOKEN", ""),
		MastodonInstance:  env("MASTODON_INSTANCE_URL", ""),
		MastodonHashtags:  envList("MASTODON_HASHTAGS", nil),
		RSSFeedURLs:       envList("RSS_FEED_URLS", nil),

		KubeScaleTarget:         env("KUBE_SCALE_TARGET", ""),
		ScaleMaxReplicas:        envInt("SCALE_MAX_REPLICAS", 10),
		ScaleMinDepthPerReplica: envInt("SCALE_MIN_DEPTH_PER_REPLICA", 5),
		ScaleCheckInterval:      time.Duration(envInt("SCALE_CHECK_INTERVAL_SECONDS", 30)) * time.Second,

		ListenAddr:   env("LISTEN_ADDR", ":8080"),
		PollInterval: time.Duration(envInt("POLL_INTERVAL_SECONDS", 5)) * time.Second,
	}
}

func (c Config) LeaseTTL() time.Duration {
	return time.Duration(c.LeaseTTLSeconds) * time.Second
}

func (c Config) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowDays) * 24 * time.Hour
}

func (c Config) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffSeconds) * time.Second
}

func (c Config) BuildTimeout() time.Duration {
	return time.Duration(c.BuildTimeoutSeconds) * time.Second
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return f
}

// envList splits a comma-separated env var, trimming whitespace and
// dropping empty entries. Returns def when the var is unset or blank.
func envList(key string, def []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func envBool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}
