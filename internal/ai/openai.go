// Package ai wraps the OpenAI chat-completions endpoint behind the small
// Generator interface the processor needs: one call to draft an article,
// one to normalize/translate a title to ASCII-safe English. Request/retry
// shape follows the teacher's httpx.SharedClient + netpolicy backoff
// pattern used throughout tools/si's *_cmd.go integrations, generalized
// from admin/usage endpoints to chat completions.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"contentpipe/internal/errs"
	"contentpipe/internal/httpx"
	"contentpipe/internal/pipeline"
	"contentpipe/internal/providers"
	"contentpipe/internal/ratelimit"
)

// Generator produces article drafts from a topic and model metadata about
// the call, decoupling the processor from the concrete OpenAI wire format.
type Generator interface {
	GenerateArticle(ctx context.Context, item pipeline.SourceItem, priorAttempts []string) (Draft, pipeline.Costs, error)
	NormalizeTitle(ctx context.Context, title string) (string, error)
}

// Draft is the model's raw output before metadata derivation.
type Draft struct {
	Title   string
	Body    string
	Quality float64 // self-assessed quality in [0,1], per spec §4.2 quality gate
}

type Client struct {
	Client  *http.Client
	Limiter *ratelimit.Limiter
	Spec    providers.Spec
	APIKey  string
	BaseURL string
	Model   string
}

func NewClient(apiKey, baseURL, model string, limiter *ratelimit.Limiter) *Client {
	spec := providers.Resolve(providers.OpenAI)
	if baseURL == "" {
		baseURL = spec.BaseURL
	}
	return &Client{
		Client:  httpx.SharedClient(120 * time.Second),
		Limiter: limiter,
		Spec:    spec,
		APIKey:  apiKey,
		BaseURL: baseURL,
		Model:   model,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

func (c *Client) do(ctx context.Context, messages []chatMessage) (string, pipeline.Costs, error) {
	if err := c.Limiter.Wait(ctx); err != nil {
		return "", pipeline.Costs{}, errs.Wrap("ai.Client.do", errs.Transient, err)
	}

	body, err := json.Marshal(chatRequest{Model: c.Model, Messages: messages})
	if err != nil {
		return "", pipeline.Costs{}, errs.Wrap("ai.Client.do", errs.Fatal, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", pipeline.Costs{}, errs.Wrap("ai.Client.do", errs.Fatal, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.Spec.UserAgent)

	resp, err := c.Client.Do(req)
	if err != nil {
		c.Limiter.OnFailure(ctx, nil)
		return "", pipeline.Costs{}, errs.Wrap("ai.Client.do", errs.Transient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		c.Limiter.OnFailure(ctx, resp.Header)
		return "", pipeline.Costs{}, errs.New("ai.Client.do", errs.RateLimited, fmt.Errorf("openai rate limited"))
	}
	if resp.StatusCode >= 500 {
		c.Limiter.OnFailure(ctx, resp.Header)
		return "", pipeline.Costs{}, errs.New("ai.Client.do", errs.Transient, fmt.Errorf("openai server error: %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return "", pipeline.Costs{}, errs.New("ai.Client.do", errs.Validation, fmt.Errorf("openai request error %d: %s", resp.StatusCode, raw))
	}
	c.Limiter.OnSuccess()

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", pipeline.Costs{}, errs.Wrap("ai.Client.do", errs.Transient, err)
	}
	if len(parsed.Choices) == 0 {
		return "", pipeline.Costs{}, errs.New("ai.Client.do", errs.SelfValidation, fmt.Errorf("openai returned no choices"))
	}
	costs := pipeline.Costs{
		USD:    estimateCostUSD(c.Model, parsed.Usage.TotalTokens),
		Model:  c.Model,
		Tokens: parsed.Usage.TotalTokens,
	}
	return parsed.Choices[0].Message.Content, costs, nil
}

// estimateCostUSD applies a flat per-1k-token rate; exact pricing is an
// external, frequently-changing input the processor does not need to be
// precise about (spec §4.2 treats costs as advisory telemetry).
func estimateCostUSD(model string, tokens int) float64 {
	perThousand := 0.002
	return float64(tokens) / 1000.0 * perThousand
}

func (c *Client) GenerateArticle(ctx context.Context, item pipeline.SourceItem, priorAttempts []string) (Draft, pipeline.Costs, error) {
	prompt := buildArticlePrompt(item, priorAttempts)
	content, costs, err := c.do(ctx, []chatMessage{
		{Role: "system", Content: articleSystemPrompt},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return Draft{}, costs, err
	}
	draft, err := parseDraft(content)
	if err != nil {
		return Draft{}, costs, errs.Wrap("ai.GenerateArticle", errs.SelfValidation, err)
	}
	return draft, costs, nil
}

func (c *Client) NormalizeTitle(ctx context.Context, title string) (string, error) {
	content, _, err := c.do(ctx, []chatMessage{
		{Role: "system", Content: "Translate the following title to English if needed and transliterate it to plain ASCII. Reply with only the title."},
		{Role: "user", Content: title},
	})
	if err != nil {
		return "", err
	}
	return content, nil
}

const articleSystemPrompt = `You are a technical writer producing a markdown article from a single source item. Respond as JSON: {"title":"...","body":"...","quality":0.0-1.0}.`

func buildArticlePrompt(item pipeline.SourceItem, priorAttempts []string) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Source title: %s\n", item.Title)
	fmt.Fprintf(&buf, "Source content: %s\n", item.Content)
	fmt.Fprintf(&buf, "Source URL: %s\n", item.URL)
	if len(priorAttempts) > 0 {
		fmt.Fprintf(&buf, "This topic was previously attempted %d time(s) and rejected for low quality. Improve substantially.\n", len(priorAttempts))
	}
	return buf.String()
}

type draftWire struct {
	Title   string  `json:"title"`
	Body    string  `json:"body"`
	Quality float64 `json:"quality"`
}

func parseDraft(content string) (Draft, error) {
	var w draftWire
	if err := json.Unmarshal([]byte(content), &w); err != nil {
		return Draft{}, fmt.Errorf("decode model draft: %w", err)
	}
	if w.Title == "" || w.Body == "" {
		return Draft{}, fmt.Errorf("model draft missing title or body")
	}
	return Draft{Title: w.Title, Body: w.Body, Quality: w.Quality}, nil
}
