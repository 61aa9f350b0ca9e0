// Package embedding provides the HTTP client for the embedding gateway.
// The gateway speaks the Ollama embeddings API. Outbound calls are rate
// limited, guarded by a circuit breaker, and retried with backoff; every
// failure surfaces as domain.ErrEmbeddingUnavailable so callers can
// distinguish "service down" from "no evidence found".
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/acessolabs/lai-engine/engine/domain"
	"github.com/acessolabs/lai-engine/pkg/fn"
	"github.com/acessolabs/lai-engine/pkg/resilience"
)

// Opts configures the client. Zero values take the defaults below.
type Opts struct {
	// RequestTimeout bounds each HTTP call.
	RequestTimeout time.Duration
	// RatePerSecond bounds outbound calls; Burst allows short spikes.
	RatePerSecond float64
	Burst         int
	Retry         fn.RetryOpts
	Breaker       resilience.BreakerOpts
}

func (o Opts) withDefaults() Opts {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 10 * time.Second
	}
	if o.RatePerSecond <= 0 {
		o.RatePerSecond = 20
	}
	if o.Burst <= 0 {
		o.Burst = 5
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry = fn.DefaultRetry
	}
	return o
}

// Client calls the embedding gateway.
type Client struct {
	baseURL string
	model   string
	http    *http.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	retry   fn.RetryOpts
}

// New creates an embedding client for an Ollama-compatible gateway.
func New(baseURL, model string, opts Opts) *Client {
	opts = opts.withDefaults()
	return &Client{
		baseURL: baseURL,
		model:   model,
		http:    &http.Client{Timeout: opts.RequestTimeout},
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		breaker: resilience.NewBreaker(opts.Breaker),
		retry:   opts.Retry,
	}
}

type embedReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResp struct {
	Embedding []float64 `json:"embedding"`
}

// Embed returns the vector for text. Deterministic for identical input.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	result := fn.Retry(ctx, c.retry, func(ctx context.Context) fn.Result[[]float32] {
		var vec []float32
		err := c.breaker.Call(ctx, func(ctx context.Context) error {
			var callErr error
			vec, callErr = c.embed(ctx, text)
			return callErr
		})
		return fn.FromPair(vec, err)
	})

	vec, err := result.Unwrap()
	if err != nil {
		return nil, fmt.Errorf("embedding: %w: %w", domain.ErrEmbeddingUnavailable, err)
	}
	return vec, nil
}

// EmbedBatch embeds texts in order. One failed text fails the batch; the
// ingest path relies on vectors lining up with its records index-for-index.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := c.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedding: batch [%d]: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

func (c *Client) embed(ctx context.Context, text string) ([]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, _ := json.Marshal(embedReq{Model: c.model, Prompt: text})
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway status %d", resp.StatusCode)
	}

	var result embedResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("gateway decode: %w", err)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("gateway returned empty vector")
	}

	out := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}
