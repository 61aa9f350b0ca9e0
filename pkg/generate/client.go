// Package generate provides the HTTP client for the generation service
// (Ollama-compatible generate API). Failures surface as
// domain.ErrGenerationUnavailable; callers treat generation as optional and
// return evidence-only partial results when it is down.
package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/acessolabs/lai-engine/engine/domain"
	"github.com/acessolabs/lai-engine/pkg/resilience"
)

// Opts configures the client.
type Opts struct {
	// RequestTimeout bounds each HTTP call. Generation is slow; the default
	// is generous.
	RequestTimeout time.Duration
	Breaker        resilience.BreakerOpts
}

// Client calls the generation service.
type Client struct {
	baseURL string
	model   string
	http    *http.Client
	breaker *resilience.Breaker
}

// New creates a generation client.
func New(baseURL, model string, opts Opts) *Client {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		model:   model,
		http:    &http.Client{Timeout: opts.RequestTimeout},
		breaker: resilience.NewBreaker(opts.Breaker),
	}
}

type generateReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResp struct {
	Response string `json:"response"`
}

// Generate returns the model's completion for prompt.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	var text string
	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		var callErr error
		text, callErr = c.generate(ctx, prompt)
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("generate: %w: %w", domain.ErrGenerationUnavailable, err)
	}
	return text, nil
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	body, _ := json.Marshal(generateReq{Model: c.model, Prompt: prompt})
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("service call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("service status %d", resp.StatusCode)
	}

	var result generateResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("service decode: %w", err)
	}

	text := strings.TrimSpace(result.Response)
	if text == "" {
		return "", fmt.Errorf("service returned empty completion")
	}
	return text, nil
}
