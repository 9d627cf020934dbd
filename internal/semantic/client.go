package semantic

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"horse.fit/bazaar/internal/remote"
)

const (
	DefaultEndpoint  = "http://127.0.0.1:8844"
	DefaultBatchSize = 32

	// VectorDimensions matches the BGE-M3 dense vectors served by the
	// embedding backend.
	VectorDimensions = 1024
)

// Backend is the embedding service contract. Its absence degrades the
// engine to lexical plus LLM verification only.
type Backend interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
	Health(ctx context.Context) error
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

type healthResponse struct {
	Status string `json:"status"`
}

// Client talks to the embedding HTTP service.
type Client struct {
	embedURL  string
	healthURL string
	batchSize int
	caller    *remote.Caller
}

func NewClient(endpoint string, batchSize int, caller *remote.Caller) *Client {
	embedURL, healthURL := normalizeEndpoint(endpoint)
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Client{
		embedURL:  embedURL,
		healthURL: healthURL,
		batchSize: batchSize,
		caller:    caller,
	}
}

func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if c == nil || c.caller == nil {
		return nil, fmt.Errorf("embedding client is not initialized")
	}
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))

		var parsed embedResponse
		if err := c.caller.PostJSON(ctx, c.embedURL, embedRequest{Texts: texts[start:end]}, &parsed); err != nil {
			return nil, err
		}
		if parsed.Error != "" {
			return nil, fmt.Errorf("embedding backend error: %s", parsed.Error)
		}
		if len(parsed.Embeddings) != end-start {
			return nil, fmt.Errorf("embedding response count mismatch: requested=%d returned=%d", end-start, len(parsed.Embeddings))
		}
		vectors = append(vectors, parsed.Embeddings...)
	}
	return vectors, nil
}

func (c *Client) Health(ctx context.Context) error {
	if c == nil || c.caller == nil {
		return fmt.Errorf("embedding client is not initialized")
	}
	var parsed healthResponse
	if err := c.caller.GetJSON(ctx, c.healthURL, &parsed); err != nil {
		return err
	}
	if parsed.Status != "ok" {
		return fmt.Errorf("embedding backend unhealthy: status=%q", parsed.Status)
	}
	return nil
}

func normalizeEndpoint(raw string) (embedURL, healthURL string) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = DefaultEndpoint
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return trimmed, trimmed
	}
	base := *parsed
	if base.Path == "" || base.Path == "/" {
		base.Path = ""
	} else {
		base.Path = strings.TrimSuffix(base.Path, "/embed")
	}

	embed := base
	embed.Path = base.Path + "/embed"
	health := base
	health.Path = base.Path + "/health"
	return embed.String(), health.String()
}
