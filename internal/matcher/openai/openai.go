// Package openai is a minimal client for OpenAI-compatible completion and
// embedding endpoints.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/thehouseofbailey/personamapper/internal/matcher"
)

const (
	defaultBaseURL        = "https://api.openai.com/v1"
	defaultModel          = "gpt-4o-mini"
	defaultEmbeddingModel = "text-embedding-3-small"
)

// Config identifies the endpoint and models to use. BaseURL may point at
// any OpenAI-compatible server.
type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	EmbeddingModel string
	Timeout        time.Duration
}

// Client implements matcher.LLMClient and matcher.Embedder over HTTP.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// New builds a Client. Zero config fields take defaults.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = defaultEmbeddingModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete implements matcher.LLMClient.
func (c *Client) Complete(ctx context.Context, prompt string) (matcher.Completion, error) {
	reqBody := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
		Temperature: 0,
	}
	var resp chatResponse
	if err := c.post(ctx, "/chat/completions", reqBody, &resp); err != nil {
		return matcher.Completion{}, err
	}
	if len(resp.Choices) == 0 {
		return matcher.Completion{}, fmt.Errorf("completion response had no choices")
	}
	c.logger.Debug("completion call finished",
		zap.String("model", c.cfg.Model),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)
	return matcher.Completion{
		Text:       resp.Choices[0].Message.Content,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed implements matcher.Embedder.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	reqBody := embeddingRequest{
		Model: c.cfg.EmbeddingModel,
		Input: texts,
	}
	var resp embeddingResponse
	if err := c.post(ctx, "/embeddings", reqBody, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response had %d vectors for %d inputs", len(resp.Data), len(texts))
	}
	vectors := make([][]float64, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding response index %d out of range", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("closing response body", zap.Error(closeErr))
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, truncate(raw, 256))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
