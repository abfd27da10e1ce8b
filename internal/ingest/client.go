// Package ingest implements the knowledge ingestion pipeline: cleaning and
// chunking raw text, deduplicating by content hash, embedding, and reliable
// delivery of each chunk to the store.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/solvenia/kbcore/internal/domain"
)

const (
	// DefaultMaxAttempts is the total number of delivery attempts for a chunk.
	DefaultMaxAttempts = 6
	// DefaultBackoffBase is the base delay unit between attempts.
	DefaultBackoffBase = 500 * time.Millisecond
	// DefaultJitterMax bounds the random jitter added to each delay.
	DefaultJitterMax = 200 * time.Millisecond

	maxErrorBodyBytes = 512
)

// APIError represents an error response from the store API.
type APIError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("store API error (%d): %s", e.StatusCode, e.Message)
}

// ChunkPayload is the wire format for content submission.
type ChunkPayload struct {
	Content   string            `json:"content"`
	Source    string            `json:"source"`
	Metadata  map[string]string `json:"metadata"`
	Embedding []float32         `json:"embedding,omitempty"`
}

// AskResult is one ranked retrieval result returned by the store.
type AskResult struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Source    string            `json:"source"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt time.Time         `json:"created_at"`
	Score     float64           `json:"score"`
}

type apiEnvelope struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// StoreClientConfig holds configuration for StoreClient.
type StoreClientConfig struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	MaxAttempts int
	BackoffBase time.Duration
	JitterMax   time.Duration
}

// StoreClient talks to the knowledge store API. Chunk delivery is retried
// with linearly increasing, jittered backoff; every other call is a single
// attempt and the caller decides how to degrade.
type StoreClient struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	maxAttempts int
	backoffBase time.Duration
	jitterMax   time.Duration
}

// NewStoreClient creates a StoreClient with the given configuration.
func NewStoreClient(cfg StoreClientConfig) *StoreClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.JitterMax < 0 {
		cfg.JitterMax = DefaultJitterMax
	}
	return &StoreClient{
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		jitterMax:   cfg.JitterMax,
	}
}

// SubmitChunk delivers one validated, non-duplicate chunk to the store.
// Retryable failures (408, 429, 5xx, network errors) are retried up to
// MaxAttempts total; any other status is terminal and surfaces immediately.
// A 409 means the store already holds this content and maps to
// domain.ErrChunkAlreadyExists so callers count it as skipped.
func (c *StoreClient) SubmitChunk(ctx context.Context, payload ChunkPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode chunk payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.sleep(ctx, attempt-1); err != nil {
				return err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chunks", bytes.NewReader(body))
		if err != nil {
			return err
		}
		c.setHeaders(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			// Network-level failure: no status at all, always retryable.
			lastErr = err
			continue
		}

		apiErr := drainError(resp)
		if apiErr == nil {
			return nil
		}
		if apiErr.StatusCode == http.StatusConflict {
			return domain.ErrChunkAlreadyExists
		}
		if !isRetryableStatus(apiErr.StatusCode) {
			return apiErr
		}
		lastErr = apiErr
	}

	return domain.NewDomainErrorWithCause(domain.ErrCodeTransientUpstream,
		fmt.Sprintf("chunk delivery failed after %d attempts", c.maxAttempts), lastErr)
}

// ChunkExists asks the store whether a content hash is already present.
func (c *StoreClient) ChunkExists(ctx context.Context, hash string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/chunks/exists?hash="+url.QueryEscape(hash), nil)
	if err != nil {
		return false, err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}

	var out struct {
		Exists bool `json:"exists"`
	}
	if err := decodeData(resp, &out); err != nil {
		return false, err
	}
	return out.Exists, nil
}

// ClearSource removes every chunk from one source so it can be re-ingested.
func (c *StoreClient) ClearSource(ctx context.Context, source string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/chunks?source="+url.QueryEscape(source), nil)
	if err != nil {
		return 0, err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}

	var out struct {
		Deleted int `json:"deleted"`
	}
	if err := decodeData(resp, &out); err != nil {
		return 0, err
	}
	return out.Deleted, nil
}

// Ask runs a retrieval query against the store.
func (c *StoreClient) Ask(ctx context.Context, query string, limit int) ([]AskResult, error) {
	body, err := json.Marshal(map[string]interface{}{"query": query, "limit": limit})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ask", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	var out struct {
		Results []AskResult `json:"results"`
	}
	if err := decodeData(resp, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func (c *StoreClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// sleep waits base*n plus bounded random jitter before attempt n+1. The
// jitter avoids synchronized retry storms across concurrently failing
// chunks; the wait aborts as soon as the context does.
func (c *StoreClient) sleep(ctx context.Context, n int) error {
	delay := c.backoffBase * time.Duration(n)
	if c.jitterMax > 0 {
		delay += time.Duration(rand.Int63n(int64(c.jitterMax)))
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isRetryableStatus(status int) bool {
	switch {
	case status == http.StatusRequestTimeout:
		return true
	case status == http.StatusTooManyRequests:
		return true
	case status >= 500:
		return true
	}
	return false
}

// drainError consumes the response body and returns nil for 2xx responses
// or an APIError carrying the status and a truncated body otherwise.
func drainError(resp *http.Response) *APIError {
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var envelope apiEnvelope
	message := ""
	if err := json.Unmarshal(raw, &envelope); err == nil {
		message = envelope.Error
	}
	if message == "" {
		message = "status " + strconv.Itoa(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: message, Body: string(raw)}
}

func decodeData(resp *http.Response, v interface{}) error {
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope apiEnvelope
		message := ""
		if err := json.Unmarshal(raw, &envelope); err == nil {
			message = envelope.Error
		}
		if message == "" {
			message = "status " + strconv.Itoa(resp.StatusCode)
		}
		body := string(raw)
		if len(body) > maxErrorBodyBytes {
			body = body[:maxErrorBodyBytes]
		}
		return &APIError{StatusCode: resp.StatusCode, Message: message, Body: body}
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("failed to decode store response: %w", err)
	}
	if v == nil || len(envelope.Data) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Data, v)
}
