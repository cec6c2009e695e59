package delta

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Backend is the generative model the analyzer consults. Implementations
// must return the raw JSON object the model produced.
type Backend interface {
	Analyze(ctx context.Context, system, user string) (json.RawMessage, error)
}

// BackendConfig holds configuration for the HTTP generative backend
type BackendConfig struct {
	// URL is the completion endpoint
	URL string
	// APIKey authenticates requests
	APIKey string
	// Model is the model identifier to request
	Model string
	// Temperature controls sampling; kept low for deterministic-leaning output
	Temperature float64
	// RequestTimeout is the hard per-call timeout
	RequestTimeout time.Duration
	// MaxAttempts bounds retries on retryable failures
	MaxAttempts int
	// RetryDelay is the base delay between attempts, scaled linearly
	RetryDelay time.Duration
}

// DefaultBackendConfig returns defaults tuned for visit analysis
func DefaultBackendConfig() BackendConfig {
	return BackendConfig{
		Model:          "care-delta-1",
		Temperature:    0.1,
		RequestTimeout: 30 * time.Second,
		MaxAttempts:    3,
		RetryDelay:     500 * time.Millisecond,
	}
}

// HTTPBackend calls a hosted generative model over HTTP. Requests pin a low
// temperature, demand a JSON object response, and opt out of provider-side
// data retention.
type HTTPBackend struct {
	config BackendConfig
	client *http.Client
	logger *zap.Logger
}

// NewHTTPBackend creates a backend client
func NewHTTPBackend(cfg BackendConfig, logger *zap.Logger) (*HTTPBackend, error) {
	if cfg.URL == "" {
		return nil, errors.New("backend URL is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultBackendConfig().RequestTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultBackendConfig().MaxAttempts
	}

	return &HTTPBackend{
		config: cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
		logger: logger,
	}, nil
}

type backendRequest struct {
	Model          string  `json:"model"`
	System         string  `json:"system"`
	Input          string  `json:"input"`
	Temperature    float64 `json:"temperature"`
	ResponseFormat string  `json:"response_format"`
	StoreData      bool    `json:"store_data"`
}

type backendResponse struct {
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error,omitempty"`
}

// errNonRetryable wraps failures that retrying cannot fix
type errNonRetryable struct{ err error }

func (e errNonRetryable) Error() string { return e.err.Error() }
func (e errNonRetryable) Unwrap() error { return e.err }

// Analyze sends one analysis request with bounded retry. Timeouts, 429 and
// 5xx responses are retried; other 4xx responses are not.
func (b *HTTPBackend) Analyze(ctx context.Context, system, user string) (json.RawMessage, error) {
	var lastErr error

	for attempt := 1; attempt <= b.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(b.config.RetryDelay * time.Duration(attempt-1)):
			}
		}

		output, err := b.call(ctx, system, user)
		if err == nil {
			return output, nil
		}

		var nonRetryable errNonRetryable
		if errors.As(err, &nonRetryable) {
			return nil, err
		}

		lastErr = err
		b.logger.Warn("generative backend call failed",
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	return nil, fmt.Errorf("backend unavailable after %d attempts: %w", b.config.MaxAttempts, lastErr)
}

func (b *HTTPBackend) call(ctx context.Context, system, user string) (json.RawMessage, error) {
	body, err := json.Marshal(backendRequest{
		Model:          b.config.Model,
		System:         system,
		Input:          user,
		Temperature:    b.config.Temperature,
		ResponseFormat: "json_object",
		StoreData:      false,
	})
	if err != nil {
		return nil, errNonRetryable{fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, errNonRetryable{err}
	}
	req.Header.Set("Content-Type", "application/json")
	if b.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.config.APIKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("backend status %d", resp.StatusCode)
	default:
		return nil, errNonRetryable{fmt.Errorf("backend status %d: %s", resp.StatusCode, truncate(data, 200))}
	}

	var parsed backendResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, errNonRetryable{fmt.Errorf("decode response: %w", err)}
	}
	if parsed.Error != "" {
		return nil, errNonRetryable{fmt.Errorf("backend error: %s", parsed.Error)}
	}

	return parsed.Output, nil
}

func truncate(data []byte, n int) string {
	if len(data) > n {
		return string(data[:n]) + "..."
	}
	return string(data)
}
