// Package executor delivers actions to the backend over HTTP.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/offlinesync/internal/core/domain"
	"github.com/vietddude/offlinesync/internal/pkg/ctxlog"
	"github.com/vietddude/offlinesync/internal/retry"
)

// IdempotencyKeyHeader carries a stable key so the backend can drop replays.
const IdempotencyKeyHeader = "Idempotency-Key"

// Error is a delivery failure with an explicit retry verdict.
type Error struct {
	Err        error
	Retryable  bool
	StatusCode int
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("backend returned %d: %v", e.StatusCode, e.Err)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether the failure is transient.
func (e *Error) IsRetryable() bool { return e.Retryable }

// Category classifies the failure for the retry engine.
func (e *Error) Category() retry.Category {
	switch {
	case e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusTooEarly:
		return retry.CategoryRateLimited
	case e.StatusCode == http.StatusRequestTimeout:
		return retry.CategoryTimeout
	case e.StatusCode >= 500:
		return retry.CategoryServer
	case e.StatusCode == http.StatusBadRequest || e.StatusCode == http.StatusUnprocessableEntity:
		return retry.CategoryValidation
	case e.StatusCode >= 400:
		return retry.CategoryPermanent
	}
	if c := retry.Classify(e.Err); c != retry.CategoryUnknown {
		return c
	}
	return retry.CategoryNetwork
}

// keyContextKey carries the idempotency key for a delivery.
type keyContextKey struct{}

// WithIdempotencyKey makes Execute send key instead of a random one.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, keyContextKey{}, key)
}

func idempotencyKey(ctx context.Context) string {
	if key, ok := ctx.Value(keyContextKey{}).(string); ok && key != "" {
		return key
	}
	return uuid.New().String()
}

// HTTPExecutor posts each action as JSON to {BaseURL}/actions/{kind}.
type HTTPExecutor struct {
	baseURL string
	client  *http.Client
	headers map[string]string
}

// NewHTTPExecutor creates an executor. A zero timeout leaves the client
// unbounded; callers then rely on context deadlines.
func NewHTTPExecutor(baseURL string, timeout time.Duration, headers map[string]string) *HTTPExecutor {
	return &HTTPExecutor{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		headers: headers,
	}
}

// Execute delivers one action. Every failure is an *Error.
func (e *HTTPExecutor) Execute(ctx context.Context, action domain.Action) error {
	if action == nil {
		return &Error{Err: errors.New("nil action")}
	}
	body, err := json.Marshal(action)
	if err != nil {
		return &Error{Err: fmt.Errorf("failed to marshal %s: %w", action.Kind(), err)}
	}

	url := fmt.Sprintf("%s/actions/%s", e.baseURL, action.Kind())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &Error{Err: fmt.Errorf("failed to build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(IdempotencyKeyHeader, idempotencyKey(ctx))
	for k, v := range e.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		// Caller cancellation is not a transport failure.
		if ctx.Err() != nil {
			return &Error{Err: ctx.Err(), Retryable: false}
		}
		return &Error{Err: err, Retryable: true}
	}
	defer resp.Body.Close()

	ctxlog.FromContext(ctx).Debug("Backend responded",
		"kind", action.Kind(),
		"status", resp.StatusCode,
		"latency", time.Since(start),
	)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &Error{
		Err:        errors.New(responseMessage(msg, resp.Status)),
		Retryable:  isTransientStatus(resp.StatusCode),
		StatusCode: resp.StatusCode,
	}
}

func isTransientStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}

// responseMessage extracts {"error":{"message":...}} bodies, falling back to
// the raw text.
func responseMessage(body []byte, status string) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return s
	}
	return status
}

// ErrNoBackend is returned by Unconfigured.
var ErrNoBackend = errors.New("no backend configured")

// Unconfigured fails every delivery with a retryable error so actions stay
// queued until a backend is configured.
type Unconfigured struct{}

func (Unconfigured) Execute(ctx context.Context, action domain.Action) error {
	ctxlog.FromContext(ctx).Warn("Skipping attempt, no backend configured", "kind", action.Kind())
	return &Error{Err: ErrNoBackend, Retryable: true}
}
