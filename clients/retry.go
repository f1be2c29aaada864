package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	apperrors "order-service/common/errors"
	"order-service/common/logger"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// RetryConfig controls retries and the circuit breaker of a RetryingClient.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Timeout bounds each attempt, not the whole call.
	Timeout          time.Duration
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:      3,
		BaseDelay:        200 * time.Millisecond,
		MaxDelay:         2 * time.Second,
		Timeout:          5 * time.Second,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
	}
}

// HTTPStatusError is a non-2xx answer from a collaborator.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Request describes one JSON call.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   any
	Into   any
}

// RetryingClient calls one collaborator over HTTP with bounded retries,
// exponential backoff with jitter and a circuit breaker.
type RetryingClient struct {
	name       string
	baseURL    string
	httpClient *http.Client
	cfg        RetryConfig
	breaker    *gobreaker.CircuitBreaker[[]byte]
	logger     *zap.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewRetryingClient(name, baseURL string, cfg RetryConfig, log *zap.Logger) *RetryingClient {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultRetryConfig().FailureThreshold
	}

	c := &RetryingClient{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		cfg:        cfg,
		logger:     log.With(zap.String("collaborator", name)),
		sleep:      sleepContext,
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// Only failures that say something about the collaborator's health
		// count against the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || !isRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return c
}

// Do runs req until it succeeds, fails fatally or runs out of attempts.
// A 404 becomes a not-found error; every other failure becomes a
// downstream error naming the collaborator.
func (c *RetryingClient) Do(ctx context.Context, req Request) error {
	var payload []byte
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return apperrors.Internal(fmt.Sprintf("encode %s request", c.name), err)
		}
		payload = b
	}

	log := logger.With(ctx, c.logger).With(zap.String("method", req.Method), zap.String("path", req.Path))

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		body, err := c.breaker.Execute(func() ([]byte, error) {
			return c.once(ctx, req, payload)
		})
		if err == nil {
			if req.Into != nil && len(bytes.TrimSpace(body)) > 0 {
				if err := json.Unmarshal(body, req.Into); err != nil {
					return apperrors.Downstream(c.name, fmt.Errorf("decode response: %w", err))
				}
			}
			return nil
		}
		lastErr = err

		if ctx.Err() != nil || !isRetryable(err) || attempt == c.cfg.MaxAttempts {
			break
		}

		delay := c.backoff(attempt)
		log.Warn("collaborator call failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := c.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	var statusErr *HTTPStatusError
	if errors.As(lastErr, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		return apperrors.NotFound(fmt.Sprintf("%s: resource not found", c.name))
	}
	log.Error("collaborator call failed", zap.Error(lastErr))
	return apperrors.Downstream(c.name, lastErr)
}

func (c *RetryingClient) once(ctx context.Context, req Request, payload []byte) ([]byte, error) {
	attemptCtx := ctx
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, c.baseURL+req.Path, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	if id := logger.RequestID(ctx); id != "" {
		httpReq.Header.Set("X-Request-ID", id)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	return respBody, nil
}

// backoff returns min(maxDelay, base*2^(attempt-1)) with jitter drawn
// from [delay/2, delay].
func (c *RetryingClient) backoff(attempt int) time.Duration {
	delay := c.cfg.BaseDelay << (attempt - 1)
	if delay <= 0 || (c.cfg.MaxDelay > 0 && delay > c.cfg.MaxDelay) {
		delay = c.cfg.MaxDelay
	}
	if delay <= 0 {
		return 0
	}
	half := delay / 2
	return half + time.Duration(rand.Int63n(int64(delay-half)+1))
}

// isRetryable reports whether err may succeed on another attempt.
func isRetryable(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests
	}
	// Transport failures and attempt timeouts.
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
