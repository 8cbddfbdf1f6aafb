package extractors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"econetl/internal/config"
	"econetl/pkg/contracts/domain"
)

const (
	userAgent      = "econetl/1.0"
	maxBackoff     = 30 * time.Second
	maxErrorBody   = 512
	rateLimitBurst = 1
)

// retryableStatus lists the upstream statuses worth another attempt
var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// requestStats counts the HTTP traffic of one extractor invocation
type requestStats struct {
	requests       int
	failedAttempts int
}

func (s *requestStats) metrics(source domain.Source, start, end time.Time) domain.ExtractMetrics {
	return domain.ExtractMetrics{
		Source:         source,
		StartTime:      start,
		EndTime:        end,
		Requests:       s.requests,
		FailedAttempts: s.failedAttempts,
	}
}

// statusError is a non-2xx upstream answer
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("upstream returned %d %s: %s", e.Code, http.StatusText(e.Code), e.Body)
}

// httpClient issues paced GET requests with retry and exponential backoff
type httpClient struct {
	client   *http.Client
	limiter  *rate.Limiter
	retries  int
	factor   float64
	accept   string
	logger   *slog.Logger
	sleepFor func(ctx context.Context, d time.Duration) error
}

func newHTTPClient(cfg config.SourceConfig, logger *slog.Logger) *httpClient {
	limit := rate.Inf
	if cfg.RateLimitPerSec > 0 {
		limit = rate.Limit(cfg.RateLimitPerSec)
	}
	accept := "application/json"
	if cfg.DefaultFormat != "" && cfg.DefaultFormat != "json" {
		accept = ""
	}
	return &httpClient{
		client:   &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(limit, rateLimitBurst),
		retries:  cfg.RetryAttempts,
		factor:   cfg.RetryBackoffFactor,
		accept:   accept,
		logger:   logger,
		sleepFor: sleep,
	}
}

// backoff returns the wait before retry n (1-based): factor * 2^(n-1) seconds
func (c *httpClient) backoff(n int) time.Duration {
	if c.factor <= 0 {
		return 0
	}
	d := time.Duration(c.factor * math.Pow(2, float64(n-1)) * float64(time.Second))
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// get fetches endpoint, retrying transient failures. Every attempt counts as
// a request; every attempt after the first counts as a failed attempt.
func (c *httpClient) get(ctx context.Context, endpoint string, stats *requestStats) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			stats.failedAttempts++
			delay := c.backoff(attempt)
			c.logger.WarnContext(ctx, "request_retry",
				slog.String("url", endpoint),
				slog.Int("attempt", attempt+1),
				slog.Duration("delay", delay),
				slog.String("error", lastErr.Error()))
			if err := c.sleepFor(ctx, delay); err != nil {
				return nil, err
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		stats.requests++
		body, err := c.do(ctx, endpoint)
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isTransient(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("giving up after %d attempts: %w", c.retries+1, lastErr)
}

func (c *httpClient) do(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if c.accept != "" {
		req.Header.Set("Accept", c.accept)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, &statusError{Code: resp.StatusCode, Body: snippet}
	}
	return body, nil
}

// isTransient reports whether a failed attempt should be retried. Status
// errors are retried only for the listed codes; any other error came from the
// transport (refused connection, reset, client timeout) and is retried.
func isTransient(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return retryableStatus[se.Code]
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
