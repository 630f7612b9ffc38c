package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

const (
	maxRetries    = 3
	maxRetryAfter = 30 * time.Second
)

// retryBaseDelay is the unit of the quadratic backoff. Tests shorten it.
var retryBaseDelay = time.Second

// StatusError is a non-2xx response from a provider API.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s %d: %s", e.Provider, e.StatusCode, e.Body)
}

// IsStatus reports whether err is a provider response with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

// statusError drains resp and turns it into a *StatusError.
func statusError(name string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	return &StatusError{Provider: name, StatusCode: resp.StatusCode, Body: string(body)}
}

func transient(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

// backoff returns the wait before retry number attempt (1-based): the
// quadratic delay plus up to half of it as jitter, or the server's
// Retry-After when that is longer.
func backoff(attempt int, retryAfter time.Duration) time.Duration {
	base := time.Duration(attempt*attempt) * retryBaseDelay
	d := base + time.Duration(rand.Int64N(int64(base/2+1)))
	return max(d, min(retryAfter, maxRetryAfter))
}

// parseRetryAfter reads a Retry-After header given in seconds.
func parseRetryAfter(h http.Header) time.Duration {
	secs, err := strconv.Atoi(h.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// doWithRetry sends the request built by buildReq, retrying network
// failures, 5xx and 429 responses. Any other response is returned as is.
func doWithRetry(ctx context.Context, client *http.Client, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var lastErr error
	var wait time.Duration

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			d := backoff(attempt, wait)
			logger.Warn("retrying provider request", "attempt", attempt+1, "backoff", d, "err", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(d):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr, wait = err, 0
		case transient(resp.StatusCode):
			wait = parseRetryAfter(resp.Header)
			lastErr = statusError("", resp)
		default:
			return resp, nil
		}
	}
	return nil, fmt.Errorf("giving up after %d retries: %w", maxRetries, lastErr)
}
