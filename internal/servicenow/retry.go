package servicenow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/tombee/servicenow-mcp/internal/log"
)

// do executes one logical request: up to maxRetries+1 attempts with
// exponential backoff between retryable failures.
//
// Classification:
//   - 401/403/404 and 4xx other than 429 are fatal on the first sight,
//     without consuming a retry (retrying them cannot succeed);
//   - 429, 5xx, connection failures, and timeouts retry until attempts
//     are exhausted;
//   - 2xx/3xx is success.
//
// The backoff sleep yields to the context, so a cancelled caller never
// holds up the pool and unrelated in-flight requests are unaffected.
func (c *Client) do(ctx context.Context, method, path string, body []byte, query url.Values, headers map[string]string) (*response, error) {
	resp, err := c.run(ctx, method, path, body, query, headers)
	if err != nil {
		return nil, countFailure(err)
	}
	return resp, nil
}

// countFailure records a typed error in the failure counter before
// handing it back. Every error leaving the client passes through here,
// so the by-kind counts include local validation rejections.
func countFailure(err error) error {
	if typed, ok := AsError(err); ok {
		failuresTotal.WithLabelValues(string(typed.Kind)).Inc()
	}
	return err
}

func (c *Client) run(ctx context.Context, method, path string, body []byte, query url.Values, headers map[string]string) (*response, error) {
	if method == "" {
		return nil, validationError("method is required")
	}
	if path == "" {
		return nil, validationError("path is required")
	}

	pool, err := c.httpClient()
	if err != nil {
		return nil, err
	}

	reqURL := c.requestURL(path, query)
	logger := log.WithCorrelationID(c.logger, uuid.New().String())

	start := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(start).Seconds())
	}()

	var lastErr *Error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		logger.Debug("servicenow request",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", c.maxRetries+1),
		)

		resp, attemptErr := c.attempt(ctx, pool, method, reqURL, body, headers)
		attemptsTotal.Inc()

		if attemptErr == nil {
			switch {
			case resp.status == 401 || resp.status == 403 || resp.status == 404:
				return nil, statusError(resp.status, resp.body)

			case resp.status == http.StatusTooManyRequests:
				retryAfter := parseRetryAfter(resp.header)
				wait := c.backoff(attempt)
				if retryAfter > 0 {
					wait = time.Duration(retryAfter * float64(time.Second))
				}
				lastErr = &Error{
					Kind:       KindRateLimited,
					StatusCode: resp.status,
					Message:    "Rate limited by ServiceNow API",
					Details:    truncateBody(resp.body),
					RetryAfter: wait.Seconds(),
				}
				if attempt < c.maxRetries {
					logger.Warn("rate limited, backing off", slog.Float64("wait_s", wait.Seconds()))
					if err := c.sleep(ctx, wait); err != nil {
						return nil, err
					}
					retriesTotal.Inc()
					continue
				}

			case resp.status >= 500:
				lastErr = statusError(resp.status, resp.body)
				if attempt < c.maxRetries {
					wait := c.backoff(attempt)
					logger.Warn("server error, backing off",
						slog.Int("status", resp.status),
						slog.Float64("wait_s", wait.Seconds()),
					)
					if err := c.sleep(ctx, wait); err != nil {
						return nil, err
					}
					retriesTotal.Inc()
					continue
				}

			case resp.status >= 400:
				return nil, statusError(resp.status, resp.body)

			default:
				return resp, nil
			}
		} else {
			lastErr = attemptErr
			if attemptErr.Kind == KindValidation {
				return nil, attemptErr
			}
			// A cancelled caller gets its error back immediately;
			// retrying on its behalf would outlive the deadline.
			if ctx.Err() != nil {
				return nil, attemptErr
			}
			if attempt < c.maxRetries {
				wait := c.backoff(attempt)
				logger.Warn("request failed, backing off",
					slog.String("kind", string(attemptErr.Kind)),
					slog.Float64("wait_s", wait.Seconds()),
				)
				if err := c.sleep(ctx, wait); err != nil {
					return nil, err
				}
				retriesTotal.Inc()
				continue
			}
		}

		break
	}

	if lastErr == nil {
		lastErr = &Error{Kind: KindConnection, Message: "Request failed after all retries"}
	}
	return nil, lastErr
}

// attempt performs a single HTTP exchange.
func (c *Client) attempt(ctx context.Context, pool *http.Client, method, reqURL string, body []byte, headers map[string]string) (*response, *Error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, validationError(fmt.Sprintf("cannot build request: %v", err))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if c.auth == AuthBasic {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := pool.Do(req)
	if err != nil {
		return nil, classifyNetworkError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{
			Kind:    KindConnection,
			Message: "Failed to read response body",
			Details: err.Error(),
			Cause:   err,
		}
	}

	return &response{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

// sleep waits for the backoff delay, or aborts when the caller's
// context ends first.
func (c *Client) sleep(ctx context.Context, d time.Duration) *Error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return &Error{
			Kind:    KindTimeout,
			Message: "Request cancelled during retry backoff",
			Details: ctx.Err().Error(),
			Cause:   ctx.Err(),
		}
	}
}

// backoff computes the deterministic delay for a 0-based attempt index:
// backoffBase * 2^attempt. No jitter; the schedule is part of the
// client's observable behavior.
func (c *Client) backoff(attempt int) time.Duration {
	return c.backoffBase * (1 << attempt)
}

// parseRetryAfter reads a numeric Retry-After header in seconds.
// Returns 0 when absent or not numeric.
func parseRetryAfter(header http.Header) float64 {
	value := header.Get("Retry-After")
	if value == "" {
		return 0
	}
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil || seconds < 0 {
		return 0
	}
	return seconds
}

// classifyNetworkError maps transport-level failures onto the taxonomy.
func classifyNetworkError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{
			Kind:    KindTimeout,
			Message: "Request to ServiceNow timed out",
			Details: err.Error(),
			Cause:   err,
		}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{
			Kind:    KindTimeout,
			Message: "Request to ServiceNow was cancelled",
			Details: err.Error(),
			Cause:   err,
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{
			Kind:    KindTimeout,
			Message: "Request to ServiceNow timed out",
			Details: err.Error(),
			Cause:   err,
		}
	}
	return &Error{
		Kind:    KindConnection,
		Message: "Failed to connect to ServiceNow",
		Details: err.Error(),
		Cause:   err,
	}
}
