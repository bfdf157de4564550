// Package httpclient is the outbound JSON transport shared by the geocoder
// and the property API client: client-side rate limiting, bounded retries on
// 429 and 5xx with Retry-After support, and per-call metrics.
package httpclient

import (
	"context"
	crand "crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stwalsh4118/homefinder/api/internal/metrics"
	"github.com/stwalsh4118/homefinder/api/internal/middleware"
	"golang.org/x/time/rate"
)

const maxAttempts = 4

var (
	ErrNotFound     = errors.New("remote: not found")
	ErrUnauthorized = errors.New("remote: unauthorized")
)

// StatusError is returned when the remote answers with a status the client
// does not treat as success.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote %d", e.Code)
	}
	return fmt.Sprintf("remote %d: %s", e.Code, e.Body)
}

// Options configures a Client.
type Options struct {
	// Service labels metrics, e.g. "geocode".
	Service string
	RPS     int
	Timeout time.Duration
	// BaseDelay is the first retry delay; it doubles per attempt.
	BaseDelay time.Duration
	// HTTPClient overrides the underlying client. Timeout is ignored when set.
	HTTPClient *http.Client
}

// Client performs rate limited GETs that decode JSON.
type Client struct {
	hc        *http.Client
	rl        *rate.Limiter
	service   string
	baseDelay time.Duration
}

// New creates a Client from opts, filling in defaults for zero values.
func New(opts Options) *Client {
	if opts.RPS <= 0 {
		opts.RPS = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 200 * time.Millisecond
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		hc:        hc,
		rl:        rate.NewLimiter(rate.Limit(opts.RPS), opts.RPS),
		service:   opts.Service,
		baseDelay: opts.BaseDelay,
	}
}

// GetJSON fetches url and decodes the body into out. endpoint is a low
// cardinality name for metrics. 404 yields ErrNotFound; 401 and 403 yield
// ErrUnauthorized; exhausted retries return the last error.
func (c *Client) GetJSON(ctx context.Context, endpoint, url string, out any) error {
	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		// Every attempt, retries included, spends a token.
		if err := c.rl.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "homefinder/1.0")
		if id := middleware.RequestIDFromContext(ctx); id != "" {
			req.Header.Set(middleware.RequestIDHeader, id)
		}

		start := time.Now()
		resp, err := c.hc.Do(req)
		if err != nil {
			metrics.ObserveExternal(c.service, endpoint, 0, time.Since(start))
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			if i < maxAttempts-1 && sleepCtx(ctx, c.backoff(i)) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr
		}
		metrics.ObserveExternal(c.service, endpoint, resp.StatusCode, time.Since(start))

		switch resp.StatusCode {
		case http.StatusOK:
			err := json.NewDecoder(resp.Body).Decode(out)
			resp.Body.Close()
			if err != nil {
				return fmt.Errorf("decode %s response: %w", endpoint, err)
			}
			return nil

		case http.StatusNotFound:
			drain(resp)
			return ErrNotFound

		case http.StatusUnauthorized, http.StatusForbidden:
			drain(resp)
			return ErrUnauthorized

		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			wait := retryAfter(resp)
			drain(resp)
			if wait == 0 {
				wait = c.backoff(i)
			}
			lastErr = &StatusError{Code: resp.StatusCode}
			if i < maxAttempts-1 && sleepCtx(ctx, wait) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr

		default:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
		}
	}

	return lastErr
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}

// sleepCtx waits for d or returns false early if ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// retryAfter parses Retry-After (seconds or HTTP-date). Returns 0 if absent or invalid.
func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// backoff returns baseDelay*2^i plus up to 50% jitter.
func (c *Client) backoff(i int) time.Duration {
	base := time.Duration(1<<i) * c.baseDelay
	var b [1]byte
	if _, err := crand.Read(b[:]); err != nil {
		return base
	}
	f := float64(b[0]) / 255.0
	return base + time.Duration(0.5*f*float64(base))
}
