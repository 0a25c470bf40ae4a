// Package gdelt talks to the GDELT DOC 2.0 article-list API: one retrying
// GET per response encoding, and the ordered fallback across encodings.
package gdelt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/deusflow/newsgraph/internal/logger"
	"github.com/deusflow/newsgraph/internal/metrics"
	"github.com/deusflow/newsgraph/internal/news"
	"github.com/deusflow/newsgraph/internal/ratelimit"
	"github.com/deusflow/newsgraph/internal/retry"
)

const maxBodyBytes = 32 << 20

// Response is one successful (2xx) reply from the API.
type Response struct {
	Format      news.Format
	StatusCode  int
	ContentType string
	Body        []byte
}

// StatusError is a non-2xx reply.
type StatusError struct {
	StatusCode int
	Sample     string
}

func (e *StatusError) Error() string {
	if e.Sample == "" {
		return fmt.Sprintf("gdelt: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("gdelt: unexpected status %d: %s", e.StatusCode, e.Sample)
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

type Options struct {
	Endpoint   string
	UserAgent  string
	Query      string // already carries the sourcelang constraint if any
	Timespan   string
	MaxRecords int

	Timeout   time.Duration
	Retry     retry.RetryConfig
	JitterMin time.Duration
	JitterMax time.Duration

	HTTPClient *http.Client       // optional; Timeout is applied when nil
	Limiter    *ratelimit.Limiter // optional; paces every attempt
	Metrics    *metrics.Run       // optional
}

// Client performs the article-list GET for a given encoding.
type Client struct {
	http   *http.Client
	opts   Options
	sleep  func(ctx context.Context, d time.Duration) error
	random func() float64
}

func NewClient(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	sleep := opts.Retry.Sleep
	if sleep == nil {
		sleep = retry.Sleep
	}
	return &Client{
		http:   hc,
		opts:   opts,
		sleep:  sleep,
		random: rand.Float64,
	}
}

// URL builds the request url for format.
func (c *Client) URL(format news.Format) string {
	params := url.Values{}
	params.Set("query", c.opts.Query)
	params.Set("mode", "artlist")
	params.Set("timespan", c.opts.Timespan)
	params.Set("maxrecords", strconv.Itoa(c.opts.MaxRecords))
	params.Set("format", string(format))
	return c.opts.Endpoint + "?" + params.Encode()
}

// Fetch waits a random jitter, then GETs the article list in format,
// retrying throttling and server errors. Other non-2xx statuses fail at once.
func (c *Client) Fetch(ctx context.Context, format news.Format) (*Response, error) {
	if err := c.sleep(ctx, c.jitter()); err != nil {
		return nil, err
	}

	target := c.URL(format)
	var resp *Response
	attempt := 0
	err := retry.WithRetry(ctx, c.opts.Retry, func() error {
		attempt++
		if err := c.opts.Limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}
		r, err := c.get(ctx, target)
		if err != nil {
			logger.Warn("gdelt request failed", "format", format, "attempt", attempt, "error", err)
			return err
		}
		r.Format = format
		resp = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", format, err)
	}
	logger.Debug("gdelt response", "format", format, "status", resp.StatusCode,
		"content_type", resp.ContentType, "bytes", len(resp.Body), "attempts", attempt)
	return resp, nil
}

func (c *Client) get(ctx context.Context, target string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("building request: %w", err))
	}
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	res, err := c.http.Do(req)
	if err != nil {
		c.opts.Metrics.RecordRequest(0)
		if ctx.Err() != nil {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}
	defer res.Body.Close()
	c.opts.Metrics.RecordRequest(res.StatusCode)

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return &Response{
			StatusCode:  res.StatusCode,
			ContentType: res.Header.Get("Content-Type"),
			Body:        body,
		}, nil
	}

	statusErr := &StatusError{StatusCode: res.StatusCode, Sample: Sample(body)}
	if !retryableStatus(res.StatusCode) {
		return nil, retry.Permanent(statusErr)
	}
	if d, ok := retryAfter(res.Header.Get("Retry-After"), time.Now()); ok {
		return nil, retry.After(statusErr, d)
	}
	return nil, statusErr
}

func (c *Client) jitter() time.Duration {
	lo, hi := c.opts.JitterMin, c.opts.JitterMax
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(c.random()*float64(hi-lo))
}

// retryAfter parses a Retry-After header given as delta-seconds or HTTP-date.
func retryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}
