package describe

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

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/local/imagedescriber/internal/metrics"
)

const maxResponseBytes = 8 << 20

// Guard gates upstream calls per model: an in-flight slot plus a breaker
// fed with the outcome of every call.
type Guard interface {
	Acquire(ctx context.Context, model string) (release func(), err error)
	IsOpen(ctx context.Context, model string) bool
	ReportFailure(ctx context.Context, model string)
	ReportSuccess(ctx context.Context, model string)
}

// ClientOptions configure the upstream caller.
type ClientOptions struct {
	BaseURL        string
	Path           string
	Token          string
	Model          string
	Timeout        time.Duration
	MaxAttempts    int
	RetryBaseDelay time.Duration
	HTTPClient     *http.Client
	Guard          Guard
}

// Client posts payloads to the vision endpoint.
type Client struct {
	endpoint    string
	token       string
	model       string
	timeout     time.Duration
	maxAttempts int
	retryBase   time.Duration
	http        *http.Client
	guard       Guard
}

// NewClient builds a Client. Zero values fall back to a single attempt and a 60s timeout.
func NewClient(opts ClientOptions) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 500 * time.Millisecond
	}
	return &Client{
		endpoint:    strings.TrimRight(opts.BaseURL, "/") + opts.Path,
		token:       opts.Token,
		model:       opts.Model,
		timeout:     opts.Timeout,
		maxAttempts: opts.MaxAttempts,
		retryBase:   opts.RetryBaseDelay,
		http:        opts.HTTPClient,
		guard:       opts.Guard,
	}
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

// Endpoint returns the full upstream URL.
func (c *Client) Endpoint() string { return c.endpoint }

// Do sends payload and returns the raw 2xx body. Non-2xx answers become
// UpstreamHTTPError, unparseable bodies UpstreamParseError. Transient failures
// (429, 5xx, transport) are retried up to the configured attempt count.
func (c *Client) Do(ctx context.Context, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode upstream payload: %w", err)
	}

	if c.guard != nil {
		if c.guard.IsOpen(ctx, c.model) {
			metrics.BreakerRejected(c.model)
			return nil, &UpstreamHTTPError{
				StatusCode: http.StatusServiceUnavailable,
				Body:       "circuit open for " + c.model,
			}
		}
		release, err := c.guard.Acquire(ctx, c.model)
		if err != nil {
			return nil, &UpstreamHTTPError{Err: err}
		}
		defer release()
	}

	metrics.InflightInc(c.model)
	defer metrics.InflightDec(c.model)

	started := time.Now()
	attempt := 0
	var raw []byte
	op := func() error {
		attempt++
		out, err := c.once(ctx, body)
		if err == nil {
			raw = out
			return nil
		}
		if ctx.Err() != nil || !isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.retryBase
	eb.MaxInterval = 10 * time.Second
	eb.MaxElapsedTime = 0
	bo := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.maxAttempts-1)), ctx)

	err = backoff.RetryNotify(op, bo, func(err error, wait time.Duration) {
		metrics.IncRetry(c.model)
		log.Ctx(ctx).Warn().
			Err(err).
			Str("model", c.model).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("upstream call failed, retrying")
	})
	dur := time.Since(started)

	if err != nil {
		if KindOf(err) == KindInternal && ctx.Err() != nil {
			err = &UpstreamHTTPError{Err: err}
		}
		metrics.ObserveUpstream(c.model, string(KindOf(err)), dur)
		if c.guard != nil && isTransient(err) && ctx.Err() == nil {
			c.guard.ReportFailure(ctx, c.model)
		}
		log.Ctx(ctx).Error().
			Err(err).
			Str("model", c.model).
			Int("attempts", attempt).
			Dur("duration", dur).
			Msg("upstream call failed")
		return nil, err
	}

	metrics.ObserveUpstream(c.model, "ok", dur)
	if c.guard != nil {
		c.guard.ReportSuccess(ctx, c.model)
	}
	log.Ctx(ctx).Debug().
		Str("model", c.model).
		Int("attempts", attempt).
		Int("bytes", len(raw)).
		Dur("duration", dur).
		Msg("upstream call succeeded")
	return raw, nil
}

func (c *Client) once(ctx context.Context, body []byte) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &UpstreamHTTPError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &UpstreamHTTPError{Err: fmt.Errorf("read upstream body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	var probe any
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, &UpstreamParseError{Body: truncate(string(raw), 2048), Err: err}
	}
	return raw, nil
}

// isTransient reports whether err is worth another attempt.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *UpstreamHTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	switch {
	case httpErr.StatusCode == 0:
		return true
	case httpErr.StatusCode == http.StatusTooManyRequests:
		return true
	case httpErr.StatusCode >= 500 && httpErr.StatusCode < 600:
		return true
	}
	return false
}
