package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultMaxAttempts = 5
	DefaultTimeout     = 30 * time.Second
)

// Notifier delivers a JSON payload to a callback URL.
type Notifier interface {
	Notify(ctx context.Context, url string, payload any) bool
}

// SleepFunc waits d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Options configures a Client. Zero values take the defaults.
type Options struct {
	MaxAttempts int
	Timeout     time.Duration
	HTTPClient  *http.Client
	Sleep       SleepFunc
	Logger      *slog.Logger
}

// Client posts notifications with bounded retries. Delays between attempts
// double from one second: 1s, 2s, 4s, 8s.
type Client struct {
	maxAttempts int
	timeout     time.Duration
	http        *http.Client
	sleep       SleepFunc
	logger      *slog.Logger
}

var _ Notifier = (*Client)(nil)

func New(opts Options) *Client {
	c := &Client{
		maxAttempts: opts.MaxAttempts,
		timeout:     opts.Timeout,
		http:        opts.HTTPClient,
		sleep:       opts.Sleep,
		logger:      opts.Logger,
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = DefaultMaxAttempts
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Notify posts payload to url until a 2xx response or the attempt limit.
// It reports whether delivery succeeded and never returns an error.
func (c *Client) Notify(ctx context.Context, url string, payload any) bool {
	body, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("encode notification", "url", url, "error", err)
		return false
	}

	schedule := newSchedule()
	for attempt := 1; ; attempt++ {
		err := c.post(ctx, url, body)
		if err == nil {
			recordAttempt(resultSuccess)
			c.logger.Info("notification delivered", "url", url, "attempt", attempt)
			return true
		}
		recordAttempt(resultFailure)
		c.logger.Warn("notification attempt failed", "url", url, "attempt", attempt, "error", err)

		if attempt >= c.maxAttempts {
			recordAttempt(resultExhausted)
			c.logger.Error("notification delivery failed", "url", url, "attempts", attempt)
			return false
		}
		if err := c.sleep(ctx, schedule.NextBackOff()); err != nil {
			c.logger.Error("notification retry aborted", "url", url, "attempts", attempt, "error", err)
			return false
		}
	}
}

func (c *Client) post(ctx context.Context, url string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// newSchedule yields 1s, 2s, 4s, ... with no jitter and no elapsed-time cap;
// the attempt limit is the only bound.
func newSchedule() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = time.Hour
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
