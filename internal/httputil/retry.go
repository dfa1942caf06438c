// Package httputil sends report payloads with bounded retries.
package httputil

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/breeze-rmm/netmetrics/internal/logging"
)

var log = logging.L("httputil")

// RetryPolicy controls how often and how far apart a request is re-sent.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterFrac    float64 // ±fraction of each delay
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		JitterFrac:    0.3,
	}
}

// delay returns the wait before retry n (n >= 1), without jitter.
func (p RetryPolicy) delay(n int) time.Duration {
	d := float64(p.InitialDelay)
	factor := p.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	for i := 1; i < n; i++ {
		d *= factor
		if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// StatusError reports a non-2xx response. Retryable is set for statuses that
// were retried until the policy gave up.
type StatusError struct {
	StatusCode int
	URL        string
	Retryable  bool
}

func (e *StatusError) Error() string {
	if e.Retryable {
		return fmt.Sprintf("request to %s failed after retries: %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("request to %s rejected: %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
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

// Post sends body to url, retrying network errors and retryable statuses.
// The response body is closed; a non-2xx final status is
// returned as *StatusError.
func Post(ctx context.Context, client *http.Client, url string, body []byte, headers http.Header, policy RetryPolicy) error {
	if client == nil {
		client = http.DefaultClient
	}
	retries := max(policy.MaxRetries, 0)
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			wait := jitter(policy.delay(attempt), policy.JitterFrac)
			if ra, ok := lastErr.(*retryAfterError); ok && ra.after > wait {
				wait = ra.after
				if policy.MaxDelay > 0 {
					wait = min(wait, policy.MaxDelay)
				}
			}
			log.Debug("retrying post", "attempt", attempt, "delay", wait, "url", url)
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		for k, vals := range headers {
			for _, v := range vals {
				req.Header.Add(k, v)
			}
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case retryableStatus(resp.StatusCode):
			lastErr = &retryAfterError{
				StatusError: &StatusError{StatusCode: resp.StatusCode, URL: url, Retryable: true},
				after:       parseRetryAfter(resp.Header.Get("Retry-After")),
			}
		default:
			return &StatusError{StatusCode: resp.StatusCode, URL: url}
		}
	}

	if ra, ok := lastErr.(*retryAfterError); ok {
		lastErr = ra.StatusError
	}
	log.Warn("post retries exhausted", "url", url, "attempts", retries+1, "error", lastErr)
	return lastErr
}

type retryAfterError struct {
	*StatusError
	after time.Duration
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return max(time.Until(t), 0)
	}
	return 0
}

func jitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 || d <= 0 {
		return d
	}
	j := float64(d) * frac * (2*rand.Float64() - 1)
	return max(time.Duration(float64(d)+j), 0)
}
