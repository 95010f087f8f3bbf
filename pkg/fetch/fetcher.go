package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/trionica/catalog-enricher/pkg/metrics"
	"github.com/trionica/catalog-enricher/pkg/utils"
)

const (
	DefaultRetryAfter = 20 * time.Second
	MaxRetryAfter     = 60 * time.Second

	defaultMaxBody = 4 << 20
)

// RequestBuilder creates a fresh request for each attempt, so a retry after
// key rotation or re-signing never reuses stale credentials.
type RequestBuilder func(ctx context.Context) (*http.Request, error)

// RateLimitFunc reports whether a non-2xx response is a rate-limit signal
type RateLimitFunc func(status int, header http.Header, body []byte) bool

// IsTooManyRequests is the plain HTTP 429 predicate
func IsTooManyRequests(status int, _ http.Header, _ []byte) bool {
	return status == http.StatusTooManyRequests
}

// RetryPolicy decides what happens after the first rate-limit response.
// If Rotate succeeds the call is retried immediately, otherwise it waits
// for Retry-After (DefaultRetryAfter when absent, capped at MaxRetryAfter)
// and retries once.
type RetryPolicy struct {
	Rotate            func(reason string) bool
	DefaultRetryAfter time.Duration
	MaxRetryAfter     time.Duration
}

// Response is a fully read provider response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Caller is the one retryable-call wrapper shared by every provider client.
// It applies the request budget, per-host spacing and the rate-limit policy.
type Caller struct {
	client   *http.Client
	limiter  *RateLimiter
	budget   *RequestBudget
	minDelay time.Duration
	maxBody  int64
	sleep    func(ctx context.Context, d time.Duration) error
	log      *logrus.Entry
}

// NewCaller creates a Caller. limiter and budget may be nil.
func NewCaller(client *http.Client, limiter *RateLimiter, budget *RequestBudget, minDelay time.Duration, log *logrus.Entry) *Caller {
	return &Caller{
		client:   client,
		limiter:  limiter,
		budget:   budget,
		minDelay: minDelay,
		maxBody:  defaultMaxBody,
		sleep:    Sleep,
		log:      log,
	}
}

// WithSleep replaces the backoff sleeper
func (c *Caller) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Caller {
	c.sleep = sleep
	return c
}

// Budget returns the request budget shared by this caller
func (c *Caller) Budget() *RequestBudget {
	return c.budget
}

// Do executes one logical provider call. Non-2xx responses come back as
// wrapped sentinel errors; a second consecutive rate limit is ErrRateLimited.
func (c *Caller) Do(ctx context.Context, provider string, build RequestBuilder, isRateLimited RateLimitFunc, policy RetryPolicy) (*Response, error) {
	if policy.DefaultRetryAfter <= 0 {
		policy.DefaultRetryAfter = DefaultRetryAfter
	}
	if policy.MaxRetryAfter <= 0 {
		policy.MaxRetryAfter = MaxRetryAfter
	}
	callLog := c.log.WithField("provider", provider)
	rateLimitRetried := false

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := c.budget.Take(); err != nil {
			metrics.ProviderRequests.WithLabelValues(provider, "budget_exhausted").Inc()
			return nil, err
		}

		req, err := build(ctx)
		if err != nil {
			metrics.ProviderRequests.WithLabelValues(provider, "build_error").Inc()
			return nil, err
		}
		host := req.URL.Host
		reqLog := callLog.WithField("host", host)

		if c.limiter != nil {
			c.limiter.ApplyDelay(ctx, host, c.minDelay)
		}
		resp, err := c.client.Do(req.WithContext(ctx))
		if c.limiter != nil {
			c.limiter.UpdateLastRequestTime(host)
		}

		// Errors occurring before getting an HTTP response (DNS, TCP, TLS errors etc.)
		if err != nil {
			if resp != nil {
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return nil, err
			}
			metrics.ProviderRequests.WithLabelValues(provider, "network_error").Inc()
			reqLog.Warnf("Network error: %v", err)
			return nil, fmt.Errorf("%w: %s: %w", utils.ErrNetwork, provider, err)
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if readErr != nil {
			metrics.ProviderRequests.WithLabelValues(provider, "body_read_error").Inc()
			return nil, fmt.Errorf("%w: %s: %v", utils.ErrResponseBodyRead, provider, readErr)
		}

		status := resp.StatusCode
		resLog := reqLog.WithFields(logrus.Fields{"status_code": status, "status": resp.Status})

		if status >= 200 && status < 300 {
			metrics.ProviderRequests.WithLabelValues(provider, "ok").Inc()
			resLog.Debug("Provider call succeeded")
			return &Response{StatusCode: status, Header: resp.Header, Body: body}, nil
		}

		if isRateLimited != nil && isRateLimited(status, resp.Header, body) {
			metrics.ProviderRequests.WithLabelValues(provider, "rate_limited").Inc()
			if rateLimitRetried {
				resLog.Warn("Rate limited again after retry, giving up on this provider")
				return nil, fmt.Errorf("%w: %s: status %d", utils.ErrRateLimited, provider, status)
			}
			rateLimitRetried = true

			reason := fmt.Sprintf("%s rate limited (HTTP %d)", provider, status)
			if policy.Rotate != nil && policy.Rotate(reason) {
				resLog.Info("Rate limited, retrying immediately with rotated key")
				continue
			}
			wait := RetryAfter(resp.Header, policy.DefaultRetryAfter, policy.MaxRetryAfter)
			metrics.RateLimitWaits.WithLabelValues(provider).Inc()
			resLog.WithField("wait", wait).Warn("Rate limited, waiting before single retry")
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		switch {
		case status >= 500:
			metrics.ProviderRequests.WithLabelValues(provider, "server_error").Inc()
			resLog.Warn("Provider server error")
			return nil, fmt.Errorf("%w: status %d %s", utils.ErrServerHTTPError, status, resp.Status)
		case status >= 400:
			metrics.ProviderRequests.WithLabelValues(provider, "client_error").Inc()
			resLog.Warn("Provider client error")
			return nil, fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, status, resp.Status)
		default:
			metrics.ProviderRequests.WithLabelValues(provider, "other_status").Inc()
			resLog.Warnf("Unexpected provider status: %d", status)
			return nil, fmt.Errorf("%w: status %d %s", utils.ErrOtherHTTPError, status, resp.Status)
		}
	}
}
