// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package proxy

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/AgenticCurve/nerve-sub002/pkg/protocol"
)

// RetryPolicy tunes upstream retries. Retries apply to 5xx and 429
// responses and to transport errors, with exponential backoff.
type RetryPolicy struct {
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
}

// DefaultRetryPolicy mirrors the provider SDK defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second}
}

// Upstream is the breaker- and retry-wrapped HTTP client the proxies
// share for one upstream base URL.
type Upstream struct {
	http    *http.Client
	breaker *Breaker
	retry   RetryPolicy
	logger  *zap.Logger
}

// NewUpstream builds an upstream client. Nil fields take defaults.
func NewUpstream(httpClient *http.Client, breaker *Breaker, retry RetryPolicy, logger *zap.Logger) *Upstream {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	if breaker == nil {
		breaker = NewBreaker(0, 0)
	}
	if retry.MaxRetries < 0 {
		retry.MaxRetries = 0
	}
	if retry.BaseDelay <= 0 {
		retry.BaseDelay = DefaultRetryPolicy().BaseDelay
	}
	if retry.MaxDelay <= 0 {
		retry.MaxDelay = DefaultRetryPolicy().MaxDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Upstream{http: httpClient, breaker: breaker, retry: retry, logger: logger}
}

func retryable(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests
}

// Do posts body to url with the given headers, applying the circuit
// breaker and retry policy. The caller owns the returned response
// body. Transport errors and 5xx count as breaker failures; 4xx are
// upstream answers and do not.
func (u *Upstream) Do(ctx context.Context, method, url string, header http.Header, body []byte) (*http.Response, error) {
	if err := u.breaker.Allow(); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			u.breaker.Record(false)
			return nil, protocol.AsError(err)
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		resp, err := u.http.Do(req)
		if err == nil && !retryable(resp.StatusCode) {
			u.breaker.Record(true)
			return resp, nil
		}

		status := 0
		if err != nil {
			lastErr = err
		} else {
			status = resp.StatusCode
			lastErr = protocol.Errorf(protocol.KindUpstreamError, "upstream returned %d", status)
			if attempt >= u.retry.MaxRetries {
				// Out of retries: hand the response to the caller so
				// the upstream body can be surfaced. 5xx still counts
				// as a breaker failure, 429 does not.
				u.breaker.Record(status < 500)
				return resp, nil
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}

		if attempt >= u.retry.MaxRetries {
			u.breaker.Record(false)
			return nil, protocol.AsError(lastErr)
		}

		delay := u.retry.BaseDelay << attempt
		if delay > u.retry.MaxDelay {
			delay = u.retry.MaxDelay
		}
		u.logger.Debug("retrying upstream request",
			zap.Int("attempt", attempt+1),
			zap.Int("status", status),
			zap.Duration("delay", delay),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			u.breaker.Record(false)
			return nil, protocol.AsError(ctx.Err())
		}
	}
}
