// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AgenticCurve/nerve-sub002/pkg/protocol"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	assert.Equal(t, BreakerClosed, b.State())

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		b.Record(false)
	}
	assert.Equal(t, BreakerClosed, b.State())

	// A success resets the consecutive count.
	require.NoError(t, b.Allow())
	b.Record(true)
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Allow())
		b.Record(false)
	}
	assert.Equal(t, BreakerOpen, b.State())

	err := b.Allow()
	require.Error(t, err)
	assert.True(t, protocol.IsKind(err, protocol.KindCircuitOpen))
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := NewBreaker(1, 20*time.Millisecond)
	require.NoError(t, b.Allow())
	b.Record(false)
	assert.Equal(t, BreakerOpen, b.State())

	time.Sleep(25 * time.Millisecond)

	// One probe is admitted; a second concurrent call is refused.
	require.NoError(t, b.Allow())
	assert.Equal(t, BreakerHalfOpen, b.State())
	err := b.Allow()
	require.Error(t, err)
	assert.True(t, protocol.IsKind(err, protocol.KindCircuitOpen))

	// Probe failure reopens.
	b.Record(false)
	assert.Equal(t, BreakerOpen, b.State())

	time.Sleep(25 * time.Millisecond)
	require.NoError(t, b.Allow())
	b.Record(true)
	assert.Equal(t, BreakerClosed, b.State())
}

func TestUpstreamRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	u := NewUpstream(srv.Client(), nil, RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, nil)
	resp, err := u.Do(context.Background(), http.MethodPost, srv.URL, nil, []byte("{}"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 3, calls.Load())
}

func TestUpstreamReturnsFinalErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
	}))
	defer srv.Close()

	u := NewUpstream(srv.Client(), nil, RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, nil)
	resp, err := u.Do(context.Background(), http.MethodPost, srv.URL, nil, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	// Out of retries the upstream answer is handed back untouched.
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestUpstreamFailsFastWhenOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := NewBreaker(1, time.Minute)
	u := NewUpstream(srv.Client(), b, RetryPolicy{MaxRetries: 0, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, nil)

	resp, err := u.Do(context.Background(), http.MethodPost, srv.URL, nil, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, BreakerOpen, b.State())

	_, err = u.Do(context.Background(), http.MethodPost, srv.URL, nil, nil)
	require.Error(t, err)
	assert.True(t, protocol.IsKind(err, protocol.KindCircuitOpen))
}

func TestToolIDMapperBijection(t *testing.T) {
	m := NewToolIDMapper()

	a := m.AnthropicID("call_abc123")
	assert.Equal(t, "toolu_abc123", a)
	// Stable on repeat.
	assert.Equal(t, a, m.AnthropicID("call_abc123"))
	// Reverse direction returns the original.
	assert.Equal(t, "call_abc123", m.ProviderID(a))

	// Reverse-first minting.
	p := m.ProviderID("toolu_xyz")
	assert.Equal(t, "call_xyz", p)
	assert.Equal(t, "toolu_xyz", m.AnthropicID(p))

	// Unprefixed provider ids still round-trip.
	odd := m.AnthropicID("fc-42")
	assert.Equal(t, "toolu_fc-42", odd)
	assert.Equal(t, "fc-42", m.ProviderID(odd))
}
