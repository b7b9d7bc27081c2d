// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Passthrough forwards /v1/messages verbatim to an Anthropic-compatible
// upstream, streaming SSE bytes through unchanged. An optional model
// override rewrites the model field of each request body.
type Passthrough struct {
	baseURL  string
	apiKey   string
	model    string
	upstream *Upstream
	logger   *zap.Logger
}

// NewPassthrough creates the passthrough handler.
func NewPassthrough(baseURL, apiKey, model string, upstream *Upstream, logger *zap.Logger) *Passthrough {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Passthrough{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		model:    model,
		upstream: upstream,
		logger:   logger,
	}
}

func (p *Passthrough) serveMessages(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeAnthropicError(w, http.StatusBadRequest, "invalid_request_error", "failed to read request body")
		return
	}

	if p.model != "" {
		body, err = overrideModel(body, p.model)
		if err != nil {
			writeAnthropicError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
			return
		}
	}

	header := http.Header{}
	for _, k := range []string{"Content-Type", "Anthropic-Version", "Anthropic-Beta", "X-Api-Key", "Authorization"} {
		if v := r.Header.Get(k); v != "" {
			header.Set(k, v)
		}
	}
	if p.apiKey != "" {
		header.Set("X-Api-Key", p.apiKey)
		header.Del("Authorization")
	}
	if header.Get("Content-Type") == "" {
		header.Set("Content-Type", "application/json")
	}

	resp, err := p.upstream.Do(r.Context(), http.MethodPost, p.baseURL+"/v1/messages", header, body)
	if err != nil {
		writeProxyError(w, err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)

	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		p.relayStream(w, resp.Body)
		return
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		p.logger.Debug("response relay interrupted", zap.Error(err))
	}
}

// relayStream copies the upstream SSE stream byte for byte, flushing
// each chunk so clients see events as they arrive.
func (p *Passthrough) relayStream(w http.ResponseWriter, body io.Reader) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if err != io.EOF {
				p.logger.Debug("stream relay interrupted", zap.Error(err))
			}
			return
		}
	}
}

// overrideModel rewrites the model field of a request body, leaving
// everything else untouched.
func overrideModel(body []byte, model string) ([]byte, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(model)
	if err != nil {
		return nil, err
	}
	m["model"] = encoded
	return json.Marshal(m)
}
