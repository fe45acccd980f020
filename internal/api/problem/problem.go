// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package problem writes RFC 7807 problem responses.
package problem

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/yaotutu/lumi-assistant-cli/internal/log"
)

const (
	HeaderCorrelationID = "X-Correlation-ID"
	ContentType         = "application/problem+json"
	JSONKeyCorrelation  = "correlationId"
)

// Details is the problem body.
type Details struct {
	Type          string `json:"type"`
	Title         string `json:"title"`
	Status        int    `json:"status"`
	Code          string `json:"code"`
	Detail        string `json:"detail,omitempty"`
	Instance      string `json:"instance,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// Write sends a problem response. code is the stable machine-readable
// identifier (e.g. "conflict"); type is derived from it.
//
// The correlation id comes from the request context, falling back to the
// response header set by the correlation middleware.
func Write(w http.ResponseWriter, r *http.Request, status int, code, detail string) {
	d := Details{
		Type:   "lumi/" + strings.ToLower(code),
		Title:  http.StatusText(status),
		Status: status,
		Code:   code,
		Detail: detail,
	}
	if r != nil {
		d.Instance = r.URL.EscapedPath()
		d.CorrelationID = log.CorrelationIDFromContext(r.Context())
	}
	if d.CorrelationID == "" {
		d.CorrelationID = w.Header().Get(HeaderCorrelationID)
	}
	if d.CorrelationID != "" {
		w.Header().Set(HeaderCorrelationID, d.CorrelationID)
	}

	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(d); err != nil {
		l := log.WithComponent("api")
		l.Error().
			Err(err).
			Str(log.FieldEvent, "api.problem_encode_failed").
			Int("status", status).
			Msg("failed to encode problem response")
	}
}
