// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

package api

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/civitashq/civitas/internal/logging"
	"github.com/civitashq/civitas/internal/store"
)

// APIError is the JSON error body returned by every failing endpoint.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorBody struct {
	Error APIError `json:"error"`
}

// respondJSON writes v as the JSON response body.
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(v)
	if err != nil {
		logging.Error().Err(err).Msg("failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("failed to write JSON response")
	}
}

// respondError writes an error body with the given status.
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorBody{Error: APIError{Code: code, Message: message}})
}

// respondStoreError maps a gateway error to its HTTP equivalent. Unknown
// errors become 500 without leaking internals to the client.
func respondStoreError(w http.ResponseWriter, err error) {
	var se *store.Error
	if !errors.As(err, &se) {
		logging.Error().Err(err).Msg("unclassified store error")
		respondError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}

	status := http.StatusInternalServerError
	switch se.Code {
	case store.CodeInvalid:
		status = http.StatusBadRequest
	case store.CodeNotFound:
		status = http.StatusNotFound
	case store.CodeUnauthorized:
		status = http.StatusUnauthorized
	case store.CodeForbidden:
		status = http.StatusForbidden
	case store.CodeConflict:
		status = http.StatusConflict
	case store.CodeRateLimited:
		status = http.StatusTooManyRequests
	case store.CodeUnavailable:
		status = http.StatusServiceUnavailable
	}
	message := se.Message
	if message == "" {
		message = http.StatusText(status)
	}
	respondError(w, status, string(se.Code), message)
}
