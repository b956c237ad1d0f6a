// Package api provides HTTP handlers and routing for the AOI gateway service.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/geovista/aoi-gateway/internal/geom"
	"github.com/geovista/aoi-gateway/internal/indices"
	"github.com/geovista/aoi-gateway/internal/workflow"
)

// APIError represents an error response body.
type APIError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// Standard error codes.
const (
	ErrCodeBadRequest        = "BadRequest"
	ErrCodeNotFound          = "NotFound"
	ErrCodeInvalidParameter  = "InvalidParameterValue"
	ErrCodeConflict          = "Conflict"
	ErrCodeServerError       = "ServerError"
	ErrCodeUpstreamError     = "UpstreamServiceError"
	ErrCodeMalformedUpstream = "MalformedUpstreamResponse"
)

// WriteJSON writes a JSON response with the given status code and value.
// If encoding fails, it logs the error and returns it.
func WriteJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response",
			slog.String("error", err.Error()),
		)
		return err
	}

	return nil
}

// WriteGeoJSON writes a GeoJSON response with the given status code and value.
// GeoJSON responses use the application/geo+json media type.
func WriteGeoJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode GeoJSON response",
			slog.String("error", err.Error()),
		)
		return err
	}

	return nil
}

// WriteError writes an error response with the given code and message.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	errResp := APIError{
		Code:        code,
		Description: message,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(errResp); err != nil {
		slog.Error("failed to encode error response",
			slog.String("error", err.Error()),
		)
	}
}

// WriteBadRequest writes a 400 Bad Request error response.
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// WriteNotFound writes a 404 Not Found error response.
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// WriteInvalidParameter writes a 400 Bad Request error for invalid parameters.
func WriteInvalidParameter(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, ErrCodeInvalidParameter, message)
}

// WriteInternalError writes a 500 Internal Server Error response.
func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, ErrCodeServerError, message)
}

// WriteUpstreamError writes a 502 Bad Gateway error for upstream service failures.
func WriteUpstreamError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadGateway, ErrCodeUpstreamError, message)
}

// WriteWorkflowError maps a workflow or upstream error to the appropriate
// HTTP response.
func WriteWorkflowError(w http.ResponseWriter, err error) {
	var upstreamErr *indices.UpstreamError

	switch {
	case errors.Is(err, workflow.ErrSessionNotFound),
		errors.Is(err, workflow.ErrSessionExpired):
		WriteNotFound(w, err.Error())
	case errors.Is(err, workflow.ErrFetchInFlight),
		errors.Is(err, workflow.ErrAOIChanged):
		WriteError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, workflow.ErrNotDrawing),
		errors.Is(err, workflow.ErrNoAOI),
		errors.Is(err, workflow.ErrNoIndex),
		errors.Is(err, workflow.ErrNoDate),
		errors.Is(err, workflow.ErrDateUnavailable),
		errors.Is(err, workflow.ErrInvalidThreshold),
		errors.Is(err, geom.ErrInvalidRing):
		WriteBadRequest(w, err.Error())
	case errors.Is(err, indices.ErrMalformedResponse):
		WriteError(w, http.StatusBadGateway, ErrCodeMalformedUpstream, err.Error())
	case errors.As(err, &upstreamErr):
		WriteUpstreamError(w, err.Error())
	default:
		WriteInternalError(w, "internal server error")
	}
}
