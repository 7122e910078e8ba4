package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/openeduhub/metaqs/pkg/apperrors"
	"github.com/openeduhub/metaqs/pkg/services"
)

// errorBody is the shape of every error answer of the API.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ErrorResponse writes errorBody with statusCode.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	return WriteJSON(w, statusCode, errorBody{Error: errorCode, Message: message})
}

// WriteJSON encodes data as the response body. A 200 status is left implicit.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// WriteList writes a list body and its size in X-Total-Count.
func WriteList(w http.ResponseWriter, total int, data any) error {
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	return WriteJSON(w, http.StatusOK, data)
}

// ServiceError maps a service error onto an HTTP error response.
// Unexpected errors are logged; the client only sees message.
func ServiceError(w http.ResponseWriter, err error, message string, logger *zap.Logger) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, apperrors.ErrInvalidStatType),
		errors.Is(err, apperrors.ErrInvalidAttribute),
		errors.Is(err, apperrors.ErrMalformedReference):
		status, code = http.StatusBadRequest, "invalid_parameters"
	case errors.Is(err, apperrors.ErrUpstreamQuery):
		status, code = http.StatusBadGateway, "upstream_error"
	case errors.Is(err, services.ErrDispatcherClosed):
		status, code = http.StatusServiceUnavailable, "shutting_down"
	}

	if status >= http.StatusInternalServerError {
		logger.Error(message, zap.Int("status", status), zap.Error(err))
	}
	if status == http.StatusNotFound || status == http.StatusBadRequest {
		message = err.Error()
	}
	if werr := ErrorResponse(w, status, code, message); werr != nil {
		logger.Error("Failed to write error response", zap.Error(werr))
	}
}
