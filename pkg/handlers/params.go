package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openeduhub/metaqs/pkg/models"
)

// ParseNodeRefID extracts and validates the node id from the request path.
// Returns the parsed UUID and true on success, or uuid.Nil and false on error
// (after writing an error response).
// Expects path parameter: noderef_id
func ParseNodeRefID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	idStr := r.PathValue("noderef_id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		badRequest(w, "invalid_noderef_id", "Invalid noderef_id format", logger)
		return uuid.Nil, false
	}
	return id, true
}

// ParseStatType extracts the stat type from the request path.
func ParseStatType(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (models.StatType, bool) {
	statType, err := models.ParseStatType(r.PathValue("stat_type"))
	if err != nil {
		badRequest(w, "invalid_stat_type", err.Error(), logger)
		return "", false
	}
	return statType, true
}

// ParseOptionalStatType reads the stat_type query parameter; absent means nil.
func ParseOptionalStatType(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (*models.StatType, bool) {
	raw := r.URL.Query().Get("stat_type")
	if raw == "" {
		return nil, true
	}
	statType, err := models.ParseStatType(raw)
	if err != nil {
		badRequest(w, "invalid_stat_type", err.Error(), logger)
		return nil, false
	}
	return &statType, true
}

// naiveLayouts are accepted for "at" when no zone is given; they are read
// as UTC.
var naiveLayouts = []string{"2006-01-02T15:04:05.999999999", "2006-01-02T15:04"}

// ParseAt reads the optional "at" query parameter: RFC 3339, or a
// timestamp without zone such as 2024-03-01T12:00.
func ParseAt(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (*time.Time, bool) {
	raw := r.URL.Query().Get("at")
	if raw == "" {
		return nil, true
	}
	at, err := parseTimestamp(raw)
	if err != nil {
		badRequest(w, "invalid_at", "at must be an RFC 3339 timestamp or YYYY-MM-DDTHH:MM[:SS]", logger)
		return nil, false
	}
	return &at, true
}

func parseTimestamp(raw string) (time.Time, error) {
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err == nil {
		return at, nil
	}
	for _, layout := range naiveLayouts {
		if naive, nerr := time.ParseInLocation(layout, raw, time.UTC); nerr == nil {
			return naive, nil
		}
	}
	return time.Time{}, err
}

// ParseIntParam reads an optional integer query parameter within [min, max].
func ParseIntParam(w http.ResponseWriter, r *http.Request, name string, def, min, max int, logger *zap.Logger) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min || n > max {
		badRequest(w, "invalid_"+name, fmt.Sprintf("%s must be an integer between %d and %d", name, min, max), logger)
		return 0, false
	}
	return n, true
}

func badRequest(w http.ResponseWriter, code, message string, logger *zap.Logger) {
	if err := ErrorResponse(w, http.StatusBadRequest, code, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}
