package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openeduhub/metaqs/pkg/services"
	"github.com/openeduhub/metaqs/pkg/stats"
)

// Query length bounds of the live search endpoint.
const (
	minQueryLength = 3
	maxQueryLength = 50
	maxSeedDays    = 3650
)

// Middleware wraps a handler, e.g. with authentication or a database scope.
type Middleware func(http.HandlerFunc) http.HandlerFunc

// JobDispatcher starts background jobs for a node and its fan-out targets.
type JobDispatcher interface {
	Dispatch(ctx context.Context, name string, nodeRefID uuid.UUID, job services.Job) ([]uuid.UUID, error)
}

// StatsHandler serves stored snapshots, live statistics and the
// maintenance endpoints that produce snapshots.
type StatsHandler struct {
	stats      services.StatsService
	seeds      services.SeedService
	dispatcher JobDispatcher
	seedDays   int
	logger     *zap.Logger
}

// NewStatsHandler creates a new StatsHandler. seedDays is the default
// history length of seed-stats.
func NewStatsHandler(statsService services.StatsService, seedService services.SeedService, dispatcher JobDispatcher, seedDays int, logger *zap.Logger) *StatsHandler {
	return &StatsHandler{
		stats:      statsService,
		seeds:      seedService,
		dispatcher: dispatcher,
		seedDays:   seedDays,
		logger:     logger,
	}
}

// RegisterRoutes registers the stats routes. scoped acquires a database
// scope for snapshot reads; guard protects the maintenance endpoints.
func (h *StatsHandler) RegisterRoutes(mux *http.ServeMux, guard, scoped Middleware) {
	base := "/api/v1/stats"

	mux.HandleFunc("GET "+base+"/material-types", h.MaterialTypes)
	mux.HandleFunc("GET "+base+"/search/material-type", h.SearchHits)
	mux.HandleFunc("GET "+base+"/{noderef_id}/score", h.Score)
	mux.HandleFunc("GET "+base+"/{noderef_id}/material-type", h.LiveMaterialTypes)
	mux.HandleFunc("GET "+base+"/{noderef_id}/timeline", scoped(h.Timeline))
	mux.HandleFunc("GET "+base+"/{noderef_id}/{stat_type}", scoped(h.ReadStats))

	mux.HandleFunc("POST /api/v1/run-stats/{noderef_id}", guard(h.RunStats))
	mux.HandleFunc("POST /api/v1/seed-stats/{noderef_id}", guard(h.SeedStats))
	mux.HandleFunc("POST /api/v1/clear-stats", guard(h.ClearStats))
}

type snapshotResponse struct {
	DerivedAt time.Time       `json:"derived_at"`
	Stats     json.RawMessage `json:"stats"`
}

type timelineResponse struct {
	Timeline []time.Time `json:"timeline"`
}

type dispatchResponse struct {
	NodeRefID  uuid.UUID   `json:"noderef_id"`
	Job        string      `json:"job"`
	Dispatched []uuid.UUID `json:"dispatched"`
}

// ReadStats handles GET /api/v1/stats/{noderef_id}/{stat_type}?at=
func (h *StatsHandler) ReadStats(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseNodeRefID(w, r, h.logger)
	if !ok {
		return
	}
	statType, ok := ParseStatType(w, r, h.logger)
	if !ok {
		return
	}
	at, ok := ParseAt(w, r, h.logger)
	if !ok {
		return
	}

	stat, err := h.stats.ReadStats(r.Context(), id, statType, at)
	if err != nil {
		ServiceError(w, err, "Failed to read statistics", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, snapshotResponse{DerivedAt: stat.DerivedAt, Stats: stat.Stats}); err != nil {
		h.logger.Error("Failed to write stats response", zap.Error(err))
	}
}

// Timeline handles GET /api/v1/stats/{noderef_id}/timeline?stat_type=
func (h *StatsHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseNodeRefID(w, r, h.logger)
	if !ok {
		return
	}
	statType, ok := ParseOptionalStatType(w, r, h.logger)
	if !ok {
		return
	}

	times, err := h.stats.Timeline(r.Context(), id, statType)
	if err != nil {
		ServiceError(w, err, "Failed to read timeline", h.logger)
		return
	}

	if err := WriteList(w, len(times), timelineResponse{Timeline: times}); err != nil {
		h.logger.Error("Failed to write timeline response", zap.Error(err))
	}
}

// Score handles GET /api/v1/stats/{noderef_id}/score?modulator=
func (h *StatsHandler) Score(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseNodeRefID(w, r, h.logger)
	if !ok {
		return
	}
	modulator := r.URL.Query().Get("modulator")
	if _, err := stats.ParseModulator(modulator); err != nil {
		badRequest(w, "invalid_modulator", err.Error(), h.logger)
		return
	}

	result, err := h.stats.Score(r.Context(), id, modulator)
	if err != nil {
		ServiceError(w, err, "Failed to compute score", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("Failed to write score response", zap.Error(err))
	}
}

// LiveMaterialTypes handles GET /api/v1/stats/{noderef_id}/material-type.
// The breakdown is computed from the index on every call.
func (h *StatsHandler) LiveMaterialTypes(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseNodeRefID(w, r, h.logger)
	if !ok {
		return
	}

	result, err := h.stats.LiveMaterialTypes(r.Context(), id)
	if err != nil {
		ServiceError(w, err, "Failed to compute material types", h.logger)
		return
	}

	if err := WriteList(w, len(result), result); err != nil {
		h.logger.Error("Failed to write material type response", zap.Error(err))
	}
}

// SearchHits handles GET /api/v1/stats/search/material-type?query_str=
func (h *StatsHandler) SearchHits(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query_str")
	if n := utf8.RuneCountInString(query); n < minQueryLength || n > maxQueryLength {
		badRequest(w, "invalid_query_str", "query_str must be between 3 and 50 characters", h.logger)
		return
	}

	hits, err := h.stats.SearchHitsByMaterialType(r.Context(), query)
	if err != nil {
		ServiceError(w, err, "Failed to search materials", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, hits); err != nil {
		h.logger.Error("Failed to write search response", zap.Error(err))
	}
}

// MaterialTypes handles GET /api/v1/stats/material-types
func (h *StatsHandler) MaterialTypes(w http.ResponseWriter, r *http.Request) {
	labels, err := h.stats.MaterialTypes(r.Context())
	if err != nil {
		ServiceError(w, err, "Failed to list material types", h.logger)
		return
	}

	if err := WriteList(w, len(labels), labels); err != nil {
		h.logger.Error("Failed to write material types response", zap.Error(err))
	}
}

// RunStats handles POST /api/v1/run-stats/{noderef_id}
func (h *StatsHandler) RunStats(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseNodeRefID(w, r, h.logger)
	if !ok {
		return
	}
	h.dispatch(w, r, "run-stats", id, services.RunStatsJob(h.stats))
}

// SeedStats handles POST /api/v1/seed-stats/{noderef_id}?count=
func (h *StatsHandler) SeedStats(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseNodeRefID(w, r, h.logger)
	if !ok {
		return
	}
	count, ok := ParseIntParam(w, r, "count", h.seedDays, 1, maxSeedDays, h.logger)
	if !ok {
		return
	}
	h.dispatch(w, r, "seed-stats", id, services.SeedJob(h.seeds, count))
}

func (h *StatsHandler) dispatch(w http.ResponseWriter, r *http.Request, name string, id uuid.UUID, job services.Job) {
	targets, err := h.dispatcher.Dispatch(r.Context(), name, id, job)
	if err != nil {
		ServiceError(w, err, "Failed to dispatch "+name, h.logger)
		return
	}

	h.logger.Info("Accepted maintenance request",
		zap.String("job", name),
		zap.String("noderef_id", id.String()),
		zap.Int("targets", len(targets)))

	resp := dispatchResponse{NodeRefID: id, Job: name, Dispatched: targets}
	if err := WriteJSON(w, http.StatusAccepted, resp); err != nil {
		h.logger.Error("Failed to write dispatch response", zap.Error(err))
	}
}

// ClearStats handles POST /api/v1/clear-stats
func (h *StatsHandler) ClearStats(w http.ResponseWriter, r *http.Request) {
	if err := h.seeds.ClearAll(r.Context()); err != nil {
		ServiceError(w, err, "Failed to clear statistics", h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
