package database

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// WithScopeContext pins one pooled connection to each request. Handlers
// downstream find it with GetScope; it goes back to the pool when they
// return. A failed acquire answers 503 without calling the handler.
func WithScopeContext(provider ScopeProvider, logger *zap.Logger) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ctx, release, err := provider.WithScope(r.Context())
			if err != nil {
				logger.Error("No database scope for request",
					zap.String("route", r.Pattern),
					zap.Error(err))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(struct {
					Error   string `json:"error"`
					Message string `json:"message"`
				}{"database_error", "Database connection error"})
				return
			}
			defer release()
			next(w, r.WithContext(ctx))
		}
	}
}
