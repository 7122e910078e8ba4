package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/openeduhub/metaqs/pkg/apperrors"
	"github.com/openeduhub/metaqs/pkg/database"
	"github.com/openeduhub/metaqs/pkg/models"
)

// StatsRepository persists statistic snapshots. Rows are append-only:
// nothing ever updates a snapshot once written.
type StatsRepository interface {
	// Insert appends one snapshot and returns the stored row.
	Insert(ctx context.Context, nodeRefID uuid.UUID, statType models.StatType, stats json.RawMessage, derivedAt time.Time) (*models.Stat, error)
	// Latest returns the newest snapshot derived at or before at.
	// A nil at means "now". Returns apperrors.ErrNotFound when none exists.
	Latest(ctx context.Context, nodeRefID uuid.UUID, statType models.StatType, at *time.Time) (*models.Stat, error)
	// Earliest returns the oldest snapshot for the node and stat type.
	Earliest(ctx context.Context, nodeRefID uuid.UUID, statType models.StatType) (*models.Stat, error)
	// Timeline lists the distinct derivation times for a node, newest first,
	// optionally restricted to one stat type.
	Timeline(ctx context.Context, nodeRefID uuid.UUID, statType *models.StatType) ([]time.Time, error)
	// ClearAll deletes every snapshot.
	ClearAll(ctx context.Context) error
}

type statsRepository struct{}

// NewStatsRepository creates a new StatsRepository.
func NewStatsRepository() StatsRepository {
	return &statsRepository{}
}

var _ StatsRepository = (*statsRepository)(nil)

const statColumns = `id, noderef_id, stat_type, stats, derived_at, created_at`

// NormalizeDerivedAt maps a time onto what the timestamp column can hold,
// so a written value compares equal to the one read back.
func NormalizeDerivedAt(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func (r *statsRepository) Insert(ctx context.Context, nodeRefID uuid.UUID, statType models.StatType, stats json.RawMessage, derivedAt time.Time) (*models.Stat, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	query := `
		INSERT INTO stats (noderef_id, stat_type, stats, derived_at)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + statColumns

	stat, err := scanStat(scope.Q().QueryRow(ctx, query,
		nodeRefID,
		string(statType),
		[]byte(stats),
		NormalizeDerivedAt(derivedAt),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to insert %s stat: %w", statType, err)
	}
	return stat, nil
}

func (r *statsRepository) Latest(ctx context.Context, nodeRefID uuid.UUID, statType models.StatType, at *time.Time) (*models.Stat, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	// Without at the newest row wins, even one dated ahead of this host's clock.
	var cutoff *time.Time
	if at != nil {
		c := NormalizeDerivedAt(*at)
		cutoff = &c
	}

	query := `
		SELECT ` + statColumns + `
		FROM stats
		WHERE noderef_id = $1 AND stat_type = $2
		  AND ($3::timestamp IS NULL OR derived_at <= $3::timestamp)
		ORDER BY derived_at DESC, id DESC
		LIMIT 1`

	stat, err := scanStat(scope.Q().QueryRow(ctx, query, nodeRefID, string(statType), cutoff))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest %s stat: %w", statType, err)
	}
	return stat, nil
}

func (r *statsRepository) Earliest(ctx context.Context, nodeRefID uuid.UUID, statType models.StatType) (*models.Stat, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	query := `
		SELECT ` + statColumns + `
		FROM stats
		WHERE noderef_id = $1 AND stat_type = $2
		ORDER BY derived_at ASC, id ASC
		LIMIT 1`

	stat, err := scanStat(scope.Q().QueryRow(ctx, query, nodeRefID, string(statType)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get earliest %s stat: %w", statType, err)
	}
	return stat, nil
}

func (r *statsRepository) Timeline(ctx context.Context, nodeRefID uuid.UUID, statType *models.StatType) ([]time.Time, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	query := `
		SELECT derived_at
		FROM stats
		WHERE noderef_id = $1 AND ($2::stat_type IS NULL OR stat_type = $2::stat_type)
		ORDER BY derived_at DESC`

	var typeArg *string
	if statType != nil {
		s := string(*statType)
		typeArg = &s
	}

	rows, err := scope.Q().Query(ctx, query, nodeRefID, typeArg)
	if err != nil {
		return nil, fmt.Errorf("failed to query timeline: %w", err)
	}
	defer rows.Close()

	var timeline []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan timeline entry: %w", err)
		}
		timeline = append(timeline, t.UTC())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating timeline: %w", err)
	}

	if len(timeline) == 0 {
		return nil, apperrors.ErrNotFound
	}
	return timeline, nil
}

func (r *statsRepository) ClearAll(ctx context.Context) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return database.ErrNoScope
	}

	if _, err := scope.Q().Exec(ctx, `DELETE FROM stats`); err != nil {
		return fmt.Errorf("failed to clear stats: %w", err)
	}
	return nil
}

func scanStat(row pgx.Row) (*models.Stat, error) {
	var (
		s        models.Stat
		statType string
		raw      []byte
	)
	if err := row.Scan(&s.ID, &s.NodeRefID, &statType, &raw, &s.DerivedAt, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.StatType = models.StatType(statType)
	s.Stats = json.RawMessage(raw)
	s.DerivedAt = s.DerivedAt.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	return &s, nil
}
