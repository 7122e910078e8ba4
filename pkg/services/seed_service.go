package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openeduhub/metaqs/pkg/apperrors"
	"github.com/openeduhub/metaqs/pkg/database"
	"github.com/openeduhub/metaqs/pkg/metrics"
	"github.com/openeduhub/metaqs/pkg/models"
	"github.com/openeduhub/metaqs/pkg/repositories"
)

// SeedService backfills and clears snapshot history.
type SeedService interface {
	// SeedBackward copies the earliest snapshot of every stat type of a node
	// to each of the count days before it. Stat types without snapshots are
	// left alone. Returns the number of rows written.
	SeedBackward(ctx context.Context, nodeRefID uuid.UUID, count int) (int, error)

	// ClearAll deletes every snapshot of every node.
	ClearAll(ctx context.Context) error
}

type seedService struct {
	statsRepo repositories.StatsRepository
	scopes    database.ScopeProvider
	logger    *zap.Logger
}

// NewSeedService creates a new SeedService.
func NewSeedService(statsRepo repositories.StatsRepository, scopes database.ScopeProvider, logger *zap.Logger) SeedService {
	return &seedService{
		statsRepo: statsRepo,
		scopes:    scopes,
		logger:    logger.Named("seed-service"),
	}
}

var _ SeedService = (*seedService)(nil)

func (s *seedService) SeedBackward(ctx context.Context, nodeRefID uuid.UUID, count int) (int, error) {
	if count <= 0 {
		return 0, nil
	}

	ctx, release, err := s.scopes.WithScope(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to acquire database scope: %w", err)
	}
	defer release()

	written := 0
	for _, statType := range models.AllStatTypes() {
		earliest, err := s.statsRepo.Earliest(ctx, nodeRefID, statType)
		if errors.Is(err, apperrors.ErrNotFound) {
			continue
		}
		if err != nil {
			return written, fmt.Errorf("failed to read earliest %s snapshot: %w", statType, err)
		}

		for day := 1; day <= count; day++ {
			derivedAt := earliest.DerivedAt.AddDate(0, 0, -day)
			if _, err := s.statsRepo.Insert(ctx, nodeRefID, statType, earliest.Stats, derivedAt); err != nil {
				return written, fmt.Errorf("failed to seed %s snapshot: %w", statType, err)
			}
			written++
			metrics.StatWritten(string(statType), "seed")
		}
	}

	s.logger.Info("Seeded snapshot history",
		zap.String("noderef_id", nodeRefID.String()),
		zap.Int("days", count),
		zap.Int("rows", written))
	return written, nil
}

func (s *seedService) ClearAll(ctx context.Context) error {
	ctx, release, err := s.scopes.WithScope(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire database scope: %w", err)
	}
	defer release()

	if err := s.statsRepo.ClearAll(ctx); err != nil {
		return err
	}
	s.logger.Warn("Cleared all statistic snapshots")
	return nil
}
