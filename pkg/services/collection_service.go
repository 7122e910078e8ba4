package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openeduhub/metaqs/pkg/apperrors"
	"github.com/openeduhub/metaqs/pkg/models"
	"github.com/openeduhub/metaqs/pkg/search"
	"github.com/openeduhub/metaqs/pkg/stats"
)

// CollectionService reads the collection hierarchy from the search index.
type CollectionService interface {
	// GetManySorted lists every collection below root, parents before children.
	GetManySorted(ctx context.Context, root uuid.UUID) ([]models.Collection, error)

	// ChildPortals lists the direct children of root.
	ChildPortals(ctx context.Context, root uuid.UUID) ([]models.Collection, error)

	// PortalTree assembles the collection hierarchy below root.
	PortalTree(ctx context.Context, root uuid.UUID) ([]*models.PortalTreeNode, error)

	// WithMissingAttribute lists collections below ancestor lacking attr.
	WithMissingAttribute(ctx context.Context, ancestor uuid.UUID, attr models.CollectionAttribute) ([]models.Collection, error)

	// MaterialsWithMissingAttribute lists materials below ancestor lacking attr.
	MaterialsWithMissingAttribute(ctx context.Context, ancestor uuid.UUID, attr models.MaterialAttribute) ([]models.LearningMaterial, error)

	// DescendantMaterialsCounts counts materials per collection below ancestor.
	DescendantMaterialsCounts(ctx context.Context, ancestor uuid.UUID) (*models.MaterialsCountsResult, error)
}

type collectionService struct {
	searcher search.Searcher
	catalog  search.Catalog
	logger   *zap.Logger
}

// NewCollectionService creates a new CollectionService.
func NewCollectionService(searcher search.Searcher, catalog search.Catalog, logger *zap.Logger) CollectionService {
	return &collectionService{
		searcher: searcher,
		catalog:  catalog,
		logger:   logger.Named("collection-service"),
	}
}

var _ CollectionService = (*collectionService)(nil)

func (s *collectionService) GetManySorted(ctx context.Context, root uuid.UUID) ([]models.Collection, error) {
	resp, err := s.searcher.Search(ctx, s.catalog.DescendantCollections(root))
	if err != nil {
		return nil, fmt.Errorf("failed to list collections below %s: %w", root, err)
	}
	return parseHits(resp.Hits.Hits, models.ParseCollection, s.logger), nil
}

func (s *collectionService) ChildPortals(ctx context.Context, root uuid.UUID) ([]models.Collection, error) {
	collections, err := s.GetManySorted(ctx, root)
	if err != nil {
		return nil, err
	}

	portals := make([]models.Collection, 0)
	for _, c := range collections {
		if parent, ok := c.ParentID(); ok && parent == root {
			portals = append(portals, c)
		}
	}
	return portals, nil
}

func (s *collectionService) PortalTree(ctx context.Context, root uuid.UUID) ([]*models.PortalTreeNode, error) {
	collections, err := s.GetManySorted(ctx, root)
	if err != nil {
		return nil, err
	}
	return buildPortalTree(collections, root), nil
}

func (s *collectionService) WithMissingAttribute(ctx context.Context, ancestor uuid.UUID, attr models.CollectionAttribute) ([]models.Collection, error) {
	resp, err := s.searcher.Search(ctx, s.catalog.CollectionsMissing(ancestor, attr))
	if err != nil {
		return nil, fmt.Errorf("failed to list collections missing %s: %w", attr, err)
	}
	return parseHits(resp.Hits.Hits, models.ParseCollection, s.logger), nil
}

func (s *collectionService) MaterialsWithMissingAttribute(ctx context.Context, ancestor uuid.UUID, attr models.MaterialAttribute) ([]models.LearningMaterial, error) {
	resp, err := s.searcher.Search(ctx, s.catalog.MaterialsMissing(ancestor, attr))
	if err != nil {
		return nil, fmt.Errorf("failed to list materials missing %s: %w", attr, err)
	}
	return parseHits(resp.Hits.Hits, models.ParseMaterial, s.logger), nil
}

func (s *collectionService) DescendantMaterialsCounts(ctx context.Context, ancestor uuid.UUID) (*models.MaterialsCountsResult, error) {
	collections, err := s.GetManySorted(ctx, ancestor)
	if err != nil {
		return nil, err
	}

	buckets, err := search.CollectCompositeBuckets(ctx, s.searcher, search.AggGroupedByCollection,
		s.catalog.DescendantMaterialsCounts(ancestor))
	if err != nil {
		return nil, fmt.Errorf("failed to count materials below %s: %w", ancestor, err)
	}

	result := stats.ReduceMaterialsCounts(collections, buckets)
	if len(result.Orphans) > 0 {
		s.logger.Warn("Material counts reference unknown collections",
			zap.String("noderef_id", ancestor.String()),
			zap.Int("orphans", len(result.Orphans)))
	}
	return &result, nil
}

func buildPortalTree(collections []models.Collection, root uuid.UUID) []*models.PortalTreeNode {
	inputs := make([]models.TreeInput, 0, len(collections))
	for _, c := range collections {
		inputs = append(inputs, models.TreeInputFromCollection(c))
	}
	return stats.BuildTree(inputs, root)
}

// parseHits parses every hit, skipping documents without a usable node id.
func parseHits[T any](hits []search.Hit, parse func(map[string]any) (T, error), logger *zap.Logger) []T {
	out := make([]T, 0, len(hits))
	for _, h := range hits {
		item, err := parse(h.Source)
		if err != nil {
			logger.Warn("Skipping unparseable document",
				zap.String("doc_id", h.ID),
				zap.Bool("malformed_reference", errors.Is(err, apperrors.ErrMalformedReference)),
				zap.Error(err))
			continue
		}
		out = append(out, item)
	}
	return out
}
