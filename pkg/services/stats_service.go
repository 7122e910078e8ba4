package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openeduhub/metaqs/pkg/cache"
	"github.com/openeduhub/metaqs/pkg/database"
	"github.com/openeduhub/metaqs/pkg/metrics"
	"github.com/openeduhub/metaqs/pkg/models"
	"github.com/openeduhub/metaqs/pkg/repositories"
	"github.com/openeduhub/metaqs/pkg/search"
	"github.com/openeduhub/metaqs/pkg/stats"
)

// searchConcurrency bounds the per-portal search queries of one run.
const searchConcurrency = 4

// StatsOptions tunes the statistics service.
type StatsOptions struct {
	// TransactionalWrites writes all rows of a run in one transaction.
	TransactionalWrites bool
	// Modulator is the default score modulator name.
	Modulator string
	// Weights are the score weights; zero value means uniform.
	Weights stats.Weights
}

// StatsService computes, stores and reads statistic snapshots.
type StatsService interface {
	// RunStats computes every stat type for the subtree below root and
	// appends one snapshot per stat type, all sharing one derived_at.
	// A stat type whose queries fail is skipped and reported in Failed.
	RunStats(ctx context.Context, root uuid.UUID) (*models.RunReport, error)

	// ReadStats returns the snapshot valid at at (nil means latest).
	ReadStats(ctx context.Context, nodeRefID uuid.UUID, statType models.StatType, at *time.Time) (*models.Stat, error)

	// Timeline lists the derivation times recorded for a node, newest first.
	Timeline(ctx context.Context, nodeRefID uuid.UUID, statType *models.StatType) ([]time.Time, error)

	// Score computes the live quality score for the subtree below nodeRefID.
	// An empty modulator name selects the configured default.
	Score(ctx context.Context, nodeRefID uuid.UUID, modulator string) (*models.ScoreResult, error)

	// SearchHitsByMaterialType counts materials matching query per material type.
	SearchHitsByMaterialType(ctx context.Context, query string) (map[string]int64, error)

	// MaterialTypes lists the normalized material type labels in use.
	MaterialTypes(ctx context.Context) ([]string, error)

	// LiveMaterialTypes computes, without storing a snapshot, the search
	// and material type breakdown of every collection below root, keyed by
	// collection id.
	LiveMaterialTypes(ctx context.Context, root uuid.UUID) (map[string]models.CollectionMaterialTypes, error)
}

type statsService struct {
	searcher    search.Searcher
	catalog     search.Catalog
	collections CollectionService
	statsRepo   repositories.StatsRepository
	scopes      database.ScopeProvider
	scoreCache  cache.ScoreCache
	opts        StatsOptions
	logger      *zap.Logger
	now         func() time.Time
}

// NewStatsService creates a new StatsService.
func NewStatsService(
	searcher search.Searcher,
	catalog search.Catalog,
	collections CollectionService,
	statsRepo repositories.StatsRepository,
	scopes database.ScopeProvider,
	scoreCache cache.ScoreCache,
	opts StatsOptions,
	logger *zap.Logger,
) StatsService {
	return &statsService{
		searcher:    searcher,
		catalog:     catalog,
		collections: collections,
		statsRepo:   statsRepo,
		scopes:      scopes,
		scoreCache:  scoreCache,
		opts:        opts,
		logger:      logger.Named("stats-service"),
		now:         time.Now,
	}
}

var _ StatsService = (*statsService)(nil)

// runState memoizes the collection listing shared by several stat types.
type runState struct {
	root uuid.UUID
	once sync.Once
	cols []models.Collection
	err  error
}

func (s *statsService) descendants(ctx context.Context, rs *runState) ([]models.Collection, error) {
	rs.once.Do(func() {
		rs.cols, rs.err = s.collections.GetManySorted(ctx, rs.root)
	})
	return rs.cols, rs.err
}

type computedStat struct {
	statType models.StatType
	payload  json.RawMessage
}

func (s *statsService) RunStats(ctx context.Context, root uuid.UUID) (*models.RunReport, error) {
	start := s.now()
	defer func() { metrics.ObserveRun(time.Since(start)) }()

	report := &models.RunReport{
		NodeRefID: root,
		DerivedAt: repositories.NormalizeDerivedAt(start),
		Written:   []models.StatType{},
	}
	rs := &runState{root: root}

	var computed []computedStat
	for _, statType := range models.AllStatTypes() {
		value, err := s.compute(ctx, rs, statType)
		if err == nil {
			var payload []byte
			payload, err = json.Marshal(value)
			if err == nil {
				computed = append(computed, computedStat{statType: statType, payload: payload})
				continue
			}
		}
		s.logger.Error("Failed to compute statistic; skipping",
			zap.String("noderef_id", root.String()),
			zap.String("stat_type", string(statType)),
			zap.Error(err))
		s.fail(report, statType)
	}

	if err := s.write(ctx, report, computed); err != nil {
		return report, err
	}

	s.logger.Info("Statistics run finished",
		zap.String("noderef_id", root.String()),
		zap.Time("derived_at", report.DerivedAt),
		zap.Int("written", len(report.Written)),
		zap.Int("failed", len(report.Failed)),
		zap.Duration("elapsed", time.Since(start)))
	return report, nil
}

func (s *statsService) fail(report *models.RunReport, statType models.StatType) {
	report.Failed = append(report.Failed, statType)
	metrics.StatFailed(string(statType))
}

// write persists the computed rows. Without transactional writes every row
// is inserted on its own, so one failed insert does not discard the others.
func (s *statsService) write(ctx context.Context, report *models.RunReport, computed []computedStat) error {
	if len(computed) == 0 {
		return nil
	}

	if s.opts.TransactionalWrites {
		err := s.scopes.WithTx(ctx, func(ctx context.Context) error {
			for _, c := range computed {
				if _, err := s.statsRepo.Insert(ctx, report.NodeRefID, c.statType, c.payload, report.DerivedAt); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			for _, c := range computed {
				s.fail(report, c.statType)
			}
			return fmt.Errorf("failed to write statistics run: %w", err)
		}
		for _, c := range computed {
			report.Written = append(report.Written, c.statType)
			metrics.StatWritten(string(c.statType), "run")
		}
		return nil
	}

	scopedCtx, release, err := s.scopes.WithScope(ctx)
	if err != nil {
		for _, c := range computed {
			s.fail(report, c.statType)
		}
		return fmt.Errorf("failed to acquire database scope: %w", err)
	}
	defer release()

	for _, c := range computed {
		if _, err := s.statsRepo.Insert(scopedCtx, report.NodeRefID, c.statType, c.payload, report.DerivedAt); err != nil {
			s.logger.Error("Failed to store statistic",
				zap.String("noderef_id", report.NodeRefID.String()),
				zap.String("stat_type", string(c.statType)),
				zap.Error(err))
			s.fail(report, c.statType)
			continue
		}
		report.Written = append(report.Written, c.statType)
		metrics.StatWritten(string(c.statType), "run")
	}
	return nil
}

func (s *statsService) compute(ctx context.Context, rs *runState, statType models.StatType) (any, error) {
	switch statType {
	case models.StatTypePortalTree:
		cols, err := s.descendants(ctx, rs)
		if err != nil {
			return nil, err
		}
		return buildPortalTree(cols, rs.root), nil
	case models.StatTypeSearch:
		return s.searchStats(ctx, rs)
	case models.StatTypeMaterialTypes:
		return s.materialTypeStats(ctx, rs)
	case models.StatTypeValidationCollections:
		cols, err := s.descendants(ctx, rs)
		if err != nil {
			return nil, err
		}
		return stats.ClassifyCollections(cols), nil
	case models.StatTypeValidationMaterials:
		return s.materialValidationStats(ctx, rs.root)
	default:
		return nil, fmt.Errorf("no computation for stat type %q", statType)
	}
}

// searchStats runs the free-text material type breakdown for every direct
// child portal, using the portal's own title as the query.
func (s *statsService) searchStats(ctx context.Context, rs *runState) (map[string]map[string]int64, error) {
	cols, err := s.descendants(ctx, rs)
	if err != nil {
		return nil, err
	}

	var portals []models.Collection
	for _, c := range cols {
		if parent, ok := c.ParentID(); ok && parent == rs.root {
			portals = append(portals, c)
		}
	}

	results, err := s.titleSearchHits(ctx, portals)
	if err != nil {
		return nil, err
	}

	out := make(map[string]map[string]int64, len(portals))
	for i, portal := range portals {
		out[portal.NodeRefID.String()] = results[i]
	}
	return out, nil
}

// titleSearchHits runs the free-text material type search for the title of
// each collection, in order.
func (s *statsService) titleSearchHits(ctx context.Context, cols []models.Collection) ([]map[string]int64, error) {
	results := make([]map[string]int64, len(cols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(searchConcurrency)
	for i, c := range cols {
		g.Go(func() error {
			hits, err := s.SearchHitsByMaterialType(gctx, c.DisplayTitle())
			if err != nil {
				return fmt.Errorf("collection %s: %w", c.NodeRefID, err)
			}
			results[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// materialTypeStats folds per-collection material type counts and merges
// in the independently paged totals. Collections without materials get a
// zero total.
func (s *statsService) materialTypeStats(ctx context.Context, rs *runState) (map[string]map[string]int64, error) {
	typeBuckets, err := search.CollectCompositeBuckets(ctx, s.searcher, search.AggMaterialTypes,
		s.catalog.MaterialTypesByCollection(rs.root))
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate material types: %w", err)
	}
	totalBuckets, err := search.CollectCompositeBuckets(ctx, s.searcher, search.AggTotals,
		s.catalog.MaterialTotalsByCollection(rs.root))
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate material totals: %w", err)
	}

	counts := stats.MergeTotals(
		stats.FoldMaterialTypeCounts(typeBuckets),
		stats.TotalsByKey(totalBuckets, stats.SourceNodeRefID),
	)

	cols, err := s.descendants(ctx, rs)
	if err != nil {
		return nil, err
	}
	for _, c := range cols {
		id := c.NodeRefID.String()
		if _, ok := counts[id]; !ok {
			counts[id] = map[string]int64{stats.TotalKey: 0}
		}
	}
	return counts, nil
}

func (s *statsService) LiveMaterialTypes(ctx context.Context, root uuid.UUID) (map[string]models.CollectionMaterialTypes, error) {
	rs := &runState{root: root}
	cols, err := s.descendants(ctx, rs)
	if err != nil {
		return nil, err
	}
	counts, err := s.materialTypeStats(ctx, rs)
	if err != nil {
		return nil, err
	}

	hits, err := s.titleSearchHits(ctx, cols)
	if err != nil {
		return nil, err
	}

	out := make(map[string]models.CollectionMaterialTypes, len(cols))
	for i, c := range cols {
		id := c.NodeRefID.String()
		out[id] = models.CollectionMaterialTypes{Search: hits[i], MaterialTypes: counts[id]}
	}
	return out, nil
}

func (s *statsService) materialValidationStats(ctx context.Context, root uuid.UUID) ([]models.MaterialValidation, error) {
	page, subs := s.catalog.MaterialValidation(root)
	groups, err := search.CollectGroupCounts(ctx, s.searcher, search.AggGroupedByCollection,
		stats.SourceNodeRefID, subs, page)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate material validation: %w", err)
	}

	validations, malformed := stats.FoldMaterialValidation(groups)
	if len(malformed) > 0 {
		s.logger.Warn("Material validation buckets with malformed collection ids",
			zap.String("noderef_id", root.String()),
			zap.Strings("keys", malformed))
	}
	return validations, nil
}

func (s *statsService) ReadStats(ctx context.Context, nodeRefID uuid.UUID, statType models.StatType, at *time.Time) (*models.Stat, error) {
	ctx, release, err := s.scopedContext(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	return s.statsRepo.Latest(ctx, nodeRefID, statType, at)
}

func (s *statsService) Timeline(ctx context.Context, nodeRefID uuid.UUID, statType *models.StatType) ([]time.Time, error) {
	ctx, release, err := s.scopedContext(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	return s.statsRepo.Timeline(ctx, nodeRefID, statType)
}

// scopedContext reuses a scope already in ctx (set by the HTTP middleware)
// or acquires one for the duration of the call.
func (s *statsService) scopedContext(ctx context.Context) (context.Context, func(), error) {
	if _, ok := database.GetScope(ctx); ok {
		return ctx, func() {}, nil
	}
	return s.scopes.WithScope(ctx)
}

func (s *statsService) Score(ctx context.Context, nodeRefID uuid.UUID, modulator string) (*models.ScoreResult, error) {
	if modulator == "" {
		modulator = s.opts.Modulator
	}
	m, err := stats.ParseModulator(modulator)
	if err != nil {
		return nil, err
	}
	if modulator == "" {
		modulator = "linear"
	}

	if cached, ok := s.scoreCache.Get(ctx, nodeRefID, modulator); ok {
		return cached, nil
	}

	var collections, materials models.ValidationCounts
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		collections, err = s.validationCounts(gctx, search.Collections, nodeRefID)
		return err
	})
	g.Go(func() error {
		var err error
		materials, err = s.validationCounts(gctx, search.Materials, nodeRefID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &models.ScoreResult{Collections: collections, Materials: materials}
	if score, ok := stats.Score(collections, materials, m, s.opts.Weights); ok {
		result.Score = &score
	}

	s.scoreCache.Set(ctx, nodeRefID, modulator, result)
	return result, nil
}

func (s *statsService) validationCounts(ctx context.Context, rt search.ResourceType, ancestor uuid.UUID) (models.ValidationCounts, error) {
	req, names := s.catalog.ValidationScore(rt, ancestor)
	resp, err := s.searcher.Search(ctx, req)
	if err != nil {
		return models.ValidationCounts{}, fmt.Errorf("failed to count %s problems: %w", rt, err)
	}
	docCounts, err := resp.DocCounts(names...)
	if err != nil {
		return models.ValidationCounts{}, err
	}
	return stats.CountsFromAggregations(resp.Total(), docCounts), nil
}

func (s *statsService) SearchHitsByMaterialType(ctx context.Context, query string) (map[string]int64, error) {
	resp, err := s.searcher.Search(ctx, s.catalog.SearchHitsByMaterialType(query))
	if err != nil {
		return nil, fmt.Errorf("failed to search materials: %w", err)
	}
	buckets, err := resp.TermsBuckets(search.AggMaterialTypes)
	if err != nil {
		return nil, err
	}
	return stats.FoldSearchHits(buckets), nil
}

func (s *statsService) MaterialTypes(ctx context.Context) ([]string, error) {
	resp, err := s.searcher.Search(ctx, s.catalog.MaterialTypes())
	if err != nil {
		return nil, fmt.Errorf("failed to list material types: %w", err)
	}
	buckets, err := resp.TermsBuckets(search.AggMaterialTypes)
	if err != nil {
		return nil, err
	}

	labels := make([]string, 0, len(buckets))
	for _, b := range buckets {
		if b.Key == "" {
			continue
		}
		labels = append(labels, b.Key)
	}
	sort.Strings(labels)
	return labels, nil
}

