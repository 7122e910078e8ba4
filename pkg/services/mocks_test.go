package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/openeduhub/metaqs/pkg/apperrors"
	"github.com/openeduhub/metaqs/pkg/database"
	"github.com/openeduhub/metaqs/pkg/models"
	"github.com/openeduhub/metaqs/pkg/repositories"
	"github.com/openeduhub/metaqs/pkg/search"
)

// Request kinds recognized by fakeSearcher.
const (
	kindCollections        = "collections"
	kindCollectionsMissing = "collections-missing"
	kindMaterialsMissing   = "materials-missing"
	kindTypeBuckets        = "type-buckets"
	kindTotals             = "totals"
	kindSearchHits         = "search-hits"
	kindMaterialTypes      = "material-types"
	kindDescendantCounts   = "descendant-counts"
	kindValidationMaterial = "validation-materials"
	kindScoreCollections   = "score-collections"
	kindScoreMaterials     = "score-materials"
)

// requestKind tells the catalog requests apart by their shape.
func requestKind(req *search.Request) string {
	if len(req.Aggs) == 0 {
		switch {
		case len(req.Sort) > 0:
			return kindCollections
		case slices.Contains(req.Source, models.FieldCollectionsPath.Path):
			return kindMaterialsMissing
		default:
			return kindCollectionsMissing
		}
	}
	if _, ok := req.Aggs[search.AggTotals]; ok {
		return kindTotals
	}
	if agg, ok := req.Aggs[search.AggMaterialTypes].(search.M); ok {
		if _, composite := agg["composite"]; composite {
			return kindTypeBuckets
		}
		if queryString(req) != "" {
			return kindSearchHits
		}
		return kindMaterialTypes
	}
	if agg, ok := req.Aggs[search.AggGroupedByCollection].(search.M); ok {
		if subs, ok := agg["aggs"].(search.M); ok {
			if _, sorted := subs[search.AggSortedByCount]; sorted {
				return kindDescendantCounts
			}
		}
		return kindValidationMaterial
	}
	if _, ok := req.Aggs[search.CheckTitleTooShort]; ok {
		return kindScoreCollections
	}
	return kindScoreMaterials
}

// queryString extracts the free-text query of a search-hits request.
func queryString(req *search.Request) string {
	b, ok := req.Query["bool"].(search.M)
	if !ok {
		return ""
	}
	must, _ := b["must"].([]search.M)
	for _, clause := range must {
		if sqs, ok := clause["simple_query_string"].(search.M); ok {
			q, _ := sqs["query"].(string)
			return q
		}
	}
	return ""
}

// fakeSearcher answers catalog requests from canned JSON bodies per kind.
// Search-hits responses can be keyed by query as "search-hits:<query>".
type fakeSearcher struct {
	t         *testing.T
	mu        sync.Mutex
	responses map[string]string
	errs      map[string]error
	calls     []string
}

func newFakeSearcher(t *testing.T) *fakeSearcher {
	return &fakeSearcher{t: t, responses: map[string]string{}, errs: map[string]error{}}
}

func (f *fakeSearcher) on(kind, body string) *fakeSearcher {
	f.responses[kind] = body
	return f
}

func (f *fakeSearcher) fail(kind string, err error) *fakeSearcher {
	f.errs[kind] = err
	return f
}

func (f *fakeSearcher) Search(_ context.Context, req *search.Request) (*search.Response, error) {
	kind := requestKind(req)
	keys := []string{kind}
	if kind == kindSearchHits {
		keys = []string{kind + ":" + queryString(req), kind}
	}

	f.mu.Lock()
	f.calls = append(f.calls, kind)
	f.mu.Unlock()

	for _, key := range keys {
		if err, ok := f.errs[key]; ok {
			return nil, err
		}
		if body, ok := f.responses[key]; ok {
			var resp search.Response
			require.NoError(f.t, json.Unmarshal([]byte(body), &resp), "fixture for %s", key)
			return &resp, nil
		}
	}
	return nil, fmt.Errorf("%w: no fixture for %s", apperrors.ErrUpstreamQuery, kind)
}

func (f *fakeSearcher) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == kind {
			n++
		}
	}
	return n
}

var _ search.Searcher = (*fakeSearcher)(nil)

// collectionDoc renders a collection hit source.
func collectionDoc(id uuid.UUID, title string, path ...uuid.UUID) string {
	ids := make([]string, 0, len(path))
	for _, p := range path {
		ids = append(ids, `"`+p.String()+`"`)
	}
	props := `"cm:title":"` + title + `"`
	return fmt.Sprintf(`{"_id":"%s","_source":{"nodeRef":{"id":"%s"},"type":"ccm:map","path":[%s],"properties":{%s}}}`,
		id, id, strings.Join(ids, ","), props)
}

// hitsBody wraps hit documents in a search response.
func hitsBody(docs ...string) string {
	return fmt.Sprintf(`{"hits":{"total":{"value":%d},"hits":[%s]}}`, len(docs), strings.Join(docs, ","))
}

// singleBucketBody renders a response of single-bucket aggregations.
func singleBucketBody(total int64, counts map[string]int64) string {
	aggs := make([]string, 0, len(counts))
	for name, n := range counts {
		aggs = append(aggs, fmt.Sprintf(`"%s":{"doc_count":%d}`, name, n))
	}
	sort.Strings(aggs)
	return fmt.Sprintf(`{"hits":{"total":{"value":%d},"hits":[]},"aggregations":{%s}}`, total, strings.Join(aggs, ","))
}

// memStatsRepo is an in-memory StatsRepository that insists on a scope.
type memStatsRepo struct {
	mu        sync.Mutex
	rows      []models.Stat
	nextID    int64
	insertErr map[models.StatType]error
}

func newMemStatsRepo() *memStatsRepo {
	return &memStatsRepo{insertErr: map[models.StatType]error{}}
}

var _ repositories.StatsRepository = (*memStatsRepo)(nil)

func (r *memStatsRepo) Insert(ctx context.Context, id uuid.UUID, statType models.StatType, stats json.RawMessage, derivedAt time.Time) (*models.Stat, error) {
	if _, ok := database.GetScope(ctx); !ok {
		return nil, database.ErrNoScope
	}
	if err := r.insertErr[statType]; err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	row := models.Stat{
		ID:        r.nextID,
		NodeRefID: id,
		StatType:  statType,
		Stats:     stats,
		DerivedAt: repositories.NormalizeDerivedAt(derivedAt),
		CreatedAt: time.Now().UTC(),
	}
	r.rows = append(r.rows, row)
	return &row, nil
}

func (r *memStatsRepo) Latest(ctx context.Context, id uuid.UUID, statType models.StatType, at *time.Time) (*models.Stat, error) {
	if _, ok := database.GetScope(ctx); !ok {
		return nil, database.ErrNoScope
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *models.Stat
	for i := range r.rows {
		row := r.rows[i]
		if row.NodeRefID != id || row.StatType != statType || (at != nil && row.DerivedAt.After(*at)) {
			continue
		}
		if best == nil || !row.DerivedAt.Before(best.DerivedAt) {
			best = &row
		}
	}
	if best == nil {
		return nil, apperrors.ErrNotFound
	}
	return best, nil
}

func (r *memStatsRepo) Earliest(ctx context.Context, id uuid.UUID, statType models.StatType) (*models.Stat, error) {
	if _, ok := database.GetScope(ctx); !ok {
		return nil, database.ErrNoScope
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *models.Stat
	for i := range r.rows {
		row := r.rows[i]
		if row.NodeRefID != id || row.StatType != statType {
			continue
		}
		if best == nil || row.DerivedAt.Before(best.DerivedAt) {
			best = &row
		}
	}
	if best == nil {
		return nil, apperrors.ErrNotFound
	}
	return best, nil
}

func (r *memStatsRepo) Timeline(ctx context.Context, id uuid.UUID, statType *models.StatType) ([]time.Time, error) {
	if _, ok := database.GetScope(ctx); !ok {
		return nil, database.ErrNoScope
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []time.Time
	for _, row := range r.rows {
		if row.NodeRefID != id || (statType != nil && row.StatType != *statType) {
			continue
		}
		out = append(out, row.DerivedAt)
	}
	if len(out) == 0 {
		return nil, apperrors.ErrNotFound
	}
	sort.Slice(out, func(i, j int) bool { return out[i].After(out[j]) })
	return out, nil
}

func (r *memStatsRepo) ClearAll(ctx context.Context) error {
	if _, ok := database.GetScope(ctx); !ok {
		return database.ErrNoScope
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = nil
	return nil
}

func (r *memStatsRepo) count(id uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, row := range r.rows {
		if row.NodeRefID == id {
			n++
		}
	}
	return n
}

func (r *memStatsRepo) byType(id uuid.UUID, statType models.StatType) []models.Stat {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Stat
	for _, row := range r.rows {
		if row.NodeRefID == id && row.StatType == statType {
			out = append(out, row)
		}
	}
	return out
}

// fakeScopes hands out empty scopes and counts acquisitions. WithTx discards
// rows written by a failed callback.
type fakeScopes struct {
	mu       sync.Mutex
	repo     *memStatsRepo
	err      error
	scopes   int
	txs      int
	released int
}

var _ database.ScopeProvider = (*fakeScopes)(nil)

func (p *fakeScopes) WithScope(ctx context.Context) (context.Context, func(), error) {
	if p.err != nil {
		return nil, nil, p.err
	}
	p.mu.Lock()
	p.scopes++
	p.mu.Unlock()
	return database.SetScope(ctx, &database.Scope{}), func() {
		p.mu.Lock()
		p.released++
		p.mu.Unlock()
	}, nil
}

func (p *fakeScopes) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	p.txs++
	p.mu.Unlock()

	var before []models.Stat
	if p.repo != nil {
		p.repo.mu.Lock()
		before = slices.Clone(p.repo.rows)
		p.repo.mu.Unlock()
	}
	if err := fn(database.SetScope(ctx, &database.Scope{})); err != nil {
		if p.repo != nil {
			p.repo.mu.Lock()
			p.repo.rows = before
			p.repo.mu.Unlock()
		}
		return err
	}
	return nil
}

// staticCollections serves a fixed collection list.
type staticCollections struct {
	CollectionService
	portals []models.Collection
	err     error
}

func (s staticCollections) ChildPortals(context.Context, uuid.UUID) ([]models.Collection, error) {
	return s.portals, s.err
}

var errBoom = errors.New("boom")
