package search

import (
	"context"
	"fmt"

	"github.com/openeduhub/metaqs/pkg/models"
)

// maxCompositePages bounds after_key paging in case the index keeps
// returning an after_key.
const maxCompositePages = 1000

// PageFunc builds the request for the page following after (nil for the
// first page).
type PageFunc func(after M) *Request

func collectPages[T any](ctx context.Context, s Searcher, page PageFunc, decode func(*Response) ([]T, M, error)) ([]T, error) {
	var out []T
	var after M
	for i := 0; i < maxCompositePages; i++ {
		resp, err := s.Search(ctx, page(after))
		if err != nil {
			return nil, err
		}
		items, next, err := decode(resp)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
		if next == nil {
			return out, nil
		}
		after = next
	}
	return nil, fmt.Errorf("composite aggregation did not finish after %d pages", maxCompositePages)
}

// CollectCompositeBuckets pages through the composite aggregation aggName
// until a page comes back empty.
func CollectCompositeBuckets(ctx context.Context, s Searcher, aggName string, page PageFunc) ([]models.CompositeBucket, error) {
	return collectPages(ctx, s, page, func(r *Response) ([]models.CompositeBucket, M, error) {
		return r.CompositeBuckets(aggName)
	})
}

// CollectGroupCounts pages through a single-source composite aggregation
// with single-bucket sub-aggregations.
func CollectGroupCounts(ctx context.Context, s Searcher, aggName, source string, subs []string, page PageFunc) ([]models.GroupCounts, error) {
	return collectPages(ctx, s, page, func(r *Response) ([]models.GroupCounts, M, error) {
		return r.GroupCounts(aggName, source, subs...)
	})
}
