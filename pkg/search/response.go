package search

import (
	"encoding/json"
	"fmt"

	"github.com/openeduhub/metaqs/pkg/jsonutil"
	"github.com/openeduhub/metaqs/pkg/models"
)

// Request is one search call. Size 0 asks for aggregations only.
type Request struct {
	Query          M
	Aggs           M
	Size           int
	Source         []string
	Sort           []M
	TrackTotalHits bool
}

// Body renders the request body.
func (r *Request) Body() M {
	body := M{"size": r.Size}
	if r.Query != nil {
		body["query"] = r.Query
	}
	if len(r.Aggs) > 0 {
		body["aggs"] = r.Aggs
	}
	if r.Source != nil {
		body["_source"] = r.Source
	}
	if len(r.Sort) > 0 {
		body["sort"] = r.Sort
	}
	if r.TrackTotalHits {
		body["track_total_hits"] = true
	}
	return body
}

// Hit is one matched document.
type Hit struct {
	ID     string         `json:"_id"`
	Source map[string]any `json:"_source"`
}

// Response is the decoded part of a search response the engine relies on.
type Response struct {
	Took     int64 `json:"took"`
	TimedOut bool  `json:"timed_out"`
	Hits     struct {
		Total struct {
			Value    int64  `json:"value"`
			Relation string `json:"relation"`
		} `json:"total"`
		Hits []Hit `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]json.RawMessage `json:"aggregations"`
}

// Total returns the hit count.
func (r *Response) Total() int64 {
	return r.Hits.Total.Value
}

type rawBucketAgg struct {
	AfterKey map[string]json.RawMessage   `json:"after_key"`
	Buckets  []map[string]json.RawMessage `json:"buckets"`
}

type docCount struct {
	DocCount int64 `json:"doc_count"`
}

func (r *Response) bucketAgg(name string) (*rawBucketAgg, error) {
	raw, ok := r.Aggregations[name]
	if !ok {
		return nil, fmt.Errorf("aggregation %q not in response", name)
	}
	var agg rawBucketAgg
	if err := json.Unmarshal(raw, &agg); err != nil {
		return nil, fmt.Errorf("failed to decode aggregation %q: %w", name, err)
	}
	return &agg, nil
}

// DocCount reads the doc_count of a single-bucket aggregation (filter, missing).
func (r *Response) DocCount(name string) (int64, error) {
	raw, ok := r.Aggregations[name]
	if !ok {
		return 0, fmt.Errorf("aggregation %q not in response", name)
	}
	var dc docCount
	if err := json.Unmarshal(raw, &dc); err != nil {
		return 0, fmt.Errorf("failed to decode aggregation %q: %w", name, err)
	}
	return dc.DocCount, nil
}

// DocCounts reads the doc_count of every named single-bucket aggregation.
func (r *Response) DocCounts(names ...string) (map[string]int64, error) {
	out := make(map[string]int64, len(names))
	for _, name := range names {
		n, err := r.DocCount(name)
		if err != nil {
			return nil, err
		}
		out[name] = n
	}
	return out, nil
}

// TermsBuckets decodes a terms aggregation.
func (r *Response) TermsBuckets(name string) ([]models.Bucket, error) {
	agg, err := r.bucketAgg(name)
	if err != nil {
		return nil, err
	}
	out := make([]models.Bucket, 0, len(agg.Buckets))
	for _, b := range agg.Buckets {
		count, err := bucketDocCount(b)
		if err != nil {
			return nil, err
		}
		out = append(out, models.Bucket{Key: jsonutil.FlexibleStringValue(b["key"]), DocCount: count})
	}
	return out, nil
}

// CompositeBuckets decodes one page of a composite aggregation. The returned
// after key is nil when the page was empty.
func (r *Response) CompositeBuckets(name string) ([]models.CompositeBucket, M, error) {
	agg, err := r.bucketAgg(name)
	if err != nil {
		return nil, nil, err
	}
	out := make([]models.CompositeBucket, 0, len(agg.Buckets))
	for _, b := range agg.Buckets {
		key, err := compositeKey(b["key"])
		if err != nil {
			return nil, nil, err
		}
		count, err := bucketDocCount(b)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, models.CompositeBucket{Key: key, DocCount: count})
	}
	return out, afterKey(agg, len(out)), nil
}

// GroupCounts decodes one page of a single-source composite aggregation whose
// buckets carry single-bucket sub-aggregations.
func (r *Response) GroupCounts(name, source string, subs ...string) ([]models.GroupCounts, M, error) {
	agg, err := r.bucketAgg(name)
	if err != nil {
		return nil, nil, err
	}
	out := make([]models.GroupCounts, 0, len(agg.Buckets))
	for _, b := range agg.Buckets {
		key, err := compositeKey(b["key"])
		if err != nil {
			return nil, nil, err
		}
		count, err := bucketDocCount(b)
		if err != nil {
			return nil, nil, err
		}
		g := models.GroupCounts{Key: key[source], DocCount: count, Sub: make(map[string]int64, len(subs))}
		for _, sub := range subs {
			raw, ok := b[sub]
			if !ok {
				continue
			}
			var dc docCount
			if err := json.Unmarshal(raw, &dc); err != nil {
				return nil, nil, fmt.Errorf("failed to decode sub-aggregation %q: %w", sub, err)
			}
			g.Sub[sub] = dc.DocCount
		}
		out = append(out, g)
	}
	return out, afterKey(agg, len(out)), nil
}

func compositeKey(raw json.RawMessage) (map[string]string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode composite key: %w", err)
	}
	key := make(map[string]string, len(fields))
	for k, v := range fields {
		key[k] = jsonutil.FlexibleStringValue(v)
	}
	return key, nil
}

func bucketDocCount(b map[string]json.RawMessage) (int64, error) {
	var n int64
	if err := json.Unmarshal(b["doc_count"], &n); err != nil {
		return 0, fmt.Errorf("failed to decode doc_count: %w", err)
	}
	return n, nil
}

func afterKey(agg *rawBucketAgg, buckets int) M {
	if buckets == 0 || len(agg.AfterKey) == 0 {
		return nil
	}
	after := make(M, len(agg.AfterKey))
	for k, v := range agg.AfterKey {
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			continue
		}
		after[k] = val
	}
	return after
}
