package stats

import (
	"github.com/openeduhub/metaqs/pkg/models"
)

const (
	// NotAvailable is the material type label for materials without a type.
	NotAvailable = "N/A"
	// TotalKey holds the overall count inside a per-node count map.
	TotalKey = "total"

	// Composite source names used by the material type aggregations.
	SourceMaterialType = "material_type"
	SourceNodeRefID    = "noderef_id"
)

// FoldMaterialTypeCounts reshapes (material_type, noderef_id) buckets into
// noderef_id -> material_type -> count. Empty types fold into "N/A".
// Totals are not derived here; see MergeTotals.
func FoldMaterialTypeCounts(buckets []models.CompositeBucket) map[string]map[string]int64 {
	out := make(map[string]map[string]int64)
	for _, b := range buckets {
		id := b.Key[SourceNodeRefID]
		if id == "" {
			continue
		}
		materialType := b.Key[SourceMaterialType]
		if materialType == "" {
			materialType = NotAvailable
		}

		record, ok := out[id]
		if !ok {
			record = make(map[string]int64)
			out[id] = record
		}
		record[materialType] += b.DocCount
	}
	return out
}

// MergeTotals sets the "total" entry of every node from an independently
// computed totals map. Nodes without a totals entry keep no total; nodes
// that only appear in totals are added with just their total.
func MergeTotals(counts map[string]map[string]int64, totals map[string]int64) map[string]map[string]int64 {
	if counts == nil {
		counts = make(map[string]map[string]int64)
	}
	for id, total := range totals {
		record, ok := counts[id]
		if !ok {
			record = make(map[string]int64)
			counts[id] = record
		}
		record[TotalKey] = total
	}
	return counts
}

// TotalsByKey sums composite bucket counts by a single source.
func TotalsByKey(buckets []models.CompositeBucket, source string) map[string]int64 {
	out := make(map[string]int64, len(buckets))
	for _, b := range buckets {
		key := b.Key[source]
		if key == "" {
			continue
		}
		out[key] += b.DocCount
	}
	return out
}

// FoldSearchHits reshapes material type buckets into material_type -> count
// with "total" set to the sum of all counts.
func FoldSearchHits(buckets []models.Bucket) map[string]int64 {
	out := map[string]int64{TotalKey: 0}
	var total int64
	for _, b := range buckets {
		key := b.Key
		if key == "" {
			key = NotAvailable
		}
		out[key] += b.DocCount
		total += b.DocCount
	}
	out[TotalKey] = total
	return out
}
