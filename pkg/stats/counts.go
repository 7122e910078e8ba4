package stats

import (
	"github.com/google/uuid"

	"github.com/openeduhub/metaqs/pkg/models"
)

// ReduceMaterialsCounts joins per-collection material counts with the
// collection listing. Collections without materials come first with a zero
// count, followed by the buckets in their given order. Buckets that reference
// an unknown collection are reported as orphans instead of results.
func ReduceMaterialsCounts(collections []models.Collection, buckets []models.CompositeBucket) models.MaterialsCountsResult {
	titles := make(map[uuid.UUID]string, len(collections))
	for _, c := range collections {
		titles[c.NodeRefID] = c.DisplayTitle()
	}

	counted := make(map[uuid.UUID]bool, len(buckets))
	var matched []models.CollectionMaterialsCount
	var orphans []models.OrphanCount

	for _, b := range buckets {
		key := b.Key[SourceNodeRefID]
		id, err := uuid.Parse(key)
		if err != nil {
			orphans = append(orphans, models.OrphanCount{NodeRefID: key, MaterialsCount: b.DocCount})
			continue
		}
		title, ok := titles[id]
		if !ok {
			orphans = append(orphans, models.OrphanCount{NodeRefID: key, MaterialsCount: b.DocCount})
			continue
		}
		counted[id] = true
		matched = append(matched, models.CollectionMaterialsCount{
			NodeRefID:      id,
			Title:          title,
			MaterialsCount: b.DocCount,
		})
	}

	results := make([]models.CollectionMaterialsCount, 0, len(collections)+len(matched))
	for _, c := range collections {
		if counted[c.NodeRefID] {
			continue
		}
		counted[c.NodeRefID] = true
		results = append(results, models.CollectionMaterialsCount{NodeRefID: c.NodeRefID, Title: c.DisplayTitle()})
	}
	results = append(results, matched...)

	return models.MaterialsCountsResult{Results: results, Orphans: orphans}
}
