package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openeduhub/metaqs/pkg/models"
)

func typeBucket(materialType, id string, count int64) models.CompositeBucket {
	return models.CompositeBucket{
		Key:      map[string]string{SourceMaterialType: materialType, SourceNodeRefID: id},
		DocCount: count,
	}
}

func TestFoldMaterialTypeCounts_EmptyTypeIsNA(t *testing.T) {
	got := FoldMaterialTypeCounts([]models.CompositeBucket{typeBucket("", "x", 3)})
	assert.Equal(t, map[string]map[string]int64{"x": {"N/A": 3}}, got)
}

func TestFoldMaterialTypeCounts_GroupsByNode(t *testing.T) {
	got := FoldMaterialTypeCounts([]models.CompositeBucket{
		typeBucket("video", "x", 2),
		typeBucket("worksheet", "x", 1),
		typeBucket("video", "y", 5),
		typeBucket("video", "", 9),
	})

	assert.Equal(t, map[string]map[string]int64{
		"x": {"video": 2, "worksheet": 1},
		"y": {"video": 5},
	}, got)
}

func TestMergeTotals(t *testing.T) {
	counts := FoldMaterialTypeCounts([]models.CompositeBucket{
		typeBucket("video", "x", 2),
		typeBucket("video", "y", 1),
	})

	got := MergeTotals(counts, map[string]int64{"x": 7, "z": 0})

	assert.Equal(t, int64(7), got["x"][TotalKey], "total comes from the totals source")
	_, hasTotal := got["y"][TotalKey]
	assert.False(t, hasTotal, "no totals entry leaves the total absent")
	assert.Equal(t, map[string]int64{TotalKey: 0}, got["z"], "totals-only nodes are kept")
}

func TestMergeTotals_AllZero(t *testing.T) {
	got := MergeTotals(FoldMaterialTypeCounts(nil), map[string]int64{"a": 0, "b": 0})

	assert.Len(t, got, 2)
	for _, record := range got {
		for _, v := range record {
			assert.GreaterOrEqual(t, v, int64(0))
		}
	}
}

func TestTotalsByKey(t *testing.T) {
	got := TotalsByKey([]models.CompositeBucket{
		{Key: map[string]string{SourceNodeRefID: "a"}, DocCount: 4},
		{Key: map[string]string{SourceNodeRefID: "b"}, DocCount: 1},
		{Key: map[string]string{SourceNodeRefID: "a"}, DocCount: 2},
	}, SourceNodeRefID)

	assert.Equal(t, map[string]int64{"a": 6, "b": 1}, got)
}

func TestFoldSearchHits(t *testing.T) {
	tests := []struct {
		name    string
		buckets []models.Bucket
		want    map[string]int64
	}{
		{
			name:    "no buckets",
			buckets: nil,
			want:    map[string]int64{"total": 0},
		},
		{
			name:    "total is the sum",
			buckets: []models.Bucket{{Key: "video", DocCount: 3}, {Key: "audio", DocCount: 4}},
			want:    map[string]int64{"video": 3, "audio": 4, "total": 7},
		},
		{
			name:    "empty key folds into N/A",
			buckets: []models.Bucket{{Key: "", DocCount: 2}},
			want:    map[string]int64{"N/A": 2, "total": 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FoldSearchHits(tt.buckets))
		})
	}
}
