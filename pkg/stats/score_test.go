package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openeduhub/metaqs/pkg/models"
)

func counts(total int64, fields map[string]int64) models.ValidationCounts {
	return models.ValidationCounts{Total: total, Fields: fields}
}

func TestScore_Linear(t *testing.T) {
	score, ok := Score(
		counts(10, map[string]int64{"title": 0, "description": 5}),
		counts(4, map[string]int64{"license": 4, "keywords": 2}),
		Linear, Weights{},
	)

	require.True(t, ok)
	// (1 + 0.5 + 0 + 0.5) / 4
	assert.InDelta(t, 0.5, score, 1e-9)
}

func TestScore_ZeroTotalKindIsExcluded(t *testing.T) {
	score, ok := Score(
		counts(0, map[string]int64{"title": 0}),
		counts(2, map[string]int64{"license": 1}),
		Linear, Weights{},
	)

	require.True(t, ok)
	assert.InDelta(t, 0.5, score, 1e-9)
}

func TestScore_NothingContributes(t *testing.T) {
	_, ok := Score(counts(0, nil), counts(0, map[string]int64{"title": 3}), Linear, Weights{})
	assert.False(t, ok)
}

func TestScore_RatioIsClamped(t *testing.T) {
	score, ok := Score(counts(2, map[string]int64{"title": 5}), counts(0, nil), nil, Weights{})

	require.True(t, ok)
	assert.Equal(t, 0.0, score)
}

func TestScore_Weights(t *testing.T) {
	c := counts(10, map[string]int64{"title": 0, "description": 10})
	m := counts(0, nil)

	score, ok := Score(c, m, Linear, Weights{
		Fields: map[Kind]map[string]float64{KindCollections: {"title": 3}},
	})
	require.True(t, ok)
	assert.InDelta(t, 0.75, score, 1e-9)

	score, ok = Score(c, m, Linear, Weights{
		Fields: map[Kind]map[string]float64{KindCollections: {"description": 0}},
	})
	require.True(t, ok)
	assert.InDelta(t, 1.0, score, 1e-9)
}

func TestScore_KindWeights(t *testing.T) {
	c := counts(1, map[string]int64{"title": 0})
	m := counts(1, map[string]int64{"title": 1})

	score, ok := Score(c, m, Linear, Weights{Kinds: map[Kind]float64{KindMaterials: 3}})
	require.True(t, ok)
	assert.InDelta(t, 0.25, score, 1e-9)
}

func TestScore_InvariantToWeightOrder(t *testing.T) {
	c := counts(7, map[string]int64{"title": 1, "keywords": 2, "description": 3, "educontext": 4})
	m := counts(9, map[string]int64{"license": 2, "subjects": 5})

	first := Weights{Fields: map[Kind]map[string]float64{
		KindCollections: {"title": 0.3, "keywords": 1.7, "description": 2.1},
		KindMaterials:   {"license": 4, "subjects": 0.1},
	}}
	second := Weights{Fields: map[Kind]map[string]float64{
		KindMaterials:   {"subjects": 0.1, "license": 4},
		KindCollections: {"description": 2.1, "title": 0.3, "keywords": 1.7},
	}}

	a, _ := Score(c, m, Sqrt, first)
	for i := 0; i < 20; i++ {
		b, _ := Score(c, m, Sqrt, second)
		assert.Equal(t, a, b)
	}
}

func TestParseModulator(t *testing.T) {
	m, err := ParseModulator("")
	require.NoError(t, err)
	assert.Equal(t, 0.25, m(0.25))

	m, err = ParseModulator("square")
	require.NoError(t, err)
	assert.Equal(t, 0.25, m(0.5))

	m, err = ParseModulator("sqrt")
	require.NoError(t, err)
	assert.Equal(t, 0.5, m(0.25))

	_, err = ParseModulator("log")
	assert.Error(t, err)
}
