package stats

import (
	"fmt"
	"math"

	"github.com/openeduhub/metaqs/pkg/models"
)

// Modulator maps a linear quality value in [0,1] onto a [0,1] quality value.
// It must be monotonic.
type Modulator func(float64) float64

var (
	Linear Modulator = func(x float64) float64 { return x }
	Sqrt   Modulator = math.Sqrt
	Square Modulator = func(x float64) float64 { return x * x }
)

var modulators = map[string]Modulator{
	"linear": Linear,
	"sqrt":   Sqrt,
	"square": Square,
}

// ParseModulator resolves a modulator by name. An empty name is linear.
func ParseModulator(name string) (Modulator, error) {
	if name == "" {
		return Linear, nil
	}
	m, ok := modulators[name]
	if !ok {
		return nil, fmt.Errorf("unknown modulator %q", name)
	}
	return m, nil
}

// Kind is the resource kind a validation summary belongs to.
type Kind string

const (
	KindCollections Kind = "collections"
	KindMaterials   Kind = "materials"
)

// Weights sets the relative contribution of each field. Kind weights scale
// every field of that kind; field weights are keyed by kind, then field name.
// Anything not listed weighs 1.
type Weights struct {
	Kinds  map[Kind]float64
	Fields map[Kind]map[string]float64
}

func (w Weights) weight(kind Kind, field string) float64 {
	kw, ok := w.Kinds[kind]
	if !ok {
		kw = 1
	}
	fw, ok := w.Fields[kind][field]
	if !ok {
		fw = 1
	}
	return kw * fw
}

// Score computes the weighted average quality over the fields of both
// resource kinds. Per field, quality is m(1 - problems/total) with the ratio
// clamped to [0,1]. A kind with a zero total is left out entirely. The
// second return value is false when nothing contributed.
func Score(collections, materials models.ValidationCounts, m Modulator, w Weights) (float64, bool) {
	if m == nil {
		m = Linear
	}

	var sum, weights float64
	for _, part := range []struct {
		kind   Kind
		counts models.ValidationCounts
	}{
		{KindCollections, collections},
		{KindMaterials, materials},
	} {
		if part.counts.Total <= 0 {
			continue
		}
		for _, field := range part.counts.FieldNames() {
			weight := w.weight(part.kind, field)
			if weight <= 0 {
				continue
			}
			ratio := float64(part.counts.Fields[field]) / float64(part.counts.Total)
			sum += weight * m(1-clamp(ratio))
			weights += weight
		}
	}

	if weights == 0 {
		return 0, false
	}
	return sum / weights, true
}

func clamp(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}

