package models

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// ValidationOutcome is one problem found on a field.
type ValidationOutcome string

const (
	OutcomeMissing  ValidationOutcome = "missing"
	OutcomeTooShort ValidationOutcome = "too_short"
	OutcomeTooFew   ValidationOutcome = "too_few"
)

// CollectionValidation lists the problems found on one collection.
// Lists are empty, never nil, when a field has no problem.
type CollectionValidation struct {
	NodeRefID   uuid.UUID           `json:"noderef_id"`
	Title       []ValidationOutcome `json:"title"`
	Keywords    []ValidationOutcome `json:"keywords"`
	Description []ValidationOutcome `json:"description"`
	EduContext  []ValidationOutcome `json:"educontext"`
}

// HasProblems reports whether any field carries an outcome.
func (v CollectionValidation) HasProblems() bool {
	return len(v.Title)+len(v.Keywords)+len(v.Description)+len(v.EduContext) > 0
}

// FieldCounts holds per-outcome counts for one material field.
type FieldCounts struct {
	Missing int64 `json:"missing"`
}

// MaterialValidation holds missing-field counts for the materials grouped
// under one collection.
type MaterialValidation struct {
	NodeRefID uuid.UUID
	Total     int64
	Fields    map[MaterialAttribute]FieldCounts
}

// MarshalJSON flattens the field counts next to the id and total:
// {"noderef_id": ..., "total": 4, "title": {"missing": 1}, ...}.
func (v MaterialValidation) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(v.Fields)+2)
	for attr, counts := range v.Fields {
		out[string(attr)] = counts
	}
	out["noderef_id"] = v.NodeRefID
	out["total"] = v.Total
	return json.Marshal(out)
}

// ValidationCounts is the flat problem count summary for one resource kind,
// serialized as {"total": n, "<field>": count, ...}.
type ValidationCounts struct {
	Total  int64
	Fields map[string]int64
}

// FieldNames returns the field names in sorted order.
func (c ValidationCounts) FieldNames() []string {
	names := make([]string, 0, len(c.Fields))
	for name := range c.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c ValidationCounts) MarshalJSON() ([]byte, error) {
	out := make(map[string]int64, len(c.Fields)+1)
	for k, v := range c.Fields {
		out[k] = v
	}
	out["total"] = c.Total
	return json.Marshal(out)
}

func (c *ValidationCounts) UnmarshalJSON(data []byte) error {
	var raw map[string]int64
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode validation counts: %w", err)
	}
	c.Total = raw["total"]
	delete(raw, "total")
	c.Fields = raw
	return nil
}

// CollectionMaterialsCount is the number of materials directly in a collection.
type CollectionMaterialsCount struct {
	NodeRefID      uuid.UUID `json:"noderef_id"`
	Title          string    `json:"title"`
	MaterialsCount int64     `json:"materials_count"`
}

// OrphanCount is an aggregation bucket whose collection id is not part of
// the collection listing.
type OrphanCount struct {
	NodeRefID      string `json:"noderef_id"`
	MaterialsCount int64  `json:"materials_count"`
}

// MaterialsCountsResult separates matched counts from orphaned buckets.
type MaterialsCountsResult struct {
	Results []CollectionMaterialsCount `json:"results"`
	Orphans []OrphanCount              `json:"orphans,omitempty"`
}
