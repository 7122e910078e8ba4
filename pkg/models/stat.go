package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openeduhub/metaqs/pkg/apperrors"
)

// StatType identifies one kind of statistic snapshot.
type StatType string

const (
	StatTypePortalTree            StatType = "portal-tree"
	StatTypeSearch                StatType = "search"
	StatTypeMaterialTypes         StatType = "material-types"
	StatTypeValidationCollections StatType = "validation-collections"
	StatTypeValidationMaterials   StatType = "validation-materials"
)

// AllStatTypes returns every stat type in enum order.
func AllStatTypes() []StatType {
	return []StatType{
		StatTypePortalTree,
		StatTypeSearch,
		StatTypeMaterialTypes,
		StatTypeValidationCollections,
		StatTypeValidationMaterials,
	}
}

// ParseStatType validates a stat type name from a path or flag.
func ParseStatType(s string) (StatType, error) {
	for _, t := range AllStatTypes() {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", apperrors.ErrInvalidStatType, s)
}

// Stat is one immutable snapshot row. Stats is stored and returned as-is.
type Stat struct {
	ID        int64           `json:"id"`
	NodeRefID uuid.UUID       `json:"noderef_id"`
	StatType  StatType        `json:"stat_type"`
	Stats     json.RawMessage `json:"stats"`
	DerivedAt time.Time       `json:"derived_at"`
	CreatedAt time.Time       `json:"created_at"`
}

// PortalTreeNode is one entry of a materialized portal hierarchy.
type PortalTreeNode struct {
	NodeRefID uuid.UUID         `json:"noderef_id"`
	Title     string            `json:"title"`
	Children  []*PortalTreeNode `json:"children"`
}

// TreeInput is the flat record the tree builder consumes.
type TreeInput struct {
	ID        uuid.UUID
	ParentID  uuid.UUID
	HasParent bool
	Title     string
}

// TreeInputFromCollection projects a collection onto a tree input record.
func TreeInputFromCollection(c Collection) TreeInput {
	parent, ok := c.ParentID()
	return TreeInput{
		ID:        c.NodeRefID,
		ParentID:  parent,
		HasParent: ok,
		Title:     c.DisplayTitle(),
	}
}

// ScoreResult is the live quality score for a subtree together with the
// validation counts it was derived from.
type ScoreResult struct {
	Score       *float64         `json:"score"`
	Collections ValidationCounts `json:"collections"`
	Materials   ValidationCounts `json:"materials"`
}

// CollectionMaterialTypes pairs, for one collection, the free-text search
// breakdown of its title with the material types filed below it.
type CollectionMaterialTypes struct {
	Search        map[string]int64 `json:"search"`
	MaterialTypes map[string]int64 `json:"material_types"`
}

// RunReport summarizes one statistics run.
type RunReport struct {
	NodeRefID uuid.UUID  `json:"noderef_id"`
	DerivedAt time.Time  `json:"derived_at"`
	Written   []StatType `json:"written"`
	Failed    []StatType `json:"failed,omitempty"`
}
