// Package models contains domain types for the catalog statistics engine.
package models

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/openeduhub/metaqs/pkg/apperrors"
	"github.com/openeduhub/metaqs/pkg/jsonutil"
)

// Node is a collection or learning material in the catalog index.
// Path holds the ancestor ids, root first.
type Node struct {
	NodeRefID uuid.UUID   `json:"noderef_id"`
	Type      *string     `json:"type,omitempty"`
	Name      *string     `json:"name,omitempty"`
	Path      []uuid.UUID `json:"path,omitempty"`
}

// ParentID returns the direct parent, or false for a root (portal) node.
func (n Node) ParentID() (uuid.UUID, bool) {
	if len(n.Path) == 0 {
		return uuid.Nil, false
	}
	return n.Path[len(n.Path)-1], true
}

// Collection is a node that groups materials and sub-collections.
type Collection struct {
	Node
	Title       *string  `json:"title,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	Description *string  `json:"description,omitempty"`
	EduContext  []string `json:"educontext,omitempty"`
}

// DisplayTitle returns the title or an empty string when absent.
func (c Collection) DisplayTitle() string {
	if c.Title == nil {
		return ""
	}
	return *c.Title
}

// CollectionRef is a backlink from a material to one of its collections.
type CollectionRef struct {
	NodeRefID uuid.UUID   `json:"noderef_id"`
	Path      []uuid.UUID `json:"path,omitempty"`
}

// LearningMaterial is a leaf node referenced by one or more collections.
type LearningMaterial struct {
	Node
	Title        *string         `json:"title,omitempty"`
	Keywords     []string        `json:"keywords,omitempty"`
	Subjects     []string        `json:"subjects,omitempty"`
	Description  *string         `json:"description,omitempty"`
	License      *string         `json:"license,omitempty"`
	EduContext   []string        `json:"educontext,omitempty"`
	AdsQualifier *string         `json:"ads_qualifier,omitempty"`
	MaterialType *string         `json:"material_type,omitempty"`
	ObjectType   *string         `json:"object_type,omitempty"`
	WWWURL       *string         `json:"www_url,omitempty"`
	Collections  []CollectionRef `json:"collections,omitempty"`
}

// ParseNode reads the base node fields from a search hit source document.
func ParseNode(source map[string]any) (Node, error) {
	raw, _ := jsonutil.Lookup(source, FieldNodeRefID.Path)
	id, err := parseID(raw)
	if err != nil {
		return Node{}, err
	}

	pathRaw, _ := jsonutil.Lookup(source, FieldPath.Path)
	path, err := parseIDList(pathRaw)
	if err != nil {
		return Node{}, err
	}

	typ, _ := jsonutil.Lookup(source, FieldType.Path)
	name, _ := jsonutil.Lookup(source, FieldName.Path)

	return Node{
		NodeRefID: id,
		Type:      jsonutil.OptionalString(typ),
		Name:      jsonutil.OptionalString(name),
		Path:      path,
	}, nil
}

// ParseCollection builds a Collection from a search hit source document.
// Blank strings and empty arrays are normalized to absent values.
func ParseCollection(source map[string]any) (Collection, error) {
	node, err := ParseNode(source)
	if err != nil {
		return Collection{}, err
	}
	return Collection{
		Node:        node,
		Title:       optional(source, CollectionTitle.Field()),
		Keywords:    list(source, CollectionKeywords.Field()),
		Description: optional(source, CollectionDescription.Field()),
		EduContext:  list(source, CollectionEduContext.Field()),
	}, nil
}

// ParseMaterial builds a LearningMaterial from a search hit source document.
func ParseMaterial(source map[string]any) (LearningMaterial, error) {
	node, err := ParseNode(source)
	if err != nil {
		return LearningMaterial{}, err
	}

	m := LearningMaterial{
		Node:         node,
		Title:        optional(source, MaterialTitle.Field()),
		Keywords:     list(source, MaterialKeywords.Field()),
		Subjects:     list(source, MaterialSubjects.Field()),
		Description:  optional(source, MaterialDescription.Field()),
		License:      optional(source, MaterialLicense.Field()),
		EduContext:   list(source, MaterialEduContext.Field()),
		AdsQualifier: optional(source, MaterialAdsQualifier.Field()),
		MaterialType: optional(source, MaterialType.Field()),
		ObjectType:   optional(source, MaterialObjectType.Field()),
		WWWURL:       optional(source, MaterialWWWURL.Field()),
	}

	if raw, ok := source["collections"].([]any); ok {
		for _, item := range raw {
			doc, ok := item.(map[string]any)
			if !ok {
				continue
			}
			ref, err := ParseNode(doc)
			if err != nil {
				return LearningMaterial{}, fmt.Errorf("collection backlink: %w", err)
			}
			m.Collections = append(m.Collections, CollectionRef{NodeRefID: ref.NodeRefID, Path: ref.Path})
		}
	}

	return m, nil
}

func optional(source map[string]any, f Field) *string {
	v, _ := jsonutil.Lookup(source, f.Path)
	return jsonutil.OptionalString(v)
}

func list(source map[string]any, f Field) []string {
	v, _ := jsonutil.Lookup(source, f.Path)
	return jsonutil.StringList(v)
}

func parseID(v any) (uuid.UUID, error) {
	s, ok := v.(string)
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: missing node id", apperrors.ErrMalformedReference)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q", apperrors.ErrMalformedReference, s)
	}
	return id, nil
}

func parseIDList(v any) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, s := range jsonutil.StringList(v) {
		id, err := parseID(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
