package models

import (
	"fmt"

	"github.com/openeduhub/metaqs/pkg/apperrors"
)

// Field describes where a resource attribute lives in the search index.
// Keyword is set for text fields that need the ".keyword" sub-field for
// exact matching, term aggregations and doc-value scripts.
type Field struct {
	Path    string
	Keyword bool
}

// Exact returns the path to use for exact matching.
func (f Field) Exact() string {
	if f.Keyword {
		return f.Path + ".keyword"
	}
	return f.Path
}

// Base resource fields shared by collections and materials.
var (
	FieldNodeRefID      = Field{Path: "nodeRef.id", Keyword: true}
	FieldType           = Field{Path: "type", Keyword: false}
	FieldName           = Field{Path: "properties.cm:name", Keyword: true}
	FieldPath           = Field{Path: "path", Keyword: true}
	FieldFullPath       = Field{Path: "fullpath", Keyword: true}
	FieldPermissionRead = Field{Path: "permissions.read", Keyword: true}
	FieldEduMetadataset = Field{Path: "properties.cm:edu_metadataset", Keyword: true}
	FieldProtocol       = Field{Path: "nodeRef.storeRef.protocol", Keyword: true}

	// Collection backlinks on learning materials.
	FieldCollectionsNodeRefID = Field{Path: "collections.nodeRef.id", Keyword: true}
	FieldCollectionsPath      = Field{Path: "collections.path", Keyword: true}
)

// CollectionAttribute is the closed set of collection fields that can be
// validated or filtered on.
type CollectionAttribute string

const (
	CollectionTitle       CollectionAttribute = "title"
	CollectionKeywords    CollectionAttribute = "keywords"
	CollectionDescription CollectionAttribute = "description"
	CollectionEduContext  CollectionAttribute = "educontext"
)

var collectionFields = map[CollectionAttribute]Field{
	CollectionTitle:       {Path: "properties.cm:title", Keyword: true},
	CollectionKeywords:    {Path: "properties.cclom:general_keyword", Keyword: true},
	CollectionDescription: {Path: "properties.cm:description", Keyword: true},
	CollectionEduContext:  {Path: "properties.ccm:educationalcontext", Keyword: true},
}

// CollectionAttributes returns all collection attributes in display order.
func CollectionAttributes() []CollectionAttribute {
	return []CollectionAttribute{
		CollectionTitle,
		CollectionKeywords,
		CollectionDescription,
		CollectionEduContext,
	}
}

// Field returns the index field backing the attribute.
func (a CollectionAttribute) Field() Field {
	return collectionFields[a]
}

// ParseCollectionAttribute validates a user supplied attribute name.
func ParseCollectionAttribute(s string) (CollectionAttribute, error) {
	a := CollectionAttribute(s)
	if _, ok := collectionFields[a]; !ok {
		return "", fmt.Errorf("%w: unknown collection attribute %q", apperrors.ErrInvalidAttribute, s)
	}
	return a, nil
}

// MaterialAttribute is the closed set of learning material fields that can be
// validated or filtered on.
type MaterialAttribute string

const (
	MaterialTitle        MaterialAttribute = "title"
	MaterialKeywords     MaterialAttribute = "keywords"
	MaterialSubjects     MaterialAttribute = "subjects"
	MaterialDescription  MaterialAttribute = "description"
	MaterialLicense      MaterialAttribute = "license"
	MaterialEduContext   MaterialAttribute = "educontext"
	MaterialAdsQualifier MaterialAttribute = "ads_qualifier"
	MaterialType         MaterialAttribute = "material_type"
	MaterialObjectType   MaterialAttribute = "object_type"
	MaterialWWWURL       MaterialAttribute = "www_url"
)

var materialFields = map[MaterialAttribute]Field{
	MaterialTitle:        {Path: "properties.cclom:title", Keyword: true},
	MaterialKeywords:     {Path: "properties.cclom:general_keyword", Keyword: true},
	MaterialSubjects:     {Path: "properties.ccm:taxonid", Keyword: true},
	MaterialDescription:  {Path: "properties.cclom:general_description", Keyword: true},
	MaterialLicense:      {Path: "properties.ccm:commonlicense_key", Keyword: true},
	MaterialEduContext:   {Path: "properties.ccm:educationalcontext", Keyword: true},
	MaterialAdsQualifier: {Path: "properties.ccm:containsAdvertisement", Keyword: true},
	MaterialType:         {Path: "properties.ccm:educationallearningresourcetype", Keyword: true},
	MaterialObjectType:   {Path: "properties.ccm:objecttype", Keyword: true},
	MaterialWWWURL:       {Path: "properties.ccm:wwwurl", Keyword: true},
}

// ValidatedMaterialAttributes returns the material fields covered by the
// materials validation statistic, in display order.
func ValidatedMaterialAttributes() []MaterialAttribute {
	return []MaterialAttribute{
		MaterialTitle,
		MaterialKeywords,
		MaterialSubjects,
		MaterialDescription,
		MaterialLicense,
		MaterialEduContext,
		MaterialAdsQualifier,
		MaterialType,
		MaterialObjectType,
	}
}

// Field returns the index field backing the attribute.
func (a MaterialAttribute) Field() Field {
	return materialFields[a]
}

// ParseMaterialAttribute validates a user supplied attribute name.
func ParseMaterialAttribute(s string) (MaterialAttribute, error) {
	a := MaterialAttribute(s)
	if _, ok := materialFields[a]; !ok {
		return "", fmt.Errorf("%w: unknown material attribute %q", apperrors.ErrInvalidAttribute, s)
	}
	return a, nil
}
