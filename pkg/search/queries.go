package search

import (
	"github.com/google/uuid"

	"github.com/openeduhub/metaqs/pkg/models"
	"github.com/openeduhub/metaqs/pkg/stats"
)

// ResourceType selects collections or learning materials.
type ResourceType string

const (
	Collections ResourceType = "collections"
	Materials   ResourceType = "materials"
)

var typeValues = map[ResourceType]string{
	Collections: "ccm:map",
	Materials:   "ccm:io",
}

// Aggregation names used by the catalog queries.
const (
	AggMaterialTypes       = "material_types"
	AggTotals              = "totals"
	AggGroupedByCollection = "grouped_by_collection"
	AggSortedByCount       = "sorted_by_count"
)

// Collection checks that only apply to present values.
const (
	CheckTitleTooShort       = "title_too_short"
	CheckKeywordsTooFew      = "keywords_too_few"
	CheckDescriptionTooShort = "description_too_short"
)

// materialTypeScript returns the last path segment of the learning resource
// type vocabulary URI, lower-cased, or "" when the material has no type.
const materialTypeScript = `
def f = params.field;
if (!doc.containsKey(f) || doc[f].size() == 0) { return ''; }
def v = doc[f].value;
int i = v.lastIndexOf('/');
return (i >= 0 ? v.substring(i + 1) : v).toLowerCase();`

const shortValueScript = `
def f = params.field;
if (!doc.containsKey(f) || doc[f].size() == 0) { return false; }
def v = doc[f].value.trim();
return v.length() > 0 && v.length() < params.min;`

const fewValuesScript = `
def f = params.field;
if (!doc.containsKey(f)) { return false; }
int n = doc[f].size();
return n > 0 && n < params.min;`

// Catalog builds the requests the engine sends to the search index.
type Catalog struct {
	// MaxSize caps document listings.
	MaxSize int
	// PageSize is the composite aggregation page size.
	PageSize int
	// LicensePlaceholder is the license value treated like a missing license.
	LicensePlaceholder string
}

func (c Catalog) pageSize() int {
	if c.PageSize <= 0 {
		return 1000
	}
	return c.PageSize
}

func (c Catalog) maxSize() int {
	if c.MaxSize <= 0 {
		return 5000
	}
	return c.MaxSize
}

// BaseFilter restricts results to public, current resources of the
// curated metadata set.
func BaseFilter() []M {
	return []M{
		Term(models.FieldPermissionRead.Exact(), "GROUP_EVERYONE"),
		Term(models.FieldEduMetadataset.Exact(), "mds_oeh"),
		Term(models.FieldProtocol.Exact(), "workspace"),
	}
}

// TypeFilter restricts results to one resource type.
func TypeFilter(rt ResourceType) M {
	return Term(models.FieldType.Exact(), typeValues[rt])
}

// ManyQuery matches all resources of rt, optionally below ancestor. A
// collection matches the ancestor itself or anything with it in its path;
// a material matches through its collection backlinks.
func ManyQuery(rt ResourceType, ancestor *uuid.UUID) BoolQuery {
	q := BoolQuery{Filter: append([]M{TypeFilter(rt)}, BaseFilter()...)}
	if ancestor != nil {
		pathField, idField := models.FieldPath.Path, models.FieldNodeRefID.Path
		if rt == Materials {
			pathField, idField = models.FieldCollectionsPath.Path, models.FieldCollectionsNodeRefID.Path
		}
		q.Should = []M{
			Match(pathField, ancestor.String()),
			Match(idField, ancestor.String()),
		}
		q.MinimumShouldMatch = 1
	}
	return q
}

// MaterialTypeScript computes the normalized material type label.
func MaterialTypeScript() M {
	return Script(materialTypeScript, M{"field": models.MaterialType.Field().Exact()})
}

// MissingLicense matches materials without an informative license.
func (c Catalog) MissingLicense() M {
	field := models.MaterialLicense.Field()
	return Or(
		NotExists(field.Path),
		Terms(field.Exact(), stats.LicenseSentinels(c.LicensePlaceholder)...),
	)
}

// MissingMaterialAttribute matches materials lacking attr.
func (c Catalog) MissingMaterialAttribute(attr models.MaterialAttribute) M {
	if attr == models.MaterialLicense {
		return c.MissingLicense()
	}
	return Bool(BoolQuery{MustNot: []M{Wildcard(attr.Field().Exact(), "*")}})
}

// CollectionSourceFields lists the source fields needed to parse a collection.
func CollectionSourceFields() []string {
	fields := []string{
		models.FieldNodeRefID.Path,
		models.FieldType.Path,
		models.FieldName.Path,
		models.FieldPath.Path,
	}
	for _, a := range models.CollectionAttributes() {
		fields = append(fields, a.Field().Path)
	}
	return fields
}

// MaterialSourceFields lists the source fields needed to parse a material.
func MaterialSourceFields() []string {
	fields := []string{
		models.FieldNodeRefID.Path,
		models.FieldType.Path,
		models.FieldName.Path,
		models.FieldCollectionsNodeRefID.Path,
		models.FieldCollectionsPath.Path,
		models.MaterialWWWURL.Field().Path,
	}
	for _, a := range models.ValidatedMaterialAttributes() {
		fields = append(fields, a.Field().Path)
	}
	return fields
}

// DescendantCollections lists every collection with root in its path,
// sorted by full path so parents precede their children.
func (c Catalog) DescendantCollections(root uuid.UUID) *Request {
	return &Request{
		Query: Bool(BoolQuery{Filter: append([]M{
			TypeFilter(Collections),
			Term(models.FieldPath.Exact(), root.String()),
		}, BaseFilter()...)}),
		Source: CollectionSourceFields(),
		Sort:   []M{{models.FieldFullPath.Exact(): M{"order": "asc"}}},
		Size:   c.maxSize(),
	}
}

// CollectionsMissing lists collections below ancestor lacking attr.
func (c Catalog) CollectionsMissing(ancestor uuid.UUID, attr models.CollectionAttribute) *Request {
	q := ManyQuery(Collections, &ancestor)
	q.MustNot = append(q.MustNot, Wildcard(attr.Field().Exact(), "*"))
	return &Request{Query: Bool(q), Source: CollectionSourceFields(), Size: c.maxSize()}
}

// MaterialsMissing lists materials below ancestor lacking attr.
func (c Catalog) MaterialsMissing(ancestor uuid.UUID, attr models.MaterialAttribute) *Request {
	q := ManyQuery(Materials, &ancestor)
	q.Filter = append(q.Filter, c.MissingMaterialAttribute(attr))
	return &Request{Query: Bool(q), Source: MaterialSourceFields(), Size: c.maxSize()}
}

func collectionIDSource() CompositeSource {
	return CompositeSource{Name: stats.SourceNodeRefID, Field: models.FieldCollectionsNodeRefID.Exact()}
}

// MaterialTypesByCollection pages (material_type, noderef_id) counts for
// materials below root.
func (c Catalog) MaterialTypesByCollection(root uuid.UUID) PageFunc {
	return func(after M) *Request {
		return &Request{
			Query: Bool(ManyQuery(Materials, &root)),
			Aggs: M{AggMaterialTypes: Composite(c.pageSize(), after,
				CompositeSource{Name: stats.SourceMaterialType, Script: MaterialTypeScript()},
				collectionIDSource(),
			)},
		}
	}
}

// MaterialTotalsByCollection pages material counts per collection below root.
func (c Catalog) MaterialTotalsByCollection(root uuid.UUID) PageFunc {
	return func(after M) *Request {
		return &Request{
			Query: Bool(ManyQuery(Materials, &root)),
			Aggs:  M{AggTotals: Composite(c.pageSize(), after, collectionIDSource())},
		}
	}
}

// DescendantMaterialsCounts pages material counts per collection for
// materials filed anywhere below ancestor, smallest counts first per page.
func (c Catalog) DescendantMaterialsCounts(ancestor uuid.UUID) PageFunc {
	return func(after M) *Request {
		return &Request{
			Query: Bool(BoolQuery{Filter: append([]M{
				TypeFilter(Materials),
				Term(models.FieldCollectionsPath.Exact(), ancestor.String()),
			}, BaseFilter()...)}),
			Aggs: M{AggGroupedByCollection: WithSubAggs(
				Composite(c.pageSize(), after, collectionIDSource()),
				M{AggSortedByCount: BucketSort(M{"_count": M{"order": "asc"}})},
			)},
		}
	}
}

// SearchHitsByMaterialType counts materials matching a free-text query per
// material type.
func (c Catalog) SearchHitsByMaterialType(query string) *Request {
	q := ManyQuery(Materials, nil)
	q.Must = []M{SimpleQueryString(query,
		models.MaterialTitle.Field().Path,
		models.MaterialKeywords.Field().Path,
		models.MaterialDescription.Field().Path,
	)}
	return &Request{
		Query: Bool(q),
		Aggs:  M{AggMaterialTypes: TermsScriptAgg(MaterialTypeScript(), c.pageSize())},
	}
}

// MaterialTypes lists the normalized material type labels in use.
func (c Catalog) MaterialTypes() *Request {
	return &Request{
		Query: Bool(ManyQuery(Materials, nil)),
		Aggs:  M{AggMaterialTypes: TermsScriptAgg(MaterialTypeScript(), c.pageSize())},
	}
}

// MaterialValidationSubAggs returns the per-field missing counters.
func (c Catalog) MaterialValidationSubAggs() (M, []string) {
	subs := M{}
	names := make([]string, 0, len(models.ValidatedMaterialAttributes()))
	for _, attr := range models.ValidatedMaterialAttributes() {
		name := stats.MissingAggName(attr)
		if attr == models.MaterialLicense {
			subs[name] = FilterAgg(c.MissingLicense())
		} else {
			subs[name] = MissingAgg(attr.Field().Exact())
		}
		names = append(names, name)
	}
	return subs, names
}

// MaterialValidation pages missing-field counts per collection for
// materials below root.
func (c Catalog) MaterialValidation(root uuid.UUID) (PageFunc, []string) {
	subs, names := c.MaterialValidationSubAggs()
	return func(after M) *Request {
		return &Request{
			Query: Bool(ManyQuery(Materials, &root)),
			Aggs: M{AggGroupedByCollection: WithSubAggs(
				Composite(c.pageSize(), after, collectionIDSource()),
				subs,
			)},
		}
	}, names
}

// ValidationScore counts problems per field for all resources of rt below
// ancestor. Each returned name is a single-bucket aggregation.
func (c Catalog) ValidationScore(rt ResourceType, ancestor uuid.UUID) (*Request, []string) {
	aggs := M{}
	if rt == Collections {
		for _, attr := range models.CollectionAttributes() {
			aggs[string(attr)] = MissingAgg(attr.Field().Exact())
		}
		aggs[CheckTitleTooShort] = FilterAgg(ScriptQuery(Script(shortValueScript, M{
			"field": models.CollectionTitle.Field().Exact(), "min": stats.MinTitleLength,
		})))
		aggs[CheckKeywordsTooFew] = FilterAgg(ScriptQuery(Script(fewValuesScript, M{
			"field": models.CollectionKeywords.Field().Exact(), "min": stats.MinKeywords,
		})))
		aggs[CheckDescriptionTooShort] = FilterAgg(ScriptQuery(Script(shortValueScript, M{
			"field": models.CollectionDescription.Field().Exact(), "min": stats.MinDescriptionLength,
		})))
	} else {
		for _, attr := range models.ValidatedMaterialAttributes() {
			if attr == models.MaterialLicense {
				aggs[string(attr)] = FilterAgg(c.MissingLicense())
				continue
			}
			aggs[string(attr)] = MissingAgg(attr.Field().Exact())
		}
	}

	names := make([]string, 0, len(aggs))
	for name := range aggs {
		names = append(names, name)
	}

	return &Request{
		Query:          Bool(ManyQuery(rt, &ancestor)),
		Aggs:           aggs,
		TrackTotalHits: true,
	}, names
}
