// Package search talks to the catalog search index: a small JSON query DSL,
// response decoding, the Elasticsearch client and the catalog query library.
package search

// M is a JSON object in the query DSL.
type M map[string]any

// BoolQuery collects the clauses of a bool query. Empty clauses are omitted.
type BoolQuery struct {
	Must               []M
	Filter             []M
	Should             []M
	MustNot            []M
	MinimumShouldMatch int
}

// Bool renders a bool query.
func Bool(b BoolQuery) M {
	body := M{}
	if len(b.Must) > 0 {
		body["must"] = b.Must
	}
	if len(b.Filter) > 0 {
		body["filter"] = b.Filter
	}
	if len(b.Should) > 0 {
		body["should"] = b.Should
	}
	if len(b.MustNot) > 0 {
		body["must_not"] = b.MustNot
	}
	if b.MinimumShouldMatch > 0 {
		body["minimum_should_match"] = b.MinimumShouldMatch
	}
	return M{"bool": body}
}

// Or matches documents that satisfy at least one of the queries.
func Or(queries ...M) M {
	return Bool(BoolQuery{Should: queries, MinimumShouldMatch: 1})
}

func Term(field string, value any) M {
	return M{"term": M{field: value}}
}

func Terms(field string, values ...string) M {
	return M{"terms": M{field: values}}
}

func Match(field string, value any) M {
	return M{"match": M{field: value}}
}

func Wildcard(field, pattern string) M {
	return M{"wildcard": M{field: M{"value": pattern}}}
}

func Exists(field string) M {
	return M{"exists": M{"field": field}}
}

// NotExists matches documents without a value for field.
func NotExists(field string) M {
	return Bool(BoolQuery{MustNot: []M{Exists(field)}})
}

// SimpleQueryString is a user-facing free-text query requiring all terms.
func SimpleQueryString(query string, fields ...string) M {
	return M{"simple_query_string": M{
		"query":            query,
		"fields":           fields,
		"default_operator": "and",
	}}
}

// Script is a painless script with parameters.
func Script(source string, params M) M {
	s := M{"source": source, "lang": "painless"}
	if len(params) > 0 {
		s["params"] = params
	}
	return s
}

// ScriptQuery filters documents with a boolean painless script.
func ScriptQuery(script M) M {
	return M{"script": M{"script": script}}
}

// TermsAgg buckets documents by the values of a field.
func TermsAgg(field string, size int) M {
	return M{"terms": M{"field": field, "size": size}}
}

// TermsScriptAgg buckets documents by a script-computed value.
func TermsScriptAgg(script M, size int) M {
	return M{"terms": M{"script": script, "size": size}}
}

// CompositeSource is one named source of a composite aggregation.
type CompositeSource struct {
	Name   string
	Field  string
	Script M
}

func (s CompositeSource) render() M {
	terms := M{}
	if s.Script != nil {
		terms["script"] = s.Script
	} else {
		terms["field"] = s.Field
	}
	return M{s.Name: M{"terms": terms}}
}

// Composite renders a paginated composite aggregation. Sources nest in the
// order given. after is the after_key of the previous page, or nil.
func Composite(size int, after M, sources ...CompositeSource) M {
	rendered := make([]M, 0, len(sources))
	for _, s := range sources {
		rendered = append(rendered, s.render())
	}
	body := M{"size": size, "sources": rendered}
	if len(after) > 0 {
		body["after"] = after
	}
	return M{"composite": body}
}

// FilterAgg counts the documents matching query.
func FilterAgg(query M) M {
	return M{"filter": query}
}

// MissingAgg counts the documents without a value for field.
func MissingAgg(field string) M {
	return M{"missing": M{"field": field}}
}

// BucketSort is a pipeline aggregation ordering the parent's buckets.
func BucketSort(sort ...M) M {
	return M{"bucket_sort": M{"sort": sort}}
}

// WithSubAggs attaches sub-aggregations to an aggregation.
func WithSubAggs(agg M, subs M) M {
	out := make(M, len(agg)+1)
	for k, v := range agg {
		out[k] = v
	}
	out["aggs"] = subs
	return out
}
