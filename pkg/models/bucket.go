package models

// Bucket is one entry of a terms aggregation.
type Bucket struct {
	Key      string
	DocCount int64
}

// CompositeBucket is one entry of a composite aggregation. Key holds one
// value per composite source, keyed by source name.
type CompositeBucket struct {
	Key      map[string]string
	DocCount int64
}

// GroupCounts is a composite bucket together with the doc counts of its
// filter sub-aggregations, keyed by sub-aggregation name.
type GroupCounts struct {
	Key      string
	DocCount int64
	Sub      map[string]int64
}
