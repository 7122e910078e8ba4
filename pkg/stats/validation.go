package stats

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/openeduhub/metaqs/pkg/models"
)

// Quality thresholds for collection metadata.
const (
	MinTitleLength       = 5
	MinKeywords          = 3
	MinDescriptionLength = 30
)

// DefaultLicensePlaceholder is the license key editors set when no real
// license has been chosen yet.
const DefaultLicensePlaceholder = "UNTERRICHTS_UND_LEHRMEDIEN"

// CollectionFlags are the raw per-field checks for one collection.
type CollectionFlags struct {
	MissingTitle       bool
	ShortTitle         bool
	MissingKeywords    bool
	FewKeywords        bool
	MissingDescription bool
	ShortDescription   bool
	MissingEduContext  bool
}

// CollectionFlagsFor evaluates the checks against a parsed collection.
// Threshold checks only fire for present values.
func CollectionFlagsFor(c models.Collection) CollectionFlags {
	var f CollectionFlags

	if c.Title == nil {
		f.MissingTitle = true
	} else if utf8.RuneCountInString(strings.TrimSpace(*c.Title)) < MinTitleLength {
		f.ShortTitle = true
	}

	if len(c.Keywords) == 0 {
		f.MissingKeywords = true
	} else if len(c.Keywords) < MinKeywords {
		f.FewKeywords = true
	}

	if c.Description == nil {
		f.MissingDescription = true
	} else if utf8.RuneCountInString(strings.TrimSpace(*c.Description)) < MinDescriptionLength {
		f.ShortDescription = true
	}

	f.MissingEduContext = len(c.EduContext) == 0
	return f
}

// ClassifyCollection turns check results into outcome lists. A missing field
// never also reports a threshold outcome.
func ClassifyCollection(id uuid.UUID, f CollectionFlags) models.CollectionValidation {
	return models.CollectionValidation{
		NodeRefID:   id,
		Title:       outcomes(f.MissingTitle, f.ShortTitle, models.OutcomeTooShort),
		Keywords:    outcomes(f.MissingKeywords, f.FewKeywords, models.OutcomeTooFew),
		Description: outcomes(f.MissingDescription, f.ShortDescription, models.OutcomeTooShort),
		EduContext:  outcomes(f.MissingEduContext, false, ""),
	}
}

func outcomes(missing, threshold bool, kind models.ValidationOutcome) []models.ValidationOutcome {
	switch {
	case missing:
		return []models.ValidationOutcome{models.OutcomeMissing}
	case threshold:
		return []models.ValidationOutcome{kind}
	default:
		return []models.ValidationOutcome{}
	}
}

// ClassifyCollections classifies every collection and keeps only those with
// at least one problem, in input order.
func ClassifyCollections(collections []models.Collection) []models.CollectionValidation {
	out := make([]models.CollectionValidation, 0)
	for _, c := range collections {
		v := ClassifyCollection(c.NodeRefID, CollectionFlagsFor(c))
		if v.HasProblems() {
			out = append(out, v)
		}
	}
	return out
}

// LicenseSentinels returns the license values that count as missing even
// though the field is set. Keyword terms match case-sensitively, so both
// spellings of none are listed.
func LicenseSentinels(placeholder string) []string {
	if placeholder == "" {
		placeholder = DefaultLicensePlaceholder
	}
	return []string{placeholder, "none", "NONE", ""}
}

// MissingAggName is the name of the filter sub-aggregation that counts
// materials missing attr.
func MissingAggName(attr models.MaterialAttribute) string {
	return "missing_" + string(attr)
}

// FoldMaterialValidation reshapes per-collection groups into missing counts
// per validated material field, sorted by collection id. Groups whose key is
// not a node id are returned separately as malformed.
func FoldMaterialValidation(groups []models.GroupCounts) ([]models.MaterialValidation, []string) {
	out := make([]models.MaterialValidation, 0, len(groups))
	var malformed []string

	for _, g := range groups {
		id, err := uuid.Parse(g.Key)
		if err != nil {
			malformed = append(malformed, g.Key)
			continue
		}

		fields := make(map[models.MaterialAttribute]models.FieldCounts)
		for _, attr := range models.ValidatedMaterialAttributes() {
			fields[attr] = models.FieldCounts{Missing: g.Sub[MissingAggName(attr)]}
		}
		out = append(out, models.MaterialValidation{NodeRefID: id, Total: g.DocCount, Fields: fields})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].NodeRefID.String() < out[j].NodeRefID.String()
	})
	return out, malformed
}

// CountsFromAggregations builds a flat validation summary from a hit total
// and filter aggregation doc counts.
func CountsFromAggregations(total int64, docCounts map[string]int64) models.ValidationCounts {
	fields := make(map[string]int64, len(docCounts))
	for k, v := range docCounts {
		fields[k] = v
	}
	return models.ValidationCounts{Total: total, Fields: fields}
}
