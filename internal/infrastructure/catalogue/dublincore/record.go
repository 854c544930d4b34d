package dublincore

import (
	"sort"
	"strings"
)

// FieldMap lists, per concept, the dotted metadata keys consulted in priority
// order. Both catalogue variants speak Dublin Core but installations differ
// in which qualifiers they fill.
type FieldMap struct {
	Title         []string
	Description   []string
	Type          []string
	DOI           []string
	URI           []string
	Publisher     []string
	Language      []string
	DateIssued    []string
	Subjects      []string
	Creators      []string
	Organizations []string
	Funders       []string
	Projects      []string
}

func DefaultFieldMap() FieldMap {
	return FieldMap{
		Title:         []string{"dc.title"},
		Description:   []string{"dc.description.abstract", "dc.description"},
		Type:          []string{"dc.type"},
		DOI:           []string{"dc.identifier.doi"},
		URI:           []string{"dc.identifier.uri"},
		Publisher:     []string{"dc.publisher"},
		Language:      []string{"dc.language.iso", "dc.language"},
		DateIssued:    []string{"dc.date.issued"},
		Subjects:      []string{"dc.subject", "dc.subject.other"},
		Creators:      []string{"dc.contributor.author", "dc.creator"},
		Organizations: []string{"dc.contributor.institution", "dc.publisher.department"},
		Funders:       []string{"dc.description.sponsorship", "dc.contributor.funder"},
		Projects:      []string{"dc.relation.project", "dc.relation.ispartof"},
	}
}

// Record is what a tolerant parse extracted from one item. Empty strings and
// nil slices mean the source had nothing usable; Extras keeps every key that
// no concept consumed.
type Record struct {
	Title         string
	Description   string
	Type          string
	DOI           string
	URIs          []string
	Publisher     string
	Language      string
	DateIssued    string
	Subjects      []string
	Creators      []string
	Organizations []string
	Funders       []string
	Projects      []string
	Extras        map[string][]string
}

// Parse never fails: missing keys, blank values and nil input all produce an
// empty Record.
func Parse(fields map[string][]string, fm FieldMap) Record {
	consumed := make(map[string]struct{})
	first := func(keys []string) string {
		for _, key := range keys {
			consumed[key] = struct{}{}
		}
		for _, key := range keys {
			for _, value := range fields[key] {
				if v := strings.TrimSpace(value); v != "" {
					return v
				}
			}
		}
		return ""
	}
	all := func(keys []string) []string {
		var out []string
		seen := make(map[string]struct{})
		for _, key := range keys {
			consumed[key] = struct{}{}
			for _, value := range fields[key] {
				v := strings.TrimSpace(value)
				if v == "" {
					continue
				}
				if _, dup := seen[v]; dup {
					continue
				}
				seen[v] = struct{}{}
				out = append(out, v)
			}
		}
		return out
	}

	rec := Record{
		Title:         first(fm.Title),
		Description:   first(fm.Description),
		Type:          first(fm.Type),
		DOI:           first(fm.DOI),
		URIs:          all(fm.URI),
		Publisher:     first(fm.Publisher),
		Language:      first(fm.Language),
		DateIssued:    first(fm.DateIssued),
		Subjects:      all(fm.Subjects),
		Creators:      all(fm.Creators),
		Organizations: all(fm.Organizations),
		Funders:       all(fm.Funders),
		Projects:      all(fm.Projects),
		Extras:        map[string][]string{},
	}

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if _, ok := consumed[key]; ok {
			continue
		}
		var values []string
		for _, value := range fields[key] {
			if v := strings.TrimSpace(value); v != "" {
				values = append(values, v)
			}
		}
		if len(values) > 0 {
			rec.Extras[key] = values
		}
	}
	return rec
}
