package dublincore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/pidsync/internal/core/domain"
)

func TestMapEmptyItemUsesDefaults(t *testing.T) {
	mapped := MapItem(&domain.ExternalItem{Name: "Item 42", Fields: map[string][]string{}}, DefaultFieldMap())

	require.Equal(t, "Item 42", mapped.Title)
	require.Equal(t, "", mapped.Description)
	require.Equal(t, domain.ResourceTypeText, mapped.ResourceType)
	require.NotNil(t, mapped.Creators)
	require.Empty(t, mapped.Creators)
	require.ElementsMatch(t, []string{"title", "description", "resource_type", "creators"}, mapped.Defaulted)
}

func TestMapWithoutNameFallsBackToUntitled(t *testing.T) {
	mapped := MapItem(&domain.ExternalItem{}, DefaultFieldMap())
	require.Equal(t, "Untitled", mapped.Title)

	mapped = MapItem(nil, DefaultFieldMap())
	require.Equal(t, "Untitled", mapped.Title)
}

func TestParseExtractsKnownFieldsAndKeepsExtras(t *testing.T) {
	fields := map[string][]string{
		"dc.title":                   {"  Coastal erosion  "},
		"dc.description.abstract":    {"", "Abstract text"},
		"dc.contributor.author":      {"Doe, Jane", "Roe, Rick", "Doe, Jane"},
		"dc.subject":                 {"geology", ""},
		"dc.identifier.uri":          {"https://doi.org/10.5555/abc", "http://hdl.handle.net/123/4"},
		"dc.description.sponsorship": {"Science Foundation"},
		"dc.rights":                  {"CC-BY"},
		"dc.format.extent":           {" "},
	}

	rec := Parse(fields, DefaultFieldMap())

	assert.Equal(t, "Coastal erosion", rec.Title)
	assert.Equal(t, "Abstract text", rec.Description)
	assert.Equal(t, []string{"Doe, Jane", "Roe, Rick"}, rec.Creators)
	assert.Equal(t, []string{"geology"}, rec.Subjects)
	assert.Equal(t, []string{"Science Foundation"}, rec.Funders)
	assert.Equal(t, map[string][]string{"dc.rights": {"CC-BY"}}, rec.Extras)
}

func TestMapBuildsAggregate(t *testing.T) {
	fields := map[string][]string{
		"dc.title":                   {"Coastal erosion"},
		"dc.type":                    {"Dataset"},
		"dc.identifier.uri":          {"https://doi.org/10.5555/abc"},
		"dc.contributor.author":      {"Doe, Jane"},
		"dc.contributor.institution": {"Ocean Institute"},
		"dc.relation.project":        {"SEA-2024"},
		"dc.rights":                  {"CC-BY"},
	}

	mapped := Map(Parse(fields, DefaultFieldMap()), "fallback")

	require.Equal(t, "Coastal erosion", mapped.Title)
	require.Equal(t, domain.ResourceTypeDataset, mapped.ResourceType)
	require.Equal(t, "10.5555/abc", mapped.DOI)
	require.Equal(t, []domain.Creator{{Name: "Doe, Jane", FamilyName: "Doe", GivenName: "Jane"}}, mapped.Creators)
	require.Equal(t, []domain.Organization{{Name: "Ocean Institute"}}, mapped.Organizations)
	require.Equal(t, []domain.Project{{Title: "SEA-2024"}}, mapped.Projects)
	require.Equal(t, []string{"CC-BY"}, mapped.ExtendedMetadata["dc.rights"])
	require.Equal(t, []string{"description"}, mapped.Defaulted)
}

func TestResourceTypeVocabulary(t *testing.T) {
	cases := []struct {
		term  string
		want  string
		known bool
	}{
		{"Article", domain.ResourceTypeText, true},
		{"Software", domain.ResourceTypeSoftware, true},
		{"InteractiveResource", domain.ResourceTypeInteractiveResource, true},
		{"Recording, musical", domain.ResourceTypeSound, true},
		{"Poster", domain.ResourceTypeText, false},
		{"", domain.ResourceTypeText, false},
	}
	for _, tc := range cases {
		got, known := ResourceType(tc.term)
		assert.Equal(t, tc.want, got, "term %q", tc.term)
		assert.Equal(t, tc.known, known, "term %q", tc.term)
	}
}

func TestUnknownTypeIsKeptInExtendedMetadata(t *testing.T) {
	mapped := Map(Record{Title: "T", Type: "Poster"}, "")
	require.Equal(t, domain.ResourceTypeText, mapped.ResourceType)
	require.Equal(t, "Poster", mapped.ExtendedMetadata["source_type"])
}
