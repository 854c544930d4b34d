package dublincore

import (
	"log/slog"
	"strings"

	"github.com/kirillkom/pidsync/internal/core/domain"
)

const untitled = "Untitled"

var typeVocabulary = map[string]string{
	"article":               domain.ResourceTypeText,
	"book":                  domain.ResourceTypeText,
	"book chapter":          domain.ResourceTypeText,
	"preprint":              domain.ResourceTypeText,
	"report":                domain.ResourceTypeText,
	"thesis":                domain.ResourceTypeText,
	"working paper":         domain.ResourceTypeText,
	"text":                  domain.ResourceTypeText,
	"dataset":               domain.ResourceTypeDataset,
	"data":                  domain.ResourceTypeDataset,
	"software":              domain.ResourceTypeSoftware,
	"image":                 domain.ResourceTypeImage,
	"image, 3-d":            domain.ResourceTypeImage,
	"map":                   domain.ResourceTypeImage,
	"photograph":            domain.ResourceTypeImage,
	"animation":             domain.ResourceTypeAudiovisual,
	"video":                 domain.ResourceTypeAudiovisual,
	"moving image":          domain.ResourceTypeAudiovisual,
	"recording, acoustical": domain.ResourceTypeSound,
	"recording, musical":    domain.ResourceTypeSound,
	"recording, oral":       domain.ResourceTypeSound,
	"sound":                 domain.ResourceTypeSound,
	"collection":            domain.ResourceTypeCollection,
	"learning object":       domain.ResourceTypeInteractiveResource,
	"interactive resource":  domain.ResourceTypeInteractiveResource,
	"model":                 domain.ResourceTypeModel,
	"workflow":              domain.ResourceTypeWorkflow,
	"physical object":       domain.ResourceTypePhysicalObject,
	"other":                 domain.ResourceTypeOther,
}

// ResourceType maps a catalogue type term onto the local vocabulary. The
// second result is false when the term was unknown and defaulted.
func ResourceType(term string) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(term))
	if normalized == "" {
		return domain.ResourceTypeText, false
	}
	if mapped, ok := typeVocabulary[normalized]; ok {
		return mapped, true
	}
	for _, known := range []string{
		domain.ResourceTypeText, domain.ResourceTypeDataset, domain.ResourceTypeSoftware,
		domain.ResourceTypeImage, domain.ResourceTypeAudiovisual, domain.ResourceTypeSound,
		domain.ResourceTypeCollection, domain.ResourceTypeInteractiveResource, domain.ResourceTypeModel,
		domain.ResourceTypeWorkflow, domain.ResourceTypePhysicalObject, domain.ResourceTypeOther,
	} {
		if strings.EqualFold(known, normalized) {
			return known, true
		}
	}
	return domain.ResourceTypeText, false
}

// Map builds the local aggregate shape from a parsed record. Absent fields
// are defaulted and reported in Defaulted; mapping never fails.
func Map(rec Record, fallbackName string) domain.MappedAggregate {
	out := domain.MappedAggregate{
		Title:            rec.Title,
		Description:      rec.Description,
		Publisher:        rec.Publisher,
		Language:         rec.Language,
		DateIssued:       rec.DateIssued,
		Subjects:         nonNil(rec.Subjects),
		Creators:         []domain.Creator{},
		Organizations:    []domain.Organization{},
		Funders:          []domain.Funder{},
		Projects:         []domain.Project{},
		ExtendedMetadata: map[string]any{},
	}

	if out.Title == "" {
		out.Title = strings.TrimSpace(fallbackName)
		if out.Title == "" {
			out.Title = untitled
		}
		out.Defaulted = append(out.Defaulted, "title")
	}
	if out.Description == "" {
		out.Defaulted = append(out.Defaulted, "description")
	}

	resourceType, known := ResourceType(rec.Type)
	out.ResourceType = resourceType
	if !known {
		out.Defaulted = append(out.Defaulted, "resource_type")
		if rec.Type != "" {
			out.ExtendedMetadata["source_type"] = rec.Type
		}
	}

	out.DOI = extractDOI(rec)
	if len(rec.URIs) > 0 {
		out.ExtendedMetadata["source_uris"] = rec.URIs
	}

	for _, name := range rec.Creators {
		out.Creators = append(out.Creators, creatorFromName(name))
	}
	if len(out.Creators) == 0 {
		out.Defaulted = append(out.Defaulted, "creators")
	}
	for _, name := range rec.Organizations {
		out.Organizations = append(out.Organizations, domain.Organization{Name: name})
	}
	for _, name := range rec.Funders {
		out.Funders = append(out.Funders, domain.Funder{Name: name})
	}
	for _, title := range rec.Projects {
		out.Projects = append(out.Projects, domain.Project{Title: title})
	}

	for key, values := range rec.Extras {
		out.ExtendedMetadata[key] = values
	}

	for _, field := range out.Defaulted {
		slog.Debug("mapping_default", "field", field, "fallback_name", fallbackName)
	}
	return out
}

// MapItem parses and maps a fetched item in one step.
func MapItem(item *domain.ExternalItem, fm FieldMap) domain.MappedAggregate {
	if item == nil {
		return Map(Record{}, "")
	}
	return Map(Parse(item.Fields, fm), item.Name)
}

func extractDOI(rec Record) string {
	candidates := append([]string{rec.DOI}, rec.URIs...)
	for _, candidate := range candidates {
		doi := normalizeDOI(candidate)
		if domain.ClassifyIdentifier(doi) == domain.IdentifierDOI {
			return doi
		}
	}
	return ""
}

func normalizeDOI(value string) string {
	v := strings.TrimSpace(value)
	lower := strings.ToLower(v)
	for _, prefix := range []string{"https://doi.org/", "http://doi.org/", "https://dx.doi.org/", "http://dx.doi.org/", "doi:"} {
		if strings.HasPrefix(lower, prefix) {
			return v[len(prefix):]
		}
	}
	return v
}

// creatorFromName splits the catalogue's "Family, Given" convention.
func creatorFromName(name string) domain.Creator {
	creator := domain.Creator{Name: name}
	family, given, found := strings.Cut(name, ",")
	if found {
		creator.FamilyName = strings.TrimSpace(family)
		creator.GivenName = strings.TrimSpace(given)
	}
	return creator
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
