package usecase

import (
	"strings"
	"time"

	"github.com/kirillkom/pidsync/internal/core/domain"
)

type ProjectorConfig struct {
	PublicationType      string
	FileType             string
	DocumentType         string
	CollectionType       string
	LandingBaseURL       string
	CatalogueItemBaseURL string
}

func (c ProjectorConfig) normalize() ProjectorConfig {
	if c.PublicationType == "" {
		c.PublicationType = "Publication"
	}
	if c.FileType == "" {
		c.FileType = "File"
	}
	if c.DocumentType == "" {
		c.DocumentType = "Document"
	}
	if c.CollectionType == "" {
		c.CollectionType = "Collection"
	}
	c.LandingBaseURL = strings.TrimRight(c.LandingBaseURL, "/")
	c.CatalogueItemBaseURL = strings.TrimRight(c.CatalogueItemBaseURL, "/")
	return c
}

// Projector flattens a publication aggregate into registry objects. Files and
// documents are keyed by their own handle; value collections become one
// synthetic child keyed "<root>/<kind>".
type Projector struct {
	cfg ProjectorConfig
	now func() time.Time
}

func NewProjector(cfg ProjectorConfig, now func() time.Time) *Projector {
	if now == nil {
		now = time.Now
	}
	return &Projector{cfg: cfg.normalize(), now: now}
}

func (p *Projector) ProjectRoot(pub *domain.Publication) domain.RegistryObject {
	files := make([]string, 0, len(pub.Files))
	for _, f := range pub.Files {
		if f.Handle != "" {
			files = append(files, f.Handle)
		}
	}
	documents := make([]string, 0, len(pub.Documents))
	for _, d := range pub.Documents {
		if d.Handle != "" {
			documents = append(documents, d.Handle)
		}
	}
	subjects := pub.Subjects
	if subjects == nil {
		subjects = []string{}
	}

	content := map[string]any{
		"title":        pub.Title,
		"description":  pub.Description,
		"docIdUrl":     p.landingURL(pub.DocumentID),
		"doi":          pub.DOI,
		"owner":        pub.OwnerName,
		"ownerId":      pub.OwnerID,
		"posterUrl":    pub.PosterURL,
		"resourceType": pub.ResourceType,
		"publisher":    pub.Publisher,
		"language":     pub.Language,
		"dateIssued":   pub.DateIssued,
		"subjects":     subjects,
		"files":        files,
		"documents":    documents,
		"updatedAt":    p.timestamp(pub),
	}
	if len(pub.ExtendedMetadata) > 0 {
		content["extendedMetadata"] = pub.ExtendedMetadata
	}
	return domain.RegistryObject{ID: pub.RegistryKey, Type: p.cfg.PublicationType, Content: content}
}

func (p *Projector) ProjectFile(f domain.File, pub *domain.Publication) domain.RegistryObject {
	content := childContent(f.Title, f.Description, f.URL, f.Type, pub.RegistryKey, f.ExternalID, f.ExternalIDType)
	return domain.RegistryObject{ID: f.Handle, Type: p.cfg.FileType, Content: content}
}

func (p *Projector) ProjectDocument(d domain.Document, pub *domain.Publication) domain.RegistryObject {
	content := childContent(d.Title, d.Description, d.URL, d.Type, pub.RegistryKey, d.ExternalID, d.ExternalIDType)
	if d.CatalogueID != "" {
		content["catalogueUrl"] = p.catalogueURL(d.CatalogueID)
	}
	return domain.RegistryObject{ID: d.Handle, Type: p.cfg.DocumentType, Content: content}
}

func (p *Projector) ProjectCollection(pub *domain.Publication, kind domain.CollectionKind) domain.RegistryObject {
	var records []map[string]any
	switch kind {
	case domain.CollectionCreators:
		for _, c := range pub.Creators {
			records = append(records, map[string]any{
				"name":           c.Name,
				"givenName":      c.GivenName,
				"familyName":     c.FamilyName,
				"identifier":     c.Identifier,
				"identifierType": c.IdentifierType,
				"identifierUrl":  IdentifierURL(c.IdentifierType, c.Identifier),
				"affiliation":    c.Affiliation,
			})
		}
	case domain.CollectionOrganizations:
		for _, o := range pub.Organizations {
			records = append(records, map[string]any{
				"name":           o.Name,
				"identifier":     o.Identifier,
				"identifierType": o.IdentifierType,
				"identifierUrl":  IdentifierURL(o.IdentifierType, o.Identifier),
				"role":           o.Role,
			})
		}
	case domain.CollectionFunders:
		for _, f := range pub.Funders {
			records = append(records, map[string]any{
				"name":           f.Name,
				"identifier":     f.Identifier,
				"identifierType": f.IdentifierType,
				"identifierUrl":  IdentifierURL(f.IdentifierType, f.Identifier),
				"awardNumber":    f.AwardNumber,
				"awardTitle":     f.AwardTitle,
			})
		}
	case domain.CollectionProjects:
		for _, pr := range pub.Projects {
			records = append(records, map[string]any{
				"title":          pr.Title,
				"identifier":     pr.Identifier,
				"identifierType": pr.IdentifierType,
				"identifierUrl":  IdentifierURL(pr.IdentifierType, pr.Identifier),
				"description":    pr.Description,
			})
		}
	}
	if records == nil {
		records = []map[string]any{}
	}

	return domain.RegistryObject{
		ID:   CollectionKey(pub.RegistryKey, kind),
		Type: p.cfg.CollectionType,
		Content: map[string]any{
			"kind":      string(kind),
			"parentId":  pub.RegistryKey,
			"count":     len(records),
			"records":   records,
			"updatedAt": p.timestamp(pub),
		},
	}
}

func CollectionKey(rootKey string, kind domain.CollectionKind) string {
	return rootKey + "/" + string(kind)
}

// IdentifierURL turns a typed identifier into a resolvable URL. Unknown types
// yield "" unless the identifier already is a URL.
func IdentifierURL(identifierType, identifier string) string {
	id := strings.TrimSpace(identifier)
	if id == "" {
		return ""
	}
	if isHTTPURL(id) {
		return id
	}
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(identifierType), " ", "")) {
	case "ORCID":
		return "https://orcid.org/" + id
	case "ROR":
		return "https://ror.org/" + id
	case "ISNI":
		return "https://isni.org/isni/" + strings.ReplaceAll(id, " ", "")
	case "DOI":
		return "https://doi.org/" + strings.TrimPrefix(strings.TrimPrefix(id, "doi:"), "DOI:")
	case "HANDLE":
		return "https://hdl.handle.net/" + id
	case "RAID":
		return "https://raid.org/" + id
	case "CROSSREFFUNDERID", "FUNDREF":
		if strings.HasPrefix(id, "10.13039/") {
			return "https://doi.org/" + id
		}
		return "https://doi.org/10.13039/" + id
	default:
		return ""
	}
}

func childContent(title, description, url, typ, parentID, externalID, externalType string) map[string]any {
	content := map[string]any{
		"title":                  title,
		"description":            description,
		"url":                    url,
		"type":                   typ,
		"parentId":               parentID,
		"originalIdentifier":     externalID,
		"originalIdentifierType": externalType,
	}
	if externalID != "" && externalType != "" {
		content[strings.ToLower(externalType)] = externalID
	}
	return content
}

func (p *Projector) landingURL(documentID string) string {
	if documentID == "" {
		return ""
	}
	if p.cfg.LandingBaseURL == "" {
		return documentID
	}
	return p.cfg.LandingBaseURL + "/" + documentID
}

func (p *Projector) catalogueURL(catalogueID string) string {
	if isHTTPURL(catalogueID) || p.cfg.CatalogueItemBaseURL == "" {
		return catalogueID
	}
	return p.cfg.CatalogueItemBaseURL + "/" + catalogueID
}

// timestamp prefers the aggregate's own modification time so repeated pushes
// of an unchanged publication produce identical payloads.
func (p *Projector) timestamp(pub *domain.Publication) string {
	at := pub.UpdatedAt
	if at.IsZero() {
		at = p.now()
	}
	return at.UTC().Format(time.RFC3339)
}

func isHTTPURL(value string) bool {
	lower := strings.ToLower(value)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
