package domain

import "time"

type Publication struct {
	ID               int64          `json:"id"`
	DocumentID       string         `json:"document_id"`
	RegistryKey      string         `json:"registry_key,omitempty"`
	DOI              string         `json:"doi,omitempty"`
	Title            string         `json:"title"`
	Description      string         `json:"description"`
	ResourceType     string         `json:"resource_type"`
	OwnerID          int64          `json:"owner_id"`
	OwnerName        string         `json:"owner_name,omitempty"`
	PosterURL        string         `json:"poster_url,omitempty"`
	Publisher        string         `json:"publisher,omitempty"`
	Language         string         `json:"language,omitempty"`
	DateIssued       string         `json:"date_issued,omitempty"`
	Subjects         []string       `json:"subjects"`
	ExtendedMetadata map[string]any `json:"extended_metadata,omitempty"`

	Files         []File         `json:"files"`
	Documents     []Document     `json:"documents"`
	Creators      []Creator      `json:"creators"`
	Organizations []Organization `json:"organizations"`
	Funders       []Funder       `json:"funders"`
	Projects      []Project      `json:"projects"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type File struct {
	ID             int64  `json:"id"`
	PublicationID  int64  `json:"publication_id"`
	Title          string `json:"title"`
	Description    string `json:"description,omitempty"`
	URL            string `json:"url"`
	Type           string `json:"type,omitempty"`
	Handle         string `json:"handle,omitempty"`
	ExternalID     string `json:"external_id,omitempty"`
	ExternalIDType string `json:"external_id_type,omitempty"`
}

type Document struct {
	ID             int64  `json:"id"`
	PublicationID  int64  `json:"publication_id"`
	Title          string `json:"title"`
	Description    string `json:"description,omitempty"`
	URL            string `json:"url"`
	Type           string `json:"type,omitempty"`
	Handle         string `json:"handle,omitempty"`
	ExternalID     string `json:"external_id,omitempty"`
	ExternalIDType string `json:"external_id_type,omitempty"`
	CatalogueID    string `json:"catalogue_id,omitempty"`
}

type Creator struct {
	Name           string `json:"name"`
	GivenName      string `json:"given_name,omitempty"`
	FamilyName     string `json:"family_name,omitempty"`
	Identifier     string `json:"identifier,omitempty"`
	IdentifierType string `json:"identifier_type,omitempty"`
	Affiliation    string `json:"affiliation,omitempty"`
}

type Organization struct {
	Name           string `json:"name"`
	Identifier     string `json:"identifier,omitempty"`
	IdentifierType string `json:"identifier_type,omitempty"`
	Role           string `json:"role,omitempty"`
}

type Funder struct {
	Name           string `json:"name"`
	Identifier     string `json:"identifier,omitempty"`
	IdentifierType string `json:"identifier_type,omitempty"`
	AwardNumber    string `json:"award_number,omitempty"`
	AwardTitle     string `json:"award_title,omitempty"`
}

type Project struct {
	Title          string `json:"title"`
	Identifier     string `json:"identifier,omitempty"`
	IdentifierType string `json:"identifier_type,omitempty"`
	Description    string `json:"description,omitempty"`
}

// CollectionKind names a value-object collection that is pushed to the
// registry as one synthetic child of the publication.
type CollectionKind string

const (
	CollectionCreators      CollectionKind = "creators"
	CollectionOrganizations CollectionKind = "organizations"
	CollectionFunders       CollectionKind = "funders"
	CollectionProjects      CollectionKind = "projects"
)

func CollectionKinds() []CollectionKind {
	return []CollectionKind{CollectionCreators, CollectionOrganizations, CollectionFunders, CollectionProjects}
}

// CollectionLen reports how many records of the given kind the publication carries.
func (p *Publication) CollectionLen(kind CollectionKind) int {
	switch kind {
	case CollectionCreators:
		return len(p.Creators)
	case CollectionOrganizations:
		return len(p.Organizations)
	case CollectionFunders:
		return len(p.Funders)
	case CollectionProjects:
		return len(p.Projects)
	default:
		return 0
	}
}

// Resource types understood locally. Unmapped external vocabulary falls back
// to ResourceTypeText.
const (
	ResourceTypeText                = "Text"
	ResourceTypeDataset             = "Dataset"
	ResourceTypeSoftware            = "Software"
	ResourceTypeImage               = "Image"
	ResourceTypeAudiovisual         = "Audiovisual"
	ResourceTypeSound               = "Sound"
	ResourceTypeCollection          = "Collection"
	ResourceTypeInteractiveResource = "InteractiveResource"
	ResourceTypeModel               = "Model"
	ResourceTypeWorkflow            = "Workflow"
	ResourceTypePhysicalObject      = "PhysicalObject"
	ResourceTypeOther               = "Other"
)

var resourceTypes = map[string]struct{}{
	ResourceTypeText: {}, ResourceTypeDataset: {}, ResourceTypeSoftware: {}, ResourceTypeImage: {},
	ResourceTypeAudiovisual: {}, ResourceTypeSound: {}, ResourceTypeCollection: {},
	ResourceTypeInteractiveResource: {}, ResourceTypeModel: {}, ResourceTypeWorkflow: {},
	ResourceTypePhysicalObject: {}, ResourceTypeOther: {},
}

func IsResourceType(value string) bool {
	_, ok := resourceTypes[value]
	return ok
}

// PublicationDraft is the request-side shape used to create or edit a publication.
type PublicationDraft struct {
	Identifier       string         `json:"identifier,omitempty"`
	Title            string         `json:"title"`
	Description      string         `json:"description"`
	ResourceType     string         `json:"resource_type"`
	OwnerID          int64          `json:"owner_id"`
	OwnerName        string         `json:"owner_name,omitempty"`
	PosterURL        string         `json:"poster_url,omitempty"`
	Publisher        string         `json:"publisher,omitempty"`
	Language         string         `json:"language,omitempty"`
	DateIssued       string         `json:"date_issued,omitempty"`
	Subjects         []string       `json:"subjects,omitempty"`
	ExtendedMetadata map[string]any `json:"extended_metadata,omitempty"`
	Files            []File         `json:"files,omitempty"`
	Documents        []Document     `json:"documents,omitempty"`
	Creators         []Creator      `json:"creators,omitempty"`
	Organizations    []Organization `json:"organizations,omitempty"`
	Funders          []Funder       `json:"funders,omitempty"`
	Projects         []Project      `json:"projects,omitempty"`
}
