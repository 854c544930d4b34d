package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// ExternalItem is a catalogue item as fetched, before mapping. Fields holds
// every metadata value keyed by its dotted Dublin-Core name, in source order.
type ExternalItem struct {
	Key          string              `json:"key"`
	Source       string              `json:"source"`
	Name         string              `json:"name"`
	Handle       string              `json:"handle,omitempty"`
	URL          string              `json:"url,omitempty"`
	LastModified time.Time           `json:"last_modified,omitempty"`
	Fields       map[string][]string `json:"fields"`
}

// ContentHash is a stable digest of the raw metadata. Map keys marshal in
// sorted order, so equal metadata always hashes equally.
func (i *ExternalItem) ContentHash() string {
	fields := i.Fields
	if fields == nil {
		fields = map[string][]string{}
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

type CataloguePage struct {
	Page    int            `json:"page"`
	Size    int            `json:"size"`
	Total   int            `json:"total"`
	HasMore bool           `json:"has_more"`
	Items   []ExternalItem `json:"items"`
}

// MappedAggregate is the local aggregate shape produced from a catalogue item.
type MappedAggregate struct {
	Title            string         `json:"title"`
	Description      string         `json:"description"`
	ResourceType     string         `json:"resource_type"`
	DOI              string         `json:"doi,omitempty"`
	Publisher        string         `json:"publisher,omitempty"`
	Language         string         `json:"language,omitempty"`
	DateIssued       string         `json:"date_issued,omitempty"`
	Subjects         []string       `json:"subjects"`
	Creators         []Creator      `json:"creators"`
	Organizations    []Organization `json:"organizations"`
	Funders          []Funder       `json:"funders"`
	Projects         []Project      `json:"projects"`
	ExtendedMetadata map[string]any `json:"extended_metadata"`
	Defaulted        []string       `json:"defaulted,omitempty"`
}

// Publication builds a new local publication owned by ownerID.
func (m MappedAggregate) Publication(ownerID int64) *Publication {
	return &Publication{
		DOI:              m.DOI,
		Title:            m.Title,
		Description:      m.Description,
		ResourceType:     m.ResourceType,
		OwnerID:          ownerID,
		Publisher:        m.Publisher,
		Language:         m.Language,
		DateIssued:       m.DateIssued,
		Subjects:         m.Subjects,
		ExtendedMetadata: m.ExtendedMetadata,
		Creators:         m.Creators,
		Organizations:    m.Organizations,
		Funders:          m.Funders,
		Projects:         m.Projects,
	}
}

type ImportOutcome string

const (
	ImportCreated ImportOutcome = "created"
	ImportUpdated ImportOutcome = "updated"
	ImportSkipped ImportOutcome = "skipped"
	ImportError   ImportOutcome = "error"
)

type ImportResult struct {
	Mapping *SourceMapping `json:"mapping"`
	Created bool           `json:"created"`
}

type BatchItemResult struct {
	Key           string        `json:"key"`
	Outcome       ImportOutcome `json:"outcome"`
	PublicationID int64         `json:"publication_id,omitempty"`
	Error         string        `json:"error,omitempty"`
}

type BatchResult struct {
	Page    int               `json:"page"`
	Size    int               `json:"size"`
	Created int               `json:"created"`
	Updated int               `json:"updated"`
	Skipped int               `json:"skipped"`
	Errors  int               `json:"errors"`
	HasMore bool              `json:"has_more"`
	Items   []BatchItemResult `json:"items"`
}

func (r *BatchResult) Add(item BatchItemResult) {
	switch item.Outcome {
	case ImportCreated:
		r.Created++
	case ImportUpdated:
		r.Updated++
	case ImportSkipped:
		r.Skipped++
	case ImportError:
		r.Errors++
	}
	r.Items = append(r.Items, item)
}
