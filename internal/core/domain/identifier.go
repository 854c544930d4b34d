package domain

import "strings"

type IdentifierKind string

const (
	IdentifierDOI     IdentifierKind = "DOI"
	IdentifierHandle  IdentifierKind = "HANDLE"
	IdentifierUnknown IdentifierKind = "UNKNOWN"
)

const doiPrefix = "10."

// ClassifyIdentifier is total over all strings: a "10." prefix wins over the
// handle rule, and anything else containing a slash is a handle.
func ClassifyIdentifier(id string) IdentifierKind {
	switch {
	case strings.HasPrefix(id, doiPrefix):
		return IdentifierDOI
	case strings.Contains(id, "/"):
		return IdentifierHandle
	default:
		return IdentifierUnknown
	}
}

// ResolvedIdentifier is the outcome of resolving a content identifier into a
// registry-native handle. Handle is empty when none could be assigned.
type ResolvedIdentifier struct {
	Handle       string `json:"handle,omitempty"`
	ExternalID   string `json:"external_id,omitempty"`
	ExternalType string `json:"external_type,omitempty"`
}
