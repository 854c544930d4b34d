package domain

import "time"

type SyncStatus string

const (
	SyncStatusSynced   SyncStatus = "synced"
	SyncStatusPending  SyncStatus = "pending"
	SyncStatusError    SyncStatus = "error"
	SyncStatusConflict SyncStatus = "conflict"
)

func (s SyncStatus) Valid() bool {
	switch s {
	case SyncStatusSynced, SyncStatusPending, SyncStatusError, SyncStatusConflict:
		return true
	default:
		return false
	}
}

// SourceMapping links one external catalogue item to one local publication.
// At most one mapping exists per (source, external key) and per publication.
type SourceMapping struct {
	ID            int64      `json:"id"`
	PublicationID int64      `json:"publication_id"`
	Source        string     `json:"source"`
	ExternalKey   string     `json:"external_key"`
	ExternalURL   string     `json:"external_url,omitempty"`
	SyncStatus    SyncStatus `json:"sync_status"`
	LastSyncAt    time.Time  `json:"last_sync_at"`
	ContentHash   string     `json:"content_hash"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	RetryCount    int        `json:"retry_count"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// MarkFailed records a failed re-import attempt on an existing mapping.
func (m *SourceMapping) MarkFailed(at time.Time, err error) {
	m.SyncStatus = SyncStatusError
	m.RetryCount++
	if err != nil {
		m.ErrorMessage = err.Error()
	}
	m.UpdatedAt = at
}
