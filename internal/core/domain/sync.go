package domain

import "time"

type SyncState string

const (
	SyncStateNotStarted      SyncState = "not_started"
	SyncStatePushingRoot     SyncState = "pushing_root"
	SyncStatePushingChildren SyncState = "pushing_children"
	SyncStateDone            SyncState = "done"
	SyncStatePartiallyFailed SyncState = "partially_failed"
	SyncStateFailed          SyncState = "failed"
)

type StepOutcome string

const (
	StepSucceeded StepOutcome = "succeeded"
	StepFailed    StepOutcome = "failed"
)

// SyncStep is one entry in the per-run log trail.
type SyncStep struct {
	Name      string        `json:"name"`
	Operation string        `json:"operation"`
	TargetID  string        `json:"target_id,omitempty"`
	Outcome   StepOutcome   `json:"outcome"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
}

type SyncReport struct {
	PublicationID int64      `json:"publication_id"`
	RegistryKey   string     `json:"registry_key,omitempty"`
	State         SyncState  `json:"state"`
	Steps         []SyncStep `json:"steps"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    time.Time  `json:"finished_at"`
}

func (r *SyncReport) FailedSteps() []SyncStep {
	var out []SyncStep
	for _, step := range r.Steps {
		if step.Outcome == StepFailed {
			out = append(out, step)
		}
	}
	return out
}

// SyncTask is a one-shot request to run the sync pipeline for a publication
// no earlier than NotBefore.
type SyncTask struct {
	ID            string    `json:"id"`
	PublicationID int64     `json:"publication_id"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
	NotBefore     time.Time `json:"not_before"`
}
