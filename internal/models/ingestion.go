package models

import "time"

// IngestionOutcome is the per-message state machine:
// processing → {task_created | no_task | declined}. Terminal states are final.
type IngestionOutcome string

const (
	IngestionProcessing  IngestionOutcome = "processing"
	IngestionTaskCreated IngestionOutcome = "task_created"
	IngestionNoTask      IngestionOutcome = "no_task"
	IngestionDeclined    IngestionOutcome = "declined"
)

func (o IngestionOutcome) Terminal() bool {
	return o == IngestionTaskCreated || o == IngestionNoTask || o == IngestionDeclined
}

// IngestionKey identifies one inbound chat message. The ledger holds a
// unique constraint on the triple; the INSERT attempt is the concurrency
// guard against at-least-once webhook delivery.
type IngestionKey struct {
	SourceMessageID string `json:"source_message_id"`
	SourceChannelID string `json:"source_channel_id"`
	WorkspaceID     string `json:"workspace_id"`
}

// IngestionRecord is a write-once idempotency ledger row. The proposal
// fields carry the classifier result while a low-confidence message waits
// for the user to confirm or dismiss it in chat.
type IngestionRecord struct {
	ID int64 `json:"id"`
	IngestionKey
	OwnerID int64            `json:"owner_id"`
	Outcome IngestionOutcome `json:"outcome"`
	TaskID  *int64           `json:"task_id,omitempty"`

	ProposedTitle    *string `json:"proposed_title,omitempty"`
	ProposedMinutes  *int    `json:"proposed_minutes,omitempty"`
	ProposedPriority *string `json:"proposed_priority,omitempty"`

	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
