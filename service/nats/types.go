package nats

import (
	"encoding/json"
	"time"

	"github.com/brojonat/ledgersync/service/db"
)

// SubmissionEvent is published to "submissions.{payer}" when a transaction is
// broadcast and again when its confirmation finishes.
type SubmissionEvent struct {
	Signature  string `json:"signature"`
	Payer      string `json:"payer"`
	SignerKind string `json:"signer_kind"`
	Status     string `json:"status"`
	Slot       int64  `json:"slot,omitempty"`
	Commitment string `json:"commitment"`
	Error      string `json:"error,omitempty"`
	WorkflowID string `json:"workflow_id,omitempty"`

	PublishedAt time.Time `json:"published_at"`
}

// AwaitEvent is published to "awaits.{address}" when an account await finishes.
type AwaitEvent struct {
	Address       string          `json:"address"`
	Outcome       string          `json:"outcome"`
	Slot          uint64          `json:"slot,omitempty"`
	Notifications int             `json:"notifications"`
	State         json.RawMessage `json:"state,omitempty"`
	Error         string          `json:"error,omitempty"`
	WorkflowID    string          `json:"workflow_id,omitempty"`

	PublishedAt time.Time `json:"published_at"`
}

// FromDBSubmission converts a journal entry to a SubmissionEvent for publishing.
func FromDBSubmission(sub *db.Submission) *SubmissionEvent {
	event := &SubmissionEvent{
		Signature:   sub.Signature,
		Payer:       sub.Payer,
		SignerKind:  sub.SignerKind,
		Status:      sub.Status,
		Slot:        sub.Slot,
		Commitment:  sub.Commitment,
		PublishedAt: time.Now().UTC(),
	}

	if sub.Error != nil {
		event.Error = *sub.Error
	}
	if sub.WorkflowID != nil {
		event.WorkflowID = *sub.WorkflowID
	}

	return event
}
