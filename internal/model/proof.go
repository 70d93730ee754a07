// internal/model/proof.go
package model

import "time"

// ProofSubmission is a row of the external proof store.
type ProofSubmission struct {
	CampaignID  int64     `db:"campaign_id" json:"campaign_id"`
	RecipientID string    `db:"recipient_id" json:"recipient_id"`
	Status      string    `db:"status" json:"status"`
	ProofRef    string    `db:"proof_ref" json:"proof_ref"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// RecoveredStatus maps a proof state onto a response status. ok is false when
// the proof state is not recoverable.
func (p ProofSubmission) RecoveredStatus() (status ResponseStatus, ok bool) {
	switch p.Status {
	case "approved", "completed":
		return ResponseCompleted, true
	case "submitted":
		return ResponseSubmitted, true
	}
	return "", false
}

type ProofRepair struct {
	ID          string         `db:"id" json:"id"`
	CampaignID  int64          `db:"campaign_id" json:"campaign_id"`
	RecipientID string         `db:"recipient_id" json:"recipient_id"`
	ProofStatus string         `db:"proof_status" json:"proof_status"`
	SeededWith  ResponseStatus `db:"seeded_with" json:"seeded_with"`
	Actor       string         `db:"actor" json:"actor"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
}
