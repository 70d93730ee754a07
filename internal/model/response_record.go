// internal/model/response_record.go
package model

import (
	"time"

	appErrors "github.com/unclebandit/reach-backend/internal/errors"
)

type ResponseStatus string

const (
	ResponsePending   ResponseStatus = "pending"
	ResponseAccepted  ResponseStatus = "accepted"
	ResponseRejected  ResponseStatus = "rejected"
	ResponseSubmitted ResponseStatus = "submitted"
	ResponseCompleted ResponseStatus = "completed"
)

type ResponseAction string

const (
	ActionAccept     ResponseAction = "accept"
	ActionReject     ResponseAction = "reject"
	ActionSubmit     ResponseAction = "submit"
	ActionApprove    ResponseAction = "approve"
	ActionDisapprove ResponseAction = "disapprove"
)

type ResponseRecord struct {
	ID            int64          `db:"id" json:"id"`
	CampaignID    int64          `db:"campaign_id" json:"campaign_id"`
	RecipientID   string         `db:"recipient_id" json:"recipient_id"`
	Status        ResponseStatus `db:"status" json:"status"`
	RespondedAt   *time.Time     `db:"responded_at" json:"responded_at,omitempty"`
	ProofRef      string         `db:"proof_ref" json:"proof_ref,omitempty"`
	RejectionNote string         `db:"rejection_note" json:"rejection_note,omitempty"`
	NotifiedAt    *time.Time     `db:"notified_at" json:"notified_at,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

var transitions = map[ResponseStatus]map[ResponseAction]ResponseStatus{
	ResponsePending: {
		ActionAccept: ResponseAccepted,
		ActionReject: ResponseRejected,
	},
	ResponseAccepted: {
		ActionSubmit: ResponseSubmitted,
	},
	ResponseSubmitted: {
		ActionApprove:    ResponseCompleted,
		ActionDisapprove: ResponseAccepted,
	},
}

// NextStatus returns the status reached by applying action to from.
func NextStatus(from ResponseStatus, action ResponseAction) (ResponseStatus, error) {
	if to, ok := transitions[from][action]; ok {
		return to, nil
	}
	return from, &appErrors.ErrInvalidTransition{Current: string(from), Action: string(action)}
}

func (s ResponseStatus) Terminal() bool {
	return s == ResponseCompleted || s == ResponseRejected
}
