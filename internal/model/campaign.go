// internal/model/campaign.go
package model

import "time"

type CampaignKind string

const (
	KindPaidAd    CampaignKind = "paid-ad"
	KindFreeAd    CampaignKind = "free-ad"
	KindVoicePost CampaignKind = "voice-post"
)

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignApproved  CampaignStatus = "approved"
	CampaignRunning   CampaignStatus = "running"
	CampaignModified  CampaignStatus = "modified"
	CampaignCompleted CampaignStatus = "completed"
)

// CampaignPayload carries the ad-specific fields. OriginState and OriginCity
// feed the legacy targeting tier.
type CampaignPayload struct {
	Title                string `json:"title"`
	Description          string `json:"description,omitempty"`
	OriginState          string `json:"origin_state,omitempty"`
	OriginCity           string `json:"origin_city,omitempty"`
	NotificationTemplate string `json:"notification_template,omitempty"`
}

type Campaign struct {
	ID                     int64                     `db:"id" json:"id"`
	Name                   string                    `db:"name" json:"name"`
	Kind                   CampaignKind              `db:"kind" json:"kind"`
	TargetRole             Role                      `db:"target_role" json:"target_role"`
	Targeting              TargetingDescriptor       `db:"targeting" json:"targeting"`
	Status                 CampaignStatus            `db:"status" json:"status"`
	RequiredRecipientCount int                       `db:"required_recipient_count" json:"required_recipient_count"`
	SelectedRecipients     []string                  `db:"selected_recipients" json:"selected_recipients"`
	RecipientSummaries     map[string]ResponseStatus `db:"recipient_summaries" json:"recipient_summaries"`
	Payload                CampaignPayload           `db:"payload" json:"payload"`
	ReviewNote             string                    `db:"review_note" json:"review_note,omitempty"`
	Version                int64                     `db:"version" json:"version"`
	CreatedAt              time.Time                 `db:"created_at" json:"created_at"`
	UpdatedAt              *time.Time                `db:"updated_at" json:"updated_at,omitempty"`
}
