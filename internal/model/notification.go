// internal/model/notification.go
package model

type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
)

type NotificationContent struct {
	TemplateID string `json:"template_id"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
}

// NotificationIntent lists the recipients seen for the first time by a
// reconciliation. It is never persisted.
type NotificationIntent struct {
	BatchID      string              `json:"batch_id"`
	CampaignID   int64               `json:"campaign_id"`
	RecipientIDs []string            `json:"recipient_ids"`
	Content      NotificationContent `json:"content"`
}
