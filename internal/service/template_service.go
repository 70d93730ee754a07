// internal/service/template_service.go
package service

import (
	"strings"

	"github.com/unclebandit/reach-backend/internal/model"
)

const (
	newCampaignTemplateID  = "new_campaign"
	defaultNewCampaignBody = "A new {kind} campaign is waiting for you: {title}. {description}"
)

// RenderTemplate substitutes {key} placeholders found in data. Unknown
// placeholders are left as they are.
func RenderTemplate(template string, data map[string]string) string {
	result := template
	for k, v := range data {
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return strings.TrimSpace(result)
}

// NotificationContent builds the new-campaign message for c.
func NotificationContent(c *model.Campaign) model.NotificationContent {
	data := map[string]string{
		"name":        c.Name,
		"kind":        string(c.Kind),
		"title":       c.Payload.Title,
		"description": c.Payload.Description,
	}

	body := c.Payload.NotificationTemplate
	if strings.TrimSpace(body) == "" {
		body = defaultNewCampaignBody
	}

	return model.NotificationContent{
		TemplateID: newCampaignTemplateID,
		Subject:    RenderTemplate("New campaign: {title}", data),
		Body:       RenderTemplate(body, data),
	}
}
