// internal/controller/campaign_controller.go
package controller

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/unclebandit/reach-backend/internal/handler"
	"github.com/unclebandit/reach-backend/internal/model"
	"github.com/unclebandit/reach-backend/internal/service"
)

// CampaignController serves the admin campaign endpoints.
type CampaignController struct {
	CampaignService *service.CampaignService
	ResponseService *service.ResponseService
	Log             *zap.Logger
}

type createCampaignRequest struct {
	Name       string                    `json:"name" validate:"required"`
	Kind       string                    `json:"kind" validate:"required,oneof=paid-ad free-ad voice-post"`
	TargetRole string                    `json:"target_role" validate:"required"`
	Targeting  model.TargetingDescriptor `json:"targeting"`
	Payload    model.CampaignPayload     `json:"payload"`
}

type writeResponse struct {
	CampaignID         int64                `json:"campaign_id"`
	SelectedRecipients []string             `json:"selected_recipients"`
	Status             model.CampaignStatus `json:"status"`
	Version            int64                `json:"version"`
}

func newWriteResponse(out *service.WriteResult) writeResponse {
	return writeResponse{
		CampaignID:         out.Campaign.ID,
		SelectedRecipients: out.Campaign.SelectedRecipients,
		Status:             out.Campaign.Status,
		Version:            out.Campaign.Version,
	}
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body createCampaignRequest
	if err := handler.Decode(r, &body); err != nil {
		handler.WriteError(w, c.Log, err)
		return
	}

	out, err := c.CampaignService.CreateCampaign(r.Context(), service.CreateCampaignInput{
		Name:       body.Name,
		Kind:       model.CampaignKind(body.Kind),
		TargetRole: model.Role(body.TargetRole),
		Targeting:  body.Targeting,
		Payload:    body.Payload,
	})
	if err != nil {
		handler.WriteError(w, c.Log, err)
		return
	}
	handler.WriteJSON(w, http.StatusCreated, newWriteResponse(out))
}

type modifyCampaignRequest struct {
	Targeting  model.TargetingDescriptor `json:"targeting"`
	ReviewNote *string                   `json:"review_note"`
}

func (c *CampaignController) ModifyCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := handler.CampaignID(r)
	if err != nil {
		handler.WriteError(w, c.Log, err)
		return
	}
	var body modifyCampaignRequest
	if err := handler.Decode(r, &body); err != nil {
		handler.WriteError(w, c.Log, err)
		return
	}

	out, err := c.CampaignService.ModifyCampaign(r.Context(), id, service.ModifyCampaignInput{
		Targeting:  body.Targeting,
		ReviewNote: body.ReviewNote,
	})
	if err != nil {
		handler.WriteError(w, c.Log, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, newWriteResponse(out))
}

func (c *CampaignController) CompleteCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := handler.CampaignID(r)
	if err != nil {
		handler.WriteError(w, c.Log, err)
		return
	}
	campaign, err := c.CampaignService.CompleteCampaign(r.Context(), id)
	if err != nil {
		handler.WriteError(w, c.Log, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	kind := r.URL.Query().Get("kind")
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := c.CampaignService.ListCampaigns(r.Context(), page, pageSize, kind, status)
	if err != nil {
		handler.WriteError(w, c.Log, err)
		return
	}

	handler.WriteJSON(w, http.StatusOK, map[string]any{
		"data":       campaigns,
		"pagination": pagination,
	})
}

// ListResponses includes recipients dropped from the live selection.
func (c *CampaignController) ListResponses(w http.ResponseWriter, r *http.Request) {
	id, err := handler.CampaignID(r)
	if err != nil {
		handler.WriteError(w, c.Log, err)
		return
	}
	records, err := c.CampaignService.ListResponses(r.Context(), id)
	if err != nil {
		handler.WriteError(w, c.Log, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, map[string]any{"data": records})
}

type reviewRequest struct {
	Decision string `json:"decision" validate:"required,oneof=approve reject"`
	Note     string `json:"note"`
}

func (c *CampaignController) ReviewResponse(w http.ResponseWriter, r *http.Request) {
	id, err := handler.CampaignID(r)
	if err != nil {
		handler.WriteError(w, c.Log, err)
		return
	}
	var body reviewRequest
	if err := handler.Decode(r, &body); err != nil {
		handler.WriteError(w, c.Log, err)
		return
	}

	rec, err := c.ResponseService.Review(r.Context(), id, chi.URLParam(r, "recipientID"), body.Decision == "approve", body.Note)
	if err != nil {
		handler.WriteError(w, c.Log, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, rec)
}

type repairRequest struct {
	Actor string `json:"actor" validate:"required"`
}

func (c *CampaignController) RepairProofDrift(w http.ResponseWriter, r *http.Request) {
	id, err := handler.CampaignID(r)
	if err != nil {
		handler.WriteError(w, c.Log, err)
		return
	}
	var body repairRequest
	if err := handler.Decode(r, &body); err != nil {
		handler.WriteError(w, c.Log, err)
		return
	}

	repairs, err := c.CampaignService.RepairProofDrift(r.Context(), id, body.Actor)
	if err != nil {
		handler.WriteError(w, c.Log, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, map[string]any{"seeded": repairs})
}
