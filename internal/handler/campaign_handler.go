// internal/handler/campaign_handler.go
package handler

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/unclebandit/reach-backend/internal/model"
	"github.com/unclebandit/reach-backend/internal/service"
)

// RecipientHeader carries the recipient identity set by the upstream gateway.
const RecipientHeader = "X-Recipient-ID"

type ctxKey struct{}

// RequireRecipient rejects requests without a recipient identity and stores
// it on the request context.
func RequireRecipient(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RecipientHeader))
		if id == "" {
			WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing " + RecipientHeader})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

// RecipientFrom returns the identity stored by RequireRecipient.
func RecipientFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// CampaignHandler holds the dependencies for campaign-related HTTP handlers
type CampaignHandler struct {
	Service   *service.CampaignService
	Responses *service.ResponseService
	Log       *zap.Logger
}

// GetCampaignHandlerWithStats returns a campaign with per-status response counts.
func (h *CampaignHandler) GetCampaignHandlerWithStats(w http.ResponseWriter, r *http.Request) {
	id, err := CampaignID(r)
	if err != nil {
		WriteError(w, h.Log, err)
		return
	}

	details, err := h.Service.GetCampaignDetailsWithStats(r.Context(), id)
	if err != nil {
		WriteError(w, h.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, details)
}

type respondRequest struct {
	Action string `json:"action" validate:"required,oneof=accept reject"`
}

// RespondHandler lets a recipient accept or reject a pending campaign.
func (h *CampaignHandler) RespondHandler(w http.ResponseWriter, r *http.Request) {
	id, err := CampaignID(r)
	if err != nil {
		WriteError(w, h.Log, err)
		return
	}
	var body respondRequest
	if err := Decode(r, &body); err != nil {
		WriteError(w, h.Log, err)
		return
	}

	rec, err := h.Responses.Respond(r.Context(), id, RecipientFrom(r.Context()), model.ResponseAction(body.Action))
	if err != nil {
		WriteError(w, h.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

type proofRequest struct {
	ProofRef string `json:"proof_ref" validate:"required"`
}

// SubmitProofHandler attaches proof to an accepted record.
func (h *CampaignHandler) SubmitProofHandler(w http.ResponseWriter, r *http.Request) {
	id, err := CampaignID(r)
	if err != nil {
		WriteError(w, h.Log, err)
		return
	}
	var body proofRequest
	if err := Decode(r, &body); err != nil {
		WriteError(w, h.Log, err)
		return
	}

	rec, err := h.Responses.SubmitProof(r.Context(), id, RecipientFrom(r.Context()), body.ProofRef)
	if err != nil {
		WriteError(w, h.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

// MyResponseHandler returns the caller's own record for the campaign.
func (h *CampaignHandler) MyResponseHandler(w http.ResponseWriter, r *http.Request) {
	id, err := CampaignID(r)
	if err != nil {
		WriteError(w, h.Log, err)
		return
	}
	rec, err := h.Responses.GetResponse(r.Context(), id, RecipientFrom(r.Context()))
	if err != nil {
		WriteError(w, h.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}
