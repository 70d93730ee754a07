package controller_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/unclebandit/reach-backend/internal/controller"
	"github.com/unclebandit/reach-backend/internal/handler"
	"github.com/unclebandit/reach-backend/internal/kvstore"
	"github.com/unclebandit/reach-backend/internal/model"
	"github.com/unclebandit/reach-backend/internal/notify"
	"github.com/unclebandit/reach-backend/internal/registration"
	"github.com/unclebandit/reach-backend/internal/repository/memory"
	"github.com/unclebandit/reach-backend/internal/service"
)

type nopNotifier struct{ intents int }

func (n *nopNotifier) Dispatch(context.Context, model.NotificationIntent) error {
	n.intents++
	return nil
}

func newTestRouter(t *testing.T) (http.Handler, *nopNotifier) {
	t.Helper()
	log := zaptest.NewLogger(t)
	store := memory.NewStore()
	for _, r := range []model.Recipient{
		{ID: "rep-001", Role: model.RoleReporter, State: "Haryana", VerifiedReporter: true},
		{ID: "rep-002", Role: model.RoleReporter, State: "Haryana", VerifiedReporter: true},
		{ID: "rep-003", Role: model.RoleReporter, State: "Haryana", VerifiedReporter: true},
		{ID: "rep-004", Role: model.RoleReporter, State: "Haryana"},
	} {
		store.AddRecipient(r)
	}

	notifier := &nopNotifier{}
	campaigns := &service.CampaignService{
		Tx:           store,
		CampaignRepo: store.Campaigns(),
		ResponseRepo: store.Responses(),
		ProofRepo:    store.Proofs(),
		Resolver:     &service.TargetingResolver{Directory: store.Recipients()},
		Engine: &service.ReconciliationEngine{
			Campaigns: store.Campaigns(),
			Ledger:    store.Responses(),
			Log:       log,
		},
		Notifier:      notifier,
		Log:           log,
		MaxAttempts:   3,
		RetryInterval: time.Millisecond,
	}
	responses := &service.ResponseService{
		Tx:           store,
		CampaignRepo: store.Campaigns(),
		ResponseRepo: store.Responses(),
		Log:          log,
	}

	return controller.NewRouter(controller.Routes{
		Campaigns:  &controller.CampaignController{CampaignService: campaigns, ResponseService: responses, Log: log},
		Recipients: &handler.CampaignHandler{Service: campaigns, Responses: responses, Log: log},
		Registrations: &handler.RegistrationHandler{
			Service: &registration.Service{
				KV:        kvstore.NewMemoryStore(),
				Directory: store.Recipients(),
				Email:     &notify.LogSender{Log: log},
				TTL:       time.Minute,
				Log:       log,
			},
			Log: log,
		},
	}), notifier
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

const haryanaCampaign = `{
	"name": "Monsoon sale",
	"kind": "paid-ad",
	"target_role": "reporter",
	"targeting": {"location": {"states": ["Haryana"]}},
	"payload": {"title": "Monsoon sale"}
}`

func TestCreateCampaignEndpoint(t *testing.T) {
	h, notifier := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/campaigns", haryanaCampaign)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var body struct {
		CampaignID         int64    `json:"campaign_id"`
		SelectedRecipients []string `json:"selected_recipients"`
		Status             string   `json:"status"`
	}
	decode(t, rec, &body)
	assert.Equal(t, int64(1), body.CampaignID)
	assert.Equal(t, []string{"rep-001", "rep-002", "rep-003"}, body.SelectedRecipients)
	assert.Equal(t, "approved", body.Status)
	assert.Equal(t, 1, notifier.intents)
}

func TestCreateCampaignEndpointRejectsBadInput(t *testing.T) {
	h, _ := newTestRouter(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"name":`},
		{"unknown kind", `{"name":"x","kind":"banner","target_role":"reporter","targeting":{"all_population":true}}`},
		{"unknown role", `{"name":"x","kind":"free-ad","target_role":"editor","targeting":{"all_population":true}}`},
		{"empty targeting", `{"name":"x","kind":"free-ad","target_role":"reporter"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/campaigns", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestModifyCampaignEndpoint(t *testing.T) {
	h, notifier := newTestRouter(t)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/campaigns", haryanaCampaign).Code)

	rec := do(t, h, http.MethodPatch, "/campaigns/1", `{"targeting":{"explicit_recipient_ids":{"reporter":["rep-002"]}}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		SelectedRecipients []string `json:"selected_recipients"`
		Status             string   `json:"status"`
	}
	decode(t, rec, &body)
	assert.Equal(t, []string{"rep-002"}, body.SelectedRecipients)
	assert.Equal(t, "modified", body.Status)
	assert.Equal(t, 1, notifier.intents)

	rec = do(t, h, http.MethodGet, "/campaigns/1/responses", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Data []model.ResponseRecord `json:"data"`
	}
	decode(t, rec, &list)
	assert.Len(t, list.Data, 3)
}

func TestModifyCompletedCampaignEndpoint(t *testing.T) {
	h, _ := newTestRouter(t)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/campaigns", haryanaCampaign).Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/campaigns/1/complete", "").Code)

	rec := do(t, h, http.MethodPatch, "/campaigns/1", `{"targeting":{"all_population":true}}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCampaignNotFound(t *testing.T) {
	h, _ := newTestRouter(t)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/campaigns/42", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/campaigns/abc", "").Code)
}

func TestRecipientResponseEndpoints(t *testing.T) {
	h, _ := newTestRouter(t)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/campaigns", haryanaCampaign).Code)

	rec := do(t, h, http.MethodPut, "/campaigns/1/response", `{"action":"accept"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPut, "/campaigns/1/response", `{"action":"accept"}`, handler.RecipientHeader, "rep-001")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var record model.ResponseRecord
	decode(t, rec, &record)
	assert.Equal(t, model.ResponseAccepted, record.Status)

	rec = do(t, h, http.MethodPut, "/campaigns/1/response", `{"action":"reject"}`, handler.RecipientHeader, "rep-001")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "accepted"), rec.Body.String())

	rec = do(t, h, http.MethodPost, "/campaigns/1/proof", `{"proof_ref":"https://cdn.example.com/p.jpg"}`, handler.RecipientHeader, "rep-001")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPut, "/campaigns/1/responses/rep-001/review", `{"decision":"approve"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &record)
	assert.Equal(t, model.ResponseCompleted, record.Status)

	rec = do(t, h, http.MethodGet, "/campaigns/1/response", "", handler.RecipientHeader, "rep-001")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &record)
	assert.Equal(t, "rep-001", record.RecipientID)
	assert.Equal(t, model.ResponseCompleted, record.Status)

	rec = do(t, h, http.MethodGet, "/campaigns/1/response", "", handler.RecipientHeader, "rep-004")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/campaigns/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var details struct {
		Stats map[string]int `json:"stats"`
	}
	decode(t, rec, &details)
	assert.Equal(t, 1, details.Stats["completed"])
	assert.Equal(t, 2, details.Stats["pending"])
	assert.Equal(t, 3, details.Stats["total"])
}

func TestRepairProofDriftEndpoint(t *testing.T) {
	h, _ := newTestRouter(t)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/campaigns", haryanaCampaign).Code)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/campaigns/1/proof-repairs", `{}`).Code)

	rec := do(t, h, http.MethodPost, "/campaigns/1/proof-repairs", `{"actor":"ops"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Seeded []model.ProofRepair `json:"seeded"`
	}
	decode(t, rec, &body)
	assert.Empty(t, body.Seeded)
}

func TestListCampaignsEndpoint(t *testing.T) {
	h, _ := newTestRouter(t)
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/campaigns", haryanaCampaign).Code)
	}

	rec := do(t, h, http.MethodGet, "/campaigns?page=1&page_size=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data       []model.Campaign `json:"data"`
		Pagination map[string]int   `json:"pagination"`
	}
	decode(t, rec, &body)
	require.Len(t, body.Data, 2)
	assert.Equal(t, int64(3), body.Data[0].ID)
	assert.Equal(t, 3, body.Pagination["total_count"])
	assert.Equal(t, 2, body.Pagination["total_pages"])
}

func TestRegistrationEndpoints(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/registrations", `{"role":"influencer","name":"Gita","email":"not-an-email"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/registrations", `{"role":"influencer","name":"Gita","email":"gita@example.com"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var started struct {
		Token string `json:"token"`
	}
	decode(t, rec, &started)
	require.NotEmpty(t, started.Token)

	rec = do(t, h, http.MethodPost, "/registrations/unknown/confirm", `{"code":"123456"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	h, _ := newTestRouter(t)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
}
