package controller

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unclebandit/reach-backend/internal/handler"
)

type Routes struct {
	Campaigns     *CampaignController
	Recipients    *handler.CampaignHandler
	Registrations *handler.RegistrationHandler
	// RecipientRPM limits recipient and registration calls per client IP.
	RecipientRPM int
}

func NewRouter(rt Routes) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	rpm := rt.RecipientRPM
	if rpm < 1 {
		rpm = 60
	}
	limit := httprate.LimitByIP(rpm, time.Minute)

	// Campaign routes
	r.Route("/campaigns", func(r chi.Router) {
		r.Post("/", rt.Campaigns.CreateCampaign)
		r.Get("/", rt.Campaigns.ListCampaigns)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", rt.Recipients.GetCampaignHandlerWithStats)
			r.Patch("/", rt.Campaigns.ModifyCampaign)
			r.Post("/complete", rt.Campaigns.CompleteCampaign)
			r.Get("/responses", rt.Campaigns.ListResponses)
			r.Put("/responses/{recipientID}/review", rt.Campaigns.ReviewResponse)
			r.Post("/proof-repairs", rt.Campaigns.RepairProofDrift)

			r.Group(func(r chi.Router) {
				r.Use(limit)
				r.Use(handler.RequireRecipient)
				r.Get("/response", rt.Recipients.MyResponseHandler)
				r.Put("/response", rt.Recipients.RespondHandler)
				r.Post("/proof", rt.Recipients.SubmitProofHandler)
			})
		})
	})

	if rt.Registrations != nil {
		r.Route("/registrations", func(r chi.Router) {
			r.Use(limit)
			r.Post("/", rt.Registrations.Start)
			r.Post("/{token}/confirm", rt.Registrations.Confirm)
		})
	}

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}
