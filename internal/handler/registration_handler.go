package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/unclebandit/reach-backend/internal/model"
	"github.com/unclebandit/reach-backend/internal/registration"
)

type RegistrationHandler struct {
	Service *registration.Service
	Log     *zap.Logger
}

type startRegistrationRequest struct {
	Role  string `json:"role" validate:"required,oneof=reporter influencer"`
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone"`
	State string `json:"state"`
	City  string `json:"city"`
}

func (h *RegistrationHandler) Start(w http.ResponseWriter, r *http.Request) {
	var body startRegistrationRequest
	if err := Decode(r, &body); err != nil {
		WriteError(w, h.Log, err)
		return
	}

	token, err := h.Service.Start(r.Context(), registration.StartInput{
		Role:  model.Role(body.Role),
		Name:  body.Name,
		Email: body.Email,
		Phone: body.Phone,
		State: body.State,
		City:  body.City,
	})
	if err != nil {
		WriteError(w, h.Log, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]string{"token": token})
}

type confirmRegistrationRequest struct {
	Code string `json:"code" validate:"required,len=6"`
}

func (h *RegistrationHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var body confirmRegistrationRequest
	if err := Decode(r, &body); err != nil {
		WriteError(w, h.Log, err)
		return
	}

	rec, err := h.Service.Confirm(r.Context(), chi.URLParam(r, "token"), body.Code)
	if err != nil {
		WriteError(w, h.Log, err)
		return
	}
	WriteJSON(w, http.StatusCreated, rec)
}
