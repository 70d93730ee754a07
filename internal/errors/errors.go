// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidTargetRole          = errors.New("invalid target role")
	ErrInvalidTargetingDescriptor = errors.New("invalid targeting descriptor")
	ErrReconciliationConflict     = errors.New("campaign was modified concurrently, retry")
	// ErrDuplicateResponseRecord means the reconciliation diff inserted a key
	// that already existed. It is a defect, not a runtime condition.
	ErrDuplicateResponseRecord = errors.New("duplicate response record")
	ErrResponseNotFound        = errors.New("response record not found")
	ErrStaleResponse           = errors.New("response record changed concurrently, retry")
	ErrCampaignClosed          = errors.New("campaign is completed")
	ErrRegistrationNotFound    = errors.New("registration not found or expired")
	ErrInvalidOTP              = errors.New("invalid verification code")
	ErrValidation              = errors.New("validation failed")
)

// ErrCampaignNotFound is returned when no campaign has the requested ID.
type ErrCampaignNotFound struct {
	CampaignID int64
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int64) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ErrInvalidTransition names the record's current state.
type ErrInvalidTransition struct {
	Current string
	Action  string
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("cannot %s a response in state %s", e.Action, e.Current)
}

// HTTPStatus maps an error returned by the services onto a response code.
func HTTPStatus(err error) int {
	var notFound *ErrCampaignNotFound
	var transition *ErrInvalidTransition
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &notFound),
		errors.Is(err, ErrResponseNotFound),
		errors.Is(err, ErrRegistrationNotFound):
		return http.StatusNotFound
	case errors.As(err, &transition),
		errors.Is(err, ErrReconciliationConflict),
		errors.Is(err, ErrStaleResponse),
		errors.Is(err, ErrCampaignClosed):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidTargetRole),
		errors.Is(err, ErrInvalidTargetingDescriptor),
		errors.Is(err, ErrInvalidOTP),
		errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
