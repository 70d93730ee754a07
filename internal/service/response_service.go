package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/reach-backend/internal/errors"
	"github.com/unclebandit/reach-backend/internal/model"
	"github.com/unclebandit/reach-backend/internal/repository"
)

// ResponseService applies recipient and review actions to response records.
// Campaign writes never go through here.
type ResponseService struct {
	Tx           repository.Transactor
	CampaignRepo repository.CampaignRepositoryInterface
	ResponseRepo repository.ResponseRepositoryInterface
	Log          *zap.Logger
}

// Respond accepts or rejects a pending record on behalf of the recipient.
func (s *ResponseService) Respond(ctx context.Context, campaignID int64, recipientID string, action model.ResponseAction) (*model.ResponseRecord, error) {
	if action != model.ActionAccept && action != model.ActionReject {
		return nil, fmt.Errorf("%w: action must be accept or reject", appErrors.ErrValidation)
	}
	return s.transition(ctx, campaignID, recipientID, action, true, func(rec *model.ResponseRecord, now time.Time) {
		rec.RespondedAt = &now
	})
}

// GetResponse returns one recipient's record for the campaign.
func (s *ResponseService) GetResponse(ctx context.Context, campaignID int64, recipientID string) (*model.ResponseRecord, error) {
	if _, err := s.CampaignRepo.GetByID(ctx, nil, campaignID); err != nil {
		return nil, err
	}
	return s.ResponseRepo.Get(ctx, nil, campaignID, recipientID)
}

func (s *ResponseService) SubmitProof(ctx context.Context, campaignID int64, recipientID, proofRef string) (*model.ResponseRecord, error) {
	if strings.TrimSpace(proofRef) == "" {
		return nil, fmt.Errorf("%w: proof_ref is required", appErrors.ErrValidation)
	}
	return s.transition(ctx, campaignID, recipientID, model.ActionSubmit, true, func(rec *model.ResponseRecord, _ time.Time) {
		rec.ProofRef = proofRef
		rec.RejectionNote = ""
	})
}

// Review approves a submitted proof, or sends the record back to accepted with
// the proof cleared and note kept for the recipient.
func (s *ResponseService) Review(ctx context.Context, campaignID int64, recipientID string, approve bool, note string) (*model.ResponseRecord, error) {
	if approve {
		return s.transition(ctx, campaignID, recipientID, model.ActionApprove, false, func(*model.ResponseRecord, time.Time) {})
	}
	if strings.TrimSpace(note) == "" {
		return nil, fmt.Errorf("%w: a rejection note is required", appErrors.ErrValidation)
	}
	return s.transition(ctx, campaignID, recipientID, model.ActionDisapprove, false, func(rec *model.ResponseRecord, _ time.Time) {
		rec.ProofRef = ""
		rec.RejectionNote = note
	})
}

func (s *ResponseService) transition(
	ctx context.Context,
	campaignID int64,
	recipientID string,
	action model.ResponseAction,
	recipientAction bool,
	apply func(rec *model.ResponseRecord, now time.Time),
) (*model.ResponseRecord, error) {
	var rec *model.ResponseRecord
	err := s.Tx.WithTransaction(ctx, func(ctx context.Context, q repository.Querier) error {
		campaign, err := s.CampaignRepo.GetByID(ctx, q, campaignID)
		if err != nil {
			return err
		}
		if recipientAction && campaign.Status == model.CampaignCompleted {
			return appErrors.ErrCampaignClosed
		}

		rec, err = s.ResponseRepo.Get(ctx, q, campaignID, recipientID)
		if err != nil {
			return err
		}
		from := rec.Status
		next, err := model.NextStatus(from, action)
		if err != nil {
			return err
		}

		rec.Status = next
		apply(rec, time.Now())
		if err := s.ResponseRepo.ApplyTransition(ctx, q, rec, from); err != nil {
			return err
		}
		return s.CampaignRepo.SetRecipientSummary(ctx, q, campaignID, recipientID, next)
	})
	if err != nil {
		return nil, err
	}

	s.Log.Info("response transitioned",
		zap.Int64("campaign_id", campaignID),
		zap.String("recipient_id", recipientID),
		zap.String("action", string(action)),
		zap.String("status", string(rec.Status)),
	)
	return rec, nil
}
