package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/reach-backend/internal/errors"
	"github.com/unclebandit/reach-backend/internal/metrics"
	"github.com/unclebandit/reach-backend/internal/model"
	"github.com/unclebandit/reach-backend/internal/repository"
)

// RepairProofDrift seeds response records for proof holders that have no
// record for the campaign. The seeded status comes from the proof state. Each
// seeded record gets an audit row; existing records are never touched and no
// notification is sent.
func (s *CampaignService) RepairProofDrift(ctx context.Context, campaignID int64, actor string) ([]model.ProofRepair, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, fmt.Errorf("%w: actor is required", appErrors.ErrValidation)
	}

	var repairs []model.ProofRepair
	err := s.retryOnConflict(ctx, func() error {
		repairs = nil
		return s.Tx.WithTransaction(ctx, func(ctx context.Context, q repository.Querier) error {
			campaign, err := s.CampaignRepo.GetByID(ctx, q, campaignID)
			if err != nil {
				return err
			}
			known, err := s.ResponseRepo.KnownRecipients(ctx, q, campaignID)
			if err != nil {
				return fmt.Errorf("load known recipients: %w", err)
			}
			proofs, err := s.ProofRepo.ListByCampaign(ctx, q, campaignID)
			if err != nil {
				return fmt.Errorf("load proofs: %w", err)
			}

			seeds := planRepairs(known, proofs)
			if len(seeds) == 0 {
				return nil
			}

			summaries := make(map[string]model.ResponseStatus, len(seeds))
			selected := append([]string{}, campaign.SelectedRecipients...)
			for _, p := range seeds {
				status, _ := p.RecoveredStatus()
				summaries[p.RecipientID] = status
				selected = append(selected, p.RecipientID)
			}
			sort.Strings(selected)
			campaign.SelectedRecipients = selected

			// version first: competing reconciliations block here and then conflict
			if err := s.CampaignRepo.SaveReconciled(ctx, q, campaign, campaign.Version, summaries); err != nil {
				return err
			}

			now := time.Now()
			for _, p := range seeds {
				status, _ := p.RecoveredStatus()
				respondedAt := p.UpdatedAt
				rec := &model.ResponseRecord{
					CampaignID:  campaignID,
					RecipientID: p.RecipientID,
					Status:      status,
					RespondedAt: &respondedAt,
					ProofRef:    p.ProofRef,
				}
				if err := s.ResponseRepo.InsertSeeded(ctx, q, rec); err != nil {
					return fmt.Errorf("seed record for %s: %w", p.RecipientID, err)
				}
				repair := model.ProofRepair{
					ID:          uuid.NewString(),
					CampaignID:  campaignID,
					RecipientID: p.RecipientID,
					ProofStatus: p.Status,
					SeededWith:  status,
					Actor:       actor,
					CreatedAt:   now,
				}
				if err := s.ProofRepo.RecordRepair(ctx, q, &repair); err != nil {
					return fmt.Errorf("audit repair for %s: %w", p.RecipientID, err)
				}
				repairs = append(repairs, repair)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.ProofRepairs.Add(float64(len(repairs)))
	s.Log.Info("proof drift repaired",
		zap.Int64("campaign_id", campaignID),
		zap.String("actor", actor),
		zap.Int("seeded", len(repairs)),
	)
	if repairs == nil {
		repairs = []model.ProofRepair{}
	}
	return repairs, nil
}

// planRepairs picks, per recipient without a record, the most recently updated
// proof whose state is recoverable.
func planRepairs(known []string, proofs []model.ProofSubmission) []model.ProofSubmission {
	knownSet := make(map[string]struct{}, len(known))
	for _, id := range known {
		knownSet[id] = struct{}{}
	}

	latest := map[string]model.ProofSubmission{}
	for _, p := range proofs {
		if _, ok := knownSet[p.RecipientID]; ok {
			continue
		}
		if _, ok := p.RecoveredStatus(); !ok {
			continue
		}
		if cur, ok := latest[p.RecipientID]; ok && !p.UpdatedAt.After(cur.UpdatedAt) {
			continue
		}
		latest[p.RecipientID] = p
	}

	out := make([]model.ProofSubmission, 0, len(latest))
	for _, p := range latest {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecipientID < out[j].RecipientID })
	return out
}
