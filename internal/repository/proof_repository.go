package repository

import (
	"context"
	"database/sql"

	"github.com/unclebandit/reach-backend/internal/model"
)

// ProofRepositoryInterface reads the external proof store and writes the
// repair audit trail.
type ProofRepositoryInterface interface {
	ListByCampaign(ctx context.Context, q Querier, campaignID int64) ([]model.ProofSubmission, error)
	RecordRepair(ctx context.Context, q Querier, repair *model.ProofRepair) error
}

type ProofRepository struct {
	DB *sql.DB
}

func (r *ProofRepository) ListByCampaign(ctx context.Context, q Querier, campaignID int64) ([]model.ProofSubmission, error) {
	rows, err := pick(q, r.DB).QueryContext(ctx, `
        SELECT campaign_id, recipient_id, status, proof_ref, updated_at
        FROM proof_submissions WHERE campaign_id=$1 ORDER BY recipient_id`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	proofs := []model.ProofSubmission{}
	for rows.Next() {
		var p model.ProofSubmission
		if err := rows.Scan(&p.CampaignID, &p.RecipientID, &p.Status, &p.ProofRef, &p.UpdatedAt); err != nil {
			return nil, err
		}
		proofs = append(proofs, p)
	}
	return proofs, rows.Err()
}

func (r *ProofRepository) RecordRepair(ctx context.Context, q Querier, repair *model.ProofRepair) error {
	_, err := pick(q, r.DB).ExecContext(ctx, `
        INSERT INTO proof_repairs (id, campaign_id, recipient_id, proof_status, seeded_with, actor, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		repair.ID, repair.CampaignID, repair.RecipientID, repair.ProofStatus, repair.SeededWith, repair.Actor, repair.CreatedAt)
	return err
}

var _ ProofRepositoryInterface = (*ProofRepository)(nil)
