package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/reach-backend/internal/errors"
	"github.com/unclebandit/reach-backend/internal/model"
)

// ResponseRepositoryInterface is the response ledger: one record per
// (campaign, recipient).
type ResponseRepositoryInterface interface {
	KnownRecipients(ctx context.Context, q Querier, campaignID int64) ([]string, error)
	InsertPending(ctx context.Context, q Querier, campaignID int64, recipientIDs []string) error
	InsertSeeded(ctx context.Context, q Querier, rec *model.ResponseRecord) error
	Get(ctx context.Context, q Querier, campaignID int64, recipientID string) (*model.ResponseRecord, error)
	// ApplyTransition persists rec when the stored status still equals from.
	ApplyTransition(ctx context.Context, q Querier, rec *model.ResponseRecord, from model.ResponseStatus) error
	MarkNotified(ctx context.Context, campaignID int64, recipientID string, at time.Time) error
	ListByCampaign(ctx context.Context, campaignID int64) ([]*model.ResponseRecord, error)
	ListUnnotifiedPending(ctx context.Context, createdBefore time.Time) ([]*model.ResponseRecord, error)
	GetCampaignStats(ctx context.Context, campaignID int64) (map[string]int, error)
}

type ResponseRepository struct {
	DB *sql.DB
}

const uniqueViolation = "23505"

const responseColumns = `id, campaign_id, recipient_id, status, responded_at, proof_ref, rejection_note,
        notified_at, created_at, updated_at`

func (r *ResponseRepository) KnownRecipients(ctx context.Context, q Querier, campaignID int64) ([]string, error) {
	rows, err := pick(q, r.DB).QueryContext(ctx,
		`SELECT recipient_id FROM response_records WHERE campaign_id=$1 ORDER BY recipient_id`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	known := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		known = append(known, id)
	}
	return known, rows.Err()
}

// InsertPending creates pending records in a single statement. A unique
// violation is reported as ErrDuplicateResponseRecord.
func (r *ResponseRepository) InsertPending(ctx context.Context, q Querier, campaignID int64, recipientIDs []string) error {
	if len(recipientIDs) == 0 {
		return nil
	}
	query := `
        INSERT INTO response_records (campaign_id, recipient_id, status, created_at, updated_at)
        SELECT $1, rid, 'pending', NOW(), NOW() FROM unnest($2::text[]) AS rid
    `
	_, err := pick(q, r.DB).ExecContext(ctx, query, campaignID, pq.Array(recipientIDs))
	return translateInsertError(err)
}

func (r *ResponseRepository) InsertSeeded(ctx context.Context, q Querier, rec *model.ResponseRecord) error {
	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	query := `
        INSERT INTO response_records (campaign_id, recipient_id, status, responded_at, proof_ref, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id
    `
	err := pick(q, r.DB).QueryRowContext(ctx, query,
		rec.CampaignID, rec.RecipientID, rec.Status, rec.RespondedAt, rec.ProofRef, rec.CreatedAt, rec.UpdatedAt,
	).Scan(&rec.ID)
	return translateInsertError(err)
}

func translateInsertError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return appErrors.ErrDuplicateResponseRecord
	}
	return err
}

func (r *ResponseRepository) Get(ctx context.Context, q Querier, campaignID int64, recipientID string) (*model.ResponseRecord, error) {
	query := `SELECT ` + responseColumns + ` FROM response_records WHERE campaign_id=$1 AND recipient_id=$2`
	rec, err := scanResponse(pick(q, r.DB).QueryRowContext(ctx, query, campaignID, recipientID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrResponseNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (r *ResponseRepository) ApplyTransition(ctx context.Context, q Querier, rec *model.ResponseRecord, from model.ResponseStatus) error {
	rec.UpdatedAt = time.Now()
	query := `
        UPDATE response_records
        SET status=$1, responded_at=$2, proof_ref=$3, rejection_note=$4, updated_at=$5
        WHERE id=$6 AND status=$7
    `
	res, err := pick(q, r.DB).ExecContext(ctx, query,
		rec.Status, rec.RespondedAt, rec.ProofRef, rec.RejectionNote, rec.UpdatedAt, rec.ID, from)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return appErrors.ErrStaleResponse
	}
	return nil
}

func (r *ResponseRepository) MarkNotified(ctx context.Context, campaignID int64, recipientID string, at time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE response_records SET notified_at=$1 WHERE campaign_id=$2 AND recipient_id=$3 AND notified_at IS NULL`,
		at, campaignID, recipientID)
	return err
}

func (r *ResponseRepository) ListByCampaign(ctx context.Context, campaignID int64) ([]*model.ResponseRecord, error) {
	query := `SELECT ` + responseColumns + ` FROM response_records WHERE campaign_id=$1 ORDER BY recipient_id`
	return r.list(ctx, query, campaignID)
}

func (r *ResponseRepository) ListUnnotifiedPending(ctx context.Context, createdBefore time.Time) ([]*model.ResponseRecord, error) {
	query := `SELECT ` + responseColumns + ` FROM response_records
        WHERE status='pending' AND notified_at IS NULL AND created_at < $1
        ORDER BY campaign_id, recipient_id`
	return r.list(ctx, query, createdBefore)
}

func (r *ResponseRepository) list(ctx context.Context, query string, args ...any) ([]*model.ResponseRecord, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []*model.ResponseRecord{}
	for rows.Next() {
		rec, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *ResponseRepository) GetCampaignStats(ctx context.Context, campaignID int64) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM response_records WHERE campaign_id=$1 GROUP BY status`
	rows, err := r.DB.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

func scanResponse(row rowScanner) (*model.ResponseRecord, error) {
	var rec model.ResponseRecord
	err := row.Scan(&rec.ID, &rec.CampaignID, &rec.RecipientID, &rec.Status, &rec.RespondedAt,
		&rec.ProofRef, &rec.RejectionNote, &rec.NotifiedAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

var _ ResponseRepositoryInterface = (*ResponseRepository)(nil)
