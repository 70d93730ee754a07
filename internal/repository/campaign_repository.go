package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/reach-backend/internal/errors"
	"github.com/unclebandit/reach-backend/internal/model"
)

type CampaignRepositoryInterface interface {
	Create(ctx context.Context, q Querier, c *model.Campaign) error
	GetByID(ctx context.Context, q Querier, id int64) (*model.Campaign, error)
	// SaveReconciled writes targeting, status and the live selection when the
	// stored version still equals expectedVersion. newSummaries is merged into
	// recipient_summaries without touching existing keys.
	SaveReconciled(ctx context.Context, q Querier, c *model.Campaign, expectedVersion int64, newSummaries map[string]model.ResponseStatus) error
	SetRecipientSummary(ctx context.Context, q Querier, campaignID int64, recipientID string, status model.ResponseStatus) error
	UpdateStatus(ctx context.Context, campaignID int64, status model.CampaignStatus) error
	ListCampaigns(ctx context.Context, offset, limit int, kind, status string) ([]*model.Campaign, int, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, name, kind, target_role, targeting, status, required_recipient_count,
        selected_recipients, recipient_summaries, payload, review_note, version, created_at, updated_at`

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, q Querier, c *model.Campaign) error {
	targeting, err := json.Marshal(c.Targeting)
	if err != nil {
		return fmt.Errorf("marshal targeting: %w", err)
	}
	payload, err := json.Marshal(c.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if c.Status == "" {
		c.Status = model.CampaignApproved
	}
	c.CreatedAt = time.Now()
	c.Version = 1
	if c.SelectedRecipients == nil {
		c.SelectedRecipients = []string{}
	}
	if c.RecipientSummaries == nil {
		c.RecipientSummaries = map[string]model.ResponseStatus{}
	}

	query := `
        INSERT INTO campaigns (name, kind, target_role, targeting, status, payload, version, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id
    `
	return pick(q, r.DB).QueryRowContext(ctx, query,
		c.Name, c.Kind, c.TargetRole, targeting, c.Status, payload, c.Version, c.CreatedAt,
	).Scan(&c.ID)
}

func (r *CampaignRepository) GetByID(ctx context.Context, q Querier, id int64) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(pick(q, r.DB).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) SaveReconciled(ctx context.Context, q Querier, c *model.Campaign, expectedVersion int64, newSummaries map[string]model.ResponseStatus) error {
	targeting, err := json.Marshal(c.Targeting)
	if err != nil {
		return fmt.Errorf("marshal targeting: %w", err)
	}
	if newSummaries == nil {
		newSummaries = map[string]model.ResponseStatus{}
	}
	summaries, err := json.Marshal(newSummaries)
	if err != nil {
		return fmt.Errorf("marshal summaries: %w", err)
	}

	query := `
        UPDATE campaigns
        SET targeting=$1, status=$2, selected_recipients=$3, required_recipient_count=$4,
            recipient_summaries = recipient_summaries || $5::jsonb,
            review_note=$6, version=version+1, updated_at=NOW()
        WHERE id=$7 AND version=$8
    `
	res, err := pick(q, r.DB).ExecContext(ctx, query,
		targeting, c.Status, pq.Array(c.SelectedRecipients), len(c.SelectedRecipients),
		summaries, c.ReviewNote, c.ID, expectedVersion,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return appErrors.ErrReconciliationConflict
	}

	c.Version = expectedVersion + 1
	c.RequiredRecipientCount = len(c.SelectedRecipients)
	return nil
}

func (r *CampaignRepository) SetRecipientSummary(ctx context.Context, q Querier, campaignID int64, recipientID string, status model.ResponseStatus) error {
	query := `
        UPDATE campaigns
        SET recipient_summaries = jsonb_set(recipient_summaries, ARRAY[$1::text], to_jsonb($2::text), true)
        WHERE id=$3
    `
	_, err := pick(q, r.DB).ExecContext(ctx, query, recipientID, string(status), campaignID)
	return err
}

func (r *CampaignRepository) UpdateStatus(ctx context.Context, campaignID int64, status model.CampaignStatus) error {
	query := `UPDATE campaigns SET status=$1, version=version+1, updated_at=$2 WHERE id=$3`
	res, err := r.DB.ExecContext(ctx, query, status, time.Now(), campaignID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.NewCampaignNotFound(campaignID)
	}
	return nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit int, kind, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	where := ` WHERE 1=1`
	args := []any{}
	argPos := 1

	if kind != "" {
		where += fmt.Sprintf(" AND kind=$%d", argPos)
		args = append(args, kind)
		argPos++
	}
	if status != "" {
		where += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + campaignColumns + ` FROM campaigns` + where +
		fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return campaigns, total, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var (
		c                            model.Campaign
		targeting, summaries, payload []byte
		selected                     []string
	)
	err := row.Scan(&c.ID, &c.Name, &c.Kind, &c.TargetRole, &targeting, &c.Status, &c.RequiredRecipientCount,
		pq.Array(&selected), &summaries, &payload, &c.ReviewNote, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(targeting, &c.Targeting); err != nil {
		return nil, fmt.Errorf("decode targeting of campaign %d: %w", c.ID, err)
	}
	if err := json.Unmarshal(summaries, &c.RecipientSummaries); err != nil {
		return nil, fmt.Errorf("decode summaries of campaign %d: %w", c.ID, err)
	}
	if err := json.Unmarshal(payload, &c.Payload); err != nil {
		return nil, fmt.Errorf("decode payload of campaign %d: %w", c.ID, err)
	}
	if selected == nil {
		selected = []string{}
	}
	c.SelectedRecipients = selected
	return &c, nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
