package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/unclebandit/reach-backend/internal/model"
)

// RecipientRepositoryInterface is the read side of the user directory plus the
// single write used by confirmed registrations.
type RecipientRepositoryInterface interface {
	Find(ctx context.Context, query model.DirectoryQuery) ([]model.Recipient, error)
	GetByIDs(ctx context.Context, ids []string) ([]model.Recipient, error)
	Create(ctx context.Context, rec *model.Recipient) error
}

// RecipientRepository is the concrete implementation
type RecipientRepository struct {
	DB *sql.DB
}

const recipientColumns = `id, role, name, email, phone, state, city, verified_reporter, is_verified, created_at`

// Find matches role plus every non-empty filter. State and city compare
// case-insensitively.
func (r *RecipientRepository) Find(ctx context.Context, q model.DirectoryQuery) ([]model.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE role=$1`
	args := []any{q.Role}

	if len(q.IDs) > 0 {
		args = append(args, pq.Array(q.IDs))
		query += fmt.Sprintf(" AND id = ANY($%d)", len(args))
	}
	if len(q.States) > 0 {
		args = append(args, pq.Array(lowerAll(q.States)))
		query += fmt.Sprintf(" AND lower(state) = ANY($%d)", len(args))
	}
	if len(q.Cities) > 0 {
		args = append(args, pq.Array(lowerAll(q.Cities)))
		query += fmt.Sprintf(" AND lower(city) = ANY($%d)", len(args))
	}
	query += " ORDER BY id"

	return r.query(ctx, query, args...)
}

// GetByIDs fetches recipients regardless of role, used for delivery addresses.
func (r *RecipientRepository) GetByIDs(ctx context.Context, ids []string) ([]model.Recipient, error) {
	if len(ids) == 0 {
		return []model.Recipient{}, nil
	}
	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE id = ANY($1) ORDER BY id`
	return r.query(ctx, query, pq.Array(ids))
}

func (r *RecipientRepository) Create(ctx context.Context, rec *model.Recipient) error {
	rec.CreatedAt = time.Now()
	query := `
        INSERT INTO recipients (id, role, name, email, phone, state, city, verified_reporter, is_verified, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `
	_, err := r.DB.ExecContext(ctx, query, rec.ID, rec.Role, rec.Name, rec.Email, rec.Phone,
		rec.State, rec.City, rec.VerifiedReporter, rec.IsVerified, rec.CreatedAt)
	return err
}

func (r *RecipientRepository) query(ctx context.Context, query string, args ...any) ([]model.Recipient, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipients := []model.Recipient{}
	for rows.Next() {
		var c model.Recipient
		if err := rows.Scan(&c.ID, &c.Role, &c.Name, &c.Email, &c.Phone, &c.State, &c.City,
			&c.VerifiedReporter, &c.IsVerified, &c.CreatedAt); err != nil {
			return nil, err
		}
		recipients = append(recipients, c)
	}
	return recipients, rows.Err()
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(strings.TrimSpace(s))
	}
	return out
}

var _ RecipientRepositoryInterface = (*RecipientRepository)(nil)
