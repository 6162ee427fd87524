package postgres

import (
	"context"
	"errors"

	"github.com/dropspot/drop-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const dropColumns = `id, title, description, image_url, total_stock, available_stock,
	claim_window_start, claim_window_end, created_at, updated_at`

func scanDrop(row pgx.Row) (domain.Drop, error) {
	var d domain.Drop
	err := row.Scan(&d.ID, &d.Title, &d.Description, &d.ImageURL,
		&d.TotalStock, &d.AvailableStock,
		&d.ClaimWindowStart, &d.ClaimWindowEnd,
		&d.CreatedAt, &d.UpdatedAt)
	return d, err
}

func (r *Repository) CreateDrop(ctx context.Context, d *domain.Drop) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO drops (id, title, description, image_url, total_stock, available_stock,
			claim_window_start, claim_window_end, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, d.ID, d.Title, d.Description, d.ImageURL, d.TotalStock, d.AvailableStock,
		d.ClaimWindowStart, d.ClaimWindowEnd, d.CreatedAt, d.UpdatedAt)
	return err
}

func (r *Repository) GetDrop(ctx context.Context, dropID uuid.UUID) (domain.Drop, error) {
	d, err := scanDrop(r.pool.QueryRow(ctx, `SELECT `+dropColumns+` FROM drops WHERE id = $1`, dropID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Drop{}, domain.ErrDropNotFound
	}
	if err != nil {
		return domain.Drop{}, err
	}
	return d, nil
}

func (r *Repository) ListDrops(ctx context.Context) ([]domain.Drop, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+dropColumns+`
		FROM drops
		ORDER BY claim_window_start ASC, created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	drops := make([]domain.Drop, 0)
	for rows.Next() {
		d, err := scanDrop(rows)
		if err != nil {
			return nil, err
		}
		drops = append(drops, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return drops, nil
}

// UpdateDrop persists presentation fields and window bounds only. Stock
// columns are owned by the claim allocator and never written here.
func (r *Repository) UpdateDrop(ctx context.Context, d *domain.Drop) error {
	ct, err := r.pool.Exec(ctx, `
		UPDATE drops
		SET title = $2,
		    description = $3,
		    image_url = $4,
		    claim_window_start = $5,
		    claim_window_end = $6,
		    updated_at = $7
		WHERE id = $1
	`, d.ID, d.Title, d.Description, d.ImageURL, d.ClaimWindowStart, d.ClaimWindowEnd, d.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrDropNotFound
	}
	return nil
}

// DeleteDrop cascades to the drop's waitlist and claims via FK constraints.
func (r *Repository) DeleteDrop(ctx context.Context, dropID uuid.UUID) error {
	ct, err := r.pool.Exec(ctx, `DELETE FROM drops WHERE id = $1`, dropID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrDropNotFound
	}
	return nil
}
