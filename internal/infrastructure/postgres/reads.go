package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/dropspot/drop-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Rank is advisory: it reads committed state without locks, so it can be
// stale by the time the caller acts on it. ClaimDrop recomputes under lock.
func (r *Repository) Rank(ctx context.Context, dropID, userID uuid.UUID) (int, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM drops WHERE id = $1)`, dropID).Scan(&exists); err != nil {
		return 0, err
	}
	if !exists {
		return 0, domain.ErrDropNotFound
	}

	var (
		score    int
		joinedAt time.Time
	)
	err := r.pool.QueryRow(ctx, `
		SELECT priority_score, joined_at
		FROM waitlist
		WHERE user_id = $1 AND drop_id = $2
	`, userID, dropID).Scan(&score, &joinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrNotOnWaitlist
	}
	if err != nil {
		return 0, err
	}

	var rank int
	err = r.pool.QueryRow(ctx, `
		SELECT COUNT(*) + 1
		FROM waitlist
		WHERE drop_id = $1
		  AND (priority_score > $2 OR (priority_score = $2 AND joined_at < $3))
	`, dropID, score, joinedAt).Scan(&rank)
	if err != nil {
		return 0, err
	}
	return rank, nil
}

func (r *Repository) ListWaitlistForDrop(ctx context.Context, dropID uuid.UUID, limit int) ([]domain.WaitlistEntry, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM drops WHERE id = $1)`, dropID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.ErrDropNotFound
	}

	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
		SELECT user_id, drop_id, priority_score, joined_at, signup_latency_ms, account_age_days, rapid_action_count
		FROM waitlist
		WHERE drop_id = $1
		ORDER BY priority_score DESC, joined_at ASC
		LIMIT $2
	`, dropID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanWaitlistRows(rows)
}

func (r *Repository) ListWaitlistForUser(ctx context.Context, userID uuid.UUID) ([]domain.WaitlistEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id, drop_id, priority_score, joined_at, signup_latency_ms, account_age_days, rapid_action_count
		FROM waitlist
		WHERE user_id = $1
		ORDER BY joined_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanWaitlistRows(rows)
}

func scanWaitlistRows(rows pgx.Rows) ([]domain.WaitlistEntry, error) {
	entries := make([]domain.WaitlistEntry, 0)
	for rows.Next() {
		var e domain.WaitlistEntry
		if err := rows.Scan(&e.UserID, &e.DropID, &e.PriorityScore, &e.JoinedAt,
			&e.SignupLatencyMs, &e.AccountAgeDays, &e.RapidActionCount); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *Repository) ListClaimsForUser(ctx context.Context, userID uuid.UUID) ([]domain.Claim, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id, drop_id, claim_code, claimed_at
		FROM claims
		WHERE user_id = $1
		ORDER BY claimed_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	claims := make([]domain.Claim, 0)
	for rows.Next() {
		var c domain.Claim
		if err := rows.Scan(&c.UserID, &c.DropID, &c.ClaimCode, &c.ClaimedAt); err != nil {
			return nil, err
		}
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return claims, nil
}

func (r *Repository) GetClaimByCode(ctx context.Context, code string) (domain.Claim, error) {
	var c domain.Claim
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, drop_id, claim_code, claimed_at
		FROM claims
		WHERE claim_code = $1
	`, code).Scan(&c.UserID, &c.DropID, &c.ClaimCode, &c.ClaimedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Claim{}, domain.ErrClaimNotFound
	}
	if err != nil {
		return domain.Claim{}, err
	}
	return c, nil
}

func (r *Repository) GetStats(ctx context.Context, dropID uuid.UUID) (domain.DropStats, error) {
	var s domain.DropStats
	err := r.pool.QueryRow(ctx, `
		SELECT d.id,
		       d.total_stock,
		       d.available_stock,
		       (SELECT COUNT(*) FROM waitlist w WHERE w.drop_id = d.id),
		       (SELECT COUNT(*) FROM claims c WHERE c.drop_id = d.id)
		FROM drops d
		WHERE d.id = $1
	`, dropID).Scan(&s.DropID, &s.TotalStock, &s.AvailableStock, &s.WaitlistCount, &s.ClaimedCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DropStats{}, domain.ErrDropNotFound
	}
	if err != nil {
		return domain.DropStats{}, err
	}
	return s, nil
}
