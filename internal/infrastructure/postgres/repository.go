package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dropspot/drop-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// -------------------------
// Deadlock policy:
// Always lock in this order (for the same drop_id):
//   1) drops row (FOR UPDATE)
//   2) waitlist row for (user_id, drop_id) if needed (FOR UPDATE)
// Join/Leave only touch their own (user_id, drop_id) rows and never hold the
// drops lock, so a claim and a concurrent leave cannot cycle. Claims against
// different drops never share locks.
// -------------------------

func mintClaimCode() string {
	return "CLAIM-" + strings.ToUpper(uuid.NewString()[:8])
}

func (r *Repository) Join(ctx context.Context, traceID string, dropID, userID uuid.UUID, in domain.JoinInput) (domain.WaitlistEntry, bool, error) {
	traceID = strings.TrimSpace(traceID)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.WaitlistEntry{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// 1) Drop must exist
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM drops WHERE id = $1)`, dropID).Scan(&exists); err != nil {
		return domain.WaitlistEntry{}, false, err
	}
	if !exists {
		return domain.WaitlistEntry{}, false, domain.ErrDropNotFound
	}

	// 2) A live claim excludes a waitlist entry for the same pair
	var claimed bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM claims WHERE user_id = $1 AND drop_id = $2)
	`, userID, dropID).Scan(&claimed); err != nil {
		return domain.WaitlistEntry{}, false, err
	}
	if claimed {
		return domain.WaitlistEntry{}, false, domain.ErrAlreadyClaimed
	}

	// 3) Idempotent: existing entry is returned unchanged, no score recompute
	entry := domain.WaitlistEntry{UserID: userID, DropID: dropID}
	err = tx.QueryRow(ctx, `
		SELECT priority_score, joined_at, signup_latency_ms, account_age_days, rapid_action_count
		FROM waitlist
		WHERE user_id = $1 AND drop_id = $2
		FOR UPDATE
	`, userID, dropID).Scan(&entry.PriorityScore, &entry.JoinedAt,
		&entry.SignupLatencyMs, &entry.AccountAgeDays, &entry.RapidActionCount)
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return domain.WaitlistEntry{}, false, err
		}
		return entry, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.WaitlistEntry{}, false, err
	}

	// 4) Insert; ON CONFLICT covers a racing first join for the same pair
	err = tx.QueryRow(ctx, `
		INSERT INTO waitlist (user_id, drop_id, priority_score, signup_latency_ms, account_age_days, rapid_action_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, drop_id) DO NOTHING
		RETURNING joined_at
	`, userID, dropID, in.PriorityScore, in.SignupLatencyMs, in.AccountAgeDays, in.RapidActionCount).Scan(&entry.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// lost the race; hand back the winner's row
		if err := tx.QueryRow(ctx, `
			SELECT priority_score, joined_at, signup_latency_ms, account_age_days, rapid_action_count
			FROM waitlist
			WHERE user_id = $1 AND drop_id = $2
		`, userID, dropID).Scan(&entry.PriorityScore, &entry.JoinedAt,
			&entry.SignupLatencyMs, &entry.AccountAgeDays, &entry.RapidActionCount); err != nil {
			return domain.WaitlistEntry{}, false, err
		}
		if err := tx.Commit(ctx); err != nil {
			return domain.WaitlistEntry{}, false, err
		}
		return entry, true, nil
	}
	if err != nil {
		return domain.WaitlistEntry{}, false, err
	}
	entry.PriorityScore = in.PriorityScore
	entry.SignupLatencyMs = in.SignupLatencyMs
	entry.AccountAgeDays = in.AccountAgeDays
	entry.RapidActionCount = in.RapidActionCount

	insertOutbox(ctx, tx, traceID, "waitlist.joined", waitlistJoinedPayload(dropID, userID, entry.PriorityScore))

	if err := tx.Commit(ctx); err != nil {
		return domain.WaitlistEntry{}, false, err
	}
	return entry, false, nil
}

func (r *Repository) Leave(ctx context.Context, traceID string, dropID, userID uuid.UUID) (bool, error) {
	traceID = strings.TrimSpace(traceID)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM drops WHERE id = $1)`, dropID).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, domain.ErrDropNotFound
	}

	ct, err := tx.Exec(ctx, `DELETE FROM waitlist WHERE user_id = $1 AND drop_id = $2`, userID, dropID)
	if err != nil {
		return false, err
	}
	removed := ct.RowsAffected() > 0

	if removed {
		insertOutbox(ctx, tx, traceID, "waitlist.left", waitlistLeftPayload(dropID, userID))
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return removed, nil
}

// ClaimDrop executes the admission sequence as one transaction. The drops
// row lock is the per-drop serialization point: every concurrent claim for
// this drop queues on it, so rank and stock are always judged against a
// committed, current snapshot.
func (r *Repository) ClaimDrop(ctx context.Context, traceID string, dropID, userID uuid.UUID) (domain.ClaimDecision, error) {
	traceID = strings.TrimSpace(traceID)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.ClaimDecision{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// 1) Repeat claims report the steady state, never an error
	var existing domain.Claim
	err = tx.QueryRow(ctx, `
		SELECT user_id, drop_id, claim_code, claimed_at
		FROM claims
		WHERE user_id = $1 AND drop_id = $2
	`, userID, dropID).Scan(&existing.UserID, &existing.DropID, &existing.ClaimCode, &existing.ClaimedAt)
	if err == nil {
		return domain.ClaimDecision{Outcome: domain.ClaimAlreadyClaimed, Claim: &existing}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.ClaimDecision{}, err
	}

	// 2) Lock the drop FIRST; the DB clock decides the window
	var (
		totalStock, availableStock int
		windowStart, windowEnd     time.Time
		dbNow                      time.Time
	)
	err = tx.QueryRow(ctx, `
		SELECT total_stock, available_stock, claim_window_start, claim_window_end, now()
		FROM drops
		WHERE id = $1
		FOR UPDATE
	`, dropID).Scan(&totalStock, &availableStock, &windowStart, &windowEnd, &dbNow)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ClaimDecision{Outcome: domain.ClaimRejected, Reason: domain.ReasonWindowInactive}, nil
	}
	if err != nil {
		return domain.ClaimDecision{}, err
	}

	// window bounds are inclusive
	if dbNow.Before(windowStart) || dbNow.After(windowEnd) {
		return domain.ClaimDecision{Outcome: domain.ClaimRejected, Reason: domain.ReasonWindowInactive}, nil
	}

	// 3) Stock gate
	if availableStock <= 0 {
		return domain.ClaimDecision{Outcome: domain.ClaimRejected, Reason: domain.ReasonNoStock}, nil
	}

	// 4) Lock the claimant's waitlist row second
	var (
		score    int
		joinedAt time.Time
	)
	err = tx.QueryRow(ctx, `
		SELECT priority_score, joined_at
		FROM waitlist
		WHERE user_id = $1 AND drop_id = $2
		FOR UPDATE
	`, userID, dropID).Scan(&score, &joinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ClaimDecision{Outcome: domain.ClaimRejected, Reason: domain.ReasonNotOnWaitlist}, nil
	}
	if err != nil {
		return domain.ClaimDecision{}, err
	}

	// 5) Rank from the current membership: higher score wins, then earlier join
	var rank int
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*) + 1
		FROM waitlist
		WHERE drop_id = $1
		  AND (priority_score > $2 OR (priority_score = $2 AND joined_at < $3))
	`, dropID, score, joinedAt).Scan(&rank)
	if err != nil {
		return domain.ClaimDecision{}, err
	}

	// 6) Position must fit within what is left
	if rank > availableStock {
		return domain.ClaimDecision{
			Outcome:        domain.ClaimRejected,
			Reason:         domain.ReasonPositionExceedsStock,
			Rank:           rank,
			AvailableStock: availableStock,
		}, nil
	}

	// 7) All three mutations commit together or not at all
	claim := domain.Claim{UserID: userID, DropID: dropID, ClaimCode: mintClaimCode()}
	err = tx.QueryRow(ctx, `
		INSERT INTO claims (user_id, drop_id, claim_code)
		VALUES ($1, $2, $3)
		RETURNING claimed_at
	`, userID, dropID, claim.ClaimCode).Scan(&claim.ClaimedAt)
	if err != nil {
		return domain.ClaimDecision{}, err
	}

	ct, err := tx.Exec(ctx, `
		UPDATE drops
		SET available_stock = available_stock - 1, updated_at = now()
		WHERE id = $1 AND available_stock > 0
	`, dropID)
	if err != nil {
		return domain.ClaimDecision{}, err
	}
	if ct.RowsAffected() != 1 {
		return domain.ClaimDecision{}, domain.ErrStockInvariant
	}

	if _, err := tx.Exec(ctx, `DELETE FROM waitlist WHERE user_id = $1 AND drop_id = $2`, userID, dropID); err != nil {
		return domain.ClaimDecision{}, err
	}

	insertOutbox(ctx, tx, traceID, "claim.created", claimCreatedPayload(dropID, userID, claim.ClaimCode, rank))

	if err := tx.Commit(ctx); err != nil {
		return domain.ClaimDecision{}, err
	}
	return domain.ClaimDecision{
		Outcome:        domain.ClaimAdmitted,
		Claim:          &claim,
		Rank:           rank,
		AvailableStock: availableStock - 1,
	}, nil
}
