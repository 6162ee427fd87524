package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDropNotFound  = errors.New("drop not found")
	ErrNotOnWaitlist = errors.New("not on waitlist")

	// ErrAlreadyClaimed guards joins: a (user, drop) pair with a live claim
	// must never re-enter the waitlist.
	ErrAlreadyClaimed = errors.New("drop already claimed")

	ErrClaimNotFound = errors.New("claim not found")
	ErrForbidden     = errors.New("forbidden")
	ErrCacheMiss     = errors.New("cache miss")

	// ErrStockInvariant means a guarded stock mutation would have left
	// available_stock outside [0, total_stock]. Unreachable by construction;
	// treated as fatal if observed.
	ErrStockInvariant = errors.New("stock invariant violated")
)

// Clock lets window checks be pinned in tests.
type Clock interface{ Now() time.Time }

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// WaitlistEntry is a user's queued intent to claim a drop. At most one per
// (user, drop); never updated in place. The score inputs are recorded for
// auditability.
type WaitlistEntry struct {
	UserID uuid.UUID `json:"user_id"`
	DropID uuid.UUID `json:"drop_id"`

	PriorityScore int       `json:"priority_score"`
	JoinedAt      time.Time `json:"joined_at"`

	SignupLatencyMs  int `json:"signup_latency_ms"`
	AccountAgeDays   int `json:"account_age_days"`
	RapidActionCount int `json:"rapid_action_count"`
}

// Claim is the durable record of one allocated unit. At most one per
// (user, drop); the core never deletes it.
type Claim struct {
	UserID    uuid.UUID `json:"user_id"`
	DropID    uuid.UUID `json:"drop_id"`
	ClaimCode string    `json:"claim_code"`
	ClaimedAt time.Time `json:"claimed_at"`
}

type DropStats struct {
	DropID         uuid.UUID `json:"drop_id"`
	TotalStock     int       `json:"total_stock"`
	AvailableStock int       `json:"available_stock"`
	WaitlistCount  int       `json:"waitlist_count"`
	ClaimedCount   int       `json:"claimed_count"`
}

// JoinInput carries the score and its recorded inputs into the store.
// The service computes the score; the store only persists it.
type JoinInput struct {
	PriorityScore    int
	SignupLatencyMs  int
	AccountAgeDays   int
	RapidActionCount int
}

type ClaimOutcome string

const (
	ClaimAdmitted       ClaimOutcome = "admitted"
	ClaimAlreadyClaimed ClaimOutcome = "already_claimed"
	ClaimRejected       ClaimOutcome = "rejected"
)

type RejectReason string

const (
	ReasonWindowInactive       RejectReason = "window_inactive"
	ReasonNoStock              RejectReason = "no_stock"
	ReasonNotOnWaitlist        RejectReason = "not_on_waitlist"
	ReasonPositionExceedsStock RejectReason = "position_exceeds_stock"
)

// ClaimDecision is the structured result of a claim attempt. Rejections are
// expected business outcomes, not errors; an error from the store means the
// decision could not be made at all.
type ClaimDecision struct {
	Outcome ClaimOutcome `json:"outcome"`
	Claim   *Claim       `json:"claim,omitempty"`

	// Rank is set for admissions and for position_exceeds_stock rejections
	// so callers can report how close they were.
	Rank           int          `json:"rank,omitempty"`
	AvailableStock int          `json:"available_stock,omitempty"`
	Reason         RejectReason `json:"reason,omitempty"`
}

// Store is the durable allocation state. ClaimDrop must execute its full
// decision-to-commit sequence under per-drop exclusivity: the drop's stock,
// waitlist set and claim set are observed and mutated as one serializable
// unit. Lock order is always the drop first, then (user, drop) rows.
type Store interface {
	// Waitlist
	Join(ctx context.Context, traceID string, dropID, userID uuid.UUID, in JoinInput) (WaitlistEntry, bool, error)
	Leave(ctx context.Context, traceID string, dropID, userID uuid.UUID) (bool, error)
	Rank(ctx context.Context, dropID, userID uuid.UUID) (int, error)
	ListWaitlistForDrop(ctx context.Context, dropID uuid.UUID, limit int) ([]WaitlistEntry, error)
	ListWaitlistForUser(ctx context.Context, userID uuid.UUID) ([]WaitlistEntry, error)

	// Allocation core
	ClaimDrop(ctx context.Context, traceID string, dropID, userID uuid.UUID) (ClaimDecision, error)
	ListClaimsForUser(ctx context.Context, userID uuid.UUID) ([]Claim, error)
	GetClaimByCode(ctx context.Context, code string) (Claim, error)

	// Catalog
	CreateDrop(ctx context.Context, d *Drop) error
	GetDrop(ctx context.Context, dropID uuid.UUID) (Drop, error)
	ListDrops(ctx context.Context) ([]Drop, error)
	UpdateDrop(ctx context.Context, d *Drop) error
	DeleteDrop(ctx context.Context, dropID uuid.UUID) error
	GetStats(ctx context.Context, dropID uuid.UUID) (DropStats, error)
}

type CacheRepository interface {
	GetClaimWindowEnd(ctx context.Context, dropID uuid.UUID) (time.Time, error)
	SetClaimWindowEnd(ctx context.Context, dropID uuid.UUID, end time.Time) error
	InvalidateDrop(ctx context.Context, dropID uuid.UUID) error

	AllowRequest(ctx context.Context, ip string, limit int, window time.Duration) (bool, error)
}
