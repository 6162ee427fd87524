package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dropspot/drop-service/internal/audit"
	"github.com/dropspot/drop-service/internal/domain"
	"github.com/google/uuid"
)

type DropService struct {
	store  domain.Store
	cache  domain.CacheRepository
	scorer *domain.Scorer
	audit  *audit.Logger
	clock  domain.Clock
}

func NewDropService(store domain.Store, cache domain.CacheRepository, scorer *domain.Scorer, auditLog *audit.Logger, clock domain.Clock) *DropService {
	if clock == nil {
		clock = domain.ClockFunc(time.Now)
	}
	return &DropService{store: store, cache: cache, scorer: scorer, audit: auditLog, clock: clock}
}

func isAdmin(role string) bool {
	return strings.ToLower(strings.TrimSpace(role)) == "admin"
}

// ScoreInputs are the client-reported signals a join is scored from.
type ScoreInputs struct {
	SignupLatencyMs  int
	AccountAgeDays   int
	RapidActionCount int
}

// Join scores the user and enqueues them. The score is computed exactly once:
// a repeat join returns the stored entry and never rescores.
func (s *DropService) Join(ctx context.Context, traceID string, dropID, userID uuid.UUID, in ScoreInputs) (domain.WaitlistEntry, bool, error) {
	if in.SignupLatencyMs < 0 {
		in.SignupLatencyMs = 0
	}
	if in.AccountAgeDays < 0 {
		in.AccountAgeDays = 0
	}
	if in.RapidActionCount < 0 {
		in.RapidActionCount = 0
	}

	entry, existed, err := s.store.Join(ctx, traceID, dropID, userID, domain.JoinInput{
		PriorityScore:    s.scorer.Score(in.SignupLatencyMs, in.AccountAgeDays, in.RapidActionCount),
		SignupLatencyMs:  in.SignupLatencyMs,
		AccountAgeDays:   in.AccountAgeDays,
		RapidActionCount: in.RapidActionCount,
	})
	if err != nil {
		return domain.WaitlistEntry{}, false, err
	}
	if !existed && s.audit != nil {
		s.audit.WaitlistJoined(ctx, dropID, userID, entry.PriorityScore)
	}
	return entry, existed, nil
}

func (s *DropService) Leave(ctx context.Context, traceID string, dropID, userID uuid.UUID) (bool, error) {
	removed, err := s.store.Leave(ctx, traceID, dropID, userID)
	if err != nil {
		return false, err
	}
	if removed && s.audit != nil {
		s.audit.WaitlistLeft(ctx, dropID, userID)
	}
	return removed, nil
}

// Claim runs the allocation. A cached window end that has already passed
// rejects the attempt without touching the store; cache errors fall through
// to the store, which remains the source of truth.
func (s *DropService) Claim(ctx context.Context, traceID string, dropID, userID uuid.UUID) (domain.ClaimDecision, error) {
	if s.cache != nil {
		end, err := s.cache.GetClaimWindowEnd(ctx, dropID)
		if err == nil && s.clock.Now().After(end) {
			dec := domain.ClaimDecision{Outcome: domain.ClaimRejected, Reason: domain.ReasonWindowInactive}
			if s.audit != nil {
				s.audit.ClaimRejected(ctx, dropID, userID, dec.Reason, 0, 0)
			}
			return dec, nil
		} else if err != nil && !errors.Is(err, domain.ErrCacheMiss) {
			// ignore redis errors
		}
	}

	dec, err := s.store.ClaimDrop(ctx, traceID, dropID, userID)
	if err != nil {
		return domain.ClaimDecision{}, err
	}

	switch dec.Outcome {
	case domain.ClaimAdmitted:
		if s.audit != nil {
			s.audit.ClaimAdmitted(ctx, dropID, userID, dec.Claim.ClaimCode, dec.Rank, dec.AvailableStock)
		}
	case domain.ClaimRejected:
		if s.audit != nil {
			s.audit.ClaimRejected(ctx, dropID, userID, dec.Reason, dec.Rank, dec.AvailableStock)
		}
		if dec.Reason == domain.ReasonWindowInactive {
			s.primeWindowCache(ctx, dropID)
		}
	}
	return dec, nil
}

// primeWindowCache stores the drop's window end so later attempts against an
// ended window can fast-fail. Best effort.
func (s *DropService) primeWindowCache(ctx context.Context, dropID uuid.UUID) {
	if s.cache == nil {
		return
	}
	d, err := s.store.GetDrop(ctx, dropID)
	if err != nil {
		return
	}
	_ = s.cache.SetClaimWindowEnd(ctx, dropID, d.ClaimWindowEnd)
}

func (s *DropService) Rank(ctx context.Context, dropID, userID uuid.UUID) (int, error) {
	return s.store.Rank(ctx, dropID, userID)
}

// Reads
func (s *DropService) GetDrop(ctx context.Context, dropID uuid.UUID) (domain.Drop, error) {
	return s.store.GetDrop(ctx, dropID)
}

func (s *DropService) ListDrops(ctx context.Context) ([]domain.Drop, error) {
	return s.store.ListDrops(ctx)
}

func (s *DropService) GetStats(ctx context.Context, dropID uuid.UUID) (domain.DropStats, error) {
	return s.store.GetStats(ctx, dropID)
}

func (s *DropService) ListWaitlist(ctx context.Context, dropID uuid.UUID, role string, limit int) ([]domain.WaitlistEntry, error) {
	if !isAdmin(role) {
		return nil, domain.ErrForbidden
	}
	return s.store.ListWaitlistForDrop(ctx, dropID, limit)
}

func (s *DropService) ListMyWaitlist(ctx context.Context, userID uuid.UUID) ([]domain.WaitlistEntry, error) {
	return s.store.ListWaitlistForUser(ctx, userID)
}

func (s *DropService) ListMyClaims(ctx context.Context, userID uuid.UUID) ([]domain.Claim, error) {
	return s.store.ListClaimsForUser(ctx, userID)
}

func (s *DropService) GetClaimByCode(ctx context.Context, code, role string) (domain.Claim, error) {
	if !isAdmin(role) {
		return domain.Claim{}, domain.ErrForbidden
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Claim{}, domain.ErrClaimNotFound
	}
	return s.store.GetClaimByCode(ctx, code)
}

// CreateDropParams carries admin input for a new drop.
type CreateDropParams struct {
	Title       string
	Description string
	ImageURL    string
	TotalStock  int
	WindowStart time.Time
	WindowEnd   time.Time
}

// Catalog writes are admin only.
func (s *DropService) CreateDrop(ctx context.Context, actorID uuid.UUID, role string, p CreateDropParams) (domain.Drop, error) {
	if !isAdmin(role) {
		return domain.Drop{}, domain.ErrForbidden
	}
	d, err := domain.NewDrop(p.Title, p.Description, p.ImageURL, p.TotalStock, p.WindowStart, p.WindowEnd, s.clock.Now())
	if err != nil {
		return domain.Drop{}, err
	}
	if err := s.store.CreateDrop(ctx, d); err != nil {
		return domain.Drop{}, err
	}
	if s.audit != nil {
		s.audit.DropCreated(ctx, d.ID, actorID, d.TotalStock)
	}
	return *d, nil
}

// UpdateDropParams patches presentation fields and window bounds. Nil means
// leave unchanged. Stock is not updatable.
type UpdateDropParams struct {
	Title       *string
	Description *string
	ImageURL    *string
	WindowStart *time.Time
	WindowEnd   *time.Time
}

func (s *DropService) UpdateDrop(ctx context.Context, actorID uuid.UUID, role string, dropID uuid.UUID, p UpdateDropParams) (domain.Drop, error) {
	if !isAdmin(role) {
		return domain.Drop{}, domain.ErrForbidden
	}
	d, err := s.store.GetDrop(ctx, dropID)
	if err != nil {
		return domain.Drop{}, err
	}
	if err := d.ApplyUpdate(p.Title, p.Description, p.ImageURL, p.WindowStart, p.WindowEnd, s.clock.Now()); err != nil {
		return domain.Drop{}, err
	}
	if err := s.store.UpdateDrop(ctx, &d); err != nil {
		return domain.Drop{}, err
	}
	if s.cache != nil {
		_ = s.cache.InvalidateDrop(ctx, dropID)
	}
	if s.audit != nil {
		s.audit.DropUpdated(ctx, dropID, actorID)
	}
	return d, nil
}

func (s *DropService) DeleteDrop(ctx context.Context, actorID uuid.UUID, role string, dropID uuid.UUID) error {
	if !isAdmin(role) {
		return domain.ErrForbidden
	}
	if err := s.store.DeleteDrop(ctx, dropID); err != nil {
		return err
	}
	if s.cache != nil {
		_ = s.cache.InvalidateDrop(ctx, dropID)
	}
	if s.audit != nil {
		s.audit.DropDeleted(ctx, dropID, actorID)
	}
	return nil
}
