// Package memory is a full in-memory implementation of domain.Store. It
// backs the unit tests and the dev-mode boot path when no database is
// configured. Each drop's allocation state is guarded by its own mutex held
// for the whole decision-to-commit sequence, so claims against one drop are
// serialized while unrelated drops stay fully concurrent.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dropspot/drop-service/internal/domain"
	"github.com/google/uuid"
)

type dropState struct {
	mu       sync.Mutex
	drop     domain.Drop
	waitlist map[uuid.UUID]domain.WaitlistEntry
	claims   map[uuid.UUID]domain.Claim

	// lastJoin makes joined_at strictly increasing per drop so the
	// score-then-join-time ordering is total.
	lastJoin time.Time
}

type Store struct {
	clock domain.Clock

	mu    sync.RWMutex
	drops map[uuid.UUID]*dropState
}

func New(clock domain.Clock) *Store {
	if clock == nil {
		clock = domain.ClockFunc(time.Now)
	}
	return &Store{clock: clock, drops: make(map[uuid.UUID]*dropState)}
}

func (s *Store) state(dropID uuid.UUID) (*dropState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.drops[dropID]
	return st, ok
}

// rankOf is the canonical rank: 1 + entries strictly ahead of e, where
// "ahead" means higher score, or equal score with an earlier join.
// Caller holds the drop lock.
func rankOf(st *dropState, e domain.WaitlistEntry) int {
	rank := 1
	for uid, other := range st.waitlist {
		if uid == e.UserID {
			continue
		}
		if other.PriorityScore > e.PriorityScore ||
			(other.PriorityScore == e.PriorityScore && other.JoinedAt.Before(e.JoinedAt)) {
			rank++
		}
	}
	return rank
}

// ---- Waitlist ----

func (s *Store) Join(_ context.Context, _ string, dropID, userID uuid.UUID, in domain.JoinInput) (domain.WaitlistEntry, bool, error) {
	st, ok := s.state(dropID)
	if !ok {
		return domain.WaitlistEntry{}, false, domain.ErrDropNotFound
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if _, claimed := st.claims[userID]; claimed {
		return domain.WaitlistEntry{}, false, domain.ErrAlreadyClaimed
	}
	if existing, ok := st.waitlist[userID]; ok {
		return existing, true, nil
	}

	now := s.clock.Now().UTC()
	if !now.After(st.lastJoin) {
		now = st.lastJoin.Add(time.Nanosecond)
	}
	st.lastJoin = now

	entry := domain.WaitlistEntry{
		UserID:           userID,
		DropID:           dropID,
		PriorityScore:    in.PriorityScore,
		JoinedAt:         now,
		SignupLatencyMs:  in.SignupLatencyMs,
		AccountAgeDays:   in.AccountAgeDays,
		RapidActionCount: in.RapidActionCount,
	}
	st.waitlist[userID] = entry
	return entry, false, nil
}

func (s *Store) Leave(_ context.Context, _ string, dropID, userID uuid.UUID) (bool, error) {
	st, ok := s.state(dropID)
	if !ok {
		return false, domain.ErrDropNotFound
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.waitlist[userID]; !ok {
		return false, nil
	}
	delete(st.waitlist, userID)
	return true, nil
}

func (s *Store) Rank(_ context.Context, dropID, userID uuid.UUID) (int, error) {
	st, ok := s.state(dropID)
	if !ok {
		return 0, domain.ErrDropNotFound
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	entry, ok := st.waitlist[userID]
	if !ok {
		return 0, domain.ErrNotOnWaitlist
	}
	return rankOf(st, entry), nil
}

func (s *Store) ListWaitlistForDrop(_ context.Context, dropID uuid.UUID, limit int) ([]domain.WaitlistEntry, error) {
	st, ok := s.state(dropID)
	if !ok {
		return nil, domain.ErrDropNotFound
	}

	st.mu.Lock()
	entries := make([]domain.WaitlistEntry, 0, len(st.waitlist))
	for _, e := range st.waitlist {
		entries = append(entries, e)
	}
	st.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].PriorityScore != entries[j].PriorityScore {
			return entries[i].PriorityScore > entries[j].PriorityScore
		}
		return entries[i].JoinedAt.Before(entries[j].JoinedAt)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *Store) ListWaitlistForUser(_ context.Context, userID uuid.UUID) ([]domain.WaitlistEntry, error) {
	s.mu.RLock()
	states := make([]*dropState, 0, len(s.drops))
	for _, st := range s.drops {
		states = append(states, st)
	}
	s.mu.RUnlock()

	var entries []domain.WaitlistEntry
	for _, st := range states {
		st.mu.Lock()
		if e, ok := st.waitlist[userID]; ok {
			entries = append(entries, e)
		}
		st.mu.Unlock()
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].JoinedAt.After(entries[j].JoinedAt)
	})
	return entries, nil
}

// ---- Allocation core ----

// ClaimDrop runs the admission sequence under the drop's lock: idempotency,
// window, stock, membership, rank; then commits all three mutations at once.
func (s *Store) ClaimDrop(_ context.Context, _ string, dropID, userID uuid.UUID) (domain.ClaimDecision, error) {
	st, ok := s.state(dropID)
	if !ok {
		// indistinguishable from a closed window for the caller
		return domain.ClaimDecision{Outcome: domain.ClaimRejected, Reason: domain.ReasonWindowInactive}, nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if existing, ok := st.claims[userID]; ok {
		c := existing
		return domain.ClaimDecision{Outcome: domain.ClaimAlreadyClaimed, Claim: &c}, nil
	}

	now := s.clock.Now().UTC()
	if !st.drop.WindowActive(now) {
		return domain.ClaimDecision{Outcome: domain.ClaimRejected, Reason: domain.ReasonWindowInactive}, nil
	}
	if st.drop.AvailableStock <= 0 {
		return domain.ClaimDecision{Outcome: domain.ClaimRejected, Reason: domain.ReasonNoStock}, nil
	}

	entry, onList := st.waitlist[userID]
	if !onList {
		return domain.ClaimDecision{Outcome: domain.ClaimRejected, Reason: domain.ReasonNotOnWaitlist}, nil
	}

	rank := rankOf(st, entry)
	if rank > st.drop.AvailableStock {
		return domain.ClaimDecision{
			Outcome:        domain.ClaimRejected,
			Reason:         domain.ReasonPositionExceedsStock,
			Rank:           rank,
			AvailableStock: st.drop.AvailableStock,
		}, nil
	}

	if st.drop.AvailableStock-1 < 0 {
		return domain.ClaimDecision{}, domain.ErrStockInvariant
	}

	claim := domain.Claim{
		UserID:    userID,
		DropID:    dropID,
		ClaimCode: mintClaimCode(),
		ClaimedAt: now,
	}
	st.claims[userID] = claim
	st.drop.AvailableStock--
	delete(st.waitlist, userID)

	c := claim
	return domain.ClaimDecision{
		Outcome:        domain.ClaimAdmitted,
		Claim:          &c,
		Rank:           rank,
		AvailableStock: st.drop.AvailableStock,
	}, nil
}

func mintClaimCode() string {
	return "CLAIM-" + strings.ToUpper(uuid.NewString()[:8])
}

func (s *Store) ListClaimsForUser(_ context.Context, userID uuid.UUID) ([]domain.Claim, error) {
	s.mu.RLock()
	states := make([]*dropState, 0, len(s.drops))
	for _, st := range s.drops {
		states = append(states, st)
	}
	s.mu.RUnlock()

	var claims []domain.Claim
	for _, st := range states {
		st.mu.Lock()
		if c, ok := st.claims[userID]; ok {
			claims = append(claims, c)
		}
		st.mu.Unlock()
	}
	sort.Slice(claims, func(i, j int) bool {
		return claims[i].ClaimedAt.After(claims[j].ClaimedAt)
	})
	return claims, nil
}

func (s *Store) GetClaimByCode(_ context.Context, code string) (domain.Claim, error) {
	s.mu.RLock()
	states := make([]*dropState, 0, len(s.drops))
	for _, st := range s.drops {
		states = append(states, st)
	}
	s.mu.RUnlock()

	for _, st := range states {
		st.mu.Lock()
		for _, c := range st.claims {
			if c.ClaimCode == code {
				st.mu.Unlock()
				return c, nil
			}
		}
		st.mu.Unlock()
	}
	return domain.Claim{}, domain.ErrClaimNotFound
}

// ---- Catalog ----

func (s *Store) CreateDrop(_ context.Context, d *domain.Drop) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drops[d.ID] = &dropState{
		drop:     *d,
		waitlist: make(map[uuid.UUID]domain.WaitlistEntry),
		claims:   make(map[uuid.UUID]domain.Claim),
	}
	return nil
}

func (s *Store) GetDrop(_ context.Context, dropID uuid.UUID) (domain.Drop, error) {
	st, ok := s.state(dropID)
	if !ok {
		return domain.Drop{}, domain.ErrDropNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.drop, nil
}

func (s *Store) ListDrops(_ context.Context) ([]domain.Drop, error) {
	s.mu.RLock()
	states := make([]*dropState, 0, len(s.drops))
	for _, st := range s.drops {
		states = append(states, st)
	}
	s.mu.RUnlock()

	drops := make([]domain.Drop, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		drops = append(drops, st.drop)
		st.mu.Unlock()
	}
	sort.Slice(drops, func(i, j int) bool {
		return drops[i].ClaimWindowStart.Before(drops[j].ClaimWindowStart)
	})
	return drops, nil
}

// UpdateDrop patches presentation and window fields. Stock counters belong
// to the allocator and are never copied from the caller's snapshot.
func (s *Store) UpdateDrop(_ context.Context, d *domain.Drop) error {
	st, ok := s.state(d.ID)
	if !ok {
		return domain.ErrDropNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	st.drop.Title = d.Title
	st.drop.Description = d.Description
	st.drop.ImageURL = d.ImageURL
	st.drop.ClaimWindowStart = d.ClaimWindowStart
	st.drop.ClaimWindowEnd = d.ClaimWindowEnd
	st.drop.UpdatedAt = d.UpdatedAt
	return nil
}

func (s *Store) DeleteDrop(_ context.Context, dropID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.drops[dropID]; !ok {
		return domain.ErrDropNotFound
	}
	// waitlist and claims go with the drop (cascade)
	delete(s.drops, dropID)
	return nil
}

func (s *Store) GetStats(_ context.Context, dropID uuid.UUID) (domain.DropStats, error) {
	st, ok := s.state(dropID)
	if !ok {
		return domain.DropStats{}, domain.ErrDropNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return domain.DropStats{
		DropID:         dropID,
		TotalStock:     st.drop.TotalStock,
		AvailableStock: st.drop.AvailableStock,
		WaitlistCount:  len(st.waitlist),
		ClaimedCount:   len(st.claims),
	}, nil
}
