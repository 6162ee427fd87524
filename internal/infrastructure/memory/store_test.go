package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dropspot/drop-service/internal/domain"
	"github.com/dropspot/drop-service/internal/infrastructure/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// openDrop creates a drop whose claim window is already open.
func openDrop(t *testing.T, store *memory.Store, clock *fakeClock, stock int) domain.Drop {
	t.Helper()
	now := clock.Now()
	d, err := domain.NewDrop("Test Drop", "", "", stock, now.Add(-time.Minute), now.Add(time.Hour), now)
	require.NoError(t, err)
	require.NoError(t, store.CreateDrop(context.Background(), d))
	return *d
}

func join(t *testing.T, store *memory.Store, dropID, userID uuid.UUID, score int) domain.WaitlistEntry {
	t.Helper()
	entry, existed, err := store.Join(context.Background(), "t", dropID, userID, domain.JoinInput{PriorityScore: score})
	require.NoError(t, err)
	require.False(t, existed)
	return entry
}

func TestJoin_Idempotent(t *testing.T) {
	clock := newFakeClock(time.Now().UTC())
	store := memory.New(clock)
	d := openDrop(t, store, clock, 5)
	ctx := context.Background()
	user := uuid.New()

	e1, existed, err := store.Join(ctx, "t", d.ID, user, domain.JoinInput{PriorityScore: 1005, SignupLatencyMs: 250})
	require.NoError(t, err)
	assert.False(t, existed)

	// second join returns the stored entry unchanged, even with new inputs
	e2, existed, err := store.Join(ctx, "t", d.ID, user, domain.JoinInput{PriorityScore: 1, SignupLatencyMs: 999})
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, e1, e2)
}

func TestJoin_UnknownDrop(t *testing.T) {
	store := memory.New(nil)
	_, _, err := store.Join(context.Background(), "t", uuid.New(), uuid.New(), domain.JoinInput{})
	assert.ErrorIs(t, err, domain.ErrDropNotFound)
}

func TestLeave_Idempotent(t *testing.T) {
	clock := newFakeClock(time.Now().UTC())
	store := memory.New(clock)
	d := openDrop(t, store, clock, 5)
	ctx := context.Background()
	user := uuid.New()

	join(t, store, d.ID, user, 1000)

	removed, err := store.Leave(ctx, "t", d.ID, user)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = store.Leave(ctx, "t", d.ID, user)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestRank_OrderingAndTieBreak(t *testing.T) {
	clock := newFakeClock(time.Now().UTC())
	store := memory.New(clock)
	d := openDrop(t, store, clock, 5)
	ctx := context.Background()

	// first joiner wins the tie on equal scores
	first := uuid.New()
	second := uuid.New()
	third := uuid.New()
	join(t, store, d.ID, first, 1005)
	join(t, store, d.ID, second, 1005)
	join(t, store, d.ID, third, 1003)

	r, err := store.Rank(ctx, d.ID, first)
	require.NoError(t, err)
	assert.Equal(t, 1, r)

	r, err = store.Rank(ctx, d.ID, second)
	require.NoError(t, err)
	assert.Equal(t, 2, r)

	r, err = store.Rank(ctx, d.ID, third)
	require.NoError(t, err)
	assert.Equal(t, 3, r)

	entries, err := store.ListWaitlistForDrop(ctx, d.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, first, entries[0].UserID)
	assert.Equal(t, second, entries[1].UserID)
	assert.Equal(t, third, entries[2].UserID)
}

func TestRank_NotPresent(t *testing.T) {
	clock := newFakeClock(time.Now().UTC())
	store := memory.New(clock)
	d := openDrop(t, store, clock, 5)

	_, err := store.Rank(context.Background(), d.ID, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotOnWaitlist)
}

func TestRank_ShrinksAfterLeave(t *testing.T) {
	clock := newFakeClock(time.Now().UTC())
	store := memory.New(clock)
	d := openDrop(t, store, clock, 5)
	ctx := context.Background()

	u1 := uuid.New()
	u2 := uuid.New()
	join(t, store, d.ID, u1, 1010)
	join(t, store, d.ID, u2, 1000)

	r, _ := store.Rank(ctx, d.ID, u2)
	assert.Equal(t, 2, r)

	_, err := store.Leave(ctx, "t", d.ID, u1)
	require.NoError(t, err)

	r, _ = store.Rank(ctx, d.ID, u2)
	assert.Equal(t, 1, r)
}

func TestClaim_Admitted(t *testing.T) {
	clock := newFakeClock(time.Now().UTC())
	store := memory.New(clock)
	d := openDrop(t, store, clock, 2)
	ctx := context.Background()
	user := uuid.New()

	join(t, store, d.ID, user, 1005)

	dec, err := store.ClaimDrop(ctx, "t", d.ID, user)
	require.NoError(t, err)
	require.Equal(t, domain.ClaimAdmitted, dec.Outcome)
	require.NotNil(t, dec.Claim)
	assert.Equal(t, 1, dec.Rank)
	assert.Equal(t, 1, dec.AvailableStock)
	assert.NotEmpty(t, dec.Claim.ClaimCode)

	// mutual exclusion: the waitlist entry is gone
	_, err = store.Rank(ctx, d.ID, user)
	assert.ErrorIs(t, err, domain.ErrNotOnWaitlist)

	// and re-joining a claimed drop is refused
	_, _, err = store.Join(ctx, "t", d.ID, user, domain.JoinInput{PriorityScore: 1})
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)

	stats, err := store.GetStats(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.AvailableStock)
	assert.Equal(t, 1, stats.ClaimedCount)
	assert.Equal(t, 0, stats.WaitlistCount)
	// claims_count == total - available
	assert.Equal(t, stats.TotalStock-stats.AvailableStock, stats.ClaimedCount)
}

func TestClaim_Idempotent(t *testing.T) {
	clock := newFakeClock(time.Now().UTC())
	store := memory.New(clock)
	d := openDrop(t, store, clock, 2)
	ctx := context.Background()
	user := uuid.New()

	join(t, store, d.ID, user, 1005)

	first, err := store.ClaimDrop(ctx, "t", d.ID, user)
	require.NoError(t, err)
	require.Equal(t, domain.ClaimAdmitted, first.Outcome)

	second, err := store.ClaimDrop(ctx, "t", d.ID, user)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimAlreadyClaimed, second.Outcome)
	assert.Equal(t, first.Claim.ClaimCode, second.Claim.ClaimCode)

	third, err := store.ClaimDrop(ctx, "t", d.ID, user)
	require.NoError(t, err)
	assert.Equal(t, first.Claim.ClaimCode, third.Claim.ClaimCode)

	// stock decremented exactly once
	stats, _ := store.GetStats(ctx, d.ID)
	assert.Equal(t, 1, stats.AvailableStock)
}

func TestClaim_Rejections(t *testing.T) {
	clock := newFakeClock(time.Now().UTC())
	store := memory.New(clock)
	ctx := context.Background()

	t.Run("unknown drop", func(t *testing.T) {
		dec, err := store.ClaimDrop(ctx, "t", uuid.New(), uuid.New())
		require.NoError(t, err)
		assert.Equal(t, domain.ClaimRejected, dec.Outcome)
		assert.Equal(t, domain.ReasonWindowInactive, dec.Reason)
	})

	t.Run("not on waitlist", func(t *testing.T) {
		d := openDrop(t, store, clock, 1)
		dec, err := store.ClaimDrop(ctx, "t", d.ID, uuid.New())
		require.NoError(t, err)
		assert.Equal(t, domain.ClaimRejected, dec.Outcome)
		assert.Equal(t, domain.ReasonNotOnWaitlist, dec.Reason)
	})

	t.Run("no stock", func(t *testing.T) {
		d := openDrop(t, store, clock, 1)
		winner := uuid.New()
		late := uuid.New()
		join(t, store, d.ID, winner, 1005)
		dec, err := store.ClaimDrop(ctx, "t", d.ID, winner)
		require.NoError(t, err)
		require.Equal(t, domain.ClaimAdmitted, dec.Outcome)

		join(t, store, d.ID, late, 1005)
		dec, err = store.ClaimDrop(ctx, "t", d.ID, late)
		require.NoError(t, err)
		assert.Equal(t, domain.ClaimRejected, dec.Outcome)
		assert.Equal(t, domain.ReasonNoStock, dec.Reason)
	})

	t.Run("position exceeds stock", func(t *testing.T) {
		d := openDrop(t, store, clock, 1)
		u1 := uuid.New()
		u2 := uuid.New()
		join(t, store, d.ID, u1, 1010)
		join(t, store, d.ID, u2, 1000)

		dec, err := store.ClaimDrop(ctx, "t", d.ID, u2)
		require.NoError(t, err)
		assert.Equal(t, domain.ClaimRejected, dec.Outcome)
		assert.Equal(t, domain.ReasonPositionExceedsStock, dec.Reason)
		assert.Equal(t, 2, dec.Rank)
		assert.Equal(t, 1, dec.AvailableStock)
	})
}

func TestClaim_WindowBoundary(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := newFakeClock(start)
	store := memory.New(clock)
	ctx := context.Background()

	d, err := domain.NewDrop("Boundary", "", "", 1, start, start.Add(time.Hour), start)
	require.NoError(t, err)
	require.NoError(t, store.CreateDrop(ctx, d))

	user := uuid.New()
	join(t, store, d.ID, user, 1005)

	t.Run("before start", func(t *testing.T) {
		clock.Set(start.Add(-time.Microsecond))
		dec, err := store.ClaimDrop(ctx, "t", d.ID, user)
		require.NoError(t, err)
		assert.Equal(t, domain.ReasonWindowInactive, dec.Reason)
	})

	t.Run("exactly at end is inclusive", func(t *testing.T) {
		clock.Set(d.ClaimWindowEnd)
		dec, err := store.ClaimDrop(ctx, "t", d.ID, user)
		require.NoError(t, err)
		assert.Equal(t, domain.ClaimAdmitted, dec.Outcome)
	})

	t.Run("just after end", func(t *testing.T) {
		d2, err := domain.NewDrop("Boundary2", "", "", 1, start, start.Add(time.Hour), start)
		require.NoError(t, err)
		require.NoError(t, store.CreateDrop(ctx, d2))
		u2 := uuid.New()
		clock.Set(start)
		join(t, store, d2.ID, u2, 1005)

		clock.Set(d2.ClaimWindowEnd.Add(time.Microsecond))
		dec, err := store.ClaimDrop(ctx, "t", d2.ID, u2)
		require.NoError(t, err)
		assert.Equal(t, domain.ClaimRejected, dec.Outcome)
		assert.Equal(t, domain.ReasonWindowInactive, dec.Reason)
	})
}

// Three users with tied scores against total_stock=2: ranks are join-ordered,
// the third is told how close it was, the first two get units.
func TestClaim_EndToEndScenario(t *testing.T) {
	clock := newFakeClock(time.Now().UTC())
	store := memory.New(clock)
	d := openDrop(t, store, clock, 2)
	ctx := context.Background()

	a, b, c := uuid.New(), uuid.New(), uuid.New()
	join(t, store, d.ID, a, 1005)
	join(t, store, d.ID, b, 1005)
	join(t, store, d.ID, c, 1005)

	for i, u := range []uuid.UUID{a, b, c} {
		r, err := store.Rank(ctx, d.ID, u)
		require.NoError(t, err)
		assert.Equal(t, i+1, r)
	}

	decC, err := store.ClaimDrop(ctx, "t", d.ID, c)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimRejected, decC.Outcome)
	assert.Equal(t, domain.ReasonPositionExceedsStock, decC.Reason)
	assert.Equal(t, 3, decC.Rank)
	assert.Equal(t, 2, decC.AvailableStock)

	decA, err := store.ClaimDrop(ctx, "t", d.ID, a)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimAdmitted, decA.Outcome)
	assert.Equal(t, 1, decA.Rank)

	decB, err := store.ClaimDrop(ctx, "t", d.ID, b)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimAdmitted, decB.Outcome)

	stats, _ := store.GetStats(ctx, d.ID)
	assert.Equal(t, 0, stats.AvailableStock)
	assert.Equal(t, 2, stats.ClaimedCount)
}

// No oversell under contention: many more claimants than stock, all racing.
func TestClaim_NoOversellUnderConcurrency(t *testing.T) {
	clock := newFakeClock(time.Now().UTC())
	store := memory.New(clock)
	ctx := context.Background()

	const stock = 3
	const users = 20
	d := openDrop(t, store, clock, stock)

	ids := make([]uuid.UUID, users)
	for i := range ids {
		ids[i] = uuid.New()
		join(t, store, d.ID, ids[i], 1000+i)
	}

	results := make(chan domain.ClaimDecision, users)
	var wg sync.WaitGroup
	for _, u := range ids {
		wg.Add(1)
		go func(userID uuid.UUID) {
			defer wg.Done()
			dec, err := store.ClaimDrop(ctx, "t", d.ID, userID)
			assert.NoError(t, err)
			results <- dec
		}(u)
	}
	wg.Wait()
	close(results)

	admitted := 0
	for dec := range results {
		switch dec.Outcome {
		case domain.ClaimAdmitted:
			admitted++
		case domain.ClaimRejected:
			assert.Contains(t, []domain.RejectReason{
				domain.ReasonPositionExceedsStock,
				domain.ReasonNoStock,
			}, dec.Reason)
		default:
			t.Fatalf("unexpected outcome %q", dec.Outcome)
		}
	}
	assert.Equal(t, stock, admitted)

	stats, err := store.GetStats(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.AvailableStock)
	assert.Equal(t, stock, stats.ClaimedCount)
	assert.LessOrEqual(t, stats.ClaimedCount, stats.TotalStock)
}

func TestDrops_AreIndependent(t *testing.T) {
	clock := newFakeClock(time.Now().UTC())
	store := memory.New(clock)
	ctx := context.Background()

	d1 := openDrop(t, store, clock, 1)
	d2 := openDrop(t, store, clock, 1)
	user := uuid.New()

	join(t, store, d1.ID, user, 1005)
	join(t, store, d2.ID, user, 1005)

	dec, err := store.ClaimDrop(ctx, "t", d1.ID, user)
	require.NoError(t, err)
	require.Equal(t, domain.ClaimAdmitted, dec.Outcome)

	// the claim on d1 does not consume d2's stock or membership
	r, err := store.Rank(ctx, d2.ID, user)
	require.NoError(t, err)
	assert.Equal(t, 1, r)

	stats, _ := store.GetStats(ctx, d2.ID)
	assert.Equal(t, 1, stats.AvailableStock)
}

func TestGetClaimByCode(t *testing.T) {
	clock := newFakeClock(time.Now().UTC())
	store := memory.New(clock)
	d := openDrop(t, store, clock, 1)
	ctx := context.Background()
	user := uuid.New()

	join(t, store, d.ID, user, 1005)
	dec, err := store.ClaimDrop(ctx, "t", d.ID, user)
	require.NoError(t, err)

	got, err := store.GetClaimByCode(ctx, dec.Claim.ClaimCode)
	require.NoError(t, err)
	assert.Equal(t, user, got.UserID)

	_, err = store.GetClaimByCode(ctx, "CLAIM-NOPE")
	assert.ErrorIs(t, err, domain.ErrClaimNotFound)
}

func TestDeleteDrop_Cascades(t *testing.T) {
	clock := newFakeClock(time.Now().UTC())
	store := memory.New(clock)
	d := openDrop(t, store, clock, 1)
	ctx := context.Background()
	user := uuid.New()

	join(t, store, d.ID, user, 1005)
	require.NoError(t, store.DeleteDrop(ctx, d.ID))

	_, err := store.GetDrop(ctx, d.ID)
	assert.ErrorIs(t, err, domain.ErrDropNotFound)

	entries, err := store.ListWaitlistForUser(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
