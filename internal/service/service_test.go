package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/dropspot/drop-service/internal/domain"
	"github.com/dropspot/drop-service/internal/service"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStore struct{ mock.Mock }

func (m *MockStore) Join(ctx context.Context, tid string, dropID, userID uuid.UUID, in domain.JoinInput) (domain.WaitlistEntry, bool, error) {
	args := m.Called(ctx, tid, dropID, userID, in)
	return args.Get(0).(domain.WaitlistEntry), args.Bool(1), args.Error(2)
}
func (m *MockStore) Leave(ctx context.Context, tid string, dropID, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, tid, dropID, userID)
	return args.Bool(0), args.Error(1)
}
func (m *MockStore) Rank(ctx context.Context, dropID, userID uuid.UUID) (int, error) {
	args := m.Called(ctx, dropID, userID)
	return args.Int(0), args.Error(1)
}
func (m *MockStore) ListWaitlistForDrop(ctx context.Context, dropID uuid.UUID, limit int) ([]domain.WaitlistEntry, error) {
	args := m.Called(ctx, dropID, limit)
	var entries []domain.WaitlistEntry
	if v := args.Get(0); v != nil {
		entries = v.([]domain.WaitlistEntry)
	}
	return entries, args.Error(1)
}
func (m *MockStore) ListWaitlistForUser(ctx context.Context, userID uuid.UUID) ([]domain.WaitlistEntry, error) {
	args := m.Called(ctx, userID)
	var entries []domain.WaitlistEntry
	if v := args.Get(0); v != nil {
		entries = v.([]domain.WaitlistEntry)
	}
	return entries, args.Error(1)
}
func (m *MockStore) ClaimDrop(ctx context.Context, tid string, dropID, userID uuid.UUID) (domain.ClaimDecision, error) {
	args := m.Called(ctx, tid, dropID, userID)
	return args.Get(0).(domain.ClaimDecision), args.Error(1)
}
func (m *MockStore) ListClaimsForUser(ctx context.Context, userID uuid.UUID) ([]domain.Claim, error) {
	args := m.Called(ctx, userID)
	var claims []domain.Claim
	if v := args.Get(0); v != nil {
		claims = v.([]domain.Claim)
	}
	return claims, args.Error(1)
}
func (m *MockStore) GetClaimByCode(ctx context.Context, code string) (domain.Claim, error) {
	args := m.Called(ctx, code)
	return args.Get(0).(domain.Claim), args.Error(1)
}
func (m *MockStore) CreateDrop(ctx context.Context, d *domain.Drop) error {
	return m.Called(ctx, d).Error(0)
}
func (m *MockStore) GetDrop(ctx context.Context, dropID uuid.UUID) (domain.Drop, error) {
	args := m.Called(ctx, dropID)
	return args.Get(0).(domain.Drop), args.Error(1)
}
func (m *MockStore) ListDrops(ctx context.Context) ([]domain.Drop, error) {
	args := m.Called(ctx)
	var drops []domain.Drop
	if v := args.Get(0); v != nil {
		drops = v.([]domain.Drop)
	}
	return drops, args.Error(1)
}
func (m *MockStore) UpdateDrop(ctx context.Context, d *domain.Drop) error {
	return m.Called(ctx, d).Error(0)
}
func (m *MockStore) DeleteDrop(ctx context.Context, dropID uuid.UUID) error {
	return m.Called(ctx, dropID).Error(0)
}
func (m *MockStore) GetStats(ctx context.Context, dropID uuid.UUID) (domain.DropStats, error) {
	args := m.Called(ctx, dropID)
	return args.Get(0).(domain.DropStats), args.Error(1)
}

type MockCache struct{ mock.Mock }

func (m *MockCache) GetClaimWindowEnd(ctx context.Context, dropID uuid.UUID) (time.Time, error) {
	args := m.Called(ctx, dropID)
	return args.Get(0).(time.Time), args.Error(1)
}
func (m *MockCache) SetClaimWindowEnd(ctx context.Context, dropID uuid.UUID, end time.Time) error {
	return m.Called(ctx, dropID, end).Error(0)
}
func (m *MockCache) InvalidateDrop(ctx context.Context, dropID uuid.UUID) error {
	return m.Called(ctx, dropID).Error(0)
}
func (m *MockCache) AllowRequest(ctx context.Context, ip string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, ip, limit, window)
	return args.Bool(0), args.Error(1)
}

func fixedClock(t time.Time) domain.Clock {
	return domain.ClockFunc(func() time.Time { return t })
}

func TestDropService_Join_ScoresOnce(t *testing.T) {
	store := new(MockStore)
	cache := new(MockCache)
	scorer := domain.NewScorer("test-seed")
	svc := service.NewDropService(store, cache, scorer, nil, nil)
	ctx := context.Background()
	dropID := uuid.New()
	userID := uuid.New()

	want := scorer.Score(250, 400, 9)
	store.On("Join", ctx, "trace", dropID, userID, domain.JoinInput{
		PriorityScore: want, SignupLatencyMs: 250, AccountAgeDays: 400, RapidActionCount: 9,
	}).Return(domain.WaitlistEntry{UserID: userID, DropID: dropID, PriorityScore: want}, false, nil)

	entry, existed, err := svc.Join(ctx, "trace", dropID, userID, service.ScoreInputs{
		SignupLatencyMs: 250, AccountAgeDays: 400, RapidActionCount: 9,
	})
	require.NoError(t, err)
	assert.False(t, existed)
	assert.Equal(t, want, entry.PriorityScore)
	store.AssertExpectations(t)
}

func TestDropService_Join_ClampsNegativeInputs(t *testing.T) {
	store := new(MockStore)
	scorer := domain.NewScorer("test-seed")
	svc := service.NewDropService(store, nil, scorer, nil, nil)
	ctx := context.Background()
	dropID := uuid.New()
	userID := uuid.New()

	want := scorer.Score(0, 0, 0)
	store.On("Join", ctx, "t", dropID, userID, domain.JoinInput{PriorityScore: want}).
		Return(domain.WaitlistEntry{PriorityScore: want}, false, nil)

	_, _, err := svc.Join(ctx, "t", dropID, userID, service.ScoreInputs{
		SignupLatencyMs: -5, AccountAgeDays: -1, RapidActionCount: -10,
	})
	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestDropService_Join_PropagatesAlreadyClaimed(t *testing.T) {
	store := new(MockStore)
	scorer := domain.NewScorer("test-seed")
	svc := service.NewDropService(store, nil, scorer, nil, nil)
	ctx := context.Background()
	dropID := uuid.New()
	userID := uuid.New()

	store.On("Join", ctx, "t", dropID, userID, mock.Anything).
		Return(domain.WaitlistEntry{}, false, domain.ErrAlreadyClaimed)

	_, _, err := svc.Join(ctx, "t", dropID, userID, service.ScoreInputs{})
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
}

func TestDropService_Claim_CacheFastFail(t *testing.T) {
	store := new(MockStore)
	cache := new(MockCache)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := service.NewDropService(store, cache, domain.NewScorer("s"), nil, fixedClock(now))
	ctx := context.Background()
	dropID := uuid.New()
	userID := uuid.New()

	// Cached window end is in the past: reject without touching the store.
	cache.On("GetClaimWindowEnd", ctx, dropID).Return(now.Add(-time.Minute), nil)

	dec, err := svc.Claim(ctx, "t", dropID, userID)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimRejected, dec.Outcome)
	assert.Equal(t, domain.ReasonWindowInactive, dec.Reason)
	store.AssertNotCalled(t, "ClaimDrop", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDropService_Claim_CacheMissFallsThrough(t *testing.T) {
	store := new(MockStore)
	cache := new(MockCache)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := service.NewDropService(store, cache, domain.NewScorer("s"), nil, fixedClock(now))
	ctx := context.Background()
	dropID := uuid.New()
	userID := uuid.New()

	cache.On("GetClaimWindowEnd", ctx, dropID).Return(time.Time{}, domain.ErrCacheMiss)
	admitted := domain.ClaimDecision{
		Outcome:        domain.ClaimAdmitted,
		Claim:          &domain.Claim{UserID: userID, DropID: dropID, ClaimCode: "CLAIM-AAAA1111"},
		Rank:           1,
		AvailableStock: 4,
	}
	store.On("ClaimDrop", ctx, "t", dropID, userID).Return(admitted, nil)

	dec, err := svc.Claim(ctx, "t", dropID, userID)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimAdmitted, dec.Outcome)
	store.AssertExpectations(t)
}

func TestDropService_Claim_WindowRejectionPrimesCache(t *testing.T) {
	store := new(MockStore)
	cache := new(MockCache)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := service.NewDropService(store, cache, domain.NewScorer("s"), nil, fixedClock(now))
	ctx := context.Background()
	dropID := uuid.New()
	userID := uuid.New()
	windowEnd := now.Add(-time.Hour)

	cache.On("GetClaimWindowEnd", ctx, dropID).Return(time.Time{}, domain.ErrCacheMiss)
	store.On("ClaimDrop", ctx, "t", dropID, userID).
		Return(domain.ClaimDecision{Outcome: domain.ClaimRejected, Reason: domain.ReasonWindowInactive}, nil)
	store.On("GetDrop", ctx, dropID).Return(domain.Drop{ID: dropID, ClaimWindowEnd: windowEnd}, nil)
	cache.On("SetClaimWindowEnd", ctx, dropID, windowEnd).Return(nil)

	dec, err := svc.Claim(ctx, "t", dropID, userID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonWindowInactive, dec.Reason)
	cache.AssertExpectations(t)
}

func TestDropService_AdminGates(t *testing.T) {
	ctx := context.Background()
	dropID := uuid.New()
	actorID := uuid.New()

	t.Run("ListWaitlist forbidden for plain users", func(t *testing.T) {
		store := new(MockStore)
		svc := service.NewDropService(store, nil, domain.NewScorer("s"), nil, nil)

		_, err := svc.ListWaitlist(ctx, dropID, "user", 10)
		assert.ErrorIs(t, err, domain.ErrForbidden)
		store.AssertNotCalled(t, "ListWaitlistForDrop", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("ListWaitlist ok for admin", func(t *testing.T) {
		store := new(MockStore)
		svc := service.NewDropService(store, nil, domain.NewScorer("s"), nil, nil)

		store.On("ListWaitlistForDrop", ctx, dropID, 10).Return([]domain.WaitlistEntry{}, nil)
		_, err := svc.ListWaitlist(ctx, dropID, "Admin", 10)
		assert.NoError(t, err)
	})

	t.Run("GetClaimByCode forbidden for plain users", func(t *testing.T) {
		store := new(MockStore)
		svc := service.NewDropService(store, nil, domain.NewScorer("s"), nil, nil)

		_, err := svc.GetClaimByCode(ctx, "CLAIM-AAAA1111", "user")
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("CreateDrop forbidden for plain users", func(t *testing.T) {
		store := new(MockStore)
		svc := service.NewDropService(store, nil, domain.NewScorer("s"), nil, nil)

		_, err := svc.CreateDrop(ctx, actorID, "user", service.CreateDropParams{})
		assert.ErrorIs(t, err, domain.ErrForbidden)
		store.AssertNotCalled(t, "CreateDrop", mock.Anything, mock.Anything)
	})

	t.Run("DeleteDrop forbidden for plain users", func(t *testing.T) {
		store := new(MockStore)
		svc := service.NewDropService(store, nil, domain.NewScorer("s"), nil, nil)

		err := svc.DeleteDrop(ctx, actorID, "user", dropID)
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})
}

func TestDropService_CreateDrop_Admin(t *testing.T) {
	store := new(MockStore)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := service.NewDropService(store, nil, domain.NewScorer("s"), nil, fixedClock(now))
	ctx := context.Background()
	actorID := uuid.New()

	store.On("CreateDrop", ctx, mock.AnythingOfType("*domain.Drop")).Return(nil)

	d, err := svc.CreateDrop(ctx, actorID, "admin", service.CreateDropParams{
		Title:       "Limited Sneaker",
		TotalStock:  50,
		WindowStart: now.Add(time.Hour),
		WindowEnd:   now.Add(2 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, 50, d.TotalStock)
	assert.Equal(t, 50, d.AvailableStock)
	store.AssertExpectations(t)
}

func TestDropService_UpdateDrop_InvalidatesCache(t *testing.T) {
	store := new(MockStore)
	cache := new(MockCache)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := service.NewDropService(store, cache, domain.NewScorer("s"), nil, fixedClock(now))
	ctx := context.Background()
	actorID := uuid.New()

	existing := domain.Drop{
		ID:               uuid.New(),
		Title:            "Old Title",
		TotalStock:       10,
		AvailableStock:   7,
		ClaimWindowStart: now.Add(-time.Hour),
		ClaimWindowEnd:   now.Add(time.Hour),
	}
	store.On("GetDrop", ctx, existing.ID).Return(existing, nil)
	store.On("UpdateDrop", ctx, mock.AnythingOfType("*domain.Drop")).Return(nil)
	cache.On("InvalidateDrop", ctx, existing.ID).Return(nil)

	title := "New Title"
	updated, err := svc.UpdateDrop(ctx, actorID, "admin", existing.ID, service.UpdateDropParams{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "New Title", updated.Title)
	// stock survives the patch untouched
	assert.Equal(t, 7, updated.AvailableStock)
	cache.AssertExpectations(t)
}
