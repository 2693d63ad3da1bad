package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/markethub/stock-saga/internal/core/domain"
)

// Mock PositionRepository with conditional-write semantics
type fakePositionRepo struct {
	mu        sync.Mutex
	positions map[string]domain.Position

	// called before the version check, outside the lock
	beforeUpdate func(r *fakePositionRepo)
}

func newFakePositionRepo(positions ...domain.Position) *fakePositionRepo {
	r := &fakePositionRepo{positions: make(map[string]domain.Position)}
	for _, p := range positions {
		r.positions[p.ID] = p
	}
	return r
}

func (r *fakePositionRepo) Get(ctx context.Context, id string) (*domain.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos, ok := r.positions[id]
	if !ok {
		return nil, domain.ErrPositionNotFound
	}
	return &pos, nil
}

func (r *fakePositionRepo) ConditionalUpdate(ctx context.Context, id string, expectedVersion int64, newAmount decimal.Decimal) error {
	if r.beforeUpdate != nil {
		r.beforeUpdate(r)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	pos, ok := r.positions[id]
	if !ok {
		return domain.ErrPositionNotFound
	}
	if pos.Version != expectedVersion {
		return domain.ErrVersionConflict
	}
	pos.Amount = newAmount
	pos.Version++
	r.positions[id] = pos
	return nil
}

func (r *fakePositionRepo) Create(ctx context.Context, pos domain.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions[pos.ID] = pos
	return nil
}

func (r *fakePositionRepo) bumpVersion(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pos := r.positions[id]
	pos.Version++
	r.positions[id] = pos
}

func (r *fakePositionRepo) position(t *testing.T, id string) domain.Position {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	pos, ok := r.positions[id]
	if !ok {
		t.Fatalf("position %s missing", id)
	}
	return pos
}

// Mock IdempotencyStore
type fakeIdempotencyStore struct {
	mu      sync.Mutex
	claimed map[string]bool
}

func newFakeIdempotencyStore() *fakeIdempotencyStore {
	return &fakeIdempotencyStore{claimed: make(map[string]bool)}
}

func (s *fakeIdempotencyStore) Claim(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed[key] {
		return false, nil
	}
	s.claimed[key] = true
	return true, nil
}

func (s *fakeIdempotencyStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claimed, key)
	return nil
}

func (s *fakeIdempotencyStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claimed[key]
}

func TestApply_Success(t *testing.T) {
	repo := newFakePositionRepo(testPosition("150", "0.1"))
	idem := newFakeIdempotencyStore()
	applier := NewReservationApplier(repo, idem, zap.NewNop())

	err := applier.Apply(context.Background(), "tx-1", testLine("10", version(0)))
	if err != nil {
		t.Fatalf("expected success, got: %v", err)
	}

	pos := repo.position(t, "pos-1")
	if !pos.Amount.Equal(decimal.RequireFromString("140")) {
		t.Errorf("expected amount 140, got %s", pos.Amount)
	}
	if pos.Version != 1 {
		t.Errorf("expected version 1, got %d", pos.Version)
	}
	if !idem.has("tx-1:line-1") {
		t.Error("expected apply marker to be kept")
	}
}

func TestApply_AlreadyApplied(t *testing.T) {
	repo := newFakePositionRepo(testPosition("150", "0.1"))
	idem := newFakeIdempotencyStore()
	applier := NewReservationApplier(repo, idem, zap.NewNop())

	ctx := context.Background()
	line := testLine("10", version(0))

	if err := applier.Apply(ctx, "tx-1", line); err != nil {
		t.Fatalf("first apply failed: %v", err)
	}
	// Redelivery of the same line must not decrement twice
	if err := applier.Apply(ctx, "tx-1", line); err != nil {
		t.Fatalf("redelivered apply failed: %v", err)
	}

	pos := repo.position(t, "pos-1")
	if !pos.Amount.Equal(decimal.RequireFromString("140")) {
		t.Errorf("expected amount 140 after redelivery, got %s", pos.Amount)
	}
	if pos.Version != 1 {
		t.Errorf("expected version 1 after redelivery, got %d", pos.Version)
	}
}

func TestApply_InsufficientStock(t *testing.T) {
	repo := newFakePositionRepo(testPosition("3", "1"))
	idem := newFakeIdempotencyStore()
	applier := NewReservationApplier(repo, idem, zap.NewNop())

	err := applier.Apply(context.Background(), "tx-1", testLine("4", version(0)))

	var stockErr *domain.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got: %v", err)
	}

	pos := repo.position(t, "pos-1")
	if !pos.Amount.Equal(decimal.RequireFromString("3")) || pos.Version != 0 {
		t.Errorf("position changed on rejection: amount=%s version=%d", pos.Amount, pos.Version)
	}
	if idem.has("tx-1:line-1") {
		t.Error("expected apply marker to be released on rejection")
	}
}

func TestApply_PositionNotFound(t *testing.T) {
	repo := newFakePositionRepo()
	idem := newFakeIdempotencyStore()
	applier := NewReservationApplier(repo, idem, zap.NewNop())

	err := applier.Apply(context.Background(), "tx-1", testLine("10", version(0)))
	if !errors.Is(err, domain.ErrPositionNotFound) {
		t.Errorf("expected ErrPositionNotFound, got: %v", err)
	}
	if idem.has("tx-1:line-1") {
		t.Error("expected apply marker to be released")
	}
}

func TestApply_VersionConflict(t *testing.T) {
	repo := newFakePositionRepo(testPosition("150", "0.1"))
	idem := newFakeIdempotencyStore()
	applier := NewReservationApplier(repo, idem, zap.NewNop())

	// Another writer sneaks in between the read and the conditional write
	var once sync.Once
	repo.beforeUpdate = func(r *fakePositionRepo) {
		once.Do(func() { r.bumpVersion("pos-1") })
	}

	err := applier.Apply(context.Background(), "tx-1", testLine("10", version(0)))
	if !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got: %v", err)
	}
	if idem.has("tx-1:line-1") {
		t.Error("expected apply marker to be released on conflict")
	}

	// A fresh attempt against the re-read state succeeds
	if err := applier.Apply(context.Background(), "tx-1", testLine("10", version(0))); err != nil {
		t.Fatalf("retry after conflict failed: %v", err)
	}
	pos := repo.position(t, "pos-1")
	if !pos.Amount.Equal(decimal.RequireFromString("140")) {
		t.Errorf("expected amount 140 after retry, got %s", pos.Amount)
	}
}

func TestCompensate_RestoresStock(t *testing.T) {
	repo := newFakePositionRepo(testPosition("150", "0.1"))
	idem := newFakeIdempotencyStore()
	applier := NewReservationApplier(repo, idem, zap.NewNop())

	ctx := context.Background()
	line := testLine("10", version(0))

	if err := applier.Apply(ctx, "tx-1", line); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if err := applier.Compensate(ctx, "tx-1", line); err != nil {
		t.Fatalf("compensate failed: %v", err)
	}

	pos := repo.position(t, "pos-1")
	if !pos.Amount.Equal(decimal.RequireFromString("150")) {
		t.Errorf("expected amount restored to 150, got %s", pos.Amount)
	}
	if pos.Version != 2 {
		t.Errorf("expected version 2 after apply+compensate, got %d", pos.Version)
	}
	if idem.has("tx-1:line-1") {
		t.Error("expected apply marker to be released by compensation")
	}
}

func TestCompensate_RetriesOnConflict(t *testing.T) {
	repo := newFakePositionRepo(testPosition("150", "0.1"))
	idem := newFakeIdempotencyStore()
	applier := NewReservationApplier(repo, idem, zap.NewNop())

	ctx := context.Background()
	line := testLine("10", version(0))
	if err := applier.Apply(ctx, "tx-1", line); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	var once sync.Once
	repo.beforeUpdate = func(r *fakePositionRepo) {
		once.Do(func() { r.bumpVersion("pos-1") })
	}

	if err := applier.Compensate(ctx, "tx-1", line); err != nil {
		t.Fatalf("compensate failed despite retry budget: %v", err)
	}
	pos := repo.position(t, "pos-1")
	if !pos.Amount.Equal(decimal.RequireFromString("150")) {
		t.Errorf("expected amount restored to 150, got %s", pos.Amount)
	}
}

func TestApply_ConcurrentOversellPrevented(t *testing.T) {
	repo := newFakePositionRepo(testPosition("10", "1"))
	idem := newFakeIdempotencyStore()
	applier := NewReservationApplier(repo, idem, zap.NewNop())

	lineA := domain.OrderLine{ID: "line-a", PositionID: "pos-1", Amount: decimal.RequireFromString("6"), PositionVersion: version(0)}
	lineB := domain.OrderLine{ID: "line-b", PositionID: "pos-1", Amount: decimal.RequireFromString("7"), PositionVersion: version(0)}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, line := range []domain.OrderLine{lineA, lineB} {
		wg.Add(1)
		go func(i int, line domain.OrderLine) {
			defer wg.Done()
			errs[i] = applier.Apply(context.Background(), "tx-1", line)
		}(i, line)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		var stockErr *domain.InsufficientStockError
		if !errors.As(err, &stockErr) && !errors.Is(err, domain.ErrVersionConflict) {
			t.Errorf("loser reported unexpected error: %v", err)
		}
	}
	if successes > 1 {
		t.Errorf("combined amount exceeds stock but %d lines succeeded", successes)
	}

	pos := repo.position(t, "pos-1")
	if pos.Amount.IsNegative() {
		t.Errorf("position oversold: amount=%s", pos.Amount)
	}
}
