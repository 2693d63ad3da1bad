package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/markethub/stock-saga/internal/core/domain"
)

// Mock LineApplier with scripted per-line failures
type fakeLineApplier struct {
	mu          sync.Mutex
	applyCalls  map[string]int
	applied     []string
	compensated []string
	errs        map[string][]error
}

func newFakeLineApplier() *fakeLineApplier {
	return &fakeLineApplier{
		applyCalls: make(map[string]int),
		errs:       make(map[string][]error),
	}
}

func (a *fakeLineApplier) failWith(lineID string, errs ...error) {
	a.errs[lineID] = errs
}

func (a *fakeLineApplier) Apply(ctx context.Context, txID string, line domain.OrderLine) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.applyCalls[line.ID]++
	if queue := a.errs[line.ID]; len(queue) > 0 {
		err := queue[0]
		a.errs[line.ID] = queue[1:]
		if err != nil {
			return err
		}
	}
	a.applied = append(a.applied, line.ID)
	return nil
}

func (a *fakeLineApplier) Compensate(ctx context.Context, txID string, line domain.OrderLine) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.compensated = append(a.compensated, line.ID)
	return nil
}

func placedEvent(lineIDs ...string) domain.TransactionPlacedEvent {
	event := domain.TransactionPlacedEvent{
		TransactionID: "tx-1",
		BuyerID:       "buyer-1",
		Status:        domain.TransactionStatusInProgress,
	}
	for _, id := range lineIDs {
		event.OrderLine = append(event.OrderLine, domain.OrderLine{
			ID:              id,
			PositionID:      "pos-" + id,
			Amount:          decimal.RequireFromString("1"),
			PositionVersion: version(0),
		})
	}
	return event
}

func publishedStatus(t *testing.T, pub *fakePublisher) domain.TransactionStatusEvent {
	t.Helper()
	if pub.count() != 1 {
		t.Fatalf("expected 1 status event, got %d", pub.count())
	}
	var event domain.TransactionStatusEvent
	if err := json.Unmarshal(pub.published[0], &event); err != nil {
		t.Fatalf("invalid status payload: %v", err)
	}
	return event
}

func TestProcess_AllLinesApplied(t *testing.T) {
	applier := newFakeLineApplier()
	pub := &fakePublisher{}
	proc := NewProcessor(applier, pub, LeavePartial, zap.NewNop())

	if err := proc.Process(context.Background(), placedEvent("a", "b")); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	event := publishedStatus(t, pub)
	if event.TransactionID != "tx-1" {
		t.Errorf("expected tx-1, got %s", event.TransactionID)
	}
	if event.Status != domain.TransactionStatusSuccess {
		t.Errorf("expected SUCCESS, got %s", event.Status)
	}
	if len(event.OrderLine) != 2 {
		t.Errorf("expected lines echoed in status event, got %d", len(event.OrderLine))
	}
	if string(pub.keys[0]) != "tx-1" {
		t.Errorf("expected status keyed by transaction id, got %s", pub.keys[0])
	}
}

func TestProcess_LineFailureFailsTransaction(t *testing.T) {
	applier := newFakeLineApplier()
	applier.failWith("b", &domain.InsufficientStockError{PositionID: "pos-b"})
	pub := &fakePublisher{}
	proc := NewProcessor(applier, pub, LeavePartial, zap.NewNop())

	if err := proc.Process(context.Background(), placedEvent("a", "b", "c")); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if event := publishedStatus(t, pub); event.Status != domain.TransactionStatusFailed {
		t.Errorf("expected FAILED, got %s", event.Status)
	}
	// Processing stops at the first failed line
	if applier.applyCalls["c"] != 0 {
		t.Error("line after the failure must not be applied")
	}
}

func TestProcess_ConflictRetriedOnce(t *testing.T) {
	applier := newFakeLineApplier()
	applier.failWith("a", domain.ErrVersionConflict, nil)
	pub := &fakePublisher{}
	proc := NewProcessor(applier, pub, LeavePartial, zap.NewNop())

	if err := proc.Process(context.Background(), placedEvent("a")); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if event := publishedStatus(t, pub); event.Status != domain.TransactionStatusSuccess {
		t.Errorf("expected SUCCESS after one retry, got %s", event.Status)
	}
	if applier.applyCalls["a"] != 2 {
		t.Errorf("expected exactly 2 apply attempts, got %d", applier.applyCalls["a"])
	}
}

func TestProcess_SecondConflictFailsLine(t *testing.T) {
	applier := newFakeLineApplier()
	applier.failWith("a", domain.ErrVersionConflict, domain.ErrVersionConflict)
	pub := &fakePublisher{}
	proc := NewProcessor(applier, pub, LeavePartial, zap.NewNop())

	if err := proc.Process(context.Background(), placedEvent("a")); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if event := publishedStatus(t, pub); event.Status != domain.TransactionStatusFailed {
		t.Errorf("expected FAILED after bounded retry, got %s", event.Status)
	}
	if applier.applyCalls["a"] != 2 {
		t.Errorf("retry must be bounded to one extra attempt, got %d calls", applier.applyCalls["a"])
	}
}

func TestProcess_LeavePartialKeepsAppliedLines(t *testing.T) {
	applier := newFakeLineApplier()
	applier.failWith("b", domain.ErrPositionNotFound)
	pub := &fakePublisher{}
	proc := NewProcessor(applier, pub, LeavePartial, zap.NewNop())

	if err := proc.Process(context.Background(), placedEvent("a", "b")); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if len(applier.compensated) != 0 {
		t.Errorf("LeavePartial must not compensate, reversed %v", applier.compensated)
	}
}

func TestProcess_CompensateOnFailureReversesAppliedLines(t *testing.T) {
	applier := newFakeLineApplier()
	applier.failWith("c", domain.ErrPositionNotFound)
	pub := &fakePublisher{}
	proc := NewProcessor(applier, pub, CompensateOnFailure, zap.NewNop())

	if err := proc.Process(context.Background(), placedEvent("a", "b", "c")); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if len(applier.compensated) != 2 {
		t.Fatalf("expected 2 compensated lines, got %v", applier.compensated)
	}
	if applier.compensated[0] != "a" || applier.compensated[1] != "b" {
		t.Errorf("expected applied lines a, b reversed, got %v", applier.compensated)
	}
	if event := publishedStatus(t, pub); event.Status != domain.TransactionStatusFailed {
		t.Errorf("expected FAILED, got %s", event.Status)
	}
}

func TestProcess_PublishFailureSurfaces(t *testing.T) {
	applier := newFakeLineApplier()
	pub := &fakePublisher{publishErr: errors.New("broker down")}
	proc := NewProcessor(applier, pub, LeavePartial, zap.NewNop())

	if err := proc.Process(context.Background(), placedEvent("a")); err == nil {
		t.Error("expected error when the status event cannot be published")
	}
}
