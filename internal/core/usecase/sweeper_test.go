package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kirillkom/customs-clearance/internal/core/domain"
)

func TestSweepOnceAssignsOnceBrokerBecomesEligible(t *testing.T) {
	f := newOrchestratorFixture(domain.Broker{ID: "7", Available: true, OriginCountries: []string{"DE"}})
	s := f.submitted(t)
	if s.AssignedBrokerID != nil {
		t.Fatalf("expected no broker on submit")
	}

	var outcomes []string
	sweeper := NewAllocationSweeper(f.shipments, f.o, SweeperOptions{
		OnOutcome: func(outcome string) { outcomes = append(outcomes, outcome) },
	})

	assigned, err := sweeper.SweepOnce(context.Background())
	if err != nil || assigned != 0 {
		t.Fatalf("first sweep: assigned=%d err=%v", assigned, err)
	}
	if len(outcomes) != 1 || outcomes[0] != "no_eligible_broker" {
		t.Fatalf("unexpected outcomes: %v", outcomes)
	}

	f.brokers.brokers[0].OriginCountries = []string{"CN"}
	assigned, err = sweeper.SweepOnce(context.Background())
	if err != nil || assigned != 1 {
		t.Fatalf("second sweep: assigned=%d err=%v", assigned, err)
	}
	if !f.shipments.get(s.ID).IsAssignedTo("7") {
		t.Fatalf("expected broker 7 to be persisted")
	}

	assigned, err = sweeper.SweepOnce(context.Background())
	if err != nil || assigned != 0 {
		t.Fatalf("nothing left to sweep: assigned=%d err=%v", assigned, err)
	}
}

type retrierFake struct {
	err error
}

func (r retrierFake) RetryAllocation(context.Context, string) (*domain.Shipment, error) {
	return nil, r.err
}

func (r retrierFake) ResumeSubmission(context.Context, string) (*domain.Shipment, error) {
	return nil, r.err
}

func TestSweepOnceContinuesPastFailures(t *testing.T) {
	store := newShipmentStoreFake(
		&domain.Shipment{ID: "a", Status: domain.StatusBrokerReview},
		&domain.Shipment{ID: "b", Status: domain.StatusBrokerReview},
	)
	var outcomes []string
	sweeper := NewAllocationSweeper(store, retrierFake{err: errors.New("db down")}, SweeperOptions{
		Batch:     10,
		OnOutcome: func(outcome string) { outcomes = append(outcomes, outcome) },
	})

	if _, err := sweeper.SweepOnce(context.Background()); err != nil {
		t.Fatalf("per-shipment errors must not fail the sweep: %v", err)
	}
	if len(outcomes) != 2 || outcomes[0] != "error" || outcomes[1] != "error" {
		t.Fatalf("unexpected outcomes: %v", outcomes)
	}
}

func TestSweepOnceResumesStalledSubmission(t *testing.T) {
	f := newOrchestratorFixture(domain.Broker{ID: "7", Available: true})
	f.shipments.saveErr = errors.New("db write failed")
	f.shipments.failSaveAt = 2

	if _, err := f.o.Submit(context.Background(), shipperActor, laptopDraft()); err == nil {
		t.Fatalf("expected the verdict write to fail")
	}
	var id string
	for sid := range f.shipments.shipments {
		id = sid
	}
	if got := f.shipments.get(id).Status; got != domain.StatusSubmitted {
		t.Fatalf("expected the shipment to be left in submitted, got %s", got)
	}

	var outcomes []string
	sweeper := NewAllocationSweeper(f.shipments, f.o, SweeperOptions{
		StallAfter: time.Minute,
		OnOutcome:  func(outcome string) { outcomes = append(outcomes, outcome) },
	})

	if _, err := sweeper.SweepOnce(context.Background()); err != nil {
		t.Fatalf("fresh submission sweep: %v", err)
	}
	if len(outcomes) != 0 {
		t.Fatalf("a submission younger than the stall age must be left alone, got %v", outcomes)
	}

	sweeper.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	if _, err := sweeper.SweepOnce(context.Background()); err != nil {
		t.Fatalf("stalled submission sweep: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0] != "resumed" {
		t.Fatalf("unexpected outcomes: %v", outcomes)
	}
	stored := f.shipments.get(id)
	if stored.Status != domain.StatusBrokerReview || !stored.IsAssignedTo("7") {
		t.Fatalf("expected resumed shipment in broker_review with broker 7, got status=%s broker=%v",
			stored.Status, stored.AssignedBrokerID)
	}
}

func TestSweepOnceSkipsResumeOnceClassified(t *testing.T) {
	store := newShipmentStoreFake(&domain.Shipment{ID: "a", Status: domain.StatusSubmitted})
	var outcomes []string
	sweeper := NewAllocationSweeper(store, retrierFake{err: &domain.TransitionError{
		From: domain.StatusBrokerReview, Event: domain.EventSubmit, Reason: "already classified",
	}}, SweeperOptions{OnOutcome: func(outcome string) { outcomes = append(outcomes, outcome) }})

	if _, err := sweeper.SweepOnce(context.Background()); err != nil {
		t.Fatalf("SweepOnce() error = %v", err)
	}
	if len(outcomes) != 1 || outcomes[0] != "skipped" {
		t.Fatalf("unexpected outcomes: %v", outcomes)
	}
}
