package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
)

func fastConfig(breaker bool) Config {
	return Config{
		RetryMaxAttempts:        3,
		RetryInitialBackoff:     time.Millisecond,
		RetryMaxBackoff:         2 * time.Millisecond,
		RetryMultiplier:         2,
		BreakerEnabled:          breaker,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      50 * time.Millisecond,
		BreakerHalfOpenMaxCalls: 1,
	}
}

func TestExecuteRetriesRetryableFailure(t *testing.T) {
	exec := NewExecutor(fastConfig(false))

	attempts := 0
	errFlaky := errors.New("flaky")
	err := exec.Execute(context.Background(), "suggest_hs", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errFlaky
		}
		return nil
	}, func(err error) ErrorClassification {
		return ErrorClassification{Retryable: errors.Is(err, errFlaky), RecordFailure: true}
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteStopsOnPermanentFailure(t *testing.T) {
	exec := NewExecutor(fastConfig(false))

	attempts := 0
	errBadRequest := errors.New("bad request")
	err := exec.Execute(context.Background(), "predict_documents", func(context.Context) error {
		attempts++
		return errBadRequest
	}, nil)
	if !errors.Is(err, errBadRequest) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecuteReturnsLastErrorWhenContextEnds(t *testing.T) {
	cfg := fastConfig(false)
	cfg.RetryInitialBackoff = 200 * time.Millisecond
	cfg.RetryMaxBackoff = 200 * time.Millisecond
	exec := NewExecutor(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	errFlaky := errors.New("flaky")
	err := exec.Execute(ctx, "op", func(context.Context) error { return errFlaky }, func(error) ErrorClassification {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	})
	if !errors.Is(err, errFlaky) {
		t.Fatalf("expected last attempt error, got %v", err)
	}
}

func TestExecuteOpensCircuitAndReportsStateChange(t *testing.T) {
	cfg := fastConfig(true)
	cfg.RetryMaxAttempts = 1

	var mu sync.Mutex
	var changes []string
	exec := NewExecutor(cfg, WithStateChange(func(operation, from, to string) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, operation+":"+from+"->"+to)
	}))

	errDown := errors.New("down")
	for i := 0; i < 2; i++ {
		if err := exec.Execute(context.Background(), "publish", func(context.Context) error { return errDown }, nil); !errors.Is(err, errDown) {
			t.Fatalf("expected failure on iteration %d, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "publish", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	}, nil)
	if !errors.Is(err, gobreaker.ErrOpenState) || !IsCircuitOpen(err) {
		t.Fatalf("expected open state error, got %v", err)
	}
	if exec.BreakerState("publish") != gobreaker.StateOpen.String() {
		t.Fatalf("expected open breaker, got %s", exec.BreakerState("publish"))
	}

	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 1 || changes[0] != "publish:closed->open" {
		t.Fatalf("unexpected state changes: %v", changes)
	}
}

func TestExecuteIgnoresUnrecordedFailuresForBreaker(t *testing.T) {
	cfg := fastConfig(true)
	cfg.RetryMaxAttempts = 1
	exec := NewExecutor(cfg)

	errClient := errors.New("422")
	classifier := func(error) ErrorClassification { return ErrorClassification{} }
	for i := 0; i < 5; i++ {
		_ = exec.Execute(context.Background(), "suggest_hs", func(context.Context) error { return errClient }, classifier)
	}
	if exec.BreakerState("suggest_hs") != gobreaker.StateClosed.String() {
		t.Fatalf("expected closed breaker, got %s", exec.BreakerState("suggest_hs"))
	}
}
