package llm

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"discernus/domain/core"
)

// TestCostKnownModel tests price table lookup
func TestCostKnownModel(t *testing.T) {
	got := Cost("gpt-4o", 1000, 1000)
	want := 0.0025 + 0.01
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("Cost(gpt-4o) = %g, want %g", got, want)
	}
}

// TestCostUnknownModelIsConservative tests the fallback price
func TestCostUnknownModelIsConservative(t *testing.T) {
	unknown := Cost("some-new-model", 1000, 1000)
	cheapest := Cost("gemini-2.0-flash", 1000, 1000)
	if unknown <= cheapest {
		t.Errorf("unknown model price %g should exceed cheapest known %g", unknown, cheapest)
	}
}

// TestCostStripsProviderPrefix tests prefixed model names price correctly
func TestCostStripsProviderPrefix(t *testing.T) {
	if Cost("vertex_ai/gemini-2.0-flash", 1000, 0) != Cost("gemini-2.0-flash", 1000, 0) {
		t.Error("provider prefix should not change pricing")
	}
}

// TestBudgetLedgerReserveAndCommit tests the pre-flight refusal boundary
func TestBudgetLedgerReserveAndCommit(t *testing.T) {
	ledger := NewBudgetLedger(1.00)

	if err := ledger.Reserve(0.60); err != nil {
		t.Fatalf("first reserve should pass: %v", err)
	}
	ledger.Commit(0.60)

	if err := ledger.Reserve(0.30); err != nil {
		t.Fatalf("second reserve within limit should pass: %v", err)
	}
	ledger.Commit(0.30)

	err := ledger.Reserve(0.20)
	if !errors.Is(err, core.ErrBudgetExceeded) {
		t.Errorf("expected ErrBudgetExceeded, got %v", err)
	}
	if math.Abs(ledger.Spent()-0.90) > 1e-12 {
		t.Errorf("Spent() = %g, want 0.90", ledger.Spent())
	}
}

// TestBudgetLedgerConcurrentCommits tests the ledger under parallel workers
func TestBudgetLedgerConcurrentCommits(t *testing.T) {
	ledger := NewBudgetLedger(1000)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ledger.Reserve(0.01); err == nil {
				ledger.Commit(0.01)
			}
		}()
	}
	wg.Wait()

	if math.Abs(ledger.Spent()-0.50) > 1e-9 {
		t.Errorf("Spent() = %g, want 0.50", ledger.Spent())
	}
}

// TestTokenBucketBlocksWhenDrained tests the wait path
func TestTokenBucketBlocksWhenDrained(t *testing.T) {
	bucket := NewTokenBucket(1000, 100)

	if err := bucket.Wait(context.Background(), 100); err != nil {
		t.Fatalf("initial drain should not block: %v", err)
	}

	start := time.Now()
	if err := bucket.Wait(context.Background(), 50); err != nil {
		t.Fatalf("second wait failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("expected a refill wait, returned after %v", elapsed)
	}
}

// TestTokenBucketCancellation tests ctx cancellation while waiting
func TestTokenBucketCancellation(t *testing.T) {
	bucket := NewTokenBucket(1, 10)
	if err := bucket.Wait(context.Background(), 10); err != nil {
		t.Fatalf("drain failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := bucket.Wait(ctx, 10); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

// TestTokenBucketReconciliation tests estimate/actual settlement
func TestTokenBucketReconciliation(t *testing.T) {
	bucket := NewTokenBucket(1, 100)
	if err := bucket.Wait(context.Background(), 60); err != nil {
		t.Fatalf("drain failed: %v", err)
	}

	// Call used fewer tokens than estimated; the credit should let the next
	// same-size wait pass without a refill delay.
	bucket.RecordActual(60, 10)

	done := make(chan error, 1)
	go func() { done <- bucket.Wait(context.Background(), 60) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("wait after credit failed: %v", err)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("wait after credit should not block")
	}
}

// TestMinGapSpacesRequests tests the serialized scheduling of local calls
func TestMinGapSpacesRequests(t *testing.T) {
	gap := NewMinGap(30 * time.Millisecond)

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := gap.Wait(context.Background()); err != nil {
			t.Fatalf("wait %d failed: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Errorf("three calls should span two gaps, took %v", elapsed)
	}
}
