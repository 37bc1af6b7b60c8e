package llm

import (
	"context"
	"sync"
	"time"
)

// TokenBucket is a leaky token-per-second budget keyed on one (provider,
// model) pair. Callers wait pre-flight for the estimated token count and
// record actual usage on completion; sustained over-estimation therefore
// self-corrects.
type TokenBucket struct {
	mu           sync.Mutex
	tokensPerSec float64
	capacity     float64
	available    float64
	lastRefill   time.Time
}

// NewTokenBucket creates a bucket that refills at tokensPerSec up to capacity
func NewTokenBucket(tokensPerSec, capacity float64) *TokenBucket {
	return &TokenBucket{
		tokensPerSec: tokensPerSec,
		capacity:     capacity,
		available:    capacity,
		lastRefill:   time.Now(),
	}
}

// Wait blocks until estimate tokens are available or ctx is cancelled
func (b *TokenBucket) Wait(ctx context.Context, estimate int) error {
	need := float64(estimate)
	if need > b.capacity {
		need = b.capacity
	}
	for {
		b.mu.Lock()
		b.refill()
		if b.available >= need {
			b.available -= need
			b.mu.Unlock()
			return nil
		}
		deficit := need - b.available
		wait := time.Duration(deficit / b.tokensPerSec * float64(time.Second))
		b.mu.Unlock()

		if wait < 10*time.Millisecond {
			wait = 10 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// RecordActual reconciles the pre-flight estimate with real usage. A call
// that used more than estimated debits the difference; one that used less
// credits it back.
func (b *TokenBucket) RecordActual(estimate, actual int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	b.available += float64(estimate - actual)
	if b.available > b.capacity {
		b.available = b.capacity
	}
	if b.available < -b.capacity {
		b.available = -b.capacity
	}
}

func (b *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.available += elapsed * b.tokensPerSec
	if b.available > b.capacity {
		b.available = b.capacity
	}
	b.lastRefill = now
}

// MinGap enforces a fixed minimum inter-request gap for local providers
type MinGap struct {
	mu   sync.Mutex
	gap  time.Duration
	last time.Time
}

// NewMinGap creates a gap limiter
func NewMinGap(gap time.Duration) *MinGap {
	return &MinGap{gap: gap}
}

// Wait blocks until the gap since the previous request has elapsed
func (g *MinGap) Wait(ctx context.Context) error {
	g.mu.Lock()
	now := time.Now()
	next := g.last.Add(g.gap)
	if next.Before(now) {
		next = now
	}
	g.last = next
	g.mu.Unlock()

	wait := time.Until(next)
	if wait <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

// RateLimiter owns the per-model buckets and per-provider gaps shared across
// all pipeline workers.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*TokenBucket
	gaps    map[string]*MinGap

	tokensPerSec float64
	capacity     float64
	localGap     time.Duration
}

// NewRateLimiter creates the shared limiter. Cloud models get a token
// budget; ollama gets a fixed inter-request gap.
func NewRateLimiter(tokensPerSec, capacity float64, localGap time.Duration) *RateLimiter {
	return &RateLimiter{
		buckets:      map[string]*TokenBucket{},
		gaps:         map[string]*MinGap{},
		tokensPerSec: tokensPerSec,
		capacity:     capacity,
		localGap:     localGap,
	}
}

// Acquire blocks per the regime of model's provider and returns a release
// function that reconciles actual usage (cloud regime only).
func (r *RateLimiter) Acquire(ctx context.Context, model string, estimate int) (func(actual int), error) {
	provider := ResolveProvider(model)
	if provider == "ollama" {
		r.mu.Lock()
		gap, ok := r.gaps[provider]
		if !ok {
			gap = NewMinGap(r.localGap)
			r.gaps[provider] = gap
		}
		r.mu.Unlock()
		if err := gap.Wait(ctx); err != nil {
			return nil, err
		}
		return func(int) {}, nil
	}

	r.mu.Lock()
	bucket, ok := r.buckets[model]
	if !ok {
		bucket = NewTokenBucket(r.tokensPerSec, r.capacity)
		r.buckets[model] = bucket
	}
	r.mu.Unlock()
	if err := bucket.Wait(ctx, estimate); err != nil {
		return nil, err
	}
	return func(actual int) { bucket.RecordActual(estimate, actual) }, nil
}
