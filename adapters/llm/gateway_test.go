package llm

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discernus/domain/artifacts"
	"discernus/domain/core"
	"discernus/internal"
	"discernus/ports"
)

// scriptedProvider lets each test script per-attempt behavior
type scriptedProvider struct {
	tag   string
	calls int
	fn    func(call int, req ports.CallRequest) (*ports.CallResponse, error)
}

func (p *scriptedProvider) Provider() string { return p.tag }

func (p *scriptedProvider) Call(ctx context.Context, req ports.CallRequest, params map[string]interface{}) (*ports.CallResponse, error) {
	p.calls++
	return p.fn(p.calls, req)
}

func okResponse(model string) *ports.CallResponse {
	return &ports.CallResponse{
		Content: "scored",
		Usage:   ports.UsageData{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
	}
}

func newTestGateway(t *testing.T, provider ports.ProviderClient, budgetUSD float64, opts ...GatewayOption) (*Gateway, *[]artifacts.AuditEvent) {
	t.Helper()
	var events []artifacts.AuditEvent
	opts = append(opts,
		WithAuditSink(func(e artifacts.AuditEvent) { events = append(events, e) }),
		WithRetryPolicy(2, time.Millisecond),
	)
	g := NewGateway([]ports.ProviderClient{provider}, NewBudgetLedger(budgetUSD), internal.DefaultLogger, opts...)
	return g, &events
}

// TestCallSuccessCommitsCost tests the happy path end to end
func TestCallSuccessCommitsCost(t *testing.T) {
	provider := &scriptedProvider{tag: "openai", fn: func(int, ports.CallRequest) (*ports.CallResponse, error) {
		return okResponse("gpt-4o"), nil
	}}
	g, events := newTestGateway(t, provider, 10)

	resp, err := g.Call(context.Background(), ports.CallRequest{Model: "gpt-4o", Prompt: "score this"})
	require.NoError(t, err)

	assert.Equal(t, "openai", resp.Provider)
	assert.Equal(t, "gpt-4o", resp.Model)
	assert.InDelta(t, Cost("gpt-4o", 100, 50), resp.CostUSD, 1e-12)
	assert.InDelta(t, resp.CostUSD, g.SpentUSD(), 1e-12)
	require.Len(t, *events, 1)
	assert.Equal(t, "llm_call", (*events)[0].Kind)
	assert.Equal(t, 150, (*events)[0].Tokens)
}

// TestCallRetriesTransientErrors tests backoff-and-retry on retryable failures
func TestCallRetriesTransientErrors(t *testing.T) {
	provider := &scriptedProvider{tag: "openai", fn: func(call int, _ ports.CallRequest) (*ports.CallResponse, error) {
		if call < 3 {
			return nil, core.ErrRateLimited
		}
		return okResponse("gpt-4o"), nil
	}}
	g, _ := newTestGateway(t, provider, 10)

	_, err := g.Call(context.Background(), ports.CallRequest{Model: "gpt-4o", Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, 3, provider.calls)
}

// TestCallGivesUpAfterMaxRetries tests retry exhaustion
func TestCallGivesUpAfterMaxRetries(t *testing.T) {
	provider := &scriptedProvider{tag: "openai", fn: func(int, ports.CallRequest) (*ports.CallResponse, error) {
		return nil, core.ErrRateLimited
	}}
	g, _ := newTestGateway(t, provider, 10)

	_, err := g.Call(context.Background(), ports.CallRequest{Model: "gpt-4o", Prompt: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrProviderUnavailable)
	assert.Equal(t, 3, provider.calls) // initial attempt + 2 retries
}

// TestCallDoesNotRetryFatalErrors tests that non-retryable errors fail fast
func TestCallDoesNotRetryFatalErrors(t *testing.T) {
	provider := &scriptedProvider{tag: "openai", fn: func(int, ports.CallRequest) (*ports.CallResponse, error) {
		return nil, core.ErrSchemaValidation
	}}
	g, _ := newTestGateway(t, provider, 10)

	_, err := g.Call(context.Background(), ports.CallRequest{Model: "gpt-4o", Prompt: "x"})
	assert.ErrorIs(t, err, core.ErrSchemaValidation)
	assert.Equal(t, 1, provider.calls)
}

// TestBudgetPreflightRefusesCall tests that an exhausted budget blocks calls
func TestBudgetPreflightRefusesCall(t *testing.T) {
	provider := &scriptedProvider{tag: "openai", fn: func(int, ports.CallRequest) (*ports.CallResponse, error) {
		t.Fatal("provider should never be reached when the budget refuses")
		return nil, nil
	}}
	g, events := newTestGateway(t, provider, 0.0000001)

	_, err := g.Call(context.Background(), ports.CallRequest{Model: "gpt-4o", Prompt: strings.Repeat("x", 4000)})
	assert.ErrorIs(t, err, core.ErrBudgetExceeded)
	assert.Equal(t, 0, provider.calls)
	require.Len(t, *events, 1)
	assert.Contains(t, (*events)[0].Error, "budget")
}

// TestFallbackOnEmptyResponse tests rerouting when the primary returns nothing
func TestFallbackOnEmptyResponse(t *testing.T) {
	provider := &scriptedProvider{tag: "openai", fn: func(_ int, req ports.CallRequest) (*ports.CallResponse, error) {
		if req.Model == "gpt-4o" {
			return &ports.CallResponse{Usage: ports.UsageData{TotalTokens: 10}}, nil // empty
		}
		return okResponse(req.Model), nil
	}}
	g, _ := newTestGateway(t, provider, 10,
		WithFallbacks(map[string]string{"gpt-4o": "gpt-4o-mini"}))

	resp, err := g.Call(context.Background(), ports.CallRequest{Model: "gpt-4o", Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o->gpt-4o-mini", resp.FallbackUsed)
	assert.Equal(t, "empty_response", resp.FallbackReason)
	assert.Equal(t, "gpt-4o-mini", resp.Model)
}

// TestFallbackOnSafetyFilter tests rerouting on safety filter blockage
func TestFallbackOnSafetyFilter(t *testing.T) {
	provider := &scriptedProvider{tag: "openai", fn: func(_ int, req ports.CallRequest) (*ports.CallResponse, error) {
		if req.Model == "gpt-4o" {
			return nil, core.ErrSafetyFilterBlocked
		}
		return okResponse(req.Model), nil
	}}
	g, _ := newTestGateway(t, provider, 10,
		WithFallbacks(map[string]string{"gpt-4o": "gpt-4o-mini"}))

	resp, err := g.Call(context.Background(), ports.CallRequest{Model: "gpt-4o", Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "safety_filter_blockage", resp.FallbackReason)
}

// TestNoFallbackWithoutConfiguration tests that unrouted models fail plainly
func TestNoFallbackWithoutConfiguration(t *testing.T) {
	provider := &scriptedProvider{tag: "openai", fn: func(int, ports.CallRequest) (*ports.CallResponse, error) {
		return nil, core.ErrSafetyFilterBlocked
	}}
	g, _ := newTestGateway(t, provider, 10)

	_, err := g.Call(context.Background(), ports.CallRequest{Model: "gpt-4o", Prompt: "x"})
	assert.ErrorIs(t, err, core.ErrSafetyFilterBlocked)
}

// TestUnsupportedProvider tests dispatch to an unregistered provider
func TestUnsupportedProvider(t *testing.T) {
	provider := &scriptedProvider{tag: "openai", fn: func(int, ports.CallRequest) (*ports.CallResponse, error) {
		return okResponse("gpt-4o"), nil
	}}
	g, _ := newTestGateway(t, provider, 10)

	_, err := g.Call(context.Background(), ports.CallRequest{Model: "claude-sonnet-4-20250514", Prompt: "x"})
	assert.ErrorIs(t, err, core.ErrUnsupportedProvider)
}

// TestHealthDegradesUnderFailures tests the sliding-window classification
func TestHealthDegradesUnderFailures(t *testing.T) {
	tracker := newHealthTracker()

	assert.Equal(t, HealthHealthy, tracker.State("openai"))
	for i := 0; i < 10; i++ {
		tracker.Record("openai", false)
	}
	assert.Equal(t, HealthBroken, tracker.State("openai"))
	for i := 0; i < 18; i++ {
		tracker.Record("openai", true)
	}
	assert.Equal(t, HealthHealthy, tracker.State("openai"))
}
