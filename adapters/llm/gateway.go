// Package llm implements the provider-agnostic LLM gateway: one call surface
// with parameter cleaning, rate limiting, retries, fallback model routing and
// cost accounting. Agents never talk to a provider adapter directly.
package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"discernus/domain/artifacts"
	"discernus/domain/core"
	"discernus/internal"
	"discernus/ports"
)

// AuditSink receives one audit event per gateway call. The orchestrator wires
// this to the artifact store; tests wire it to a slice.
type AuditSink func(event artifacts.AuditEvent)

// completionEstimate is the assumed completion size for budget pre-flight
const completionEstimate = 2048

// Gateway is the unified call surface in front of all provider adapters
type Gateway struct {
	providers map[string]ports.ProviderClient
	params    *ParamManager
	limiter   *RateLimiter
	budget    *BudgetLedger
	health    *healthTracker
	fallbacks map[string]string
	logger    *internal.Logger
	audit     AuditSink

	maxRetries int
	baseDelay  time.Duration
}

// GatewayOption configures the gateway
type GatewayOption func(*Gateway)

// WithFallbacks installs the primary->fallback model routing map
func WithFallbacks(fallbacks map[string]string) GatewayOption {
	return func(g *Gateway) {
		for k, v := range fallbacks {
			g.fallbacks[k] = v
		}
	}
}

// WithAuditSink installs the audit event receiver
func WithAuditSink(sink AuditSink) GatewayOption {
	return func(g *Gateway) { g.audit = sink }
}

// WithRetryPolicy overrides retry count and base backoff delay
func WithRetryPolicy(maxRetries int, baseDelay time.Duration) GatewayOption {
	return func(g *Gateway) {
		g.maxRetries = maxRetries
		g.baseDelay = baseDelay
	}
}

// NewGateway creates a gateway over the given provider adapters
func NewGateway(providers []ports.ProviderClient, budget *BudgetLedger, logger *internal.Logger, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		providers:  map[string]ports.ProviderClient{},
		params:     NewParamManager(logger),
		limiter:    NewRateLimiter(10000, 40000, 250*time.Millisecond),
		budget:     budget,
		health:     newHealthTracker(),
		fallbacks:  map[string]string{},
		logger:     logger.Component("Gateway"),
		maxRetries: 3,
		baseDelay:  time.Second,
	}
	for _, p := range providers {
		g.providers[p.Provider()] = p
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// EstimateCost returns the projected USD cost of a call against model
func (g *Gateway) EstimateCost(model string, promptTokens, completionTokens int) float64 {
	return Cost(model, promptTokens, completionTokens)
}

// SpentUSD reports the budget consumed so far in this process
func (g *Gateway) SpentUSD() float64 {
	return g.budget.Spent()
}

// Health reports the classified state of a provider
func (g *Gateway) Health(provider string) HealthState {
	return g.health.State(provider)
}

// Call executes one LLM call with the full gateway pipeline. Transient
// failures retry with exponential backoff; fallback-trigger signals reroute
// to the configured fallback model with the rerouting recorded in the
// response metadata.
func (g *Gateway) Call(ctx context.Context, req ports.CallRequest) (*ports.CallResponse, error) {
	resp, err := g.callOnce(ctx, req)
	if err == nil {
		return resp, nil
	}

	reason, triggered := fallbackSignal(err)
	fallback, configured := g.fallbacks[req.Model]
	if !triggered || !configured {
		return nil, err
	}

	g.logger.Warn("model %s triggered %s, rerouting to %s", req.Model, reason, fallback)
	rerouted := req
	rerouted.Model = fallback
	resp, ferr := g.callOnce(ctx, rerouted)
	if ferr != nil {
		return nil, fmt.Errorf("fallback %s after %s: %w", fallback, reason, ferr)
	}
	resp.FallbackUsed = req.Model + "->" + fallback
	resp.FallbackReason = reason
	return resp, nil
}

func (g *Gateway) callOnce(ctx context.Context, req ports.CallRequest) (*ports.CallResponse, error) {
	provider := ResolveProvider(req.Model)
	client, ok := g.providers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnsupportedProvider, provider)
	}

	clean := g.params.Clean(req.Model, req.ExtraParams)
	promptEstimate := EstimateTokens(req.SystemPrompt) + EstimateTokens(req.Prompt)

	estimateUSD := Cost(req.Model, promptEstimate, completionEstimate)
	if err := g.budget.Reserve(estimateUSD); err != nil {
		g.emit(req.Model, nil, 0, err)
		return nil, err
	}

	release, err := g.limiter.Acquire(ctx, req.Model, promptEstimate)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	var resp *ports.CallResponse
	for attempt := 0; ; attempt++ {
		resp, err = client.Call(ctx, req, clean)
		if err == nil {
			break
		}
		g.health.Record(provider, false)
		if !core.IsRetryable(err) || attempt >= g.maxRetries {
			release(promptEstimate)
			g.emit(req.Model, nil, time.Since(started).Milliseconds(), err)
			if core.IsRetryable(err) {
				return nil, fmt.Errorf("%w: %s after %d attempts: %v", core.ErrProviderUnavailable, provider, attempt+1, err)
			}
			return nil, err
		}
		delay := backoff(g.baseDelay, attempt)
		g.logger.Warn("retrying %s after %v (attempt %d/%d): %v", req.Model, delay, attempt+1, g.maxRetries, err)
		select {
		case <-ctx.Done():
			release(promptEstimate)
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	if resp.Content == "" && len(resp.ToolCalls) == 0 {
		release(promptEstimate)
		g.health.Record(provider, false)
		err := fmt.Errorf("%w from %s", core.ErrEmptyResponse, req.Model)
		g.emit(req.Model, nil, time.Since(started).Milliseconds(), err)
		return nil, err
	}

	resp.Provider = provider
	resp.Model = req.Model
	resp.LatencyMS = time.Since(started).Milliseconds()
	resp.CostUSD = Cost(req.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	g.budget.Commit(resp.CostUSD)
	release(resp.Usage.TotalTokens)
	g.health.Record(provider, true)
	g.emit(req.Model, resp, resp.LatencyMS, nil)
	return resp, nil
}

func (g *Gateway) emit(model string, resp *ports.CallResponse, latencyMS int64, callErr error) {
	if g.audit == nil {
		return
	}
	event := artifacts.AuditEvent{
		Kind:      "llm_call",
		Stage:     "gateway",
		Model:     model,
		LatencyMS: latencyMS,
		At:        core.Now(),
	}
	if resp != nil {
		event.Tokens = resp.Usage.TotalTokens
		event.CostUSD = resp.CostUSD
		if resp.FallbackUsed != "" {
			event.Message = "fallback: " + resp.FallbackUsed
		}
	}
	if callErr != nil {
		event.Error = callErr.Error()
	}
	g.audit(event)
}

// fallbackSignal maps an error to its fallback trigger signal name
func fallbackSignal(err error) (string, bool) {
	switch {
	case errors.Is(err, core.ErrSafetyFilterBlocked):
		return "safety_filter_blockage", true
	case errors.Is(err, core.ErrEmptyResponse):
		return "empty_response", true
	default:
		return "", false
	}
}

func backoff(base time.Duration, attempt int) time.Duration {
	delay := base << attempt
	// Full jitter keeps concurrent workers from thundering in lockstep.
	return time.Duration(rand.Int63n(int64(delay)) + int64(delay)/2)
}
