package llm

import (
	"sync"

	"discernus/domain/core"
)

// modelPrice is input/output USD per 1k tokens
type modelPrice struct {
	InputPer1K  float64
	OutputPer1K float64
}

// priceTable is the static per-model price list. Unknown models fall back to
// a conservative estimate so budget pre-flight errs on the side of refusing.
var priceTable = map[string]modelPrice{
	"gpt-4o":                    {InputPer1K: 0.0025, OutputPer1K: 0.01},
	"gpt-4o-mini":               {InputPer1K: 0.00015, OutputPer1K: 0.0006},
	"o3-mini":                   {InputPer1K: 0.0011, OutputPer1K: 0.0044},
	"claude-sonnet-4-20250514":  {InputPer1K: 0.003, OutputPer1K: 0.015},
	"claude-haiku-3-5-20241022": {InputPer1K: 0.0008, OutputPer1K: 0.004},
	"gemini-2.0-flash":          {InputPer1K: 0.0001, OutputPer1K: 0.0004},
	"gemini-2.5-pro":            {InputPer1K: 0.00125, OutputPer1K: 0.01},
	"mistral-large-latest":      {InputPer1K: 0.002, OutputPer1K: 0.006},
}

// conservativeDefault is applied when the model is not in the table
var conservativeDefault = modelPrice{InputPer1K: 0.01, OutputPer1K: 0.03}

// Cost computes USD cost for a completed call
func Cost(model string, promptTokens, completionTokens int) float64 {
	price, ok := priceTable[BareModel(model)]
	if !ok {
		price = conservativeDefault
	}
	return float64(promptTokens)/1000*price.InputPer1K +
		float64(completionTokens)/1000*price.OutputPer1K
}

// EstimateTokens approximates the token count of a prompt. Four characters
// per token is the usual rough cut for English prose.
func EstimateTokens(text string) int {
	n := len(text)/4 + 1
	return n
}

// BudgetLedger is the process-wide cost accumulator shared by all workers
type BudgetLedger struct {
	mu       sync.Mutex
	limitUSD float64
	spentUSD float64
}

// NewBudgetLedger creates a ledger with the given daily limit
func NewBudgetLedger(limitUSD float64) *BudgetLedger {
	return &BudgetLedger{limitUSD: limitUSD}
}

// Reserve performs the pre-flight check: it refuses when accumulated spend
// plus the estimate would exceed the limit. Nothing is deducted here; actual
// cost lands via Commit after the call completes.
func (b *BudgetLedger) Reserve(estimateUSD float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.spentUSD+estimateUSD > b.limitUSD {
		return core.NewBudgetError(b.spentUSD, estimateUSD, b.limitUSD)
	}
	return nil
}

// Commit records the actual cost of a completed call
func (b *BudgetLedger) Commit(actualUSD float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.spentUSD += actualUSD
}

// Spent reports the accumulated spend
func (b *BudgetLedger) Spent() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spentUSD
}

// Limit reports the configured daily limit
func (b *BudgetLedger) Limit() float64 {
	return b.limitUSD
}
