package llm

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Usage is the token and dollar accounting for one successful LLM call.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	Cost             float64 `json:"cost"`
}

// CostCallback receives the usage of one successful call.
type CostCallback func(Usage)

// modelPricing is dollars per 1M tokens, prompt and completion. Prefix match
// against the model name; unknown models use defaultPricing.
var modelPricing = map[string][2]float64{
	"gemini-3-pro":   {1.25, 10.00},
	"gemini-3-flash": {0.10, 0.40},
	"gemini-2":       {0.10, 0.40},
	"claude-opus":    {15.00, 75.00},
	"claude-sonnet":  {3.00, 15.00},
	"claude-3-5":     {0.80, 4.00},
}

var defaultPricing = [2]float64{1.00, 3.00}

func costFor(model string, promptTokens, completionTokens int) float64 {
	pricing := defaultPricing
	for prefix, p := range modelPricing {
		if strings.HasPrefix(model, prefix) {
			pricing = p
			break
		}
	}
	return float64(promptTokens)/1e6*pricing[0] + float64(completionTokens)/1e6*pricing[1]
}

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// EstimateTokens counts tokens with the cl100k_base encoding. Falls back to a
// character heuristic if the encoding is unavailable.
func EstimateTokens(text string) int {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			enc = e
		}
	})
	if enc == nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// Totals is a snapshot of a CostLedger.
type Totals struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalCost        float64 `json:"total_cost"`
}

// CostLedger accumulates token usage and cost for one orchestration run.
// Totals are monotonically non-decreasing; child run ledgers are folded in
// with AddLedger after the child completes.
type CostLedger struct {
	mu     sync.Mutex
	totals Totals
}

func NewCostLedger() *CostLedger {
	return &CostLedger{}
}

// Record adds one call's usage. Safe for concurrent use.
func (l *CostLedger) Record(u Usage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.totals.PromptTokens += u.PromptTokens
	l.totals.CompletionTokens += u.CompletionTokens
	l.totals.TotalCost += u.Cost
}

// AddLedger folds a completed child run's totals into this ledger.
func (l *CostLedger) AddLedger(child *CostLedger) {
	t := child.Totals()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.totals.PromptTokens += t.PromptTokens
	l.totals.CompletionTokens += t.CompletionTokens
	l.totals.TotalCost += t.TotalCost
}

// Totals returns a snapshot.
func (l *CostLedger) Totals() Totals {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totals
}

// Callback returns a CostCallback that records into this ledger.
func (l *CostLedger) Callback() CostCallback {
	return l.Record
}
