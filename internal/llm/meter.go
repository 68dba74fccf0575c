package llm

import (
	"context"
	"sync"

	"github.com/wonny/aegis-narrator/internal/contracts"
	"github.com/wonny/aegis-narrator/internal/reportconfig"
)

// Meter accumulates provider-reported usage for one request
type Meter struct {
	mu      sync.Mutex
	usage   contracts.Usage
	pricing reportconfig.Pricing
}

// NewMeter creates a request-scoped meter
func NewMeter(pricing reportconfig.Pricing) *Meter {
	return &Meter{pricing: pricing}
}

// Record adds one successful call. Safe on a nil Meter.
func (m *Meter) Record(g contracts.Generation) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = m.usage.Add(contracts.Usage{
		Calls:            1,
		PromptTokens:     g.PromptTokens,
		CompletionTokens: g.CompletionTokens,
		CostUSD:          m.pricing.Cost(g.PromptTokens, g.CompletionTokens),
	})
}

// Usage returns the current totals
func (m *Meter) Usage() contracts.Usage {
	if m == nil {
		return contracts.Usage{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage
}

type meterKey struct{}

// WithMeter attaches m to ctx so generation and judge calls are accounted to the request
func WithMeter(ctx context.Context, m *Meter) context.Context {
	return context.WithValue(ctx, meterKey{}, m)
}

// MeterFrom returns the request meter, or nil
func MeterFrom(ctx context.Context) *Meter {
	m, _ := ctx.Value(meterKey{}).(*Meter)
	return m
}
