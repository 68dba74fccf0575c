package contracts

import (
	"context"
	"time"
)

// UpstreamSource supplies raw market payloads
// ⭐ SSOT: 업스트림 데이터 수집 인터페이스 (구현은 외부 협력자)
type UpstreamSource interface {
	Fetch(ctx context.Context, symbol string, asOf time.Time) (*MarketPayload, error)
}

// GenerateParams are per-call generation settings
type GenerateParams struct {
	Model       string
	System      string
	Temperature float64
	MaxTokens   int
}

// Generation is the provider response with reported usage
type Generation struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// LLMProvider generates free-form text. Errors should be *ProviderError.
// ⭐ SSOT: 벤더 독립 LLM 인터페이스
type LLMProvider interface {
	Name() string
	Generate(ctx context.Context, prompt string, params GenerateParams) (Generation, error)
}

// JudgeCriterion is what a judge needs to know about the criterion it scores
type JudgeCriterion struct {
	Name   string
	Rubric string
}

// Judge scores a resolved report on one criterion in [0,1]
type Judge interface {
	Score(ctx context.Context, criterion JudgeCriterion, report ResolvedReport, c *Context) (float64, error)
}

// TemplateRegistry resolves templates; empty version means latest
type TemplateRegistry interface {
	Get(ctx context.Context, name, version string) (*PromptTemplate, error)
}

// Event is one structured observability record
type Event struct {
	RequestID       string                 `json:"request_id"`
	Stage           Stage                  `json:"stage"`
	Symbol          string                 `json:"symbol,omitempty"`
	Template        string                 `json:"template,omitempty"`
	TemplateVersion string                 `json:"template_version,omitempty"`
	ConfigHash      string                 `json:"config_hash,omitempty"`
	Time            time.Time              `json:"time"`
	Attrs           map[string]interface{} `json:"attrs,omitempty"`
}

// EventSink receives events fire-and-forget. Emit must not block the caller.
type EventSink interface {
	Emit(e Event)
}
