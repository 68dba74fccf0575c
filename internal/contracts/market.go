package contracts

import "time"

// MarketPayload is the raw upstream input for one symbol.
// ⭐ SSOT: 모든 필드는 optional (nil/empty = 데이터 없음)
type MarketPayload struct {
	Symbol string     `json:"symbol"`
	AsOf   *time.Time `json:"as_of,omitempty"`

	// Daily series, oldest first
	Closes    []float64 `json:"closes,omitempty"`
	Volumes   []float64 `json:"volumes,omitempty"`
	Benchmark []float64 `json:"benchmark,omitempty"` // benchmark closes, aligned to Closes

	Strategy *StrategyStats `json:"strategy,omitempty"`

	// Optional free-text context (news digest, analyst note)
	Blocks map[string]string `json:"blocks,omitempty"`
}

// StrategyStats summarizes closed trades of the strategy tracking this symbol
type StrategyStats struct {
	Trades    int     `json:"trades"`
	Wins      int     `json:"wins"`
	AvgReturn float64 `json:"avg_return"` // mean per-trade return, fraction
}

// ContextBlock is an optional external text block merged into the Context
type ContextBlock struct {
	Name string
	Text Availability[string]
}
