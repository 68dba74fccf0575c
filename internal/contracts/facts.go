package contracts

import "sort"

// Fact is one computed ground-truth number
type Fact struct {
	Name      string                `json:"name"`
	Value     Availability[float64] `json:"value"`
	Precision int                   `json:"precision"`
	Unit      string                `json:"unit,omitempty"` // "", "%", "x", "KRW"
}

// GroundTruthSet is an immutable fact-name → Fact mapping built fresh per request
type GroundTruthSet struct {
	facts map[string]Fact
}

// NewGroundTruthSet copies facts into a new set; later duplicates win
func NewGroundTruthSet(facts []Fact) *GroundTruthSet {
	m := make(map[string]Fact, len(facts))
	for _, f := range facts {
		m[f.Name] = f
	}
	return &GroundTruthSet{facts: m}
}

// Get returns the named fact
func (g *GroundTruthSet) Get(name string) (Fact, bool) {
	f, ok := g.facts[name]
	return f, ok
}

// Names returns fact names in sorted order
func (g *GroundTruthSet) Names() []string {
	return sortedKeys(g.facts)
}

// Len returns the number of facts
func (g *GroundTruthSet) Len() int {
	return len(g.facts)
}

// AvailableCount returns the number of facts with a value
func (g *GroundTruthSet) AvailableCount() int {
	n := 0
	for _, f := range g.facts {
		if f.Value.IsAvailable() {
			n++
		}
	}
	return n
}

// State is a categorical label plus the narrative phrase for it
type State struct {
	Label  string `json:"label"`
	Phrase string `json:"phrase"`
}

// SemanticState is an immutable state-key → State mapping
type SemanticState struct {
	states map[string]Availability[State]
}

// NewSemanticState copies states into a new SemanticState
func NewSemanticState(states map[string]Availability[State]) *SemanticState {
	m := make(map[string]Availability[State], len(states))
	for k, v := range states {
		m[k] = v
	}
	return &SemanticState{states: m}
}

// Get returns the named state
func (s *SemanticState) Get(key string) (Availability[State], bool) {
	st, ok := s.states[key]
	return st, ok
}

// Keys returns state keys in sorted order
func (s *SemanticState) Keys() []string {
	return sortedKeys(s.states)
}

// Labels returns the available labels keyed by state key
func (s *SemanticState) Labels() map[string]string {
	out := make(map[string]string, len(s.states))
	for k, v := range s.states {
		if st, ok := v.Get(); ok {
			out[k] = st.Label
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Fact names computed by the ground-truth stage
const (
	FactPrice               = "PRICE"
	FactChangePct           = "CHANGE_PCT"
	FactReturn5D            = "RETURN_5D"
	FactReturn20D           = "RETURN_20D"
	FactRSI                 = "RSI"
	FactMA20                = "MA20"
	FactMA20GapPct          = "MA20_GAP_PCT"
	FactVolatility20D       = "VOLATILITY_20D"
	FactVolumeRatio         = "VOLUME_RATIO"
	FactBenchmarkReturn20D  = "BENCHMARK_RETURN_20D"
	FactRelativeStrength20D = "RELATIVE_STRENGTH_20D"
	FactStrategyWinRate     = "STRATEGY_WIN_RATE"
	FactStrategyTrades      = "STRATEGY_TRADES"
	FactStrategyAvgReturn   = "STRATEGY_AVG_RETURN"
	FactMaxDrawdown         = "MAX_DRAWDOWN"
)

// AllFactNames returns every fact name in computation order
func AllFactNames() []string {
	return []string{
		FactPrice, FactChangePct, FactReturn5D, FactReturn20D,
		FactRSI, FactMA20, FactMA20GapPct, FactVolatility20D, FactVolumeRatio,
		FactBenchmarkReturn20D, FactRelativeStrength20D,
		FactStrategyWinRate, FactStrategyTrades, FactStrategyAvgReturn,
		FactMaxDrawdown,
	}
}

// IsKnownFact reports whether name is a computed fact
func IsKnownFact(name string) bool {
	for _, n := range AllFactNames() {
		if n == name {
			return true
		}
	}
	return false
}
