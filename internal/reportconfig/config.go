package reportconfig

// Config는 리포트 생성 도메인 설정 전체
// ⭐ SSOT: 밴드, 게이트 임계값, 랭크 가중치는 여기서만 (코드 하드코딩 금지)
type Config struct {
	Meta       Meta        `yaml:"meta" json:"meta"`
	Facts      Facts       `yaml:"facts" json:"facts"`
	States     []StateRule `yaml:"states" json:"states"`
	Blocks     []BlockRule `yaml:"blocks" json:"blocks"`
	Generation Generation  `yaml:"generation" json:"generation"`
	Gate       Gate        `yaml:"gate" json:"gate"`
	Rank       Rank        `yaml:"rank" json:"rank"`
	Pricing    Pricing     `yaml:"pricing" json:"pricing"`
	Schedule   Schedule    `yaml:"schedule" json:"schedule"`
}

// Meta 메타 정보
type Meta struct {
	ReportID string `yaml:"report_id" json:"report_id"`
	Version  string `yaml:"version" json:"version"`
	Language string `yaml:"language" json:"language"`
}

// Facts N0: 팩트 계산 파라미터
type Facts struct {
	Required          []string `yaml:"required" json:"required"` // missing → insufficient data
	RSIPeriod         int      `yaml:"rsi_period" json:"rsi_period"`
	MAWindow          int      `yaml:"ma_window" json:"ma_window"`
	VolatilityWindow  int      `yaml:"volatility_window" json:"volatility_window"`
	AnnualizationDays int      `yaml:"annualization_days" json:"annualization_days"`
	MinStrategyTrades int      `yaml:"min_strategy_trades" json:"min_strategy_trades"`

	// Precision overrides the decimals a fact is rendered (and classified) at
	Precision map[string]int `yaml:"precision,omitempty" json:"precision,omitempty"`
}

// StateRule N1: one fact → ordered band table
type StateRule struct {
	Key   string `yaml:"key" json:"key"`
	Fact  string `yaml:"fact" json:"fact"`
	Bands []Band `yaml:"bands" json:"bands"`
}

// Band matches Min <= v < Max. nil bounds are open.
type Band struct {
	Min    *float64 `yaml:"min" json:"min"`
	Max    *float64 `yaml:"max" json:"max"`
	Label  string   `yaml:"label" json:"label"`
	Phrase string   `yaml:"phrase" json:"phrase"`
}

// Contains reports whether v falls in the band
func (b Band) Contains(v float64) bool {
	if b.Min != nil && v < *b.Min {
		return false
	}
	if b.Max != nil && v >= *b.Max {
		return false
	}
	return true
}

// BlockRule declares an optional external context block
type BlockRule struct {
	Name     string `yaml:"name" json:"name"`
	MaxChars int    `yaml:"max_chars" json:"max_chars"`
}

// Generation N3/N4: template selection and model parameters
type Generation struct {
	Template        string  `yaml:"template" json:"template"`
	TemplateVersion string  `yaml:"template_version" json:"template_version"` // "" = latest
	System          string  `yaml:"system" json:"system"`
	Temperature     float64 `yaml:"temperature" json:"temperature"`
	MaxTokens       int     `yaml:"max_tokens" json:"max_tokens"`
	StrictRetry     bool    `yaml:"strict_retry" json:"strict_retry"`
}

// Gate N6: binary gate thresholds
type Gate struct {
	Format    FormatGate    `yaml:"format" json:"format"`
	Grounding GroundingGate `yaml:"grounding" json:"grounding"`
	Coverage  CoverageGate  `yaml:"coverage" json:"coverage"`
	Safety    SafetyGate    `yaml:"safety" json:"safety"`
	Budget    BudgetGate    `yaml:"budget" json:"budget"`
}

type FormatGate struct {
	RequiredSections []string `yaml:"required_sections" json:"required_sections"`
	MinWords         int      `yaml:"min_words" json:"min_words"`
	MaxWords         int      `yaml:"max_words" json:"max_words"`
}

type GroundingGate struct {
	AllowNumbers []string `yaml:"allow_numbers" json:"allow_numbers"` // literal numbers always allowed (periods, windows)
	AllowYears   bool     `yaml:"allow_years" json:"allow_years"`
}

type CoverageGate struct {
	Dimensions []Dimension `yaml:"dimensions" json:"dimensions"`
}

// Dimension is a topic the report must mention
type Dimension struct {
	Name     string   `yaml:"name" json:"name"`
	Keywords []string `yaml:"keywords" json:"keywords"`
}

type SafetyGate struct {
	BannedPhrases []string `yaml:"banned_phrases" json:"banned_phrases"`
}

type BudgetGate struct {
	MaxTokens  int     `yaml:"max_tokens" json:"max_tokens"`
	MaxCostUSD float64 `yaml:"max_cost_usd" json:"max_cost_usd"`
	MaxCalls   int     `yaml:"max_calls" json:"max_calls"`
}

// Rank N7: criteria and rule parameters
type Rank struct {
	Criteria []Criterion `yaml:"criteria" json:"criteria"`
	Rules    RuleParams  `yaml:"rules" json:"rules"`
}

// Criterion kinds
const (
	KindRule   = "rule"
	KindHybrid = "hybrid"
)

// Criterion is one scoring criterion
type Criterion struct {
	Name   string  `yaml:"name" json:"name"`
	Kind   string  `yaml:"kind" json:"kind"` // rule | hybrid
	Rule   string  `yaml:"rule" json:"rule"` // rule scorer name
	Weight float64 `yaml:"weight" json:"weight"`
	Blend  string  `yaml:"blend" json:"blend"` // mean | min | rule_weighted:<w>
	Rubric string  `yaml:"rubric" json:"rubric"`
}

// RuleParams tune the built-in rule scorers
type RuleParams struct {
	TargetSentenceWords float64  `yaml:"target_sentence_words" json:"target_sentence_words"`
	HedgeWords          []string `yaml:"hedge_words" json:"hedge_words"`
	MaxHedgeRatio       float64  `yaml:"max_hedge_ratio" json:"max_hedge_ratio"`
	TargetValueDensity  float64  `yaml:"target_value_density" json:"target_value_density"` // substituted values per 100 words
}

// Pricing converts token usage to cost for the budget gate
type Pricing struct {
	PromptPer1K     float64 `yaml:"prompt_per_1k" json:"prompt_per_1k"`
	CompletionPer1K float64 `yaml:"completion_per_1k" json:"completion_per_1k"`
}

// Cost returns the USD cost of the given token counts
func (p Pricing) Cost(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)/1000*p.PromptPer1K + float64(completionTokens)/1000*p.CompletionPer1K
}

// Schedule declares cron-driven report runs
type Schedule struct {
	Cron     string   `yaml:"cron" json:"cron"`
	Timezone string   `yaml:"timezone" json:"timezone"` // as-of dates and cron run in this zone
	Symbols  []string `yaml:"symbols" json:"symbols"`
	Enabled  bool     `yaml:"enabled" json:"enabled"`
}

// RuleScorers lists the built-in rule scorer names
var RuleScorers = []string{"readability", "specificity", "structure", "hedging", "coverage_depth"}

// CriterionByName returns the named criterion
func (c *Config) CriterionByName(name string) (Criterion, bool) {
	for _, cr := range c.Rank.Criteria {
		if cr.Name == name {
			return cr, true
		}
	}
	return Criterion{}, false
}
