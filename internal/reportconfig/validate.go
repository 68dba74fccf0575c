package reportconfig

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wonny/aegis-narrator/internal/contracts"
)

// ValidationError 검증 실패 (프로그램 중단)
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Warning 권장 위반 (경고만)
type Warning struct {
	Code    string
	Message string
}

var stateKeyPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// Validate checks all required constraints
// 실패 시 error 반환 (프로그램 중단)
func Validate(cfg *Config) error {
	// === Meta ===
	if cfg.Meta.ReportID == "" {
		return ValidationError{"meta.report_id", "required"}
	}

	// === Facts ===
	for i, name := range cfg.Facts.Required {
		if !contracts.IsKnownFact(name) {
			return ValidationError{fmt.Sprintf("facts.required[%d]", i), fmt.Sprintf("unknown fact %q", name)}
		}
	}
	for name, decimals := range cfg.Facts.Precision {
		if !contracts.IsKnownFact(name) {
			return ValidationError{"facts.precision." + name, fmt.Sprintf("unknown fact %q", name)}
		}
		if decimals < 0 || decimals > 6 {
			return ValidationError{"facts.precision." + name, "must be in [0, 6]"}
		}
	}
	if cfg.Facts.RSIPeriod < 2 {
		return ValidationError{"facts.rsi_period", "must be >= 2"}
	}
	if cfg.Facts.MAWindow < 2 || cfg.Facts.VolatilityWindow < 2 {
		return ValidationError{"facts", "ma_window and volatility_window must be >= 2"}
	}

	// === States ===
	seen := make(map[string]bool)
	for i, st := range cfg.States {
		field := fmt.Sprintf("states[%d]", i)
		if !stateKeyPattern.MatchString(st.Key) {
			return ValidationError{field + ".key", "must match [A-Z][A-Z0-9_]*"}
		}
		if seen[st.Key] || contracts.IsKnownFact(st.Key) {
			return ValidationError{field + ".key", fmt.Sprintf("duplicate name %q", st.Key)}
		}
		seen[st.Key] = true
		if !contracts.IsKnownFact(st.Fact) {
			return ValidationError{field + ".fact", fmt.Sprintf("unknown fact %q", st.Fact)}
		}
		if err := validateBands(st.Bands); err != nil {
			return ValidationError{field + ".bands", err.Error()}
		}
	}

	// === Blocks ===
	for i, b := range cfg.Blocks {
		if !stateKeyPattern.MatchString(b.Name) {
			return ValidationError{fmt.Sprintf("blocks[%d].name", i), "must match [A-Z][A-Z0-9_]*"}
		}
		if seen[b.Name] || contracts.IsKnownFact(b.Name) {
			return ValidationError{fmt.Sprintf("blocks[%d].name", i), fmt.Sprintf("duplicate name %q", b.Name)}
		}
		seen[b.Name] = true
	}

	// === Generation ===
	if cfg.Generation.Template == "" {
		return ValidationError{"generation.template", "required"}
	}
	if cfg.Generation.Temperature < 0 || cfg.Generation.Temperature > 2 {
		return ValidationError{"generation.temperature", "must be in [0, 2]"}
	}

	// === Gate ===
	f := cfg.Gate.Format
	if f.MinWords < 0 || (f.MaxWords > 0 && f.MinWords > f.MaxWords) {
		return ValidationError{"gate.format", "must satisfy 0 <= min_words <= max_words"}
	}
	for i, d := range cfg.Gate.Coverage.Dimensions {
		if d.Name == "" || len(d.Keywords) == 0 {
			return ValidationError{fmt.Sprintf("gate.coverage.dimensions[%d]", i), "name and keywords required"}
		}
	}
	b := cfg.Gate.Budget
	if b.MaxTokens <= 0 {
		return ValidationError{"gate.budget.max_tokens", "must be > 0"}
	}
	if b.MaxCostUSD < 0 || b.MaxCalls < 0 {
		return ValidationError{"gate.budget", "max_cost_usd and max_calls must be >= 0"}
	}

	// === Rank ===
	if len(cfg.Rank.Criteria) == 0 {
		return ValidationError{"rank.criteria", "must not be empty"}
	}
	names := make(map[string]bool)
	weights := make([]float64, 0, len(cfg.Rank.Criteria))
	for i, c := range cfg.Rank.Criteria {
		field := fmt.Sprintf("rank.criteria[%d]", i)
		if c.Name == "" || names[c.Name] {
			return ValidationError{field + ".name", "required and unique"}
		}
		names[c.Name] = true
		if c.Kind != KindRule && c.Kind != KindHybrid {
			return ValidationError{field + ".kind", "must be rule or hybrid"}
		}
		if !isRuleScorer(c.Rule) {
			return ValidationError{field + ".rule", fmt.Sprintf("unknown rule scorer %q", c.Rule)}
		}
		if c.Weight <= 0 {
			return ValidationError{field + ".weight", "must be > 0"}
		}
		if c.Kind == KindHybrid {
			if _, err := ParseBlend(c.Blend); err != nil {
				return ValidationError{field + ".blend", err.Error()}
			}
			if c.Rubric == "" {
				return ValidationError{field + ".rubric", "required for hybrid criteria"}
			}
		}
		weights = append(weights, c.Weight)
	}
	if err := validateWeightsSum(weights, 1.0, 1e-6); err != nil {
		return ValidationError{"rank.criteria.weight", err.Error()}
	}
	if cfg.Rank.Rules.MaxHedgeRatio <= 0 || cfg.Rank.Rules.MaxHedgeRatio > 1 {
		return ValidationError{"rank.rules.max_hedge_ratio", "must be in (0, 1]"}
	}

	// === Pricing ===
	if cfg.Pricing.PromptPer1K < 0 || cfg.Pricing.CompletionPer1K < 0 {
		return ValidationError{"pricing", "must be >= 0"}
	}

	// === Schedule ===
	if cfg.Schedule.Enabled {
		if _, err := cron.ParseStandard(cfg.Schedule.Cron); err != nil {
			return ValidationError{"schedule.cron", err.Error()}
		}
		if _, err := time.LoadLocation(cfg.Schedule.Timezone); err != nil {
			return ValidationError{"schedule.timezone", err.Error()}
		}
		if len(cfg.Schedule.Symbols) == 0 {
			return ValidationError{"schedule.symbols", "must not be empty when enabled"}
		}
	}

	return nil
}

// Warn checks recommended constraints (non-fatal)
func Warn(cfg *Config) []Warning {
	var warnings []Warning

	if len(cfg.Gate.Safety.BannedPhrases) == 0 {
		warnings = append(warnings, Warning{
			Code:    "NO_BANNED_PHRASES",
			Message: "safety gate has no banned phrases: it always passes",
		})
	}

	if len(cfg.Gate.Format.RequiredSections) == 0 {
		warnings = append(warnings, Warning{
			Code:    "NO_REQUIRED_SECTIONS",
			Message: "format gate checks length only",
		})
	}

	for _, c := range cfg.Rank.Criteria {
		if c.Weight > 0.5 {
			warnings = append(warnings, Warning{
				Code:    "DOMINANT_CRITERION",
				Message: fmt.Sprintf("criterion %s carries %.0f%% of the composite", c.Name, c.Weight*100),
			})
		}
	}

	hybrid := 0
	for _, c := range cfg.Rank.Criteria {
		if c.Kind == KindHybrid {
			hybrid++
		}
	}
	if hybrid > 0 && cfg.Gate.Budget.MaxCalls > 0 && hybrid+1 > cfg.Gate.Budget.MaxCalls {
		warnings = append(warnings, Warning{
			Code:    "JUDGE_CALLS_EXCEED_BUDGET",
			Message: fmt.Sprintf("generation plus %d judge calls exceed max_calls=%d", hybrid, cfg.Gate.Budget.MaxCalls),
		})
	}

	if !cfg.Generation.StrictRetry {
		warnings = append(warnings, Warning{
			Code:    "NO_STRICT_RETRY",
			Message: "unresolved placeholders fail the request without a stricter regeneration",
		})
	}

	return warnings
}

// === Helper Functions ===

// validateBands: bands must be ascending, contiguous and open at both ends
func validateBands(bands []Band) error {
	if len(bands) == 0 {
		return errors.New("must not be empty")
	}
	if bands[0].Min != nil {
		return errors.New("first band must have no min (exhaustive)")
	}
	if bands[len(bands)-1].Max != nil {
		return errors.New("last band must have no max (exhaustive)")
	}
	for i, b := range bands {
		if b.Label == "" {
			return fmt.Errorf("band %d: label required", i)
		}
		if b.Min != nil && b.Max != nil && *b.Min >= *b.Max {
			return fmt.Errorf("band %d: min must be < max", i)
		}
		if i == 0 {
			continue
		}
		prev := bands[i-1]
		if prev.Max == nil || b.Min == nil {
			return fmt.Errorf("band %d: only the first band may omit min and only the last may omit max", i)
		}
		if *prev.Max != *b.Min {
			if *prev.Max > *b.Min {
				return fmt.Errorf("band %d overlaps band %d", i, i-1)
			}
			return fmt.Errorf("gap between band %d and band %d", i-1, i)
		}
	}
	return nil
}

func validateWeightsSum(weights []float64, target float64, epsilon float64) error {
	if len(weights) == 0 {
		return errors.New("must not be empty")
	}
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if math.Abs(sum-target) > epsilon {
		return fmt.Errorf("must sum to %.2f, got %.4f", target, sum)
	}
	return nil
}

func isRuleScorer(name string) bool {
	for _, r := range RuleScorers {
		if r == name {
			return true
		}
	}
	return false
}
