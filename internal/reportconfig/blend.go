package reportconfig

import (
	"fmt"
	"strconv"
	"strings"
)

// Blend combines a rule sub-score with a judge sub-score
type Blend struct {
	Kind       string  // mean, min, rule_weighted
	RuleWeight float64 // rule_weighted only
}

// ParseBlend parses "mean", "min" or "rule_weighted:<w>" with w in [0,1]. Empty means mean.
func ParseBlend(s string) (Blend, error) {
	switch {
	case s == "" || s == "mean":
		return Blend{Kind: "mean"}, nil
	case s == "min":
		return Blend{Kind: "min"}, nil
	case strings.HasPrefix(s, "rule_weighted:"):
		w, err := strconv.ParseFloat(strings.TrimPrefix(s, "rule_weighted:"), 64)
		if err != nil {
			return Blend{}, fmt.Errorf("invalid rule weight in %q: %w", s, err)
		}
		if w < 0 || w > 1 {
			return Blend{}, fmt.Errorf("rule weight in %q must be in [0, 1]", s)
		}
		return Blend{Kind: "rule_weighted", RuleWeight: w}, nil
	default:
		return Blend{}, fmt.Errorf("unknown blend %q", s)
	}
}

// Apply combines rule and judge sub-scores
func (b Blend) Apply(rule, judge float64) float64 {
	switch b.Kind {
	case "min":
		if rule < judge {
			return rule
		}
		return judge
	case "rule_weighted":
		return b.RuleWeight*rule + (1-b.RuleWeight)*judge
	default:
		return (rule + judge) / 2
	}
}
