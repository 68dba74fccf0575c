package semantic

import (
	"strconv"

	"github.com/wonny/aegis-narrator/internal/contracts"
	"github.com/wonny/aegis-narrator/internal/reportconfig"
	"github.com/wonny/aegis-narrator/pkg/logger"
)

// Classifier maps facts to (label, phrase) states via ordered band tables.
// Band exhaustiveness is a config contract checked by reportconfig.Validate.
type Classifier struct {
	rules  []reportconfig.StateRule
	logger *logger.Logger
}

// NewClassifier creates a classifier over the configured state rules
func NewClassifier(rules []reportconfig.StateRule, log *logger.Logger) *Classifier {
	return &Classifier{rules: rules, logger: log}
}

// Classify derives one state per rule. First matching band wins.
func (c *Classifier) Classify(facts *contracts.GroundTruthSet) *contracts.SemanticState {
	states := make(map[string]contracts.Availability[contracts.State], len(c.rules))

	for _, rule := range c.rules {
		states[rule.Key] = classify(rule, facts)
	}

	out := contracts.NewSemanticState(states)
	c.logger.WithFields(map[string]interface{}{
		"states":    len(states),
		"available": len(out.Labels()),
	}).Debug("Classified semantic states")
	return out
}

func classify(rule reportconfig.StateRule, facts *contracts.GroundTruthSet) contracts.Availability[contracts.State] {
	f, ok := facts.Get(rule.Fact)
	if !ok {
		return contracts.Unavailable[contracts.State]("unknown fact " + rule.Fact)
	}
	v, ok := f.Value.Get()
	if !ok {
		return contracts.Unavailable[contracts.State](rule.Fact + " unavailable: " + f.Value.Reason())
	}

	// bands see the figure the report prints, so label and number never disagree
	v = rounded(v, f.Precision)
	for _, band := range rule.Bands {
		if band.Contains(v) {
			return contracts.Available(contracts.State{Label: band.Label, Phrase: band.Phrase})
		}
	}
	// unreachable with validated bands; never substitute a default label
	return contracts.Unavailable[contracts.State]("no band matched " + rule.Fact)
}

// rounded returns v as rendered at precision decimals
func rounded(v float64, precision int) float64 {
	if precision < 0 {
		precision = 0
	}
	r, err := strconv.ParseFloat(strconv.FormatFloat(v, 'f', precision, 64), 64)
	if err != nil {
		return v
	}
	return r
}
