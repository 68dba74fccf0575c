package rank

import (
	"math"
	"regexp"
	"strings"
	"unicode"

	"github.com/montanaflynn/stats"

	"github.com/wonny/aegis-narrator/internal/gate"
	"github.com/wonny/aegis-narrator/internal/inject"
	"github.com/wonny/aegis-narrator/internal/reportconfig"
)

// RuleFunc is a free, deterministic sub-score in [0,1]
type RuleFunc func(in Input, doc *gate.Document, p reportconfig.RuleParams) float64

var ruleScorers = map[string]RuleFunc{
	"readability":    readability,
	"specificity":    specificity,
	"structure":      structure,
	"hedging":        hedging,
	"coverage_depth": coverageDepth,
}

// Rule returns the named built-in scorer
func Rule(name string) (RuleFunc, bool) {
	f, ok := ruleScorers[name]
	return f, ok
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

var sentenceEnd = regexp.MustCompile(`[.!?]+(?:\s+|$)`)

// Sentences splits paragraphs on terminal punctuation; decimals stay intact
func Sentences(paragraphs []string) []string {
	var out []string
	for _, p := range paragraphs {
		for _, s := range sentenceEnd.Split(p, -1) {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// readability: 1 up to the target mean sentence length, falling linearly to 0 at twice the target
func readability(_ Input, doc *gate.Document, p reportconfig.RuleParams) float64 {
	sentences := Sentences(doc.Paragraphs)
	if len(sentences) == 0 || p.TargetSentenceWords <= 0 {
		return 0
	}
	lengths := make([]float64, len(sentences))
	for i, s := range sentences {
		lengths[i] = float64(len(strings.Fields(s)))
	}
	avg, err := stats.Mean(lengths)
	if err != nil {
		return 0
	}
	if avg <= p.TargetSentenceWords {
		return 1
	}
	return clamp01(1 - (avg-p.TargetSentenceWords)/p.TargetSentenceWords)
}

// specificity: injected values per 100 words against the target density
func specificity(in Input, doc *gate.Document, p reportconfig.RuleParams) float64 {
	if doc.Words == 0 || p.TargetValueDensity <= 0 {
		return 0
	}
	density := float64(in.Report.TokensReplaced) * 100 / float64(doc.Words)
	return clamp01(density / p.TargetValueDensity)
}

// structure: section balance, 1 - coefficient of variation of section word counts
func structure(_ Input, doc *gate.Document, _ reportconfig.RuleParams) float64 {
	var counts []float64
	for _, s := range doc.Sections {
		if s.Heading != "" {
			counts = append(counts, float64(s.Words))
		}
	}
	if len(counts) < 2 {
		return 0
	}
	mean, err := stats.Mean(counts)
	if err != nil || mean == 0 {
		return 0
	}
	sd, err := stats.StandardDeviationPopulation(counts)
	if err != nil {
		return 0
	}
	return clamp01(1 - sd/mean)
}

// hedging: 1 with no hedge words, 0 at or above the max hedge ratio
func hedging(_ Input, doc *gate.Document, p reportconfig.RuleParams) float64 {
	words := strings.Fields(strings.ToLower(doc.Plain))
	if len(words) == 0 || p.MaxHedgeRatio <= 0 {
		return 0
	}
	hedges := make(map[string]bool, len(p.HedgeWords))
	for _, w := range p.HedgeWords {
		hedges[strings.ToLower(w)] = true
	}
	n := 0
	for _, w := range words {
		if hedges[strings.TrimFunc(w, unicode.IsPunct)] {
			n++
		}
	}
	ratio := float64(n) / float64(len(words))
	return clamp01(1 - ratio/p.MaxHedgeRatio)
}

// coverageDepth: share of resolvable placeholders whose rendered value made it into the report
func coverageDepth(in Input, _ *gate.Document, _ reportconfig.RuleParams) float64 {
	if in.Template == nil {
		return 0
	}
	total, used := 0, 0
	for _, spec := range in.Template.Placeholders {
		if !spec.Resolvable(in.Context) {
			continue
		}
		entry, _ := in.Context.Lookup(spec.SourceKey())
		r, _ := entry.Get()
		value, err := inject.Format(spec.Format, r)
		if err != nil || value == "" {
			continue
		}
		total++
		if strings.Contains(in.Report.Text, value) {
			used++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(used) / float64(total)
}
