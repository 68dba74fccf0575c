package rank

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wonny/aegis-narrator/internal/contracts"
	"github.com/wonny/aegis-narrator/internal/gate"
	"github.com/wonny/aegis-narrator/internal/reportconfig"
	"github.com/wonny/aegis-narrator/pkg/logger"
)

// Input is the gate-passing report to score
type Input struct {
	Report   contracts.ResolvedReport
	Context  *contracts.Context
	Template *contracts.PromptTemplate
}

type criterion struct {
	reportconfig.Criterion
	blend reportconfig.Blend
	rule  RuleFunc
}

// Evaluator computes the continuous rank score
// ⭐ SSOT: Rank는 Gate 통과 후에만 호출 (파이프라인이 보장)
type Evaluator struct {
	criteria []criterion // sorted by name
	params   reportconfig.RuleParams
	judge    contracts.Judge
	logger   *logger.Logger
}

// NewEvaluator prepares criteria from validated config
func NewEvaluator(cfg reportconfig.Rank, judge contracts.Judge, log *logger.Logger) (*Evaluator, error) {
	e := &Evaluator{params: cfg.Rules, judge: judge, logger: log}
	for _, c := range cfg.Criteria {
		rule, ok := Rule(c.Rule)
		if !ok {
			return nil, fmt.Errorf("criterion %s: unknown rule scorer %q", c.Name, c.Rule)
		}
		cr := criterion{Criterion: c, rule: rule}
		if c.Kind == reportconfig.KindHybrid {
			if judge == nil {
				return nil, fmt.Errorf("criterion %s: hybrid criterion needs a judge", c.Name)
			}
			b, err := reportconfig.ParseBlend(c.Blend)
			if err != nil {
				return nil, fmt.Errorf("criterion %s: %w", c.Name, err)
			}
			cr.blend = b
		}
		e.criteria = append(e.criteria, cr)
	}
	sort.Slice(e.criteria, func(i, j int) bool { return e.criteria[i].Name < e.criteria[j].Name })
	return e, nil
}

// JudgeCalls returns how many judge calls one Evaluate makes
func (e *Evaluator) JudgeCalls() int {
	n := 0
	for _, c := range e.criteria {
		if c.Kind == reportconfig.KindHybrid {
			n++
		}
	}
	return n
}

type judgeOutcome struct {
	score float64
	err   error
}

// Evaluate scores the report. Judge calls start first and run while rule sub-scores are
// computed; the composite waits for all of them. A judge that fails after retries drops its
// criterion (Partial). Only ctx cancellation returns an error.
func (e *Evaluator) Evaluate(ctx context.Context, in Input) (*contracts.RankScore, error) {
	start := time.Now()
	log := e.logger.FromContext(ctx)

	var (
		mu     sync.Mutex
		judged = make(map[string]judgeOutcome)
		g      errgroup.Group
	)
	for _, c := range e.criteria {
		if c.Kind != reportconfig.KindHybrid {
			continue
		}
		jc := contracts.JudgeCriterion{Name: c.Name, Rubric: c.Rubric}
		g.Go(func() error {
			s, err := e.judge.Score(ctx, jc, in.Report, in.Context)
			mu.Lock()
			judged[jc.Name] = judgeOutcome{score: s, err: err}
			mu.Unlock()
			return nil
		})
	}

	doc, parseErr := gate.Parse(in.Report.Text)
	ruleScores := make(map[string]float64, len(e.criteria))
	for _, c := range e.criteria {
		if parseErr != nil {
			ruleScores[c.Name] = 0
			continue
		}
		ruleScores[c.Name] = clamp01(c.rule(in, doc, e.params))
	}

	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("rank evaluation: %w", err)
	}

	score := &contracts.RankScore{
		Criteria:    make(map[string]float64, len(e.criteria)),
		Weights:     make(map[string]float64, len(e.criteria)),
		Unavailable: make(map[string]string),
	}

	var contributing []criterion
	for _, c := range e.criteria {
		s := ruleScores[c.Name]
		if c.Kind == reportconfig.KindHybrid {
			out := judged[c.Name]
			if out.err != nil {
				unavailable := &contracts.ScorerUnavailableError{Criterion: c.Name, Err: out.err}
				score.Unavailable[c.Name] = unavailable.Error()
				log.WithError(unavailable).WithField("criterion", c.Name).Warn("Judge unavailable, criterion dropped")
				continue
			}
			s = c.blend.Apply(s, clamp01(out.score))
		}
		score.Criteria[c.Name] = clamp01(s)
		contributing = append(contributing, c)
	}

	score.Partial = len(score.Unavailable) > 0
	score.Weights, score.Composite = composite(contributing, score.Criteria)

	log.WithFields(map[string]interface{}{
		"composite": score.Composite,
		"partial":   score.Partial,
		"duration":  time.Since(start).String(),
	}).Info("Rank scored report")

	return score, nil
}

// composite renormalizes weights over the contributing criteria (already name-sorted) and
// returns the weighted sum
func composite(contributing []criterion, scores map[string]float64) (map[string]float64, float64) {
	weights := make(map[string]float64, len(contributing))
	total := 0.0
	for _, c := range contributing {
		total += c.Weight
	}
	if total <= 0 {
		return weights, 0
	}

	sum := 0.0
	for _, c := range contributing {
		w := c.Weight / total
		weights[c.Name] = w
		sum += w * scores[c.Name]
	}
	return weights, clamp01(sum)
}
