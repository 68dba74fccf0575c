package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/wonny/aegis-narrator/internal/contracts"
	"github.com/wonny/aegis-narrator/internal/pool"
	"github.com/wonny/aegis-narrator/pkg/logger"
	"github.com/wonny/aegis-narrator/pkg/retry"
)

// Judge scores a report on one criterion with an LLM call, through the shared
// retry policy and admission pool
type Judge struct {
	provider contracts.LLMProvider
	pool     *pool.Pool
	policy   *retry.Policy
	params   contracts.GenerateParams
	logger   *logger.Logger
}

// NewJudge creates an LLM-backed judge
func NewJudge(provider contracts.LLMProvider, p *pool.Pool, policy *retry.Policy, params contracts.GenerateParams, log *logger.Logger) *Judge {
	params.Temperature = 0
	if params.MaxTokens == 0 {
		params.MaxTokens = 64
	}
	return &Judge{provider: provider, pool: p, policy: policy, params: params, logger: log}
}

const judgeSystem = "You grade financial market notes. Reply with JSON only: {\"score\": <number between 0 and 1>}."

// Score implements contracts.Judge
func (j *Judge) Score(ctx context.Context, criterion contracts.JudgeCriterion, report contracts.ResolvedReport, _ *contracts.Context) (float64, error) {
	params := j.params
	params.System = judgeSystem

	text := fmt.Sprintf("Criterion: %s\nRubric: %s\n\nReport:\n%s\n", criterion.Name, criterion.Rubric, report.Text)

	var score float64
	err := j.policy.Do(ctx, "judge:"+criterion.Name, func(ctx context.Context) error {
		return j.pool.Do(ctx, "judge", func(ctx context.Context) error {
			gen, err := j.provider.Generate(ctx, text, params)
			if err != nil {
				return err
			}
			MeterFrom(ctx).Record(gen)
			s, err := ParseScore(gen.Text)
			if err != nil {
				return err
			}
			score = s
			return nil
		})
	})
	if err != nil {
		return 0, err
	}

	j.logger.FromContext(ctx).WithFields(map[string]interface{}{
		"criterion": criterion.Name,
		"score":     score,
	}).Debug("Judge scored report")
	return score, nil
}

var scoreNumber = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// ParseScore reads {"score": x} or the first bare number; x must be in [0,1]
func ParseScore(text string) (float64, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.Trim(text, "` \n")

	var payload struct {
		Score *float64 `json:"score"`
	}
	var v float64
	if err := json.Unmarshal([]byte(text), &payload); err == nil && payload.Score != nil {
		v = *payload.Score
	} else {
		m := scoreNumber.FindString(text)
		if m == "" {
			return 0, fmt.Errorf("judge reply has no score: %q", truncate(text, 80))
		}
		v, _ = strconv.ParseFloat(m, 64)
	}

	if v < 0 || v > 1 {
		return 0, fmt.Errorf("judge score %v outside [0, 1]", v)
	}
	return v, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// JudgeFunc adapts a function to contracts.Judge
type JudgeFunc func(ctx context.Context, criterion contracts.JudgeCriterion, report contracts.ResolvedReport, c *contracts.Context) (float64, error)

// Score implements contracts.Judge
func (f JudgeFunc) Score(ctx context.Context, criterion contracts.JudgeCriterion, report contracts.ResolvedReport, c *contracts.Context) (float64, error) {
	return f(ctx, criterion, report, c)
}
