package gate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wonny/aegis-narrator/internal/contracts"
	"github.com/wonny/aegis-narrator/internal/reportconfig"
	"github.com/wonny/aegis-narrator/pkg/logger"
)

// Input is everything the gates look at for one candidate report
type Input struct {
	Report   contracts.ResolvedReport
	Context  *contracts.Context
	Template *contracts.PromptTemplate
	Usage    contracts.Usage
}

type check func(in Input) contracts.GateCheck

// Evaluator runs the binary gates
// ⭐ SSOT: Gate는 결정적, 순서 무관 (LLM 호출 없음)
type Evaluator struct {
	cfg    reportconfig.Gate
	logger *logger.Logger
}

// NewEvaluator creates a gate evaluator
func NewEvaluator(cfg reportconfig.Gate, log *logger.Logger) *Evaluator {
	return &Evaluator{cfg: cfg, logger: log}
}

// Evaluate runs every gate concurrently and folds the verdicts.
// Only ctx cancellation produces an error; a failing gate is a verdict, not an error.
func (e *Evaluator) Evaluate(ctx context.Context, in Input) (contracts.GateResult, error) {
	start := time.Now()

	checks := []check{
		e.checkFormat,
		e.checkGrounding,
		e.checkCoverage,
		e.checkSafety,
		e.checkBudget,
	}
	results := make([]contracts.GateCheck, len(checks))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range checks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = c(in)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return contracts.GateResult{}, fmt.Errorf("gate evaluation: %w", err)
	}

	res := contracts.NewGateResult(results)

	log := e.logger.FromContext(ctx).WithFields(map[string]interface{}{
		"overall":  res.Overall,
		"duration": time.Since(start).String(),
	})
	if !res.Overall {
		log.WithField("failed", strings.Join(res.Failed(), ",")).Info("Gate rejected report")
	} else {
		log.Info("Gate passed")
	}

	return res, nil
}

func pass(name contracts.GateName) contracts.GateCheck {
	return contracts.GateCheck{Name: name, Passed: true}
}

func fail(name contracts.GateName, format string, args ...interface{}) contracts.GateCheck {
	return contracts.GateCheck{Name: name, Passed: false, Detail: fmt.Sprintf(format, args...)}
}
