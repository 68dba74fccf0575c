package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wonny/aegis-narrator/internal/assembly"
	"github.com/wonny/aegis-narrator/internal/contracts"
	"github.com/wonny/aegis-narrator/internal/gate"
	"github.com/wonny/aegis-narrator/internal/groundtruth"
	"github.com/wonny/aegis-narrator/internal/llm"
	"github.com/wonny/aegis-narrator/internal/observe"
	"github.com/wonny/aegis-narrator/internal/prompt"
	"github.com/wonny/aegis-narrator/internal/rank"
	"github.com/wonny/aegis-narrator/internal/upstream"
	"github.com/wonny/aegis-narrator/pkg/logger"
)

// run carries the state of one request through the stages
type run struct {
	p     *Pipeline
	req   Request
	res   *Result
	meter *llm.Meter
	log   *logger.Logger

	tpl *contracts.PromptTemplate
}

func (r *run) execute(ctx context.Context) error {
	ctx, span := observe.Tracer().Start(ctx, "narrator.report")
	defer span.End()
	span.SetAttributes(
		attribute.String("request_id", r.res.RequestID),
		attribute.String("symbol", r.req.Symbol),
		attribute.String("config_hash", r.p.deps.ConfigHash),
	)

	err := r.stages(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *run) stages(ctx context.Context) error {
	if r.req.Scheduled && r.req.AsOf == nil {
		return fmt.Errorf("scheduled request for %s: %w", r.req.Symbol, contracts.ErrMissingAsOf)
	}

	// N0: ground truth
	payload, err := r.payload(ctx)
	if err != nil {
		return fmt.Errorf("N0 failed: %w", err)
	}
	var facts *contracts.GroundTruthSet
	err = r.stage(ctx, contracts.StageGroundTruth, func(ctx context.Context) (map[string]interface{}, error) {
		facts = r.p.computer.Compute(payload)
		attrs := map[string]interface{}{"facts_available": facts.AvailableCount(), "facts_total": facts.Len()}
		return attrs, groundtruth.RequireFacts(facts, r.res.Symbol, r.p.deps.Config.Facts.Required)
	})
	if err != nil {
		return err
	}

	// N1: semantic states
	var states *contracts.SemanticState
	_ = r.stage(ctx, contracts.StageSemantic, func(ctx context.Context) (map[string]interface{}, error) {
		states = r.p.classifier.Classify(facts)
		return map[string]interface{}{"labels": states.Labels()}, nil
	})

	// N2: context + resolvable set (needs the template's declarations)
	r.tpl, err = r.p.prompts.Resolve(ctx, r.templateName(), r.templateVersion())
	if err != nil {
		return fmt.Errorf("N3 failed: %w", err)
	}
	r.res.Template, r.res.TemplateVersion = r.tpl.Name, r.tpl.Version

	var assembled *assembly.Result
	_ = r.stage(ctx, contracts.StageContext, func(ctx context.Context) (map[string]interface{}, error) {
		assembled = r.p.assembler.Assemble(facts, states, assembly.PayloadBlocks(payload), r.tpl.Placeholders)
		return map[string]interface{}{
			"resolvable": assembled.ResolvableNames(),
			"excluded":   assembled.Excluded,
		}, nil
	})

	// N3..N5: prompt, generate, inject (one strict regeneration on unresolved tokens)
	report, err := r.narrate(ctx, assembled, states)
	if err != nil {
		return err
	}
	r.res.Report = &report

	// N6: gate
	var verdict contracts.GateResult
	err = r.stage(ctx, contracts.StageGate, func(ctx context.Context) (map[string]interface{}, error) {
		var err error
		verdict, err = r.p.gate.Evaluate(ctx, gate.Input{
			Report:   report,
			Context:  assembled.Context,
			Template: r.tpl,
			Usage:    r.meter.Usage(),
		})
		return map[string]interface{}{"overall": verdict.Overall, "failed": verdict.Failed()}, err
	})
	if err != nil {
		return err
	}
	r.res.Quality = &contracts.QualityReport{Gate: verdict}

	rankIn := rank.Input{Report: report, Context: assembled.Context, Template: r.tpl}

	if !verdict.Overall {
		r.res.Outcome = contracts.OutcomeGateFailed
		if r.req.DiagnosticRank {
			score, err := r.rank(ctx, rankIn, true)
			if err != nil {
				return err
			}
			r.res.DiagnosticRank = score
		}
		return nil
	}

	// N7: rank
	score, err := r.rank(ctx, rankIn, false)
	if err != nil {
		return err
	}
	r.res.Quality.Rank = score
	r.res.Outcome = contracts.OutcomeReleased
	return nil
}

func (r *run) payload(ctx context.Context) (*contracts.MarketPayload, error) {
	var p contracts.MarketPayload
	switch {
	case r.req.Payload != nil:
		p = *r.req.Payload
	case r.p.deps.Upstream != nil:
		var asOf time.Time
		if r.req.AsOf != nil {
			asOf = *r.req.AsOf
		}
		fetched, err := r.p.deps.Upstream.Fetch(ctx, r.req.Symbol, asOf)
		if errors.Is(err, upstream.ErrNoPayload) {
			return nil, &contracts.DataUnavailableError{Symbol: r.req.Symbol, Missing: []string{"payload"}}
		}
		if err != nil {
			return nil, fmt.Errorf("fetch payload: %w", err)
		}
		p = *fetched
	default:
		return nil, &contracts.DataUnavailableError{Symbol: r.req.Symbol, Missing: []string{"payload"}}
	}

	if r.req.Symbol != "" {
		p.Symbol = r.req.Symbol
	}
	if p.Symbol == "" {
		return nil, errors.New("symbol is required")
	}
	r.res.Symbol = p.Symbol
	if r.req.AsOf != nil {
		p.AsOf = r.req.AsOf
	}
	r.res.AsOf = p.AsOf

	if len(r.req.Blocks) > 0 {
		blocks := make(map[string]string, len(p.Blocks)+len(r.req.Blocks))
		for k, v := range p.Blocks {
			blocks[k] = v
		}
		for k, v := range r.req.Blocks {
			blocks[k] = v
		}
		p.Blocks = blocks
	}
	return &p, nil
}

func (r *run) narrate(ctx context.Context, assembled *assembly.Result, states *contracts.SemanticState) (contracts.ResolvedReport, error) {
	var forbidden []string
	strictAllowed := r.p.deps.Config.Generation.StrictRetry

	for attempt := 0; ; attempt++ {
		var pr *prompt.Prompt
		_ = r.stage(ctx, contracts.StagePrompt, func(ctx context.Context) (map[string]interface{}, error) {
			pr = r.p.prompts.Render(r.tpl, assembled, states, forbidden)
			return map[string]interface{}{
				"vocabulary":    len(pr.Vocabulary),
				"dropped_lines": pr.DroppedLines,
				"strict":        pr.Strict,
			}, nil
		})

		var raw contracts.RawNarrative
		err := r.stage(ctx, contracts.StageGenerate, func(ctx context.Context) (map[string]interface{}, error) {
			var err error
			raw, err = r.p.generator.Generate(ctx, pr)
			u := r.meter.Usage()
			return map[string]interface{}{"calls": u.Calls, "tokens": u.TotalTokens(), "strict": pr.Strict}, err
		})
		if err != nil {
			return contracts.ResolvedReport{}, err
		}

		var report contracts.ResolvedReport
		err = r.stage(ctx, contracts.StageInject, func(ctx context.Context) (map[string]interface{}, error) {
			var err error
			report, err = r.p.injector.Inject(raw, assembled.Context, r.tpl)
			return map[string]interface{}{"tokens_replaced": report.TokensReplaced}, err
		})
		if err == nil {
			return report, nil
		}

		var unresolved *contracts.UnresolvedPlaceholderError
		if errors.As(err, &unresolved) && strictAllowed && attempt == 0 {
			forbidden = append([]string(nil), unresolved.Tokens...)
			sort.Strings(forbidden)
			r.res.StrictRetry = true
			r.log.WithField("tokens", forbidden).Warn("Narrative used unavailable placeholders, regenerating strictly")
			continue
		}
		return contracts.ResolvedReport{}, err
	}
}

func (r *run) rank(ctx context.Context, in rank.Input, diagnostic bool) (*contracts.RankScore, error) {
	var score *contracts.RankScore
	err := r.stage(ctx, contracts.StageRank, func(ctx context.Context) (map[string]interface{}, error) {
		var err error
		score, err = r.p.rank.Evaluate(ctx, in)
		attrs := map[string]interface{}{"diagnostic": diagnostic}
		if score != nil {
			attrs["composite"] = score.Composite
			attrs["partial"] = score.Partial
			if len(score.Unavailable) > 0 {
				attrs["unavailable"] = score.Unavailable
			}
		}
		return attrs, err
	})
	return score, err
}

// stage runs fn inside a span, records completion and emits the stage event.
// Errors are prefixed with the stage short name ("N5 failed: ...").
func (r *run) stage(ctx context.Context, stage contracts.Stage, fn func(ctx context.Context) (map[string]interface{}, error)) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s failed: %w", stage.ShortName(), err)
	}

	ctx, span := observe.Tracer().Start(ctx, string(stage))
	defer span.End()

	start := time.Now()
	attrs, err := fn(ctx)
	if attrs == nil {
		attrs = make(map[string]interface{})
	}
	attrs["duration_ms"] = time.Since(start).Milliseconds()

	if err != nil {
		attrs["error"] = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.emit(stage, attrs)
		return fmt.Errorf("%s failed: %w", stage.ShortName(), err)
	}

	r.res.CompletedStages = append(r.res.CompletedStages, stage)
	r.emit(stage, attrs)
	r.log.WithField("stage", string(stage)).Debug("Stage completed")
	return nil
}

func (r *run) emit(stage contracts.Stage, attrs map[string]interface{}) {
	if r.p.deps.Events == nil {
		return
	}
	r.p.deps.Events.Emit(contracts.Event{
		RequestID:       r.res.RequestID,
		Stage:           stage,
		Symbol:          r.res.Symbol,
		Template:        r.res.Template,
		TemplateVersion: r.res.TemplateVersion,
		ConfigHash:      r.res.ConfigHash,
		Time:            time.Now(),
		Attrs:           attrs,
	})
}

func (r *run) emitOutcome() {
	attrs := map[string]interface{}{
		"outcome":     string(r.res.Outcome),
		"calls":       r.res.Usage.Calls,
		"tokens":      r.res.Usage.TotalTokens(),
		"cost_usd":    r.res.Usage.CostUSD,
		"duration_ms": r.res.Duration.Milliseconds(),
		"strict":      r.res.StrictRetry,
	}
	if q := r.res.Quality; q != nil {
		attrs["gate_failed"] = q.Gate.Failed()
		if q.Rank != nil {
			attrs["composite"] = q.Rank.Composite
			attrs["partial"] = q.Rank.Partial
		}
	}
	if r.res.Error != "" {
		attrs["error"] = r.res.Error
	}
	r.emit(contracts.StageOutcome, attrs)
}

func (r *run) templateName() string {
	if r.req.Template != "" {
		return r.req.Template
	}
	return r.p.deps.Config.Generation.Template
}

func (r *run) templateVersion() string {
	if r.req.TemplateVersion != "" || r.req.Template != "" {
		return r.req.TemplateVersion
	}
	return r.p.deps.Config.Generation.TemplateVersion
}
