package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/aegis-narrator/internal/assembly"
	"github.com/wonny/aegis-narrator/internal/contracts"
	"github.com/wonny/aegis-narrator/internal/gate"
	"github.com/wonny/aegis-narrator/internal/groundtruth"
	"github.com/wonny/aegis-narrator/internal/inject"
	"github.com/wonny/aegis-narrator/internal/llm"
	"github.com/wonny/aegis-narrator/internal/pool"
	"github.com/wonny/aegis-narrator/internal/prompt"
	"github.com/wonny/aegis-narrator/internal/rank"
	"github.com/wonny/aegis-narrator/internal/reportconfig"
	"github.com/wonny/aegis-narrator/internal/semantic"
	"github.com/wonny/aegis-narrator/pkg/logger"
	"github.com/wonny/aegis-narrator/pkg/retry"
)

// Deps is everything a Pipeline needs, constructed once by the caller
type Deps struct {
	Config     *reportconfig.Config
	ConfigHash string // tags every event

	Registry contracts.TemplateRegistry
	Provider contracts.LLMProvider
	Params   contracts.GenerateParams
	Judge    contracts.Judge // required when a hybrid criterion is configured

	Pool  *pool.Pool
	Retry *retry.Policy

	Upstream contracts.UpstreamSource // used when a Request carries no payload
	Events   contracts.EventSink      // optional

	// Budget bounds one request end to end; 0 leaves only the caller's deadline
	Budget time.Duration

	Logger *logger.Logger
}

// Request is one report request
type Request struct {
	Symbol    string
	AsOf      *time.Time
	Scheduled bool // scheduler-originated: AsOf is mandatory

	Payload *contracts.MarketPayload // nil: fetched from Deps.Upstream
	Blocks  map[string]string        // extra context blocks, override payload blocks

	Template        string // "" uses the configured template
	TemplateVersion string // "" uses the configured version, then latest

	// DiagnosticRank scores gate-failing candidates too. The score is returned in
	// Result.DiagnosticRank and never in Quality.Rank.
	DiagnosticRank bool
}

// Result is the caller-facing output of one request
type Result struct {
	RequestID       string                    `json:"request_id"`
	Symbol          string                    `json:"symbol"`
	AsOf            *time.Time                `json:"as_of,omitempty"`
	Outcome         contracts.Outcome         `json:"outcome"`
	Report          *contracts.ResolvedReport `json:"report,omitempty"`
	Quality         *contracts.QualityReport  `json:"quality,omitempty"`
	DiagnosticRank  *contracts.RankScore      `json:"diagnostic_rank,omitempty"`
	Usage           contracts.Usage           `json:"usage"`
	Template        string                    `json:"template,omitempty"`
	TemplateVersion string                    `json:"template_version,omitempty"`
	ConfigHash      string                    `json:"config_hash"`
	StrictRetry     bool                      `json:"strict_retry"`
	CompletedStages []contracts.Stage         `json:"completed_stages"`
	Duration        time.Duration             `json:"duration"`
	Error           string                    `json:"error,omitempty"`

	Err error `json:"-"`
}

// Released reports whether the report passed the gate
func (r *Result) Released() bool {
	return r.Outcome == contracts.OutcomeReleased
}

// Pipeline runs GroundTruth → Semantic → Context → Prompt → Generate → Inject → Gate → Rank
// ⭐ SSOT: 요청 생명주기, 에러 정책, 취소는 여기서만
type Pipeline struct {
	deps Deps

	computer   *groundtruth.Computer
	classifier *semantic.Classifier
	assembler  *assembly.Assembler
	prompts    *prompt.Assembler
	generator  *llm.Generator
	injector   *inject.Injector
	gate       *gate.Evaluator
	rank       *rank.Evaluator

	logger *logger.Logger
}

// New wires the stage components
func New(deps Deps) (*Pipeline, error) {
	switch {
	case deps.Config == nil:
		return nil, errors.New("pipeline: config is required")
	case deps.Registry == nil:
		return nil, errors.New("pipeline: template registry is required")
	case deps.Provider == nil:
		return nil, errors.New("pipeline: LLM provider is required")
	case deps.Pool == nil || deps.Retry == nil:
		return nil, errors.New("pipeline: admission pool and retry policy are required")
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	cfg := deps.Config
	log := deps.Logger

	ranker, err := rank.NewEvaluator(cfg.Rank, deps.Judge, log)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	params := deps.Params
	if cfg.Generation.System != "" {
		params.System = cfg.Generation.System
	}

	return &Pipeline{
		deps:       deps,
		computer:   groundtruth.NewComputer(cfg.Facts, log),
		classifier: semantic.NewClassifier(cfg.States, log),
		assembler:  assembly.NewAssembler(cfg.Blocks, log),
		prompts:    prompt.NewAssembler(deps.Registry, params.System, log),
		generator:  llm.NewGenerator(deps.Provider, deps.Pool, deps.Retry, params, log),
		injector:   inject.NewInjector(log),
		gate:       gate.NewEvaluator(cfg.Gate, log),
		rank:       ranker,
		logger:     log,
	}, nil
}

// Run executes one request. The returned error is nil for released and gate-failed
// reports; every other outcome returns Result.Err as well.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	r := &run{
		p:   p,
		req: req,
		res: &Result{
			RequestID:       uuid.NewString(),
			Symbol:          req.Symbol,
			AsOf:            req.AsOf,
			ConfigHash:      p.deps.ConfigHash,
			CompletedStages: make([]contracts.Stage, 0, len(contracts.AllStages())),
		},
		meter: llm.NewMeter(p.deps.Config.Pricing),
	}

	if p.deps.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.deps.Budget)
		defer cancel()
	}
	ctx = logger.ContextWithRequestID(ctx, r.res.RequestID)
	ctx = llm.WithMeter(ctx, r.meter)
	r.log = p.logger.FromContext(ctx)

	r.log.WithFields(map[string]interface{}{
		"symbol":    req.Symbol,
		"scheduled": req.Scheduled,
		"template":  req.Template,
	}).Info("Starting report request")

	err := r.execute(ctx)

	res := r.res
	res.Usage = r.meter.Usage()
	res.Duration = time.Since(start)
	if err != nil {
		res.Outcome, res.Err = classify(ctx, err)
		res.Error = res.Err.Error()
		if res.Outcome == contracts.OutcomeAborted {
			// no partial result on abort
			res.Report, res.Quality, res.DiagnosticRank = nil, nil, nil
		}
	}

	r.emitOutcome()

	fields := map[string]interface{}{
		"outcome":  string(res.Outcome),
		"duration": res.Duration.String(),
		"tokens":   res.Usage.TotalTokens(),
		"calls":    res.Usage.Calls,
	}
	switch res.Outcome {
	case contracts.OutcomeReleased, contracts.OutcomeGateFailed:
		r.log.WithFields(fields).Info("Report request finished")
		return res, nil
	case contracts.OutcomeInsufficientData, contracts.OutcomeAborted:
		r.log.WithFields(fields).WithError(res.Err).Warn("Report request stopped")
	default:
		r.log.WithFields(fields).WithError(res.Err).Error("Report request failed")
	}
	return res, res.Err
}

// classify maps a stage error to the request outcome
func classify(ctx context.Context, err error) (contracts.Outcome, error) {
	var dataErr *contracts.DataUnavailableError
	switch {
	case errors.As(err, &dataErr):
		return contracts.OutcomeInsufficientData, err
	case ctx.Err() != nil:
		if errors.Is(err, contracts.ErrAborted) {
			return contracts.OutcomeAborted, err
		}
		return contracts.OutcomeAborted, fmt.Errorf("%w: %w", contracts.ErrAborted, err)
	default:
		return contracts.OutcomeFailed, err
	}
}
