package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/wonny/aegis-narrator/internal/contracts"
	"github.com/wonny/aegis-narrator/internal/groundtruth"
	"github.com/wonny/aegis-narrator/internal/inject"
	"github.com/wonny/aegis-narrator/internal/llm"
	"github.com/wonny/aegis-narrator/internal/pool"
	"github.com/wonny/aegis-narrator/internal/registry"
	"github.com/wonny/aegis-narrator/internal/reportconfig"
	"github.com/wonny/aegis-narrator/internal/upstream"
	"github.com/wonny/aegis-narrator/pkg/config"
	"github.com/wonny/aegis-narrator/pkg/logger"
	"github.com/wonny/aegis-narrator/pkg/retry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const goodNarrative = `## Summary
{{SYMBOL}} closed at {{PRICE}} and momentum reads {{RSI_STATE}} with RSI at {{RSI}}.

## Outlook
The key risk is a sharp reversal after such a steep run, so watch support closely.`

const strategyNarrative = `## Summary
{{SYMBOL}} closed at {{PRICE}} and the strategy won {{STRATEGY_WIN_RATE}} of its trades.

## Outlook
Momentum is firm but the key risk is a reversal.`

const bannedNarrative = `## Summary
{{SYMBOL}} closed at {{PRICE}} with momentum reading {{RSI_STATE}}.

## Outlook
This is a guaranteed return with no risk at all for patient holders.`

func ptr(v float64) *float64 { return &v }

func testConfig() *reportconfig.Config {
	return &reportconfig.Config{
		Facts: reportconfig.Facts{
			Required:          []string{contracts.FactPrice, contracts.FactRSI},
			RSIPeriod:         14,
			MAWindow:          20,
			VolatilityWindow:  20,
			AnnualizationDays: 252,
			MinStrategyTrades: 5,
		},
		States: []reportconfig.StateRule{{
			Key:  "RSI_STATE",
			Fact: contracts.FactRSI,
			Bands: []reportconfig.Band{
				{Max: ptr(30), Label: "oversold", Phrase: "momentum is stretched to the downside"},
				{Min: ptr(30), Max: ptr(70), Label: "neutral", Phrase: "momentum is balanced"},
				{Min: ptr(70), Label: "overbought", Phrase: "momentum is stretched to the upside"},
			},
		}},
		Blocks: []reportconfig.BlockRule{{Name: "NEWS_DIGEST", MaxChars: 200}},
		Generation: reportconfig.Generation{
			Template:    "note",
			System:      "You write short market notes.",
			StrictRetry: true,
		},
		Gate: reportconfig.Gate{
			Format: reportconfig.FormatGate{
				RequiredSections: []string{"Summary", "Outlook"},
				MinWords:         10,
				MaxWords:         300,
			},
			Grounding: reportconfig.GroundingGate{AllowYears: true},
			Coverage: reportconfig.CoverageGate{Dimensions: []reportconfig.Dimension{
				{Name: "momentum", Keywords: []string{"momentum", "rsi"}},
				{Name: "risk", Keywords: []string{"risk"}},
			}},
			Safety: reportconfig.SafetyGate{BannedPhrases: []string{"guaranteed return", "risk-free"}},
			Budget: reportconfig.BudgetGate{MaxTokens: 100000, MaxCostUSD: 1, MaxCalls: 5},
		},
		Rank: reportconfig.Rank{
			Criteria: []reportconfig.Criterion{
				{Name: "structure", Kind: reportconfig.KindRule, Rule: "structure", Weight: 0.5},
				{Name: "tone", Kind: reportconfig.KindRule, Rule: "hedging", Weight: 0.5},
			},
			Rules: reportconfig.RuleParams{
				TargetSentenceWords: 20,
				HedgeWords:          []string{"may", "might"},
				MaxHedgeRatio:       0.1,
				TargetValueDensity:  3,
			},
		},
	}
}

func testTemplate() *contracts.PromptTemplate {
	return &contracts.PromptTemplate{
		Name:    "note",
		Version: "1",
		Text: "Write a note on {{SYMBOL}}.\n" +
			"Summary: the close at {{PRICE}}; RSI at {{RSI}} reads {{RSI_STATE}} and {{RSI_PHRASE}}.\n" +
			"Summary: the strategy won {{STRATEGY_WIN_RATE}} of its trades.\n" +
			"Outlook: reflect this news: {{NEWS_DIGEST}}\n" +
			"Outlook: close with the key risk to watch.\n",
		Placeholders: []contracts.PlaceholderSpec{
			{Name: "SYMBOL", Source: contracts.SourceBlock, Format: "text"},
			{Name: "PRICE", Source: contracts.SourceFact, Format: "price"},
			{Name: "RSI", Source: contracts.SourceFact, Format: "number"},
			{Name: "RSI_STATE", Source: contracts.SourceState, Format: "label"},
			{Name: "RSI_PHRASE", Source: contracts.SourceState, Key: "RSI_STATE", Format: "phrase"},
			{Name: "STRATEGY_WIN_RATE", Source: contracts.SourceFact, Format: "percent_unsigned"},
			{Name: "NEWS_DIGEST", Source: contracts.SourceBlock, Format: "text"},
		},
	}
}

// risingPayload: 40 strictly rising closes, so RSI is 100 (overbought)
func risingPayload() *contracts.MarketPayload {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	return &contracts.MarketPayload{Symbol: "ACME", Closes: closes}
}

// recorder is an in-memory EventSink
type recorder struct {
	mu     sync.Mutex
	events []contracts.Event
}

func (r *recorder) Emit(e contracts.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []contracts.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]contracts.Event(nil), r.events...)
}

type fixture struct {
	cfg      *reportconfig.Config
	provider contracts.LLMProvider
	judge    contracts.Judge
	events   *recorder
	budget   time.Duration
}

func newFixture(provider contracts.LLMProvider) *fixture {
	return &fixture{cfg: testConfig(), provider: provider, events: &recorder{}}
}

func (f *fixture) pipeline(t *testing.T) *Pipeline {
	t.Helper()
	reg, err := registry.NewStatic(testTemplate())
	require.NoError(t, err)

	policy := retry.New(config.RetryConfig{MaxRetries: 1, InitialDelay: time.Millisecond, AttemptTimeout: time.Second}, logger.Nop())

	p, err := New(Deps{
		Config:     f.cfg,
		ConfigHash: "cafe0001",
		Registry:   reg,
		Provider:   f.provider,
		Judge:      f.judge,
		Pool:       pool.New(config.PoolConfig{MaxConcurrent: 2}, nil, logger.Nop()),
		Retry:      policy,
		Events:     f.events,
		Budget:     f.budget,
		Logger:     logger.Nop(),
	})
	require.NoError(t, err)
	return p
}

func countingJudge(score float64, calls *atomic.Int64) contracts.Judge {
	return llm.JudgeFunc(func(ctx context.Context, _ contracts.JudgeCriterion, _ contracts.ResolvedReport, _ *contracts.Context) (float64, error) {
		calls.Add(1)
		return score, nil
	})
}

func withHybrid(cfg *reportconfig.Config) {
	cfg.Rank.Criteria = append(cfg.Rank.Criteria, reportconfig.Criterion{
		Name: "clarity", Kind: reportconfig.KindHybrid, Rule: "readability", Weight: 0.5, Blend: "mean",
		Rubric: "Is the note easy to follow?",
	})
	cfg.Rank.Criteria[0].Weight = 0.25
	cfg.Rank.Criteria[1].Weight = 0.25
}

func TestRun_Released(t *testing.T) {
	provider := llm.NewScriptedProvider(goodNarrative)
	f := newFixture(provider)
	p := f.pipeline(t)

	res, err := p.Run(context.Background(), Request{Payload: risingPayload()})
	require.NoError(t, err)

	assert.Equal(t, contracts.OutcomeReleased, res.Outcome)
	assert.True(t, res.Released())
	assert.Equal(t, "ACME", res.Symbol)
	assert.Equal(t, "note", res.Template)
	assert.Equal(t, "1", res.TemplateVersion)
	assert.Equal(t, "cafe0001", res.ConfigHash)
	assert.NotEmpty(t, res.RequestID)
	assert.False(t, res.StrictRetry)
	assert.Equal(t, contracts.AllStages(), res.CompletedStages)

	require.NotNil(t, res.Report)
	require.NotNil(t, res.Quality)
	assert.True(t, res.Quality.Gate.Overall)
	require.NotNil(t, res.Quality.Rank)
	assert.InDelta(t, 0.5, res.Quality.Rank.Weights["structure"], 1e-9)
	assert.GreaterOrEqual(t, res.Quality.Rank.Composite, 0.0)
	assert.LessOrEqual(t, res.Quality.Rank.Composite, 1.0)
	assert.Nil(t, res.DiagnosticRank)

	assert.Equal(t, 1, res.Usage.Calls)
	assert.Equal(t, 1, provider.Calls())
}

// Scenario A: every token is replaced by its exact formatted value
func TestRun_InjectsExactValues(t *testing.T) {
	f := newFixture(llm.NewScriptedProvider(goodNarrative))
	p := f.pipeline(t)

	payload := risingPayload()
	res, err := p.Run(context.Background(), Request{Payload: payload})
	require.NoError(t, err)
	require.NotNil(t, res.Report)

	facts := groundtruth.NewComputer(f.cfg.Facts, logger.Nop()).Compute(payload)
	rsi, ok := facts.Get(contracts.FactRSI)
	require.True(t, ok)
	v, ok := rsi.Value.Get()
	require.True(t, ok)
	want, err := inject.Format("number", contracts.Resolved{Kind: contracts.SourceFact, Number: v, Precision: rsi.Precision})
	require.NoError(t, err)

	text := res.Report.Text
	assert.Contains(t, text, "RSI at "+want+".")
	assert.Contains(t, text, "momentum reads overbought")
	assert.Contains(t, text, "ACME closed at")
	assert.NotContains(t, text, "{{")
	assert.Equal(t, 4, res.Report.TokensReplaced)
}

const phraseNarrative = `## Summary
{{SYMBOL}} closed at {{PRICE}} and {{RSI_PHRASE}} with RSI at {{RSI}}.

## Outlook
The key risk is a sharp reversal after such a steep run, so watch support closely.`

func TestRun_AliasedPhraseToken(t *testing.T) {
	provider := llm.NewScriptedProvider(phraseNarrative)
	f := newFixture(provider)
	p := f.pipeline(t)

	res, err := p.Run(context.Background(), Request{Payload: risingPayload()})
	require.NoError(t, err)

	assert.Equal(t, contracts.OutcomeReleased, res.Outcome)
	assert.False(t, res.StrictRetry)
	assert.Equal(t, 1, provider.Calls())
	require.NotNil(t, res.Report)
	assert.Contains(t, res.Report.Text, "and momentum is stretched to the upside with RSI")
	assert.Contains(t, provider.Prompts()[0], "{{RSI_PHRASE}}")
}

// Scenario B: the excluded token never reaches the prompt, and a draft using it
// anyway is regenerated once in strict mode
func TestRun_StrictRegeneration(t *testing.T) {
	provider := llm.NewScriptedProvider(strategyNarrative, goodNarrative)
	f := newFixture(provider)
	p := f.pipeline(t)

	res, err := p.Run(context.Background(), Request{Payload: risingPayload()})
	require.NoError(t, err)

	assert.Equal(t, contracts.OutcomeReleased, res.Outcome)
	assert.True(t, res.StrictRetry)
	assert.Equal(t, 2, provider.Calls())
	assert.Equal(t, 2, res.Usage.Calls)

	prompts := provider.Prompts()
	require.Len(t, prompts, 2)
	assert.NotContains(t, prompts[0], "{{STRATEGY_WIN_RATE}}")
	assert.NotContains(t, prompts[0], "Strict mode")
	assert.Contains(t, prompts[1], "Strict mode")
	assert.Contains(t, prompts[1], "STRATEGY_WIN_RATE")
}

func TestRun_UnresolvedWithoutStrictRetry(t *testing.T) {
	provider := llm.NewScriptedProvider(strategyNarrative)
	f := newFixture(provider)
	f.cfg.Generation.StrictRetry = false
	p := f.pipeline(t)

	res, err := p.Run(context.Background(), Request{Payload: risingPayload()})
	require.Error(t, err)

	var unresolved *contracts.UnresolvedPlaceholderError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, []string{"STRATEGY_WIN_RATE"}, unresolved.Tokens)
	assert.Contains(t, err.Error(), "N5 failed")
	assert.Equal(t, contracts.OutcomeFailed, res.Outcome)
	assert.Nil(t, res.Report)
	assert.Equal(t, 1, provider.Calls())
}

func TestRun_StrictRetryHappensOnce(t *testing.T) {
	provider := llm.NewScriptedProvider(strategyNarrative)
	f := newFixture(provider)
	p := f.pipeline(t)

	res, err := p.Run(context.Background(), Request{Payload: risingPayload()})
	require.Error(t, err)

	var unresolved *contracts.UnresolvedPlaceholderError
	assert.ErrorAs(t, err, &unresolved)
	assert.Equal(t, contracts.OutcomeFailed, res.Outcome)
	assert.True(t, res.StrictRetry)
	assert.Equal(t, 2, provider.Calls())
}

// Scenario C: a banned phrase fails the gate and no judge is called
func TestRun_GateFailureSkipsRank(t *testing.T) {
	var judgeCalls atomic.Int64
	f := newFixture(llm.NewScriptedProvider(bannedNarrative))
	withHybrid(f.cfg)
	f.judge = countingJudge(0.9, &judgeCalls)
	p := f.pipeline(t)

	res, err := p.Run(context.Background(), Request{Payload: risingPayload()})
	require.NoError(t, err)

	assert.Equal(t, contracts.OutcomeGateFailed, res.Outcome)
	assert.False(t, res.Released())
	require.NotNil(t, res.Quality)
	assert.False(t, res.Quality.Gate.Overall)
	assert.False(t, res.Quality.Gate.Gates[contracts.GateSafety])
	assert.Nil(t, res.Quality.Rank)
	assert.Nil(t, res.DiagnosticRank)
	assert.NotNil(t, res.Report)
	assert.Equal(t, int64(0), judgeCalls.Load())
	assert.NotContains(t, res.CompletedStages, contracts.StageRank)
}

func TestRun_DiagnosticRankOnGateFailure(t *testing.T) {
	var judgeCalls atomic.Int64
	f := newFixture(llm.NewScriptedProvider(bannedNarrative))
	withHybrid(f.cfg)
	f.judge = countingJudge(0.9, &judgeCalls)
	p := f.pipeline(t)

	res, err := p.Run(context.Background(), Request{Payload: risingPayload(), DiagnosticRank: true})
	require.NoError(t, err)

	assert.Equal(t, contracts.OutcomeGateFailed, res.Outcome)
	assert.Nil(t, res.Quality.Rank)
	require.NotNil(t, res.DiagnosticRank)
	assert.Contains(t, res.DiagnosticRank.Criteria, "clarity")
	assert.Equal(t, int64(1), judgeCalls.Load())
}

func TestRun_HybridJudgeUsed(t *testing.T) {
	var judgeCalls atomic.Int64
	f := newFixture(llm.NewScriptedProvider(goodNarrative))
	withHybrid(f.cfg)
	f.judge = countingJudge(1, &judgeCalls)
	p := f.pipeline(t)

	res, err := p.Run(context.Background(), Request{Payload: risingPayload()})
	require.NoError(t, err)
	require.NotNil(t, res.Quality.Rank)
	assert.False(t, res.Quality.Rank.Partial)
	assert.Len(t, res.Quality.Rank.Criteria, 3)
	assert.Equal(t, int64(1), judgeCalls.Load())
}

// Scenario D through the pipeline: a failing judge is isolated to its criterion
func TestRun_JudgeFailureIsPartial(t *testing.T) {
	f := newFixture(llm.NewScriptedProvider(goodNarrative))
	withHybrid(f.cfg)
	f.judge = llm.JudgeFunc(func(context.Context, contracts.JudgeCriterion, contracts.ResolvedReport, *contracts.Context) (float64, error) {
		return 0, &contracts.ScorerUnavailableError{Criterion: "clarity", Err: contracts.ErrTimeout}
	})
	p := f.pipeline(t)

	res, err := p.Run(context.Background(), Request{Payload: risingPayload()})
	require.NoError(t, err)

	assert.Equal(t, contracts.OutcomeReleased, res.Outcome)
	rank := res.Quality.Rank
	require.NotNil(t, rank)
	assert.True(t, rank.Partial)
	assert.Contains(t, rank.Unavailable, "clarity")
	assert.InDelta(t, 0.5, rank.Weights["structure"], 1e-9)
	assert.InDelta(t, 0.5, rank.Weights["tone"], 1e-9)
}

func TestRun_InsufficientData(t *testing.T) {
	provider := llm.NewScriptedProvider(goodNarrative)
	f := newFixture(provider)
	p := f.pipeline(t)

	short := &contracts.MarketPayload{Symbol: "ACME", Closes: []float64{100, 101, 102}}
	res, err := p.Run(context.Background(), Request{Payload: short})
	require.Error(t, err)

	var dataErr *contracts.DataUnavailableError
	require.ErrorAs(t, err, &dataErr)
	assert.Equal(t, []string{contracts.FactRSI}, dataErr.Missing)
	assert.Equal(t, contracts.OutcomeInsufficientData, res.Outcome)
	assert.Empty(t, res.CompletedStages)
	assert.Equal(t, 0, provider.Calls())
}

func TestRun_NoPayloadSource(t *testing.T) {
	f := newFixture(llm.NewScriptedProvider(goodNarrative))
	p := f.pipeline(t)

	res, err := p.Run(context.Background(), Request{Symbol: "ACME"})
	require.Error(t, err)
	assert.Equal(t, contracts.OutcomeInsufficientData, res.Outcome)
}

func TestRun_ScheduledWithoutAsOf(t *testing.T) {
	provider := llm.NewScriptedProvider(goodNarrative)
	f := newFixture(provider)
	p := f.pipeline(t)

	res, err := p.Run(context.Background(), Request{Payload: risingPayload(), Scheduled: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, contracts.ErrMissingAsOf)
	assert.Equal(t, contracts.OutcomeFailed, res.Outcome)
	assert.Equal(t, 0, provider.Calls())
}

func TestRun_ScheduledWithAsOf(t *testing.T) {
	f := newFixture(llm.NewScriptedProvider(goodNarrative))
	p := f.pipeline(t)

	asOf := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
	res, err := p.Run(context.Background(), Request{Payload: risingPayload(), Scheduled: true, AsOf: &asOf})
	require.NoError(t, err)
	require.NotNil(t, res.AsOf)
	assert.True(t, asOf.Equal(*res.AsOf))
}

func TestRun_TemplateNotFound(t *testing.T) {
	f := newFixture(llm.NewScriptedProvider(goodNarrative))
	p := f.pipeline(t)

	res, err := p.Run(context.Background(), Request{Payload: risingPayload(), Template: "missing"})
	require.Error(t, err)
	assert.ErrorIs(t, err, contracts.ErrTemplateNotFound)
	assert.Equal(t, contracts.OutcomeFailed, res.Outcome)
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	provider := llm.NewScriptedProvider(goodNarrative)
	f := newFixture(provider)
	p := f.pipeline(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := p.Run(ctx, Request{Payload: risingPayload()})
	require.Error(t, err)
	assert.ErrorIs(t, err, contracts.ErrAborted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, contracts.OutcomeAborted, res.Outcome)
	assert.Nil(t, res.Report)
	assert.Nil(t, res.Quality)
	assert.Equal(t, 0, provider.Calls())
}

// blockingProvider waits for the caller to give up
type blockingProvider struct{}

func (blockingProvider) Name() string { return "blocking" }

func (blockingProvider) Generate(ctx context.Context, _ string, _ contracts.GenerateParams) (contracts.Generation, error) {
	<-ctx.Done()
	return contracts.Generation{}, ctx.Err()
}

func TestRun_BudgetExceededAborts(t *testing.T) {
	f := newFixture(blockingProvider{})
	f.budget = 50 * time.Millisecond
	p := f.pipeline(t)

	res, err := p.Run(context.Background(), Request{Payload: risingPayload()})
	require.Error(t, err)
	assert.ErrorIs(t, err, contracts.ErrAborted)
	assert.Equal(t, contracts.OutcomeAborted, res.Outcome)
	assert.Nil(t, res.Report)
	assert.NotContains(t, res.CompletedStages, contracts.StageGenerate)
}

func TestRun_RequestBlocksOverridePayload(t *testing.T) {
	f := newFixture(llm.NewScriptedProvider())
	p := f.pipeline(t)

	payload := risingPayload()
	payload.Blocks = map[string]string{"NEWS_DIGEST": "old news"}
	res, err := p.Run(context.Background(), Request{
		Payload: payload,
		Blocks:  map[string]string{"NEWS_DIGEST": "Chip demand beat expectations."},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Report)

	assert.Contains(t, res.Report.Text, "Chip demand beat expectations")
	assert.NotContains(t, res.Report.Text, "old news")
	assert.Equal(t, "old news", payload.Blocks["NEWS_DIGEST"])
}

func TestRun_EventsCarryRequestIdentity(t *testing.T) {
	f := newFixture(llm.NewScriptedProvider(goodNarrative))
	p := f.pipeline(t)

	res, err := p.Run(context.Background(), Request{Payload: risingPayload()})
	require.NoError(t, err)

	events := f.events.all()
	require.Len(t, events, len(contracts.AllStages())+1)

	for i, stage := range contracts.AllStages() {
		assert.Equal(t, stage, events[i].Stage)
	}
	for _, e := range events {
		assert.Equal(t, res.RequestID, e.RequestID)
		assert.Equal(t, "cafe0001", e.ConfigHash)
		assert.Equal(t, "ACME", e.Symbol)
	}

	last := events[len(events)-1]
	assert.Equal(t, contracts.StageOutcome, last.Stage)
	assert.Equal(t, "released", last.Attrs["outcome"])
	assert.Contains(t, last.Attrs, "composite")
	assert.Equal(t, "note", last.Template)
}

func TestRun_ConcurrentRequestsAreIsolated(t *testing.T) {
	f := newFixture(llm.NewScriptedProvider(goodNarrative))
	p := f.pipeline(t)

	const n = 8
	results := make([]*Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := p.Run(context.Background(), Request{Payload: risingPayload()})
			if err == nil {
				results[i] = res
			}
		}(i)
	}
	wg.Wait()

	ids := make(map[string]bool)
	for _, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, 1, res.Usage.Calls)
		ids[res.RequestID] = true
	}
	assert.Len(t, ids, n)
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Deps{})
	require.Error(t, err)

	reg, err := registry.NewStatic(testTemplate())
	require.NoError(t, err)

	cfg := testConfig()
	withHybrid(cfg)
	_, err = New(Deps{
		Config:   cfg,
		Registry: reg,
		Provider: llm.NewScriptedProvider(),
		Pool:     pool.New(config.PoolConfig{MaxConcurrent: 1}, nil, logger.Nop()),
		Retry:    retry.New(config.RetryConfig{}, logger.Nop()),
	})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "judge"))
}

func TestClassify(t *testing.T) {
	live := context.Background()
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name string
		ctx  context.Context
		err  error
		want contracts.Outcome
	}{
		{"data", live, &contracts.DataUnavailableError{Missing: []string{"RSI"}}, contracts.OutcomeInsufficientData},
		{"cancelled", cancelled, context.Canceled, contracts.OutcomeAborted},
		{"provider timeout with live ctx", live, &contracts.ProviderError{Kind: contracts.ErrTimeout, Err: context.DeadlineExceeded}, contracts.OutcomeFailed},
		{"other", live, errors.New("boom"), contracts.OutcomeFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := classify(tt.ctx, tt.err)
			assert.Equal(t, tt.want, got)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

const shippedNarrative = `## Summary
{{SYMBOL}} closed at {{PRICE}} after a {{CHANGE_PCT}} session, leaving a {{RETURN_20D}} return over the last 20 sessions.

## Technical Picture
RSI at {{RSI}} reads {{RSI_STATE}}, and {{RSI_PHRASE}}. The 20-day average stands at {{MA20}} and {{TREND_PHRASE}}, which frames the near-term trend for holders.

## Outlook
The key risk to watch is a sharp swing in volatility around the next earnings update. Investors should track momentum and the trend together, keep position sizes measured, and revisit the picture if support near the average gives way.`

// shippedPipeline runs the repository's own report.yaml, templates.yaml and payload files
func shippedPipeline(t *testing.T, provider contracts.LLMProvider) *Pipeline {
	t.Helper()
	cfg, _, err := reportconfig.Load("../../config/report.yaml")
	require.NoError(t, err)
	reg, err := registry.LoadFile("../../config/templates.yaml")
	require.NoError(t, err)

	var judgeCalls atomic.Int64
	policy := retry.New(config.RetryConfig{MaxRetries: 1, InitialDelay: time.Millisecond, AttemptTimeout: time.Second}, logger.Nop())

	p, err := New(Deps{
		Config:     cfg,
		ConfigHash: "shipped",
		Registry:   reg,
		Provider:   provider,
		Judge:      countingJudge(0.8, &judgeCalls),
		Pool:       pool.New(config.PoolConfig{MaxConcurrent: 2}, nil, logger.Nop()),
		Retry:      policy,
		Upstream:   upstream.NewFileSource("../../data/payloads", logger.Nop()),
		Logger:     logger.Nop(),
	})
	require.NoError(t, err)
	return p
}

func TestRun_ShippedConfiguration(t *testing.T) {
	provider := llm.NewScriptedProvider(shippedNarrative)
	p := shippedPipeline(t, provider)

	res, err := p.Run(context.Background(), Request{Symbol: "005930"})
	require.NoError(t, err)

	assert.Equal(t, "market_note", res.Template)
	assert.Equal(t, "2", res.TemplateVersion)
	assert.False(t, res.StrictRetry)
	assert.Equal(t, 1, provider.Calls())
	require.NotNil(t, res.Report)
	assert.NotContains(t, res.Report.Text, "{{")
	assert.Contains(t, res.Report.Text, "005930 closed at")
	assert.Contains(t, res.Report.Text, "20-day average")
	// facts.precision prints RSI as a whole number
	assert.Regexp(t, `RSI at \d+ reads (oversold|weak|neutral|firm|overbought)`, res.Report.Text)

	require.NotNil(t, res.Quality)
	assert.True(t, res.Quality.Gate.Overall, "%+v", res.Quality.Gate)
	assert.Equal(t, contracts.OutcomeReleased, res.Outcome)
	require.NotNil(t, res.Quality.Rank)
	assert.False(t, res.Quality.Rank.Partial)
}

// dry runs synthesize the narrative from the prompt's own instruction lines
func TestRun_ShippedConfigurationDryRun(t *testing.T) {
	for _, symbol := range []string{"005930", "000660", "035420"} {
		t.Run(symbol, func(t *testing.T) {
			provider := llm.NewScriptedProvider()
			p := shippedPipeline(t, provider)

			res, err := p.Run(context.Background(), Request{Symbol: symbol})
			require.NoError(t, err)
			require.NoError(t, res.Err)

			assert.Contains(t, []contracts.Outcome{contracts.OutcomeReleased, contracts.OutcomeGateFailed}, res.Outcome)
			assert.False(t, res.StrictRetry)
			assert.Equal(t, 1, provider.Calls())
			require.NotNil(t, res.Report)
			assert.NotContains(t, res.Report.Text, "{{")
		})
	}
}
