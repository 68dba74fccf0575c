package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/wonny/aegis-narrator/internal/contracts"
	"github.com/wonny/aegis-narrator/internal/llm"
	"github.com/wonny/aegis-narrator/internal/observe"
	"github.com/wonny/aegis-narrator/internal/pipeline"
	"github.com/wonny/aegis-narrator/internal/pool"
	"github.com/wonny/aegis-narrator/internal/registry"
	"github.com/wonny/aegis-narrator/internal/reportconfig"
	"github.com/wonny/aegis-narrator/internal/upstream"
	"github.com/wonny/aegis-narrator/pkg/config"
	"github.com/wonny/aegis-narrator/pkg/database"
	"github.com/wonny/aegis-narrator/pkg/httputil"
	"github.com/wonny/aegis-narrator/pkg/logger"
	"github.com/wonny/aegis-narrator/pkg/redis"
	"github.com/wonny/aegis-narrator/pkg/retry"
)

func applyGlobalFlags() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
	}
	if verbose {
		os.Setenv("LOG_LEVEL", "debug")
	}
	return nil
}

// app holds the process-wide components shared by every command
// ⭐ SSOT: 의존성 조립은 여기서만 (Deps는 한 번 만들고 참조로 전달)
type app struct {
	cfg        *config.Config
	log        *logger.Logger
	report     *reportconfig.Config
	configHash string

	db    *database.DB
	redis *redis.Client

	hub        *observe.Hub
	pgSink     *observe.PostgresSink
	dispatcher *observe.Dispatcher
	pipeline   *pipeline.Pipeline

	shutdownTracing func(context.Context) error
}

type appOptions struct {
	hub bool // websocket event feed (serve only)
}

func newApp(ctx context.Context, opts appOptions) (a *app, err error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg)

	a = &app{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	// 1. Domain config
	a.report, err = loadReportConfig(cfg, log)
	if err != nil {
		return nil, err
	}
	if a.configHash, err = reportconfig.ShortHash(a.report); err != nil {
		return nil, fmt.Errorf("hash report config: %w", err)
	}

	// 2. Tracing
	if a.shutdownTracing, err = observe.InitTracing(ctx, cfg, log); err != nil {
		return nil, err
	}

	// 3. Stores
	if cfg.Sinks.Postgres || cfg.Report.TemplateStore == "postgres" {
		if a.db, err = database.New(ctx, cfg); err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if err = a.db.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		log.Info("Connected to database")
	}
	if a.redis, err = redis.New(cfg); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	// 4. Outbound call admission + retry
	var shared *redis.RateLimiter
	if a.redis.Enabled() && cfg.Pool.SharedLimit > 0 {
		shared = redis.NewRateLimiter(a.redis)
	}
	admission := pool.New(cfg.Pool, shared, log)
	policy := retry.New(cfg.Retry, log)

	// 5. Templates
	templates, err := newRegistry(a, log)
	if err != nil {
		return nil, err
	}

	// 6. Provider + judge
	provider, err := llm.NewProvider(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("create LLM provider: %w", err)
	}
	gen := a.report.Generation
	params := llm.Params(cfg.LLM, gen.System, gen.Temperature, gen.MaxTokens)

	var judge contracts.Judge
	for _, c := range a.report.Rank.Criteria {
		if c.Kind == reportconfig.KindHybrid {
			judge = llm.NewJudge(provider, admission, policy, llm.JudgeParams(cfg.LLM), log)
			break
		}
	}

	// 7. Observability sinks
	sinks := []observe.Sink{observe.NewLogSink(log)}
	if cfg.Sinks.RedisStream != "" {
		sinks = append(sinks, observe.NewRedisStreamSink(redis.NewStreamPublisher(a.redis, cfg.Sinks.RedisStream, 0)))
	}
	if cfg.Sinks.Postgres {
		a.pgSink = observe.NewPostgresSink(a.db.Pool)
		sinks = append(sinks, a.pgSink)
	}
	if opts.hub {
		a.hub = observe.NewHub(log)
		sinks = append(sinks, a.hub)
	}
	a.dispatcher = observe.NewDispatcher(cfg.Sinks.BufferSize, log, sinks...)

	// 8. Pipeline
	a.pipeline, err = pipeline.New(pipeline.Deps{
		Config:     a.report,
		ConfigHash: a.configHash,
		Registry:   templates,
		Provider:   provider,
		Params:     params,
		Judge:      judge,
		Pool:       admission,
		Retry:      policy,
		Upstream:   newUpstream(cfg, log),
		Events:     a.dispatcher,
		Budget:     cfg.Report.RequestBudget,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(map[string]interface{}{
		"provider":    provider.Name(),
		"config_hash": a.configHash,
		"templates":   cfg.Report.TemplateStore,
		"sinks":       len(sinks),
	}).Info("Narrator initialized")

	return a, nil
}

func loadReportConfig(cfg *config.Config, log *logger.Logger) (*reportconfig.Config, error) {
	report, _, err := reportconfig.Load(cfg.Report.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load report config: %w", err)
	}
	for _, w := range reportconfig.Warn(report) {
		log.WithField("code", w.Code).Warn(w.Message)
	}
	return report, nil
}

func newRegistry(a *app, log *logger.Logger) (contracts.TemplateRegistry, error) {
	if a.cfg.Report.TemplateStore == "postgres" {
		return registry.NewPostgresRegistry(a.db.Pool, log), nil
	}
	reg, err := registry.LoadFile(a.cfg.Report.TemplatesPath)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	return reg, nil
}

func newUpstream(cfg *config.Config, log *logger.Logger) contracts.UpstreamSource {
	switch cfg.Report.Upstream {
	case "http":
		return upstream.NewHTTPSource(httputil.New(cfg, log), cfg.Report.UpstreamURL)
	case "naver":
		return upstream.NewNaverSource(httputil.New(cfg, log), log,
			upstream.WithBenchmark(cfg.Report.Benchmark),
			upstream.WithLookback(cfg.Report.Lookback))
	}
	return upstream.NewFileSource(cfg.Report.PayloadDir, log)
}

// Close flushes events and releases connections
func (a *app) Close() {
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	if a.hub != nil {
		a.hub.Close()
	}
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(context.Background()); err != nil {
			a.log.WithError(err).Warn("Tracing shutdown failed")
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
