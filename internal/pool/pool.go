package pool

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/wonny/aegis-narrator/pkg/config"
	"github.com/wonny/aegis-narrator/pkg/logger"
	"github.com/wonny/aegis-narrator/pkg/redis"
)

// Pool admits outbound LLM and judge calls across every in-flight request
// ⭐ SSOT: 프로세스 전체에서 유일한 공유 자원 (admission만 담당)
type Pool struct {
	sem      *semaphore.Weighted
	capacity int64
	limiter  *rate.Limiter

	shared    *redis.RateLimiter
	sharedCfg redis.RateLimitConfig

	inFlight atomic.Int64
	admitted atomic.Int64
	rejected atomic.Int64

	logger *logger.Logger
}

// Stats is a point-in-time snapshot of pool usage
type Stats struct {
	Capacity int64 `json:"capacity"`
	InFlight int64 `json:"in_flight"`
	Admitted int64 `json:"admitted"`
	Rejected int64 `json:"rejected"`
}

// New creates a pool. shared may be nil; it is only consulted when cfg.SharedLimit > 0.
func New(cfg config.PoolConfig, shared *redis.RateLimiter, log *logger.Logger) *Pool {
	capacity := int64(cfg.MaxConcurrent)
	if capacity < 1 {
		capacity = 1
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	p := &Pool{
		sem:      semaphore.NewWeighted(capacity),
		capacity: capacity,
		limiter:  rate.NewLimiter(limit, burst),
		logger:   log,
	}
	if shared != nil && cfg.SharedLimit > 0 {
		p.shared = shared
		p.sharedCfg = redis.LLMRateLimit(cfg.SharedLimit, cfg.SharedWindow)
	}
	return p
}

// Do runs fn once admitted. Admission waits on the semaphore, the local token bucket
// and, when configured, the cross-process window. ctx cancellation aborts the wait.
func (p *Pool) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.rejected.Add(1)
		return fmt.Errorf("pool admission %s: %w", op, err)
	}
	defer p.sem.Release(1)

	if err := p.limiter.Wait(ctx); err != nil {
		p.rejected.Add(1)
		return fmt.Errorf("pool rate %s: %w", op, err)
	}
	if p.shared != nil {
		if err := p.shared.Wait(ctx, p.sharedCfg); err != nil {
			p.rejected.Add(1)
			return fmt.Errorf("pool shared rate %s: %w", op, err)
		}
	}

	p.admitted.Add(1)
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)

	return fn(ctx)
}

// Stats returns current usage
func (p *Pool) Stats() Stats {
	return Stats{
		Capacity: p.capacity,
		InFlight: p.inFlight.Load(),
		Admitted: p.admitted.Load(),
		Rejected: p.rejected.Load(),
	}
}
