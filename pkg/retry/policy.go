package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/wonny/aegis-narrator/pkg/config"
	"github.com/wonny/aegis-narrator/pkg/logger"
)

// Policy is the single retry policy shared by narrative generation and every judge call
// ⭐ SSOT: 재시도 정책은 여기서만 (호출부별 재시도 루프 금지)
type Policy struct {
	MaxRetries     int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
	Jitter         float64

	// Retryable decides whether a failed attempt is worth another try
	Retryable func(error) bool

	notify func(attempt int, delay time.Duration, err error)
	logger *logger.Logger
}

// ExhaustedError is returned when every attempt failed
type ExhaustedError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Op, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Temporary is implemented by errors that know they are transient (provider timeout, rate limit)
type Temporary interface {
	Temporary() bool
}

// HTTPStatusCoder is implemented by transport errors carrying a status code
type HTTPStatusCoder interface {
	HTTPStatusCode() int
}

// RetryDelayer is implemented by errors carrying a server-requested wait (Retry-After)
type RetryDelayer interface {
	RetryDelay() time.Duration
}

// New builds the policy from config
func New(cfg config.RetryConfig, log *logger.Logger) *Policy {
	if log == nil {
		log = logger.Nop()
	}
	return &Policy{
		MaxRetries:     cfg.MaxRetries,
		InitialDelay:   cfg.InitialDelay,
		MaxDelay:       cfg.MaxDelay,
		AttemptTimeout: cfg.AttemptTimeout,
		Jitter:         cfg.Jitter,
		Retryable:      IsRetryable,
		logger:         log,
	}
}

// WithNotify registers a hook called before each backoff wait
func (p *Policy) WithNotify(fn func(attempt int, delay time.Duration, err error)) *Policy {
	cp := *p
	cp.notify = fn
	return &cp
}

// Do runs fn until it succeeds, fails permanently, retries run out, or ctx ends.
// Each attempt gets its own AttemptTimeout derived from ctx.
func (p *Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	attempts := 0
	permanent := false

	attempt := func() (struct{}, error) {
		if err := ctx.Err(); err != nil {
			permanent = true
			return struct{}{}, backoff.Permanent(err)
		}
		attempts++
		err := p.runAttempt(ctx, fn)
		if err == nil {
			return struct{}{}, nil
		}
		lastErr = err

		// Caller budget gone: never retry, surface the cancellation itself
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			permanent = true
			return struct{}{}, backoff.Permanent(lastErr)
		}
		if p.Retryable != nil && !p.Retryable(err) {
			permanent = true
			return struct{}{}, backoff.Permanent(err)
		}
		if d := p.retryDelay(err); d > 0 {
			return struct{}{}, &backoff.RetryAfterError{Duration: d}
		}
		return struct{}{}, err
	}

	tries := p.MaxRetries + 1
	if tries < 1 {
		tries = 1
	}
	_, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(p.newBackOff()),
		backoff.WithMaxTries(uint(tries)),
		// the attempt count and ctx bound the total, not wall time
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(_ error, delay time.Duration) {
			p.logger.WithFields(map[string]interface{}{
				"op":      op,
				"attempt": attempts,
				"delay":   delay.String(),
				"error":   lastErr.Error(),
			}).Warn("Retrying call")
			if p.notify != nil {
				p.notify(attempts, delay, lastErr)
			}
		}),
	)
	switch {
	case err == nil:
		return nil
	case permanent:
		return lastErr
	case ctx.Err() != nil:
		// cancelled while waiting between attempts
		return ctx.Err()
	}
	return &ExhaustedError{Op: op, Attempts: attempts, Last: lastErr}
}

func (p *Policy) runAttempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.AttemptTimeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()
	return fn(attemptCtx)
}

// newBackOff is a fresh jittered exponential schedule (doubling, capped at MaxDelay)
func (p *Policy) newBackOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialDelay,
		RandomizationFactor: p.Jitter,
		Multiplier:          2,
		MaxInterval:         p.MaxDelay,
	}
	if b.MaxInterval <= 0 {
		b.MaxInterval = backoff.DefaultMaxInterval
	}
	if b.RandomizationFactor < 0 {
		b.RandomizationFactor = 0
	}
	b.Reset()
	return b
}

// Backoff returns the jittered delay before retry number attempt+1
func (p *Policy) Backoff(attempt int) time.Duration {
	b := p.newBackOff()
	d := b.NextBackOff()
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// retryDelay is the server-requested wait, capped at MaxDelay
func (p *Policy) retryDelay(err error) time.Duration {
	var rd RetryDelayer
	if !errors.As(err, &rd) {
		return 0
	}
	d := rd.RetryDelay()
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// IsRetryable checks if an error should be retried
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var tmp Temporary
	if errors.As(err, &tmp) {
		return tmp.Temporary()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var sc HTTPStatusCoder
	if errors.As(err, &sc) {
		code := sc.HTTPStatusCode()
		return code == 408 || code == 429 || code >= 500
	}
	return false
}
