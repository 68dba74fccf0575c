package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wonny/aegis-narrator/internal/contracts"
	"github.com/wonny/aegis-narrator/internal/pipeline"
	"github.com/wonny/aegis-narrator/pkg/logger"
)

// Runner runs one report request
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// ReportJob generates the daily note for every configured symbol
// ⭐ SSOT: 스케줄 리포트는 항상 명시적 as-of 날짜로 실행
type ReportJob struct {
	runner   Runner
	schedule string
	symbols  []string
	location *time.Location
	parallel int
	now      func() time.Time
	logger   *logger.Logger

	mu   sync.Mutex
	last map[string]contracts.Outcome
}

// NewReportJob creates a report job. loc decides the as-of calendar date.
func NewReportJob(runner Runner, schedule string, symbols []string, loc *time.Location, log *logger.Logger) *ReportJob {
	if loc == nil {
		loc = time.Local
	}
	return &ReportJob{
		runner:   runner,
		schedule: schedule,
		symbols:  append([]string(nil), symbols...),
		location: loc,
		parallel: 2,
		now:      time.Now,
		logger:   log,
		last:     make(map[string]contracts.Outcome),
	}
}

// WithClock overrides the clock used for the as-of date
func (j *ReportJob) WithClock(now func() time.Time) *ReportJob {
	j.now = now
	return j
}

// WithParallel bounds how many symbols run at once
func (j *ReportJob) WithParallel(n int) *ReportJob {
	if n > 0 {
		j.parallel = n
	}
	return j
}

// Name returns the job name
func (j *ReportJob) Name() string {
	return "market_note"
}

// Schedule returns the cron schedule
func (j *ReportJob) Schedule() string {
	return j.schedule
}

// AsOf returns the calendar date (midnight, job location) reports are generated for
func (j *ReportJob) AsOf() time.Time {
	t := j.now().In(j.location)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, j.location)
}

// Run generates every symbol's report. Released, gate-failed and insufficient-data
// outcomes are final; failed and aborted ones make the job fail so it is retried.
func (j *ReportJob) Run(ctx context.Context) error {
	asOf := j.AsOf()
	j.logger.WithFields(map[string]interface{}{
		"as_of":   asOf.Format("2006-01-02"),
		"symbols": len(j.symbols),
	}).Info("Starting scheduled reports")

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.parallel)

	for _, symbol := range j.symbols {
		g.Go(func() error {
			day := asOf
			res, err := j.runner.Run(gctx, pipeline.Request{
				Symbol:    symbol,
				AsOf:      &day,
				Scheduled: true,
			})

			outcome := contracts.OutcomeFailed
			if res != nil {
				outcome = res.Outcome
			}
			j.record(symbol, outcome)

			switch outcome {
			case contracts.OutcomeReleased, contracts.OutcomeGateFailed, contracts.OutcomeInsufficientData:
				return nil
			}
			if err == nil {
				err = errors.New(string(outcome))
			}
			mu.Lock()
			errs = append(errs, fmt.Errorf("%s: %w", symbol, err))
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		return fmt.Errorf("%d of %d reports failed: %w", len(errs), len(j.symbols), errors.Join(errs...))
	}

	j.logger.WithField("outcomes", j.Outcomes()).Info("Scheduled reports completed")
	return nil
}

func (j *ReportJob) record(symbol string, outcome contracts.Outcome) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.last[symbol] = outcome
}

// Outcomes returns the latest outcome per symbol
func (j *ReportJob) Outcomes() map[string]contracts.Outcome {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make(map[string]contracts.Outcome, len(j.last))
	for k, v := range j.last {
		out[k] = v
	}
	return out
}

// Summary counts the last run's outcomes, e.g. "gate_failed=1 released=2"
func (j *ReportJob) Summary() string {
	counts := map[string]int{}
	for _, o := range j.Outcomes() {
		counts[string(o)]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, counts[k])
	}
	return strings.Join(parts, " ")
}

// Symbols returns the configured symbols, sorted
func (j *ReportJob) Symbols() []string {
	out := append([]string(nil), j.symbols...)
	sort.Strings(out)
	return out
}
