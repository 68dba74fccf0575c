package groundtruth

import (
	"math"

	"github.com/montanaflynn/stats"

	"github.com/wonny/aegis-narrator/internal/contracts"
	"github.com/wonny/aegis-narrator/internal/reportconfig"
	"github.com/wonny/aegis-narrator/pkg/logger"
)

// Computer turns a MarketPayload into a GroundTruthSet
// ⭐ SSOT: 모든 숫자 팩트는 여기서만 계산 (LLM은 숫자를 만들지 않음)
type Computer struct {
	cfg    reportconfig.Facts
	logger *logger.Logger
}

// NewComputer creates a new ground-truth computer
func NewComputer(cfg reportconfig.Facts, log *logger.Logger) *Computer {
	return &Computer{cfg: cfg, logger: log}
}

// Compute derives every known fact. Missing input yields Unavailable facts, never a panic.
func (c *Computer) Compute(p *contracts.MarketPayload) *contracts.GroundTruthSet {
	if p == nil {
		p = &contracts.MarketPayload{}
	}

	closes := p.Closes
	facts := []contracts.Fact{
		c.fact(contracts.FactPrice, last(closes, "no closes"), 2, ""),
		c.fact(contracts.FactChangePct, periodReturn(closes, 1), 2, "%"),
		c.fact(contracts.FactReturn5D, periodReturn(closes, 5), 2, "%"),
		c.fact(contracts.FactReturn20D, periodReturn(closes, 20), 2, "%"),
		c.fact(contracts.FactRSI, rsi(closes, c.cfg.RSIPeriod), 1, ""),
	}

	ma := movingAverage(closes, c.cfg.MAWindow)
	facts = append(facts,
		c.fact(contracts.FactMA20, ma, 2, ""),
		c.fact(contracts.FactMA20GapPct, gapPct(closes, ma), 2, "%"),
		c.fact(contracts.FactVolatility20D, volatility(closes, c.cfg.VolatilityWindow, c.cfg.AnnualizationDays), 1, "%"),
		c.fact(contracts.FactVolumeRatio, volumeRatio(p.Volumes, c.cfg.MAWindow), 2, "x"),
	)

	ret20 := periodReturn(closes, 20)
	bench20 := periodReturn(p.Benchmark, 20)
	facts = append(facts,
		c.fact(contracts.FactBenchmarkReturn20D, bench20, 2, "%"),
		c.fact(contracts.FactRelativeStrength20D, difference(ret20, bench20), 2, "%"),
	)

	facts = append(facts, c.strategyFacts(p.Strategy)...)
	facts = append(facts, c.fact(contracts.FactMaxDrawdown, maxDrawdown(closes), 2, "%"))

	set := contracts.NewGroundTruthSet(facts)

	c.logger.WithFields(map[string]interface{}{
		"symbol":    p.Symbol,
		"facts":     set.Len(),
		"available": set.AvailableCount(),
	}).Debug("Computed ground truth")

	return set
}

func (c *Computer) strategyFacts(s *contracts.StrategyStats) []contracts.Fact {
	if s == nil {
		na := contracts.Unavailable[float64]("no strategy data")
		return []contracts.Fact{
			c.fact(contracts.FactStrategyWinRate, na, 1, "%"),
			c.fact(contracts.FactStrategyTrades, na, 0, ""),
			c.fact(contracts.FactStrategyAvgReturn, na, 2, "%"),
		}
	}

	trades := contracts.Available(float64(s.Trades))
	winRate := contracts.Unavailable[float64]("too few strategy trades")
	avgRet := contracts.Unavailable[float64]("too few strategy trades")
	if s.Trades >= c.cfg.MinStrategyTrades && s.Trades > 0 {
		winRate = contracts.Available(float64(s.Wins) / float64(s.Trades) * 100)
		avgRet = contracts.Available(s.AvgReturn * 100)
	}

	return []contracts.Fact{
		c.fact(contracts.FactStrategyWinRate, winRate, 1, "%"),
		c.fact(contracts.FactStrategyTrades, trades, 0, ""),
		c.fact(contracts.FactStrategyAvgReturn, avgRet, 2, "%"),
	}
}

// RequireFacts returns a DataUnavailableError naming every required fact without a value
func RequireFacts(set *contracts.GroundTruthSet, symbol string, required []string) error {
	var missing []string
	for _, name := range required {
		f, ok := set.Get(name)
		if !ok || !f.Value.IsAvailable() {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &contracts.DataUnavailableError{Symbol: symbol, Missing: missing}
	}
	return nil
}

// fact builds one Fact; facts.precision in config overrides the default decimals
func (c *Computer) fact(name string, v contracts.Availability[float64], precision int, unit string) contracts.Fact {
	if p, ok := c.cfg.Precision[name]; ok {
		precision = p
	}
	if x, ok := v.Get(); ok && (math.IsNaN(x) || math.IsInf(x, 0)) {
		v = contracts.Unavailable[float64]("not a finite number")
	}
	return contracts.Fact{Name: name, Value: v, Precision: precision, Unit: unit}
}

func last(series []float64, reason string) contracts.Availability[float64] {
	if len(series) == 0 {
		return contracts.Unavailable[float64](reason)
	}
	return contracts.Available(series[len(series)-1])
}

// periodReturn: percent change between the last value and the value n sessions earlier
func periodReturn(series []float64, n int) contracts.Availability[float64] {
	if len(series) < n+1 {
		return contracts.Unavailable[float64]("series too short")
	}
	base := series[len(series)-1-n]
	if base <= 0 {
		return contracts.Unavailable[float64]("non-positive base price")
	}
	return contracts.Available((series[len(series)-1]/base - 1) * 100)
}

func movingAverage(series []float64, window int) contracts.Availability[float64] {
	if window < 1 || len(series) < window {
		return contracts.Unavailable[float64]("series too short")
	}
	mean, err := stats.Mean(series[len(series)-window:])
	if err != nil {
		return contracts.Unavailable[float64](err.Error())
	}
	return contracts.Available(mean)
}

func gapPct(closes []float64, ma contracts.Availability[float64]) contracts.Availability[float64] {
	avg, ok := ma.Get()
	if !ok || len(closes) == 0 {
		return contracts.Unavailable[float64]("moving average unavailable")
	}
	if avg <= 0 {
		return contracts.Unavailable[float64]("non-positive moving average")
	}
	return contracts.Available((closes[len(closes)-1]/avg - 1) * 100)
}

// rsi calculates Relative Strength Index with Wilder smoothing
func rsi(closes []float64, period int) contracts.Availability[float64] {
	if period < 1 || len(closes) < period+1 {
		return contracts.Unavailable[float64]("series too short for RSI")
	}

	var gains, losses float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return contracts.Available(50.0)
		}
		return contracts.Available(100.0)
	}

	rs := avgGain / avgLoss
	return contracts.Available(100 - (100 / (1 + rs)))
}

// volatility: annualised sample stdev of daily returns, in percent
func volatility(closes []float64, window, annualization int) contracts.Availability[float64] {
	if window < 2 || len(closes) < window+1 {
		return contracts.Unavailable[float64]("series too short for volatility")
	}

	tail := closes[len(closes)-window-1:]
	returns := make(stats.Float64Data, 0, window)
	for i := 1; i < len(tail); i++ {
		if tail[i-1] <= 0 {
			return contracts.Unavailable[float64]("non-positive price in window")
		}
		returns = append(returns, tail[i]/tail[i-1]-1)
	}

	sd, err := stats.StandardDeviationSample(returns)
	if err != nil {
		return contracts.Unavailable[float64](err.Error())
	}
	return contracts.Available(sd * math.Sqrt(float64(annualization)) * 100)
}

// volumeRatio: last volume over the mean of the preceding window
func volumeRatio(volumes []float64, window int) contracts.Availability[float64] {
	if window < 1 || len(volumes) < window+1 {
		return contracts.Unavailable[float64]("volume series too short")
	}
	mean, err := stats.Mean(volumes[len(volumes)-window-1 : len(volumes)-1])
	if err != nil {
		return contracts.Unavailable[float64](err.Error())
	}
	if mean <= 0 {
		return contracts.Unavailable[float64]("zero average volume")
	}
	return contracts.Available(volumes[len(volumes)-1] / mean)
}

func difference(a, b contracts.Availability[float64]) contracts.Availability[float64] {
	x, okA := a.Get()
	y, okB := b.Get()
	if !okA || !okB {
		return contracts.Unavailable[float64]("relative strength needs both returns")
	}
	return contracts.Available(x - y)
}

// maxDrawdown: worst peak-to-trough decline over the series, in percent (<= 0)
func maxDrawdown(closes []float64) contracts.Availability[float64] {
	if len(closes) < 2 {
		return contracts.Unavailable[float64]("series too short for drawdown")
	}
	peak := closes[0]
	worst := 0.0
	for _, c := range closes {
		if c > peak {
			peak = c
		}
		if peak <= 0 {
			return contracts.Unavailable[float64]("non-positive price")
		}
		if dd := (c/peak - 1) * 100; dd < worst {
			worst = dd
		}
	}
	return contracts.Available(worst)
}
