package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/wonny/aegis-narrator/internal/contracts"
	"github.com/wonny/aegis-narrator/pkg/httputil"
	"github.com/wonny/aegis-narrator/pkg/logger"
)

const (
	naverChartURL   = "https://fchart.stock.naver.com"
	naverFinanceURL = "https://finance.naver.com"

	// FlowBlock is the context block carrying the investor flow summary
	FlowBlock = "INVESTOR_FLOW"

	flowSessions = 5
)

// NaverSource builds payloads from Naver Finance daily charts and the investor flow page
// ⭐ SSOT: Naver Finance 호출은 이 소스에서만
type NaverSource struct {
	client     *httputil.Client
	logger     *logger.Logger
	chartURL   string
	financeURL string
	benchmark  string
	lookback   int
	now        func() time.Time
}

// NaverOption configures a NaverSource
type NaverOption func(*NaverSource)

// WithBenchmark sets the benchmark chart symbol ("" disables the benchmark series)
func WithBenchmark(symbol string) NaverOption {
	return func(s *NaverSource) { s.benchmark = symbol }
}

// WithLookback sets how many trading days of history to keep
func WithLookback(days int) NaverOption {
	return func(s *NaverSource) {
		if days > 0 {
			s.lookback = days
		}
	}
}

// WithNaverURLs points the source at different hosts (tests)
func WithNaverURLs(chartURL, financeURL string) NaverOption {
	return func(s *NaverSource) {
		s.chartURL = strings.TrimRight(chartURL, "/")
		s.financeURL = strings.TrimRight(financeURL, "/")
	}
}

// NewNaverSource creates a Naver Finance source
func NewNaverSource(client *httputil.Client, log *logger.Logger, opts ...NaverOption) *NaverSource {
	s := &NaverSource{
		client: client.
			WithHeader("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36").
			WithHeader("Referer", "https://finance.naver.com/"),
		logger:     log,
		chartURL:   naverChartURL,
		financeURL: naverFinanceURL,
		benchmark:  "KOSPI",
		lookback:   120,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// dailyBar is one row of the daily chart
type dailyBar struct {
	Date   time.Time
	Close  float64
	Volume float64
}

// flowRow is one row of the investor flow table
type flowRow struct {
	Date           time.Time
	InstitutionNet int64
	ForeignNet     int64
}

// Fetch implements contracts.UpstreamSource
func (s *NaverSource) Fetch(ctx context.Context, symbol string, asOf time.Time) (*contracts.MarketPayload, error) {
	to := asOf
	if to.IsZero() {
		to = s.now()
	}
	// calendar span wide enough to cover lookback trading days
	from := to.AddDate(0, 0, -(s.lookback*7/5 + 10))

	bars, err := s.fetchBars(ctx, symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("fetch prices %s: %w", symbol, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w for %s from naver", ErrNoPayload, symbol)
	}
	if len(bars) > s.lookback {
		bars = bars[len(bars)-s.lookback:]
	}

	p := &contracts.MarketPayload{
		Symbol:  symbol,
		Closes:  make([]float64, len(bars)),
		Volumes: make([]float64, len(bars)),
	}
	for i, b := range bars {
		p.Closes[i] = b.Close
		p.Volumes[i] = b.Volume
	}

	// benchmark and flow are optional: a failure leaves the field empty
	if s.benchmark != "" {
		bench, err := s.fetchBars(ctx, s.benchmark, from, to)
		if err != nil {
			s.logger.WithError(err).WithField("benchmark", s.benchmark).Warn("Benchmark fetch failed")
		} else if aligned, ok := alignBenchmark(bars, bench); ok {
			p.Benchmark = aligned
		} else {
			s.logger.WithField("benchmark", s.benchmark).Warn("Benchmark dates do not cover symbol history")
		}
	}

	rows, err := s.fetchFlow(ctx, symbol, to)
	if err != nil {
		s.logger.WithError(err).WithField("symbol", symbol).Warn("Investor flow fetch failed")
	} else if text := flowSummary(rows); text != "" {
		p.Blocks = map[string]string{FlowBlock: text}
	}

	s.logger.WithFields(map[string]interface{}{
		"symbol":    symbol,
		"bars":      len(p.Closes),
		"benchmark": len(p.Benchmark) > 0,
	}).Debug("Fetched naver payload")

	return normalize(p, symbol, asOf), nil
}

// fetchBars calls the daily chart endpoint
func (s *NaverSource) fetchBars(ctx context.Context, symbol string, from, to time.Time) ([]dailyBar, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("requestType", "1")
	q.Set("startTime", from.Format("20060102"))
	q.Set("endTime", to.Format("20060102"))
	q.Set("timeframe", "day")

	body, err := s.get(ctx, s.chartURL+"/siseJson.naver?"+q.Encode())
	if err != nil {
		return nil, err
	}
	return parseChart(body)
}

// fetchFlow reads the first page of the investor flow table
func (s *NaverSource) fetchFlow(ctx context.Context, symbol string, to time.Time) ([]flowRow, error) {
	q := url.Values{}
	q.Set("code", symbol)
	q.Set("page", "1")

	body, err := s.get(ctx, s.financeURL+"/item/frgn.naver?"+q.Encode())
	if err != nil {
		return nil, err
	}
	rows, err := parseFlowHTML(body)
	if err != nil {
		return nil, err
	}

	// rows after the as-of date would leak future data
	kept := rows[:0]
	for _, r := range rows {
		if !r.Date.After(to) {
			kept = append(kept, r)
		}
	}
	return kept, nil
}

func (s *NaverSource) get(ctx context.Context, u string) (string, error) {
	resp, err := s.client.Get(ctx, u)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &httputil.StatusError{StatusCode: resp.StatusCode, Body: "naver"}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body failed: %w", err)
	}
	return string(body), nil
}

var chartRowRe = regexp.MustCompile(`\["(\d{8})",\s*([\d.]+),\s*([\d.]+),\s*([\d.]+),\s*([\d.]+),\s*([\d.]+)`)

// parseChart reads the siseJson response: a JS array with a header row,
// then [date, open, high, low, close, volume, ...] rows
func parseChart(body string) ([]dailyBar, error) {
	body = strings.TrimSpace(strings.ReplaceAll(body, "'", "\""))

	var raw [][]interface{}
	if err := json.Unmarshal([]byte(body), &raw); err == nil {
		return chartFromJSON(raw), nil
	}

	// the endpoint is not always valid JSON; fall back to row matching
	matches := chartRowRe.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 && body != "" && !strings.HasPrefix(body, "[") {
		return nil, fmt.Errorf("unrecognized chart response")
	}
	bars := make([]dailyBar, 0, len(matches))
	for _, m := range matches {
		date, err := time.Parse("20060102", m[1])
		if err != nil {
			continue
		}
		closeP, _ := strconv.ParseFloat(m[5], 64)
		vol, _ := strconv.ParseFloat(m[6], 64)
		bars = append(bars, dailyBar{Date: date, Close: closeP, Volume: vol})
	}
	sortBars(bars)
	return bars, nil
}

func chartFromJSON(raw [][]interface{}) []dailyBar {
	bars := make([]dailyBar, 0, len(raw))
	for i, row := range raw {
		if i == 0 || len(row) < 6 {
			continue // header
		}
		ds, ok := row[0].(string)
		if !ok {
			continue
		}
		date, err := time.Parse("20060102", strings.Trim(strings.TrimSpace(ds), `"`))
		if err != nil {
			continue
		}
		closeP := toFloat(row[4])
		if closeP <= 0 {
			continue
		}
		bars = append(bars, dailyBar{Date: date, Close: closeP, Volume: toFloat(row[5])})
	}
	sortBars(bars)
	return bars
}

func sortBars(bars []dailyBar) {
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
}

func toFloat(v interface{}) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f
	default:
		return 0
	}
}

// alignBenchmark returns benchmark closes on the symbol's dates, or false when any date is missing
func alignBenchmark(bars, bench []dailyBar) ([]float64, bool) {
	byDate := make(map[time.Time]float64, len(bench))
	for _, b := range bench {
		byDate[b.Date] = b.Close
	}
	out := make([]float64, len(bars))
	for i, b := range bars {
		v, ok := byDate[b.Date]
		if !ok {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

var flowDateRe = regexp.MustCompile(`^\d{4}\.\d{2}\.\d{2}$`)

// parseFlowHTML reads the investor table: 날짜 | 종가 | 대비 | 등락률 | 거래량 | 기관 | 외국인
// Rows come back newest first.
func parseFlowHTML(html string) ([]flowRow, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse investor page: %w", err)
	}

	// 두번째 type2 테이블이 데이터 테이블
	tables := doc.Find("table.type2")
	if tables.Length() < 2 {
		return nil, nil
	}

	var rows []flowRow
	tables.Eq(1).Find("tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() < 7 {
			return
		}
		dateText := strings.TrimSpace(cells.Eq(0).Text())
		if !flowDateRe.MatchString(dateText) {
			return
		}
		date, err := time.Parse("2006.01.02", dateText)
		if err != nil {
			return
		}
		rows = append(rows, flowRow{
			Date:           date,
			InstitutionNet: parseNet(cells.Eq(5).Text()),
			ForeignNet:     parseNet(cells.Eq(6).Text()),
		})
	})
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Date.After(rows[j].Date) })
	return rows, nil
}

func parseNet(s string) int64 {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, "+", "")
	if s == "" || s == "-" {
		return 0
	}
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

// flowSummary sums the latest sessions into one sentence
func flowSummary(rows []flowRow) string {
	if len(rows) == 0 {
		return ""
	}
	n := flowSessions
	if len(rows) < n {
		n = len(rows)
	}
	var foreign, inst int64
	for _, r := range rows[:n] {
		foreign += r.ForeignNet
		inst += r.InstitutionNet
	}
	return fmt.Sprintf("Over the last %d sessions foreign investors were net %s %d shares and institutions were net %s %d shares.",
		n, side(foreign), abs64(foreign), side(inst), abs64(inst))
}

func side(v int64) string {
	if v < 0 {
		return "sellers of"
	}
	return "buyers of"
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
