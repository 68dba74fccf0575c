package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-narrator/pkg/httputil"
	"github.com/wonny/aegis-narrator/pkg/logger"
)

const sampleChart = `[['날짜', '시가', '고가', '저가', '종가', '거래량', '외국인소진율'],
["20240115", 72000, 73000, 71500, 72500, 1000000, 53.1],
["20240116", 72500, 73500, 72000, 73000, 1200000, 53.2],
["20240117", 73000, 74000, 72500, 73800, 900000, 53.3]
]`

const sampleBench = `[['날짜', '시가', '고가', '저가', '종가', '거래량'],
["20240115", 2500, 2510, 2490, 2505.5, 1],
["20240116", 2505, 2520, 2500, 2515.25, 1],
["20240117", 2515, 2530, 2510, 2525, 1]
]`

const sampleFlow = `
<html><body>
<table class="type2"><tr><th>Header</th></tr></table>
<table class="type2">
	<tr><td>2024.01.18</td><td>74,000</td><td>+200</td><td>+0.27%</td><td>800,000</td><td>+999,999</td><td>+999,999</td></tr>
	<tr><td>2024.01.16</td><td>73,000</td><td>+500</td><td>+0.69%</td><td>1,200,000</td><td>+60,000</td><td>+40,000</td></tr>
	<tr><td>2024.01.15</td><td>72,500</td><td>+500</td><td>+0.69%</td><td>1,000,000</td><td>+50,000</td><td>-30,000</td></tr>
	<tr><td>invalid date</td><td>73,000</td></tr>
</table>
</body></html>`

func naverServer(t *testing.T, benchStatus int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/siseJson.naver":
			if r.URL.Query().Get("symbol") == "KOSPI" {
				if benchStatus != http.StatusOK {
					w.WriteHeader(benchStatus)
					return
				}
				_, _ = w.Write([]byte(sampleBench))
				return
			}
			_, _ = w.Write([]byte(sampleChart))
		case "/item/frgn.naver":
			_, _ = w.Write([]byte(sampleFlow))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestNaver(srv *httptest.Server, opts ...NaverOption) *NaverSource {
	opts = append([]NaverOption{WithNaverURLs(srv.URL, srv.URL)}, opts...)
	return NewNaverSource(httputil.NewWithTimeout(logger.Nop(), 5*time.Second), logger.Nop(), opts...)
}

func TestNaverSource_Fetch(t *testing.T) {
	srv := naverServer(t, http.StatusOK)
	src := newTestNaver(srv, WithLookback(2))
	asOf := time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC)

	p, err := src.Fetch(context.Background(), "005930", asOf)
	require.NoError(t, err)

	assert.Equal(t, "005930", p.Symbol)
	assert.Equal(t, []float64{73000, 73800}, p.Closes)
	assert.Equal(t, []float64{1200000, 900000}, p.Volumes)
	assert.Equal(t, []float64{2515.25, 2525}, p.Benchmark)
	require.NotNil(t, p.AsOf)
	assert.True(t, p.AsOf.Equal(asOf))

	// the 01.18 row is after the as-of date and must not leak in
	assert.Equal(t,
		"Over the last 2 sessions foreign investors were net buyers of 10000 shares and institutions were net buyers of 110000 shares.",
		p.Blocks[FlowBlock])
}

func TestNaverSource_BenchmarkIsOptional(t *testing.T) {
	srv := naverServer(t, http.StatusInternalServerError)
	src := newTestNaver(srv)

	p, err := src.Fetch(context.Background(), "005930", time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, p.Closes, 3)
	assert.Nil(t, p.Benchmark)
}

func TestNaverSource_NoBenchmark(t *testing.T) {
	srv := naverServer(t, http.StatusOK)
	src := newTestNaver(srv, WithBenchmark(""))

	p, err := src.Fetch(context.Background(), "005930", time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Nil(t, p.Benchmark)
}

func TestNaverSource_EmptyChart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[['날짜', '종가']]`))
	}))
	defer srv.Close()

	_, err := newTestNaver(srv).Fetch(context.Background(), "999999", time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoPayload))
}

func TestParseChart_RegexFallback(t *testing.T) {
	// truncated body is not valid JSON
	body := `[['날짜', '종가'],
["20240116", 1, 2, 3, 4.5, 10],
["20240115", 1, 2, 3, 4, 20],
`
	bars, err := parseChart(body)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 4.0, bars[0].Close)
	assert.Equal(t, 4.5, bars[1].Close)
	assert.Equal(t, 20.0, bars[0].Volume)
}

func TestParseChart_Unrecognized(t *testing.T) {
	_, err := parseChart("<html>maintenance</html>")
	assert.Error(t, err)
}

func TestAlignBenchmark_MissingDate(t *testing.T) {
	d := func(day int) time.Time { return time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC) }
	bars := []dailyBar{{Date: d(15)}, {Date: d(16)}}

	_, ok := alignBenchmark(bars, []dailyBar{{Date: d(15), Close: 1}})
	assert.False(t, ok)

	out, ok := alignBenchmark(bars, []dailyBar{{Date: d(16), Close: 2}, {Date: d(15), Close: 1}})
	require.True(t, ok)
	assert.Equal(t, []float64{1, 2}, out)
}

func TestParseFlowHTML(t *testing.T) {
	rows, err := parseFlowHTML(sampleFlow)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	// newest first
	assert.Equal(t, 18, rows[0].Date.Day())
	assert.Equal(t, int64(-30000), rows[2].ForeignNet)
	assert.Equal(t, int64(50000), rows[2].InstitutionNet)

	rows, err = parseFlowHTML(`<table class="type2"></table>`)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Empty(t, flowSummary(rows))
}
