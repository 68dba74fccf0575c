package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-narrator/internal/contracts"
	"github.com/wonny/aegis-narrator/internal/pool"
	"github.com/wonny/aegis-narrator/internal/prompt"
	"github.com/wonny/aegis-narrator/internal/reportconfig"
	"github.com/wonny/aegis-narrator/pkg/config"
	"github.com/wonny/aegis-narrator/pkg/httputil"
	"github.com/wonny/aegis-narrator/pkg/logger"
	"github.com/wonny/aegis-narrator/pkg/retry"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) Generate(ctx context.Context, prompt string, params contracts.GenerateParams) (contracts.Generation, error) {
	args := m.Called(ctx, prompt, params)
	return args.Get(0).(contracts.Generation), args.Error(1)
}

func testPolicy(maxRetries int) *retry.Policy {
	return retry.New(config.RetryConfig{MaxRetries: maxRetries, InitialDelay: time.Millisecond, AttemptTimeout: time.Second}, logger.Nop())
}

func testPool() *pool.Pool {
	return pool.New(config.PoolConfig{MaxConcurrent: 4}, nil, logger.Nop())
}

func TestGenerator_RetriesRateLimitThenSucceeds(t *testing.T) {
	prov := &mockProvider{}
	rateLimited := &contracts.ProviderError{Provider: "mock", Kind: contracts.ErrRateLimited, StatusCode: 429, Err: errors.New("slow down")}
	prov.On("Generate", mock.Anything, "prompt text", mock.Anything).Return(contracts.Generation{}, rateLimited).Once()
	prov.On("Generate", mock.Anything, "prompt text", mock.Anything).
		Return(contracts.Generation{Text: "RSI {{RSI}}", PromptTokens: 100, CompletionTokens: 20}, nil).Once()

	gen := NewGenerator(prov, testPool(), testPolicy(2), contracts.GenerateParams{Model: "m"}, logger.Nop())
	meter := NewMeter(reportconfig.Pricing{PromptPer1K: 1, CompletionPer1K: 2})
	ctx := WithMeter(context.Background(), meter)

	raw, err := gen.Generate(ctx, &prompt.Prompt{Text: "prompt text", System: "sys"})
	require.NoError(t, err)
	assert.Equal(t, contracts.RawNarrative("RSI {{RSI}}"), raw, "text must come back untouched")

	prov.AssertNumberOfCalls(t, "Generate", 2)
	usage := meter.Usage()
	assert.Equal(t, 1, usage.Calls)
	assert.Equal(t, 120, usage.TotalTokens())
	assert.InDelta(t, 0.1+0.04, usage.CostUSD, 1e-9)

	params := prov.Calls[1].Arguments.Get(2).(contracts.GenerateParams)
	assert.Equal(t, "sys", params.System)
}

func TestGenerator_PermanentErrorNotRetried(t *testing.T) {
	prov := &mockProvider{}
	bad := &contracts.ProviderError{Provider: "mock", StatusCode: 400, Err: errors.New("bad request")}
	prov.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(contracts.Generation{}, bad)

	gen := NewGenerator(prov, testPool(), testPolicy(2), contracts.GenerateParams{}, logger.Nop())
	_, err := gen.Generate(context.Background(), &prompt.Prompt{Text: "p"})

	require.Error(t, err)
	prov.AssertNumberOfCalls(t, "Generate", 1)
}

func TestGenerator_CancelledContext(t *testing.T) {
	gen := NewGenerator(NewScriptedProvider("x"), testPool(), testPolicy(2), contracts.GenerateParams{}, logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := gen.Generate(ctx, &prompt.Prompt{Text: "p"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestJudge_ScoreAndRetryOnTimeout(t *testing.T) {
	prov := &mockProvider{}
	timeout := &contracts.ProviderError{Provider: "mock", Kind: contracts.ErrTimeout, Err: context.DeadlineExceeded}
	prov.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(contracts.Generation{}, timeout).Once()
	prov.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(contracts.Generation{Text: `{"score": 0.8}`}, nil).Once()

	j := NewJudge(prov, testPool(), testPolicy(1), contracts.GenerateParams{Model: "judge"}, logger.Nop())
	score, err := j.Score(context.Background(), contracts.JudgeCriterion{Name: "clarity", Rubric: "clear?"}, contracts.ResolvedReport{Text: "note"}, nil)

	require.NoError(t, err)
	assert.Equal(t, 0.8, score)

	params := prov.Calls[0].Arguments.Get(2).(contracts.GenerateParams)
	assert.Zero(t, params.Temperature)
	assert.Contains(t, prov.Calls[0].Arguments.String(1), "Rubric: clear?")
}

func TestJudge_ExhaustedTimeouts(t *testing.T) {
	prov := &mockProvider{}
	timeout := &contracts.ProviderError{Provider: "mock", Kind: contracts.ErrTimeout, Err: context.DeadlineExceeded}
	prov.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(contracts.Generation{}, timeout)

	j := NewJudge(prov, testPool(), testPolicy(1), contracts.GenerateParams{}, logger.Nop())
	_, err := j.Score(context.Background(), contracts.JudgeCriterion{Name: "insight"}, contracts.ResolvedReport{}, nil)

	var ex *retry.ExhaustedError
	require.True(t, errors.As(err, &ex))
	assert.Equal(t, 2, ex.Attempts)
	assert.True(t, errors.Is(err, contracts.ErrTimeout))
}

func TestParseScore(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{`{"score": 0.75}`, 0.75, false},
		{"```json\n{\"score\": 1}\n```", 1, false},
		{"Score: 0.4 because...", 0.4, false},
		{"0", 0, false},
		{`{"score": 7}`, 0, true},
		{"no idea", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseScore(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

type chatRequest struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func TestOpenAIProvider_Generate(t *testing.T) {
	var seen chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&seen))
		_, _ = w.Write([]byte(`{"model":"gpt-test","choices":[{"message":{"role":"assistant","content":"## Summary\n{{PRICE}}"}}],"usage":{"prompt_tokens":12,"completion_tokens":3}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(httputil.NewWithTimeout(logger.Nop(), time.Second), "sk-test", srv.URL+"/v1/", logger.Nop())
	gen, err := p.Generate(context.Background(), "write", contracts.GenerateParams{Model: "gpt-test", System: "sys", MaxTokens: 50})

	require.NoError(t, err)
	assert.Equal(t, "## Summary\n{{PRICE}}", gen.Text)
	assert.Equal(t, 12, gen.PromptTokens)
	assert.Equal(t, 3, gen.CompletionTokens)
	assert.Equal(t, "gpt-test", seen.Model)
	assert.Equal(t, 50, seen.MaxTokens)
	require.Len(t, seen.Messages, 2)
	assert.Equal(t, "system", seen.Messages[0].Role)
	assert.Equal(t, "write", seen.Messages[1].Content)
}

func TestOpenAIProvider_ClassifiesRateLimit(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit_exceeded"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(httputil.NewWithTimeout(logger.Nop(), time.Second), "k", srv.URL, logger.Nop())
	_, err := p.Generate(context.Background(), "x", contracts.GenerateParams{Model: "gpt-test"})

	assert.True(t, errors.Is(err, contracts.ErrRateLimited))
	assert.True(t, retry.IsRetryable(err))
	assert.Equal(t, 1, calls, "the SDK must not retry on its own")

	var se *httputil.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
	assert.Equal(t, 2*time.Second, se.RetryDelay())
	assert.Equal(t, "slow down", se.Body)
}

func TestClassify_Timeout(t *testing.T) {
	err := classify("openai", context.DeadlineExceeded)
	assert.True(t, errors.Is(err, contracts.ErrTimeout))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestScriptedProvider_CyclesAndCounts(t *testing.T) {
	p := NewScriptedProvider("a", "b")
	ctx := context.Background()

	var got []string
	for i := 0; i < 3; i++ {
		gen, err := p.Generate(ctx, "prompt", contracts.GenerateParams{})
		require.NoError(t, err)
		got = append(got, gen.Text)
	}
	assert.Equal(t, []string{"a", "b", "a"}, got)
	assert.Equal(t, 3, p.Calls())
	assert.Len(t, p.Prompts(), 3)
}

func TestLoadScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.md")
	require.NoError(t, os.WriteFile(path, []byte("first\n---\nsecond\n---\n"), 0o644))

	p, err := LoadScript(path)
	require.NoError(t, err)

	gen, _ := p.Generate(context.Background(), "", contracts.GenerateParams{})
	assert.Equal(t, "first", gen.Text)
	gen, _ = p.Generate(context.Background(), "", contracts.GenerateParams{})
	assert.Equal(t, "second", gen.Text)
}

func TestSynthesize(t *testing.T) {
	prompt := strings.Join([]string{
		"Write a daily market note on {{SYMBOL}}.",
		`Use exactly these markdown sections: "## Summary", "## Outlook".`,
		"Summary: the close at {{PRICE}}",
		"Outlook: close with the key risk to watch.",
		"",
		"## Placeholders",
		"Summary: should be ignored after the first heading",
	}, "\n")

	out := Synthesize(prompt)
	assert.Equal(t, "## Summary\nThe close at {{PRICE}}.\n\n## Outlook\nClose with the key risk to watch.", out)
}

func TestMeter_NilSafeAndConcurrent(t *testing.T) {
	var nilMeter *Meter
	nilMeter.Record(contracts.Generation{PromptTokens: 1})
	assert.Zero(t, nilMeter.Usage().Calls)
	assert.Nil(t, MeterFrom(context.Background()))

	m := NewMeter(reportconfig.Pricing{})
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Record(contracts.Generation{PromptTokens: 1})
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, m.Usage().Calls)
}
