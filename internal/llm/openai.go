package llm

import (
	"context"
	"errors"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/wonny/aegis-narrator/internal/contracts"
	"github.com/wonny/aegis-narrator/pkg/httputil"
	"github.com/wonny/aegis-narrator/pkg/logger"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIProvider calls any OpenAI-compatible chat completions endpoint through the official SDK.
// Requests go out over the shared httputil.Client; retries belong to retry.Policy.
type OpenAIProvider struct {
	client openai.Client
	logger *logger.Logger
}

// NewOpenAIProvider creates a provider. baseURL "" uses api.openai.com.
func NewOpenAIProvider(client *httputil.Client, apiKey, baseURL string, log *logger.Logger) *OpenAIProvider {
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &OpenAIProvider{
		client: openai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithBaseURL(baseURL),
			option.WithHTTPClient(client),
			option.WithMaxRetries(0),
		),
		logger: log,
	}
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string { return "openai" }

// Generate sends one chat completion
func (p *OpenAIProvider) Generate(ctx context.Context, prompt string, params contracts.GenerateParams) (contracts.Generation, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if params.System != "" {
		messages = append(messages, openai.SystemMessage(params.System))
	}
	messages = append(messages, openai.UserMessage(prompt))

	req := openai.ChatCompletionNewParams{
		Model:       params.Model,
		Messages:    messages,
		Temperature: openai.Float(params.Temperature),
	}
	if params.MaxTokens > 0 {
		req.MaxTokens = openai.Int(int64(params.MaxTokens))
	}

	resp, err := p.client.Chat.Completions.New(ctx, req)
	if err != nil {
		return contracts.Generation{}, classify(p.Name(), statusError(err))
	}
	if len(resp.Choices) == 0 {
		return contracts.Generation{}, &contracts.ProviderError{Provider: p.Name(), Err: errors.New("response has no choices")}
	}

	return contracts.Generation{
		Text:             resp.Choices[0].Message.Content,
		Model:            resp.Model,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
	}, nil
}

// statusError maps an SDK API error onto httputil.StatusError so classify
// and retry.Policy see the status and Retry-After like any other upstream
func statusError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	se := &httputil.StatusError{StatusCode: apiErr.StatusCode, Body: apiErr.Message}
	if apiErr.Response != nil {
		se.RetryAfter = httputil.RetryAfter(apiErr.Response)
	}
	return se
}
