package llm

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/wonny/aegis-narrator/internal/contracts"
	"github.com/wonny/aegis-narrator/pkg/logger"
)

// GeminiProvider generates through the Google GenAI SDK
type GeminiProvider struct {
	client *genai.Client
	logger *logger.Logger
}

// NewGeminiProvider creates a Gemini API client
func NewGeminiProvider(ctx context.Context, apiKey string, log *logger.Logger) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiProvider{client: client, logger: log}, nil
}

// Name returns the provider name
func (p *GeminiProvider) Name() string { return "gemini" }

// Generate calls Models.GenerateContent
func (p *GeminiProvider) Generate(ctx context.Context, prompt string, params contracts.GenerateParams) (contracts.Generation, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(params.Temperature)),
	}
	if params.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(params.MaxTokens)
	}
	if params.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(params.System, genai.RoleUser)
	}

	resp, err := p.client.Models.GenerateContent(ctx, params.Model, genai.Text(prompt), cfg)
	if err != nil {
		return contracts.Generation{}, classifyGemini(err)
	}

	gen := contracts.Generation{Text: resp.Text(), Model: params.Model}
	if resp.UsageMetadata != nil {
		gen.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		gen.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	if gen.Text == "" {
		return contracts.Generation{}, &contracts.ProviderError{Provider: "gemini", Err: errors.New("empty response")}
	}
	return gen, nil
}

func classifyGemini(err error) error {
	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	}
	if code == 0 {
		return classify("gemini", err)
	}
	return &contracts.ProviderError{Provider: "gemini", Kind: kindForStatus(code), StatusCode: code, Err: err}
}
