package llm

import (
	"context"
	"fmt"

	"github.com/wonny/aegis-narrator/internal/contracts"
	"github.com/wonny/aegis-narrator/pkg/config"
	"github.com/wonny/aegis-narrator/pkg/httputil"
	"github.com/wonny/aegis-narrator/pkg/logger"
)

// NewProvider builds the configured provider
// ⭐ SSOT: 벤더 선택은 여기서만 (LLM_PROVIDER)
func NewProvider(ctx context.Context, cfg *config.Config, log *logger.Logger) (contracts.LLMProvider, error) {
	switch cfg.LLM.Provider {
	case "openai":
		return NewOpenAIProvider(httputil.New(cfg, log), cfg.LLM.APIKey, cfg.LLM.BaseURL, log), nil
	case "gemini":
		p, err := NewGeminiProvider(ctx, cfg.LLM.APIKey, log)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "scripted", "":
		if cfg.LLM.ScriptPath == "" {
			return NewScriptedProvider(), nil
		}
		p, err := LoadScript(cfg.LLM.ScriptPath)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.LLM.Provider)
	}
}

// Params builds generation params from env config, overridden by non-zero report settings
func Params(cfg config.LLMConfig, system string, temperature float64, maxTokens int) contracts.GenerateParams {
	p := contracts.GenerateParams{
		Model:       cfg.Model,
		System:      system,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}
	if temperature > 0 {
		p.Temperature = temperature
	}
	if maxTokens > 0 {
		p.MaxTokens = maxTokens
	}
	return p
}

// JudgeParams returns params for judge calls (JudgeModel falls back to Model)
func JudgeParams(cfg config.LLMConfig) contracts.GenerateParams {
	model := cfg.JudgeModel
	if model == "" {
		model = cfg.Model
	}
	return contracts.GenerateParams{Model: model}
}
