package llm

import (
	"context"
	"fmt"

	"github.com/wonny/aegis-narrator/internal/contracts"
	"github.com/wonny/aegis-narrator/internal/pool"
	"github.com/wonny/aegis-narrator/internal/prompt"
	"github.com/wonny/aegis-narrator/pkg/logger"
	"github.com/wonny/aegis-narrator/pkg/retry"
)

// Generator is the NarrativeGenerator: one provider call behind the shared retry policy
// and the shared admission pool. The text is returned untouched.
type Generator struct {
	provider contracts.LLMProvider
	pool     *pool.Pool
	policy   *retry.Policy
	params   contracts.GenerateParams
	logger   *logger.Logger
}

// NewGenerator creates a generator
func NewGenerator(provider contracts.LLMProvider, p *pool.Pool, policy *retry.Policy, params contracts.GenerateParams, log *logger.Logger) *Generator {
	return &Generator{provider: provider, pool: p, policy: policy, params: params, logger: log}
}

// Provider returns the wrapped provider
func (g *Generator) Provider() contracts.LLMProvider {
	return g.provider
}

// Generate returns the raw narrative for p
func (g *Generator) Generate(ctx context.Context, p *prompt.Prompt) (contracts.RawNarrative, error) {
	params := g.params
	if p.System != "" {
		params.System = p.System
	}

	var gen contracts.Generation
	err := g.policy.Do(ctx, "generate", func(ctx context.Context) error {
		return g.pool.Do(ctx, "generate", func(ctx context.Context) error {
			out, err := g.provider.Generate(ctx, p.Text, params)
			if err != nil {
				return err
			}
			gen = out
			return nil
		})
	})
	if err != nil {
		return "", fmt.Errorf("generate narrative via %s: %w", g.provider.Name(), err)
	}

	MeterFrom(ctx).Record(gen)

	g.logger.FromContext(ctx).WithFields(map[string]interface{}{
		"provider":          g.provider.Name(),
		"model":             gen.Model,
		"prompt_tokens":     gen.PromptTokens,
		"completion_tokens": gen.CompletionTokens,
		"strict":            p.Strict,
	}).Info("Generated narrative")

	return contracts.RawNarrative(gen.Text), nil
}
