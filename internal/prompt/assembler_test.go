package prompt

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-narrator/internal/assembly"
	"github.com/wonny/aegis-narrator/internal/contracts"
	"github.com/wonny/aegis-narrator/pkg/logger"
)

type stubRegistry map[string]*contracts.PromptTemplate

func (s stubRegistry) Get(_ context.Context, name, _ string) (*contracts.PromptTemplate, error) {
	if tpl, ok := s[name]; ok {
		return tpl, nil
	}
	return nil, contracts.ErrTemplateNotFound
}

var noteTemplate = &contracts.PromptTemplate{
	Name:    "note",
	Version: "1",
	Text: "Write a note.\n" +
		"RSI is {{RSI}} and reads {{RSI_STATE}}.\n" +
		"The strategy won {{STRATEGY_WIN_RATE}} of trades.\n" +
		"Close with a risk.",
	Placeholders: []contracts.PlaceholderSpec{
		{Name: "RSI", Source: contracts.SourceFact, Format: "number", Description: "14-day RSI", Example: "RSI of {{RSI}}"},
		{Name: "RSI_STATE", Source: contracts.SourceState, Format: "label", Example: "momentum reads {{RSI_STATE}}"},
		{Name: "STRATEGY_WIN_RATE", Source: contracts.SourceFact, Format: "percent", Example: "a {{STRATEGY_WIN_RATE}} hit rate"},
	},
}

func scenario(t *testing.T) (*assembly.Result, *contracts.SemanticState) {
	t.Helper()
	facts := contracts.NewGroundTruthSet([]contracts.Fact{
		{Name: "RSI", Value: contracts.Available(72.0)},
		{Name: "STRATEGY_WIN_RATE", Value: contracts.Unavailable[float64]("no strategy data")},
	})
	states := contracts.NewSemanticState(map[string]contracts.Availability[contracts.State]{
		"RSI_STATE": contracts.Available(contracts.State{Label: "overbought", Phrase: "momentum is stretched"}),
	})
	res := assembly.NewAssembler(nil, logger.Nop()).Assemble(facts, states, nil, noteTemplate.Placeholders)
	return res, states
}

func TestRender_ScenarioB_VocabularyIsResolvableSetOnly(t *testing.T) {
	a := NewAssembler(stubRegistry{"note": noteTemplate}, "system", logger.Nop())
	res, states := scenario(t)

	p := a.Render(noteTemplate, res, states, nil)

	assert.Equal(t, []string{"RSI", "RSI_STATE"}, p.Vocabulary)
	assert.Contains(t, p.Text, "- {{RSI}}: 14-day RSI")
	assert.Contains(t, p.Text, "- {{RSI_STATE}}")
	assert.NotContains(t, p.Text, "{{STRATEGY_WIN_RATE}}", "unavailable token must never be offered")
	assert.NotContains(t, p.Text, "The strategy won")
	assert.Equal(t, 1, p.DroppedLines)
	assert.Equal(t, "system", p.System)
	assert.False(t, p.Strict)
}

func TestRender_MarketPictureHasNoFigures(t *testing.T) {
	a := NewAssembler(stubRegistry{}, "", logger.Nop())
	res, states := scenario(t)

	p := a.Render(noteTemplate, res, states, nil)

	assert.Contains(t, p.Text, "## Market picture\n- rsi state: overbought (momentum is stretched)")
	assert.NotContains(t, p.Text, "72")
}

func TestRender_StrictNamesForbiddenWithoutTokenGrammar(t *testing.T) {
	a := NewAssembler(stubRegistry{}, "", logger.Nop())
	res, states := scenario(t)

	p := a.Render(noteTemplate, res, states, []string{"STRATEGY_WIN_RATE"})

	assert.True(t, p.Strict)
	assert.Contains(t, p.Text, "## Strict mode")
	assert.Contains(t, p.Text, "STRATEGY_WIN_RATE")
	assert.NotContains(t, p.Text, "{{STRATEGY_WIN_RATE}}")
}

func TestRender_EmptyResolvableSet(t *testing.T) {
	a := NewAssembler(stubRegistry{}, "", logger.Nop())
	empty := &assembly.Result{Context: contracts.NewContext(nil)}

	p := a.Render(noteTemplate, empty, nil, nil)

	assert.Empty(t, p.Vocabulary)
	assert.Contains(t, p.Text, "No placeholders are available")
	assert.Equal(t, 2, p.DroppedLines)
}

func TestResolve_TemplateMismatch(t *testing.T) {
	bad := &contracts.PromptTemplate{
		Name:         "bad",
		Version:      "3",
		Text:         "Price {{PRICE}} and {{PE_RATIO}}.",
		Placeholders: []contracts.PlaceholderSpec{{Name: "PRICE"}},
	}
	a := NewAssembler(stubRegistry{"bad": bad}, "", logger.Nop())

	_, err := a.Resolve(context.Background(), "bad", "")

	var tm *contracts.TemplateMismatchError
	require.True(t, errors.As(err, &tm))
	assert.Equal(t, []string{"PE_RATIO"}, tm.Unknown)
	assert.Equal(t, "3", tm.Version)
}

func TestResolve_NotFound(t *testing.T) {
	a := NewAssembler(stubRegistry{}, "", logger.Nop())

	_, err := a.Resolve(context.Background(), "missing", "")
	assert.True(t, errors.Is(err, contracts.ErrTemplateNotFound))
}

func TestValidateTemplate_ExampleTokens(t *testing.T) {
	tpl := &contracts.PromptTemplate{
		Name:         "t",
		Text:         "{{A}}",
		Placeholders: []contracts.PlaceholderSpec{{Name: "A", Example: "{{A}} vs {{B}}"}},
	}
	var tm *contracts.TemplateMismatchError
	require.True(t, errors.As(ValidateTemplate(tpl), &tm))
	assert.Equal(t, []string{"B"}, tm.Unknown)
}
