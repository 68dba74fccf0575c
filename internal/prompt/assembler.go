package prompt

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/wonny/aegis-narrator/internal/assembly"
	"github.com/wonny/aegis-narrator/internal/contracts"
	"github.com/wonny/aegis-narrator/internal/inject"
	"github.com/wonny/aegis-narrator/pkg/logger"
)

// Prompt is the rendered request for the narrative generator
type Prompt struct {
	Text         string
	System       string
	Template     *contracts.PromptTemplate
	Vocabulary   []string // exactly the resolvable token names, declaration order
	DroppedLines int
	Strict       bool
}

// Assembler resolves templates and renders prompts restricted to the resolvable set
type Assembler struct {
	registry contracts.TemplateRegistry
	system   string
	logger   *logger.Logger
}

// NewAssembler creates a prompt assembler
func NewAssembler(registry contracts.TemplateRegistry, system string, log *logger.Logger) *Assembler {
	return &Assembler{registry: registry, system: system, logger: log}
}

// Resolve fetches a template and checks every referenced token is declared
func (a *Assembler) Resolve(ctx context.Context, name, version string) (*contracts.PromptTemplate, error) {
	tpl, err := a.registry.Get(ctx, name, version)
	if err != nil {
		return nil, fmt.Errorf("resolve template %s: %w", name, err)
	}
	if err := ValidateTemplate(tpl); err != nil {
		return nil, err
	}
	return tpl, nil
}

// ValidateTemplate returns TemplateMismatchError when the text (or a worked example)
// references a token without a PlaceholderSpec
func ValidateTemplate(tpl *contracts.PromptTemplate) error {
	var unknown []string
	seen := make(map[string]bool)

	check := func(text string) {
		for _, tok := range inject.Tokens(text) {
			if _, ok := tpl.Spec(tok); !ok && !seen[tok] {
				seen[tok] = true
				unknown = append(unknown, tok)
			}
		}
	}
	check(tpl.Text)
	for _, p := range tpl.Placeholders {
		check(p.Example)
	}

	if len(unknown) > 0 {
		return &contracts.TemplateMismatchError{Template: tpl.Name, Version: tpl.Version, Unknown: unknown}
	}
	return nil
}

// Render builds the prompt. forbidden names tokens a previous draft used without data;
// passing any switches on the strict instruction.
func (a *Assembler) Render(
	tpl *contracts.PromptTemplate,
	res *assembly.Result,
	states *contracts.SemanticState,
	forbidden []string,
) *Prompt {
	allowed := make(map[string]bool, len(res.Resolvable))
	for _, p := range res.Resolvable {
		allowed[p.Name] = true
	}

	body, dropped := filterLines(tpl.Text, allowed)

	var b strings.Builder
	b.WriteString(strings.TrimSpace(body))
	b.WriteString("\n\n")

	writeMarketPicture(&b, states)
	writeVocabulary(&b, res.Resolvable)
	writeExamples(&b, res.Resolvable, allowed)

	strict := len(forbidden) > 0
	if strict {
		b.WriteString("## Strict mode\n")
		b.WriteString("A previous draft referenced data that does not exist for this report: ")
		b.WriteString(strings.Join(forbidden, ", "))
		b.WriteString(".\nDo not mention those figures at all and use no placeholder outside the list above.\n")
	}

	p := &Prompt{
		Text:         strings.TrimSpace(b.String()) + "\n",
		System:       a.system,
		Template:     tpl,
		Vocabulary:   res.ResolvableNames(),
		DroppedLines: dropped,
		Strict:       strict,
	}

	a.logger.WithFields(map[string]interface{}{
		"template":      tpl.ID(),
		"vocabulary":    len(p.Vocabulary),
		"dropped_lines": dropped,
		"prompt_chars":  len(p.Text),
		"strict":        strict,
	}).Debug("Rendered prompt")

	return p
}

// filterLines drops every line referencing a token outside allowed
func filterLines(text string, allowed map[string]bool) (string, int) {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	dropped := 0
	for _, line := range lines {
		if allResolvable(line, allowed) {
			kept = append(kept, line)
		} else {
			dropped++
		}
	}
	return strings.Join(kept, "\n"), dropped
}

func allResolvable(text string, allowed map[string]bool) bool {
	for _, tok := range inject.Tokens(text) {
		if !allowed[tok] {
			return false
		}
	}
	return true
}

// writeMarketPicture lists available state labels. Labels only, never figures.
func writeMarketPicture(b *strings.Builder, states *contracts.SemanticState) {
	if states == nil {
		return
	}
	labels := states.Labels()
	if len(labels) == 0 {
		return
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteString("## Market picture\n")
	for _, k := range keys {
		st, _ := states.Get(k)
		s, _ := st.Get()
		fmt.Fprintf(b, "- %s: %s", humanize(k), s.Label)
		if s.Phrase != "" {
			fmt.Fprintf(b, " (%s)", s.Phrase)
		}
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
}

func writeVocabulary(b *strings.Builder, specs []contracts.PlaceholderSpec) {
	b.WriteString("## Placeholders\n")
	b.WriteString("Never write market figures as digits. Write each figure as its placeholder token, exactly as shown.\n")
	if len(specs) == 0 {
		b.WriteString("No placeholders are available for this report: describe the picture qualitatively.\n\n")
		return
	}
	b.WriteString("You may use only these placeholders:\n")
	for _, p := range specs {
		fmt.Fprintf(b, "- {{%s}}", p.Name)
		if p.Description != "" {
			fmt.Fprintf(b, ": %s", p.Description)
		}
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
}

func writeExamples(b *strings.Builder, specs []contracts.PlaceholderSpec, allowed map[string]bool) {
	var examples []string
	for _, p := range specs {
		if p.Example != "" && allResolvable(p.Example, allowed) {
			examples = append(examples, p.Example)
		}
	}
	if len(examples) == 0 {
		return
	}
	b.WriteString("## Examples\n")
	for _, ex := range examples {
		fmt.Fprintf(b, "- %s\n", ex)
	}
	b.WriteByte('\n')
}

// humanize turns RSI_STATE into "rsi state"
func humanize(key string) string {
	return strings.ToLower(strings.ReplaceAll(key, "_", " "))
}
