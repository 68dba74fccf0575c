package llm

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/wonny/aegis-narrator/internal/contracts"
)

// ScriptedProvider returns canned narratives in order (cycling), or synthesizes one from
// the prompt when no script is loaded. Used for dry runs and tests.
type ScriptedProvider struct {
	mu        sync.Mutex
	responses []string
	next      int
	calls     int
	prompts   []string
}

// NewScriptedProvider creates a provider over fixed responses
func NewScriptedProvider(responses ...string) *ScriptedProvider {
	return &ScriptedProvider{responses: responses}
}

// LoadScript reads responses separated by lines containing only "---"
func LoadScript(path string) (*ScriptedProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	var responses []string
	for _, part := range regexp.MustCompile(`(?m)^---\s*$`).Split(string(data), -1) {
		if s := strings.TrimSpace(part); s != "" {
			responses = append(responses, s)
		}
	}
	return NewScriptedProvider(responses...), nil
}

// Name returns the provider name
func (p *ScriptedProvider) Name() string { return "scripted" }

// Generate returns the next scripted response
func (p *ScriptedProvider) Generate(ctx context.Context, prompt string, params contracts.GenerateParams) (contracts.Generation, error) {
	if err := ctx.Err(); err != nil {
		return contracts.Generation{}, err
	}

	p.mu.Lock()
	p.calls++
	p.prompts = append(p.prompts, prompt)
	var text string
	if len(p.responses) > 0 {
		text = p.responses[p.next%len(p.responses)]
		p.next++
	}
	p.mu.Unlock()

	if text == "" {
		text = Synthesize(prompt)
	}

	return contracts.Generation{
		Text:             text,
		Model:            "scripted",
		PromptTokens:     estimateTokens(prompt),
		CompletionTokens: estimateTokens(text),
	}, nil
}

// Calls returns how many times Generate ran
func (p *ScriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Prompts returns every prompt received, in order
func (p *ScriptedProvider) Prompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.prompts...)
}

var sectionLine = regexp.MustCompile(`^([A-Z][a-z]+(?: [A-Z][a-z]+){0,2}):\s+(.+)$`)

// Synthesize writes a markdown narrative from prompt lines shaped "Section: instruction".
// Tokens in those lines were already filtered to the resolvable set, so the result
// only uses placeholders that can be injected.
func Synthesize(prompt string) string {
	var order []string
	sections := make(map[string][]string)

	for _, line := range strings.Split(prompt, "\n") {
		if strings.HasPrefix(line, "## ") {
			break
		}
		m := sectionLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		name := m[1]
		if _, ok := sections[name]; !ok {
			order = append(order, name)
		}
		sections[name] = append(sections[name], sentence(m[2]))
	}

	if len(order) == 0 {
		return "## Summary\nNo structured instructions were provided."
	}

	var b strings.Builder
	for i, name := range order {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## %s\n%s", name, strings.Join(sections[name], " "))
	}
	return b.String()
}

func sentence(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	s = string(unicode.ToUpper(r)) + s[size:]
	if !strings.HasSuffix(s, ".") {
		s += "."
	}
	return s
}

func estimateTokens(s string) int {
	words := len(strings.Fields(s))
	return (words*4 + 2) / 3
}
