package inject

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/wonny/aegis-narrator/internal/contracts"
	"github.com/wonny/aegis-narrator/pkg/logger"
)

// TokenPattern is the placeholder grammar: {{NAME}} with NAME = [A-Z][A-Z0-9_]*
var TokenPattern = regexp.MustCompile(`\{\{([A-Z][A-Z0-9_]*)\}\}`)

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

// Tokens returns the distinct token names in text, in order of first appearance
func Tokens(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range TokenPattern.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// HasDelimiters reports whether any delimiter survives in text
func HasDelimiters(text string) bool {
	return strings.Contains(text, openDelim) || strings.Contains(text, closeDelim)
}

// Injector substitutes placeholder tokens with formatted Context values
// ⭐ SSOT: 숫자는 여기서만 텍스트에 들어감 (계산 없음, lookup + substitute)
type Injector struct {
	logger *logger.Logger
}

// NewInjector creates a new injector
func NewInjector(log *logger.Logger) *Injector {
	return &Injector{logger: log}
}

// Inject replaces every token in raw. Unknown or Unavailable tokens fail with
// UnresolvedPlaceholderError; any surviving delimiter fails with InjectionIncompleteError.
func (i *Injector) Inject(raw contracts.RawNarrative, c *contracts.Context, tpl *contracts.PromptTemplate) (contracts.ResolvedReport, error) {
	text := string(raw)

	values := make(map[string]string)
	var unresolved []string
	for _, name := range Tokens(text) {
		// declared tokens read their source key (RSI_PHRASE → RSI_STATE)
		key, format := name, FormatAuto
		if tpl != nil {
			if spec, ok := tpl.Spec(name); ok {
				key, format = spec.SourceKey(), spec.Format
			}
		}

		entry, ok := c.Lookup(key)
		r, available := entry.Get()
		if !ok || !available {
			unresolved = append(unresolved, name)
			continue
		}

		s, err := Format(format, r)
		if err != nil {
			return contracts.ResolvedReport{}, fmt.Errorf("format %s: %w", name, err)
		}
		values[name] = s
	}

	if len(unresolved) > 0 {
		return contracts.ResolvedReport{}, &contracts.UnresolvedPlaceholderError{Tokens: unresolved}
	}

	replaced := 0
	out := TokenPattern.ReplaceAllStringFunc(text, func(tok string) string {
		replaced++
		return values[tok[len(openDelim):len(tok)-len(closeDelim)]]
	})

	if remaining := residue(out); len(remaining) > 0 {
		err := &contracts.InjectionIncompleteError{Remaining: remaining}
		if tpl != nil {
			err.Template, err.Version = tpl.Name, tpl.Version
		}
		i.logger.WithFields(map[string]interface{}{
			"template":  err.Template,
			"version":   err.Version,
			"remaining": remaining,
		}).Error("Injection incomplete")
		return contracts.ResolvedReport{}, err
	}

	i.logger.WithField("tokens_replaced", replaced).Debug("Injected placeholders")
	return contracts.ResolvedReport{Text: out, TokensReplaced: replaced}, nil
}

// residue returns a short excerpt around every surviving delimiter
func residue(text string) []string {
	var out []string
	for _, delim := range []string{openDelim, closeDelim} {
		rest, offset := text, 0
		for {
			idx := strings.Index(rest, delim)
			if idx < 0 {
				break
			}
			at := offset + idx
			out = append(out, excerpt(text, at))
			offset = at + len(delim)
			rest = text[offset:]
		}
	}
	return out
}

func excerpt(text string, at int) string {
	start, end := at-8, at+10
	if start < 0 {
		start = 0
	}
	if end > len(text) {
		end = len(text)
	}
	return strings.ToValidUTF8(text[start:end], "")
}
