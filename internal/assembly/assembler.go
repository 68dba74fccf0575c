package assembly

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/wonny/aegis-narrator/internal/contracts"
	"github.com/wonny/aegis-narrator/internal/reportconfig"
	"github.com/wonny/aegis-narrator/pkg/logger"
)

// SymbolBlock is the context block carrying the report subject
const SymbolBlock = "SYMBOL"

// Assembler merges facts, states and blocks into one Context and computes the resolvable set
// ⭐ SSOT: placeholder availability는 여기서만 판정 (downstream은 재계산하지 않음)
type Assembler struct {
	blocks []reportconfig.BlockRule
	logger *logger.Logger
}

// Result is the assembled Context plus the resolvable placeholders in declaration order
type Result struct {
	Context    *contracts.Context
	Resolvable []contracts.PlaceholderSpec
	Excluded   []string
}

// ResolvableNames returns the token names of the resolvable set
func (r *Result) ResolvableNames() []string {
	names := make([]string, len(r.Resolvable))
	for i, p := range r.Resolvable {
		names[i] = p.Name
	}
	return names
}

// NewAssembler creates an assembler for the configured blocks
func NewAssembler(blocks []reportconfig.BlockRule, log *logger.Logger) *Assembler {
	return &Assembler{blocks: blocks, logger: log}
}

// Assemble builds the Context and evaluates every declared placeholder against it
func (a *Assembler) Assemble(
	facts *contracts.GroundTruthSet,
	states *contracts.SemanticState,
	blocks []contracts.ContextBlock,
	specs []contracts.PlaceholderSpec,
) *Result {
	entries := make(map[string]contracts.Availability[contracts.Resolved])

	for _, name := range facts.Names() {
		f, _ := facts.Get(name)
		v, ok := f.Value.Get()
		if !ok {
			entries[name] = contracts.Unavailable[contracts.Resolved](f.Value.Reason())
			continue
		}
		entries[name] = contracts.Available(contracts.Resolved{
			Kind:      contracts.SourceFact,
			Number:    v,
			Precision: f.Precision,
			Unit:      f.Unit,
		})
	}

	for _, key := range states.Keys() {
		st, _ := states.Get(key)
		a.put(entries, key, stateEntry(st))
	}

	// configured blocks are always present in the Context, supplied or not
	for _, rule := range a.blocks {
		a.put(entries, rule.Name, contracts.Unavailable[contracts.Resolved]("block not supplied"))
	}
	for _, b := range blocks {
		a.put(entries, b.Name, a.blockEntry(b))
	}

	ctx := contracts.NewContext(entries)

	res := &Result{Context: ctx}
	for _, spec := range specs {
		if spec.Resolvable(ctx) {
			res.Resolvable = append(res.Resolvable, spec)
		} else {
			res.Excluded = append(res.Excluded, spec.Name)
		}
	}

	a.logger.WithFields(map[string]interface{}{
		"entries":    ctx.Len(),
		"declared":   len(specs),
		"resolvable": len(res.Resolvable),
	}).Debug("Assembled context")

	return res
}

func (a *Assembler) put(entries map[string]contracts.Availability[contracts.Resolved], name string, v contracts.Availability[contracts.Resolved]) {
	if prev, exists := entries[name]; exists && prev.IsAvailable() {
		if !v.IsAvailable() {
			return
		}
		a.logger.WithField("name", name).Warn("Context name supplied twice, later source wins")
	}
	entries[name] = v
}

func stateEntry(st contracts.Availability[contracts.State]) contracts.Availability[contracts.Resolved] {
	s, ok := st.Get()
	if !ok {
		return contracts.Unavailable[contracts.Resolved](st.Reason())
	}
	return contracts.Available(contracts.Resolved{
		Kind:   contracts.SourceState,
		Label:  s.Label,
		Phrase: s.Phrase,
	})
}

func (a *Assembler) blockEntry(b contracts.ContextBlock) contracts.Availability[contracts.Resolved] {
	text, ok := b.Text.Get()
	if !ok {
		return contracts.Unavailable[contracts.Resolved](b.Text.Reason())
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return contracts.Unavailable[contracts.Resolved]("empty block")
	}
	for _, rule := range a.blocks {
		if rule.Name == b.Name && rule.MaxChars > 0 {
			text = truncate(text, rule.MaxChars)
		}
	}
	return contracts.Available(contracts.Resolved{Kind: contracts.SourceBlock, Text: text})
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max])) + "…"
}

// PayloadBlocks extracts the symbol and any free-text blocks carried by the payload
func PayloadBlocks(p *contracts.MarketPayload) []contracts.ContextBlock {
	if p == nil {
		return nil
	}
	var out []contracts.ContextBlock
	if p.Symbol != "" {
		out = append(out, contracts.ContextBlock{Name: SymbolBlock, Text: contracts.Available(p.Symbol)})
	}

	names := make([]string, 0, len(p.Blocks))
	for name := range p.Blocks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out = append(out, contracts.ContextBlock{Name: name, Text: contracts.Available(p.Blocks[name])})
	}
	return out
}
