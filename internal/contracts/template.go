package contracts

// PlaceholderSpec declares one token a template may use
type PlaceholderSpec struct {
	Name        string     `json:"name" yaml:"name"`     // token name, e.g. RSI
	Source      SourceKind `json:"source" yaml:"source"` // fact | state | block
	Key         string     `json:"key" yaml:"key"`       // Context entry; defaults to Name
	Format      string     `json:"format" yaml:"format"` // formatter name, see inject.Format
	Requires    []string   `json:"requires,omitempty" yaml:"requires,omitempty"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Example     string     `json:"example,omitempty" yaml:"example,omitempty"`

	// Predicate overrides the default availability check when set (programmatic specs only)
	Predicate func(*Context) bool `json:"-" yaml:"-"`
}

// SourceKey returns the Context key backing this token
func (p PlaceholderSpec) SourceKey() string {
	if p.Key != "" {
		return p.Key
	}
	return p.Name
}

// Resolvable evaluates the availability predicate against c
func (p PlaceholderSpec) Resolvable(c *Context) bool {
	if p.Predicate != nil {
		return p.Predicate(c)
	}
	if !c.IsAvailable(p.SourceKey()) {
		return false
	}
	for _, req := range p.Requires {
		if !c.IsAvailable(req) {
			return false
		}
	}
	return true
}

// PromptTemplate is template text plus the placeholders it may use
type PromptTemplate struct {
	Name         string            `json:"name" yaml:"name"`
	Version      string            `json:"version" yaml:"version"`
	Text         string            `json:"text" yaml:"text"`
	Placeholders []PlaceholderSpec `json:"placeholders" yaml:"placeholders"`
}

// Spec returns the placeholder spec for token name
func (t *PromptTemplate) Spec(name string) (PlaceholderSpec, bool) {
	for _, p := range t.Placeholders {
		if p.Name == name {
			return p, true
		}
	}
	return PlaceholderSpec{}, false
}

// ID returns "name@version"
func (t *PromptTemplate) ID() string {
	return t.Name + "@" + t.Version
}

// RawNarrative is the untouched LLM output
type RawNarrative string

// ResolvedReport is a narrative with every token substituted
type ResolvedReport struct {
	Text           string `json:"text"`
	TokensReplaced int    `json:"tokens_replaced"`
}
