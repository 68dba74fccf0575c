package contracts

// SourceKind says where a Context entry came from
type SourceKind string

const (
	SourceFact  SourceKind = "fact"
	SourceState SourceKind = "state"
	SourceBlock SourceKind = "block"
)

// Resolved is one Context value. Which fields are set depends on Kind.
type Resolved struct {
	Kind SourceKind `json:"kind"`

	// fact
	Number    float64 `json:"number,omitempty"`
	Precision int     `json:"precision,omitempty"`
	Unit      string  `json:"unit,omitempty"`

	// state
	Label  string `json:"label,omitempty"`
	Phrase string `json:"phrase,omitempty"`

	// block
	Text string `json:"text,omitempty"`
}

// Context is the merged, read-only lookup for one request
// ⭐ SSOT: rebuild, don't patch (no mutating methods)
type Context struct {
	entries map[string]Availability[Resolved]
}

// NewContext copies entries into a new Context
func NewContext(entries map[string]Availability[Resolved]) *Context {
	m := make(map[string]Availability[Resolved], len(entries))
	for k, v := range entries {
		m[k] = v
	}
	return &Context{entries: m}
}

// Lookup returns the entry for name; ok=false when the name was never merged
func (c *Context) Lookup(name string) (Availability[Resolved], bool) {
	if c == nil {
		return Availability[Resolved]{}, false
	}
	v, ok := c.entries[name]
	return v, ok
}

// IsAvailable reports whether name is present and Available
func (c *Context) IsAvailable(name string) bool {
	v, ok := c.Lookup(name)
	return ok && v.IsAvailable()
}

// Names returns entry names in sorted order
func (c *Context) Names() []string {
	if c == nil {
		return nil
	}
	return sortedKeys(c.entries)
}

// Len returns the number of entries
func (c *Context) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}
