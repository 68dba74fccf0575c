package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/wonny/aegis-narrator/internal/contracts"
	"github.com/wonny/aegis-narrator/internal/inject"
	"github.com/wonny/aegis-narrator/internal/prompt"
)

var tokenName = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

type fileDocument struct {
	Templates []contracts.PromptTemplate `yaml:"templates"`
}

// FileRegistry serves templates loaded once from YAML. Read-only after load.
// ⭐ SSOT: 템플릿 버전은 불변, "latest" = 자연 정렬 최고 버전
type FileRegistry struct {
	byName map[string]map[string]*contracts.PromptTemplate
}

// LoadFile reads a templates YAML file
func LoadFile(path string) (*FileRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	r, err := ParseFile(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// ParseFile decodes templates YAML with unknown fields rejected
func ParseFile(data []byte) (*FileRegistry, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc fileDocument
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	tpls := make([]*contracts.PromptTemplate, len(doc.Templates))
	for i := range doc.Templates {
		tpls[i] = &doc.Templates[i]
	}
	return NewStatic(tpls...)
}

// NewStatic builds a registry over in-memory templates
func NewStatic(templates ...*contracts.PromptTemplate) (*FileRegistry, error) {
	r := &FileRegistry{byName: make(map[string]map[string]*contracts.PromptTemplate)}
	for _, tpl := range templates {
		if err := Check(tpl); err != nil {
			return nil, err
		}
		versions, ok := r.byName[tpl.Name]
		if !ok {
			versions = make(map[string]*contracts.PromptTemplate)
			r.byName[tpl.Name] = versions
		}
		if _, dup := versions[tpl.Version]; dup {
			return nil, fmt.Errorf("duplicate template %s", tpl.ID())
		}
		versions[tpl.Version] = tpl
	}
	return r, nil
}

// Check validates one template before it is registered: identity, placeholder
// declarations, formatter names and token coverage of the text.
func Check(tpl *contracts.PromptTemplate) error {
	if tpl.Name == "" || tpl.Version == "" {
		return fmt.Errorf("template %q: name and version are required", tpl.ID())
	}
	seen := make(map[string]bool, len(tpl.Placeholders))
	for _, spec := range tpl.Placeholders {
		if !tokenName.MatchString(spec.Name) {
			return fmt.Errorf("template %s: invalid placeholder name %q", tpl.ID(), spec.Name)
		}
		if seen[spec.Name] {
			return fmt.Errorf("template %s: placeholder %s declared twice", tpl.ID(), spec.Name)
		}
		seen[spec.Name] = true

		switch spec.Source {
		case contracts.SourceFact, contracts.SourceState, contracts.SourceBlock:
		default:
			return fmt.Errorf("template %s: placeholder %s has unknown source %q", tpl.ID(), spec.Name, spec.Source)
		}
		if !inject.IsKnownFormat(spec.Format) {
			return fmt.Errorf("template %s: placeholder %s has unknown format %q", tpl.ID(), spec.Name, spec.Format)
		}
	}
	return prompt.ValidateTemplate(tpl)
}

// Get implements contracts.TemplateRegistry. version "" returns the latest.
func (r *FileRegistry) Get(_ context.Context, name, version string) (*contracts.PromptTemplate, error) {
	versions, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", contracts.ErrTemplateNotFound, name)
	}
	if version == "" {
		version = Latest(keys(versions))
	}
	tpl, ok := versions[version]
	if !ok {
		return nil, fmt.Errorf("%w: %s@%s", contracts.ErrTemplateNotFound, name, version)
	}
	cp := *tpl
	cp.Placeholders = append([]contracts.PlaceholderSpec(nil), tpl.Placeholders...)
	return &cp, nil
}

// All returns every template ordered by name, then version
func (r *FileRegistry) All() []*contracts.PromptTemplate {
	var out []*contracts.PromptTemplate
	for _, versions := range r.byName {
		for _, tpl := range versions {
			out = append(out, tpl)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return CompareVersions(out[i].Version, out[j].Version) < 0
	})
	return out
}

func keys(m map[string]*contracts.PromptTemplate) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
