package gate

import (
	"bytes"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/gomarkdown/markdown"

	"github.com/wonny/aegis-narrator/internal/contracts"
	"github.com/wonny/aegis-narrator/internal/inject"
)

// Document is a report rendered to HTML for structural checks
type Document struct {
	Headings   []string
	Sections   []Section
	Paragraphs []string
	Plain      string
	Words      int
}

// Section is the body under one heading. Text before the first heading has Heading "".
type Section struct {
	Heading string
	Words   int
}

func isHeading(s *goquery.Selection) bool {
	return s.Is("h1, h2, h3, h4, h5, h6")
}

// Parse renders markdown with gomarkdown and reads headings and plain text with goquery
func Parse(text string) (*Document, error) {
	html := markdown.ToHTML([]byte(text), nil, nil)
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, err
	}

	out := &Document{}
	doc.Find("h1, h2, h3, h4").Each(func(_ int, s *goquery.Selection) {
		out.Headings = append(out.Headings, strings.TrimSpace(s.Text()))
	})
	doc.Find("body").Children().Each(func(_ int, s *goquery.Selection) {
		if isHeading(s) {
			out.Sections = append(out.Sections, Section{Heading: strings.TrimSpace(s.Text())})
			return
		}
		if len(out.Sections) == 0 {
			out.Sections = append(out.Sections, Section{})
		}
		out.Sections[len(out.Sections)-1].Words += len(strings.Fields(s.Text()))
	})
	doc.Find("p, li").Each(func(_ int, s *goquery.Selection) {
		if s.Is("li") && s.Find("p").Length() > 0 {
			return
		}
		if t := strings.Join(strings.Fields(s.Text()), " "); t != "" {
			out.Paragraphs = append(out.Paragraphs, t)
		}
	})
	out.Plain = strings.Join(strings.Fields(doc.Text()), " ")
	out.Words = len(strings.Fields(out.Plain))
	return out, nil
}

// HasHeading reports whether a heading matches name, ignoring case
func (d *Document) HasHeading(name string) bool {
	for _, h := range d.Headings {
		if strings.EqualFold(h, strings.TrimSpace(name)) {
			return true
		}
	}
	return false
}

func (e *Evaluator) checkFormat(in Input) contracts.GateCheck {
	cfg := e.cfg.Format
	doc, err := Parse(in.Report.Text)
	if err != nil {
		return fail(contracts.GateFormat, "parse markdown: %v", err)
	}

	var missing []string
	for _, s := range cfg.RequiredSections {
		if !doc.HasHeading(s) {
			missing = append(missing, s)
		}
	}
	if len(missing) > 0 {
		return fail(contracts.GateFormat, "missing sections: %s", strings.Join(missing, ", "))
	}
	if cfg.MinWords > 0 && doc.Words < cfg.MinWords {
		return fail(contracts.GateFormat, "%d words, minimum %d", doc.Words, cfg.MinWords)
	}
	if cfg.MaxWords > 0 && doc.Words > cfg.MaxWords {
		return fail(contracts.GateFormat, "%d words, maximum %d", doc.Words, cfg.MaxWords)
	}
	return pass(contracts.GateFormat)
}

var numberLiteral = regexp.MustCompile(`\d+(?:,\d{3})*(?:\.\d+)?`)

// Numbers returns the numeric literals of text in canonical form. Digits glued to a
// preceding letter or underscore (MA20, Q3, FACT_1) are identifiers, not figures.
func Numbers(text string) []string {
	var out []string
	for _, loc := range numberLiteral.FindAllStringIndex(text, -1) {
		if loc[0] > 0 {
			prev := text[loc[0]-1]
			if prev == '_' || (prev >= 'A' && prev <= 'Z') || (prev >= 'a' && prev <= 'z') {
				continue
			}
		}
		out = append(out, canonical(text[loc[0]:loc[1]]))
	}
	return out
}

func canonical(lit string) string {
	lit = strings.ReplaceAll(lit, ",", "")
	v, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return lit
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// AllowedNumbers collects every figure a report may legitimately contain: the numbers
// inside each formatted Context value (default formatter and every declared one), plus
// the configured allow-list.
func AllowedNumbers(c *contracts.Context, tpl *contracts.PromptTemplate, allow []string) map[string]bool {
	formats := make(map[string][]string)
	if tpl != nil {
		for _, spec := range tpl.Placeholders {
			formats[spec.SourceKey()] = append(formats[spec.SourceKey()], spec.Format)
		}
	}

	allowed := make(map[string]bool)
	for _, name := range c.Names() {
		entry, _ := c.Lookup(name)
		r, ok := entry.Get()
		if !ok {
			continue
		}
		for _, f := range append([]string{inject.FormatAuto}, formats[name]...) {
			s, err := inject.Format(f, r)
			if err != nil {
				continue
			}
			for _, n := range Numbers(s) {
				allowed[n] = true
			}
		}
	}
	for _, a := range allow {
		allowed[canonical(a)] = true
	}
	return allowed
}

func isYear(n string) bool {
	v, err := strconv.ParseFloat(n, 64)
	if err != nil || v != math.Trunc(v) {
		return false
	}
	return v >= 1900 && v <= 2100
}

func (e *Evaluator) checkGrounding(in Input) contracts.GateCheck {
	allowed := AllowedNumbers(in.Context, in.Template, e.cfg.Grounding.AllowNumbers)

	seen := make(map[string]bool)
	var stray []string
	for _, n := range Numbers(in.Report.Text) {
		if allowed[n] || seen[n] {
			continue
		}
		if e.cfg.Grounding.AllowYears && isYear(n) {
			continue
		}
		seen[n] = true
		stray = append(stray, n)
	}
	if len(stray) > 0 {
		sort.Strings(stray)
		return fail(contracts.GateGrounding, "untraceable numbers: %s", strings.Join(stray, ", "))
	}
	return pass(contracts.GateGrounding)
}

func (e *Evaluator) checkCoverage(in Input) contracts.GateCheck {
	text := strings.ToLower(in.Report.Text)

	var uncovered []string
	for _, dim := range e.cfg.Coverage.Dimensions {
		hit := false
		for _, kw := range dim.Keywords {
			if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
				hit = true
				break
			}
		}
		if !hit {
			uncovered = append(uncovered, dim.Name)
		}
	}
	if len(uncovered) > 0 {
		return fail(contracts.GateCoverage, "dimensions not covered: %s", strings.Join(uncovered, ", "))
	}
	return pass(contracts.GateCoverage)
}

func (e *Evaluator) checkSafety(in Input) contracts.GateCheck {
	text := strings.ToLower(in.Report.Text)

	var found []string
	for _, phrase := range e.cfg.Safety.BannedPhrases {
		if phrase != "" && strings.Contains(text, strings.ToLower(phrase)) {
			found = append(found, phrase)
		}
	}
	if len(found) > 0 {
		return fail(contracts.GateSafety, "banned phrases: %s", strings.Join(found, ", "))
	}
	return pass(contracts.GateSafety)
}

func (e *Evaluator) checkBudget(in Input) contracts.GateCheck {
	cfg := e.cfg.Budget
	u := in.Usage

	if cfg.MaxTokens > 0 && u.TotalTokens() > cfg.MaxTokens {
		return fail(contracts.GateBudget, "%d tokens, ceiling %d", u.TotalTokens(), cfg.MaxTokens)
	}
	if cfg.MaxCostUSD > 0 && u.CostUSD > cfg.MaxCostUSD {
		return fail(contracts.GateBudget, "cost $%.4f, ceiling $%.4f", u.CostUSD, cfg.MaxCostUSD)
	}
	if cfg.MaxCalls > 0 && u.Calls > cfg.MaxCalls {
		return fail(contracts.GateBudget, "%d calls, ceiling %d", u.Calls, cfg.MaxCalls)
	}
	return pass(contracts.GateBudget)
}
