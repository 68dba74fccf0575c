package contracts

import "sort"

// GateName identifies one binary gate
type GateName string

const (
	GateFormat    GateName = "format"
	GateGrounding GateName = "grounding"
	GateCoverage  GateName = "coverage"
	GateSafety    GateName = "safety"
	GateBudget    GateName = "budget"
)

// AllGates returns every gate name
func AllGates() []GateName {
	return []GateName{GateFormat, GateGrounding, GateCoverage, GateSafety, GateBudget}
}

// GateCheck is the verdict of one gate
type GateCheck struct {
	Name   GateName `json:"name"`
	Passed bool     `json:"passed"`
	Detail string   `json:"detail,omitempty"`
}

// GateResult holds one verdict per gate; Overall is their AND
type GateResult struct {
	Gates   map[GateName]bool   `json:"gates"`
	Details map[GateName]string `json:"details,omitempty"`
	Overall bool                `json:"overall"`
}

// NewGateResult folds checks into a GateResult. No checks means not passed.
func NewGateResult(checks []GateCheck) GateResult {
	res := GateResult{
		Gates:   make(map[GateName]bool, len(checks)),
		Details: make(map[GateName]string),
		Overall: len(checks) > 0,
	}
	for _, c := range checks {
		res.Gates[c.Name] = c.Passed
		if c.Detail != "" {
			res.Details[c.Name] = c.Detail
		}
		if !c.Passed {
			res.Overall = false
		}
	}
	return res
}

// Failed returns the names of failed gates
func (g GateResult) Failed() []string {
	var out []string
	for name, ok := range g.Gates {
		if !ok {
			out = append(out, string(name))
		}
	}
	sort.Strings(out)
	return out
}

// RankScore is the continuous quality score of a gate-passing report
type RankScore struct {
	Criteria    map[string]float64 `json:"criteria"`
	Weights     map[string]float64 `json:"weights"` // effective, renormalized
	Unavailable map[string]string  `json:"unavailable,omitempty"`
	Composite   float64            `json:"composite"`
	Partial     bool               `json:"partial"`
}

// QualityReport is returned with every released or gate-failed report
type QualityReport struct {
	Gate GateResult `json:"gate"`
	Rank *RankScore `json:"rank"` // nil when the gate failed
}

// Usage accumulates provider-reported consumption for one request
type Usage struct {
	Calls            int     `json:"calls"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// TotalTokens returns prompt + completion tokens
func (u Usage) TotalTokens() int {
	return u.PromptTokens + u.CompletionTokens
}

// Add returns u + o
func (u Usage) Add(o Usage) Usage {
	return Usage{
		Calls:            u.Calls + o.Calls,
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		CostUSD:          u.CostUSD + o.CostUSD,
	}
}
