package contracts

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingAsOf: a scheduled invocation arrived without an as-of date
	ErrMissingAsOf = errors.New("as-of date is required for scheduled reports")

	// ErrAborted: the caller's budget expired or the request was cancelled
	ErrAborted = errors.New("report generation aborted")

	// ErrTemplateNotFound is returned by TemplateRegistry implementations
	ErrTemplateNotFound = errors.New("template not found")

	// ErrTimeout and ErrRateLimited classify provider failures (match with errors.Is)
	ErrTimeout     = errors.New("llm provider timeout")
	ErrRateLimited = errors.New("llm provider rate limited")
)

// DataUnavailableError: required facts are missing before generation
type DataUnavailableError struct {
	Symbol  string
	Missing []string
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("insufficient data for %s: missing %s", e.Symbol, strings.Join(e.Missing, ", "))
}

// TemplateMismatchError: template text references tokens with no PlaceholderSpec
type TemplateMismatchError struct {
	Template string
	Version  string
	Unknown  []string
}

func (e *TemplateMismatchError) Error() string {
	return fmt.Sprintf("template %s@%s references undeclared placeholders: %s",
		e.Template, e.Version, strings.Join(e.Unknown, ", "))
}

// UnresolvedPlaceholderError: the narrative used tokens absent or unavailable in Context
type UnresolvedPlaceholderError struct {
	Tokens []string
}

func (e *UnresolvedPlaceholderError) Error() string {
	return fmt.Sprintf("unresolved placeholders in narrative: %s", strings.Join(e.Tokens, ", "))
}

// InjectionIncompleteError: placeholder grammar survived substitution
type InjectionIncompleteError struct {
	Template  string
	Version   string
	Remaining []string
}

func (e *InjectionIncompleteError) Error() string {
	return fmt.Sprintf("injection incomplete for template %s@%s: %d fragment(s) remain: %s",
		e.Template, e.Version, len(e.Remaining), strings.Join(e.Remaining, ", "))
}

// ScorerUnavailableError: a judge call for one criterion exhausted its retries
type ScorerUnavailableError struct {
	Criterion string
	Err       error
}

func (e *ScorerUnavailableError) Error() string {
	return fmt.Sprintf("scorer for criterion %q unavailable: %v", e.Criterion, e.Err)
}

func (e *ScorerUnavailableError) Unwrap() error {
	return e.Err
}

// ProviderError is the classified failure of an LLM provider call.
// Kind is ErrTimeout, ErrRateLimited or nil (other).
type ProviderError struct {
	Provider   string
	Kind       error
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	kind := "error"
	if e.Kind != nil {
		kind = e.Kind.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Provider, kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is matches the classification sentinel
func (e *ProviderError) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

// Temporary reports whether a retry may succeed
func (e *ProviderError) Temporary() bool {
	if e.Kind == ErrTimeout || e.Kind == ErrRateLimited {
		return true
	}
	return e.StatusCode >= 500
}

// HTTPStatusCode exposes the upstream status for retry classification
func (e *ProviderError) HTTPStatusCode() int {
	return e.StatusCode
}
