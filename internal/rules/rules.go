// Package rules decides whether a detected action may be auto-approved.
// Precedence, first match wins: hardcoded deny, user deny, user allow, default policy.
package rules

import (
	"regexp"
	"strings"
	"sync"
)

// OperationType tells the default policy what kind of action is being evaluated.
type OperationType string

const (
	Terminal OperationType = "terminal"
	FileEdit OperationType = "file_edit"
)

// Rule tags reported in Result.Rule.
const (
	TagHardcodedDeny = "hardcoded-deny"
	TagUserDeny      = "user-deny"
	TagUserAllow     = "user-allow"
	TagDefaultAllow  = "default-allow"
	TagDefaultDeny   = "default-deny"
)

// Context carries what the matcher needs besides the candidate text.
type Context struct {
	Type OperationType
}

// Result is the outcome of one evaluation.
type Result struct {
	Approved bool   `json:"approved"`
	Rule     string `json:"matched_rule,omitempty"`
	Pattern  string `json:"pattern,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Lists holds the user-configurable allow and deny patterns.
type Lists struct {
	Allow []string `yaml:"allow" json:"allow"`
	Deny  []string `yaml:"deny" json:"deny"`
}

// Matcher evaluates candidate text against the rule lists.
// Safe for concurrent use; UpdateRules may run while Evaluate is in flight.
type Matcher struct {
	mu    sync.RWMutex
	allow []pattern
	deny  []pattern
	hard  []pattern
}

type pattern struct {
	raw  string
	norm string
	re   *regexp.Regexp // nil unless raw contains '*'
}

// New creates a Matcher with the hardcoded deny set and the given user lists.
func New(l Lists) *Matcher {
	m := &Matcher{hard: compile(HardcodedDeny)}
	m.UpdateRules(l)
	return m
}

// UpdateRules swaps the user lists. The hardcoded deny set is not affected.
func (m *Matcher) UpdateRules(l Lists) {
	allow := compile(l.Allow)
	deny := compile(l.Deny)

	m.mu.Lock()
	m.allow = allow
	m.deny = deny
	m.mu.Unlock()
}

// Lists returns a copy of the current user lists.
func (m *Matcher) Lists() Lists {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Lists{Allow: raws(m.allow), Deny: raws(m.deny)}
}

// Evaluate runs candidate text through the precedence chain.
func (m *Matcher) Evaluate(text string, ctx Context) Result {
	norm := normalize(text)

	for _, p := range m.hard {
		if p.matches(norm) {
			return Result{
				Approved: false,
				Rule:     TagHardcodedDeny,
				Pattern:  p.raw,
				Reason:   "blocked by built-in safety rule: " + p.raw,
			}
		}
	}

	m.mu.RLock()
	deny, allow := m.deny, m.allow
	m.mu.RUnlock()

	for _, p := range deny {
		if p.matches(norm) {
			return Result{
				Approved: false,
				Rule:     TagUserDeny,
				Pattern:  p.raw,
				Reason:   "blocked by deny rule: " + p.raw,
			}
		}
	}

	for _, p := range allow {
		if p.matches(norm) {
			return Result{
				Approved: true,
				Rule:     TagUserAllow,
				Pattern:  p.raw,
				Reason:   "allowed by allow rule: " + p.raw,
			}
		}
	}

	switch ctx.Type {
	case Terminal, FileEdit:
		return Result{Approved: true, Rule: TagDefaultAllow}
	default:
		return Result{Approved: false, Rule: TagDefaultDeny, Reason: "unknown operation type"}
	}
}

// Matches reports whether text matches pattern using the same rules as Evaluate.
func Matches(text, pat string) bool {
	p, ok := compileOne(pat)
	if !ok {
		return false
	}
	return p.matches(normalize(text))
}

func (p pattern) matches(text string) bool {
	if strings.Contains(text, p.norm) {
		return true
	}
	if p.re != nil && p.re.MatchString(text) {
		return true
	}
	return strings.HasPrefix(text, p.norm)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func compile(raw []string) []pattern {
	out := make([]pattern, 0, len(raw))
	for _, r := range raw {
		if p, ok := compileOne(r); ok {
			out = append(out, p)
		}
	}
	return out
}

// compileOne drops blank patterns; an empty pattern would match everything.
func compileOne(raw string) (pattern, bool) {
	norm := normalize(raw)
	if norm == "" {
		return pattern{}, false
	}
	p := pattern{raw: raw, norm: norm}
	if strings.Contains(norm, "*") {
		expr := "^" + strings.ReplaceAll(regexp.QuoteMeta(norm), `\*`, ".*") + "$"
		if re, err := regexp.Compile("(?s)" + expr); err == nil {
			p.re = re
		}
	}
	return p, true
}

func raws(ps []pattern) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.raw
	}
	return out
}
