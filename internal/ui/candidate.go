// Package ui abstracts the host capability that finds actionable prompts in
// the IDE and clicks them.
package ui

import (
	"context"
	"strings"
)

// Kind is the class of an actionable element.
type Kind string

const (
	Accept  Kind = "accept"
	Run     Kind = "run"
	Confirm Kind = "confirm"
	Apply   Kind = "apply"
)

// Candidate is one actionable element found by a scan. It is only valid
// for the tick that produced it.
type Candidate struct {
	Kind     Kind   `json:"kind"`
	Selector string `json:"selector,omitempty"`
	Text     string `json:"text"`
	// Command is the terminal command a Run button would execute, when the
	// host can see it. Rules are evaluated against it instead of the label.
	Command string `json:"command,omitempty"`
}

// Content returns the text rules are evaluated against.
func (c Candidate) Content() string {
	if strings.TrimSpace(c.Command) != "" {
		return c.Command
	}
	return c.Text
}

// Provider scans for candidates and clicks them.
type Provider interface {
	Scan(ctx context.Context) ([]Candidate, error)
	Click(ctx context.Context, c Candidate) error
}

// Notifier shows a transient warning to the user.
type Notifier interface {
	Warn(ctx context.Context, message string) error
}

var kindPatterns = []struct {
	kind     Kind
	patterns []string
}{
	{Run, []string{"run command", "always run", "run"}},
	{Accept, []string{"accept all", "accept"}},
	{Apply, []string{"apply all", "apply"}},
	{Confirm, []string{"confirm", "allow", "yes"}},
}

var rejectPatterns = []string{"reject", "cancel", "deny", "decline", "stop", "dismiss"}

// Classify maps a button label to a Kind. Labels matching a reject pattern,
// or nothing at all, are not actionable.
func Classify(text string) (Kind, bool) {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return "", false
	}
	for _, p := range rejectPatterns {
		if strings.Contains(t, p) {
			return "", false
		}
	}
	for _, kp := range kindPatterns {
		for _, p := range kp.patterns {
			if t == p || strings.HasPrefix(t, p+" ") {
				return kp.kind, true
			}
		}
	}
	return "", false
}

// rawCandidate is what a host reports before filtering.
type rawCandidate struct {
	Kind     Kind   `json:"kind,omitempty"`
	Selector string `json:"selector,omitempty"`
	Text     string `json:"text"`
	Command  string `json:"command,omitempty"`
	Hidden   bool   `json:"hidden,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
}

// filter drops hidden, disabled and non-actionable elements and fills in
// the kind from the label. Scan order is preserved.
func filter(raw []rawCandidate) []Candidate {
	out := make([]Candidate, 0, len(raw))
	for _, r := range raw {
		if r.Hidden || r.Disabled {
			continue
		}
		kind, ok := Classify(r.Text)
		if !ok {
			continue
		}
		out = append(out, Candidate{Kind: kind, Selector: r.Selector, Text: strings.TrimSpace(r.Text), Command: r.Command})
	}
	return out
}
