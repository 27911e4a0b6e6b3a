package ui

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		text string
		want Kind
		ok   bool
	}{
		{"Accept", Accept, true},
		{"Accept All", Accept, true},
		{"Run", Run, true},
		{"Run Alt+⏎", Run, true},
		{"run command", Run, true},
		{"Always Run", Run, true},
		{"Confirm", Confirm, true},
		{"Allow", Confirm, true},
		{"Yes", Confirm, true},
		{"Apply", Apply, true},
		{"Apply all", Apply, true},
		{"Reject", "", false},
		{"Cancel", "", false},
		{"Deny", "", false},
		{"Stop", "", false},
		{"Dismiss", "", false},
		{"Accept or Reject", "", false},
		{"Running", "", false},
		{"Settings", "", false},
		{"   ", "", false},
	}
	for _, tt := range tests {
		got, ok := Classify(tt.text)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Classify(%q) = %q, %v; want %q, %v", tt.text, got, ok, tt.want, tt.ok)
		}
	}
}

func TestFilterDropsHiddenAndDisabled(t *testing.T) {
	raw := []rawCandidate{
		{Text: "Accept", Selector: "#a"},
		{Text: "Run", Selector: "#b", Hidden: true},
		{Text: "Apply", Selector: "#c", Disabled: true},
		{Text: "Cancel", Selector: "#d"},
		{Text: " Run ", Selector: "#e", Command: "npm test"},
	}
	got := filter(raw)
	if len(got) != 2 {
		t.Fatalf("filter kept %d, want 2: %+v", len(got), got)
	}
	if got[0].Selector != "#a" || got[0].Kind != Accept {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Kind != Run || got[1].Text != "Run" || got[1].Content() != "npm test" {
		t.Errorf("second = %+v", got[1])
	}
}

func TestContentFallsBackToText(t *testing.T) {
	c := Candidate{Kind: Run, Text: "Run"}
	if c.Content() != "Run" {
		t.Errorf("Content = %q", c.Content())
	}
}
