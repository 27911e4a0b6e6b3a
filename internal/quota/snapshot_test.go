package quota

import (
	"testing"
	"time"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const fullPayload = `{
  "userStatus": {
    "name": "dev",
    "email": "dev@example.com",
    "userTier": {"id": "pro", "name": "Pro"},
    "planStatus": {
      "planInfo": {"planName": "Pro Plan", "monthlyPromptCredits": 500},
      "availablePromptCredits": "125"
    },
    "cascadeModelConfigData": {
      "clientModelConfigs": [
        {
          "label": "Gemini 3 Pro (High)",
          "modelOrAlias": {"model": "gemini-3-pro-high"},
          "quotaInfo": {"remainingFraction": 0.75, "resetTime": "2026-03-01T17:30:00Z"},
          "supportsImages": true,
          "isRecommended": true
        },
        {
          "label": "Claude Sonnet",
          "modelOrAlias": {"model": "claude-sonnet"},
          "quotaInfo": {"resetTime": "2026-03-03T12:00:00Z"}
        },
        {
          "label": "No quota model",
          "modelOrAlias": {"model": "no-quota"}
        }
      ]
    }
  }
}`

func TestParseFullPayload(t *testing.T) {
	snap, err := Parse([]byte(fullPayload), testNow)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if snap.IsDefault {
		t.Fatal("expected parsed snapshot, got default")
	}
	if len(snap.Models) != 2 {
		t.Fatalf("models = %d, want 2 (entry without quota info skipped)", len(snap.Models))
	}
	if snap.AccountLevel != "Pro" {
		t.Errorf("account level = %q, want Pro", snap.AccountLevel)
	}
	if snap.PlanName != "Pro Plan" {
		t.Errorf("plan name = %q", snap.PlanName)
	}

	g := snap.Models[0]
	if g.ModelID != "gemini-3-pro-high" || g.DisplayName != "Gemini 3 Pro (High)" {
		t.Errorf("model identity = %q/%q", g.ModelID, g.DisplayName)
	}
	if g.RemainingPercentage != 75 {
		t.Errorf("remaining = %v, want 75", g.RemainingPercentage)
	}
	if g.PercentUsed != 25 {
		t.Errorf("percent used = %d, want 25", g.PercentUsed)
	}
	if g.ResetTimeUnreliable {
		t.Error("valid reset time flagged unreliable")
	}
	if g.TimeUntilResetText != "5h 30m" {
		t.Errorf("countdown = %q, want 5h 30m", g.TimeUntilResetText)
	}
	if !g.Capabilities.SupportsImages || !g.Capabilities.Recommended {
		t.Errorf("capabilities = %+v", g.Capabilities)
	}

	c := snap.Models[1]
	if c.RemainingFraction != 0 || c.PercentUsed != 100 {
		t.Errorf("absent fraction should mean exhausted, got %v / %d", c.RemainingFraction, c.PercentUsed)
	}
	if c.TimeUntilResetText != "2d 0h" {
		t.Errorf("countdown = %q, want 2d 0h", c.TimeUntilResetText)
	}

	if snap.PromptCredits == nil {
		t.Fatal("expected prompt credits")
	}
	if snap.PromptCredits.UsedPercentage != 75 || snap.PromptCredits.RemainingPercentage != 25 {
		t.Errorf("credits = %+v", *snap.PromptCredits)
	}
}

func TestParseZeroModelsYieldsDefault(t *testing.T) {
	payloads := []string{
		`{}`,
		`{"userStatus": {}}`,
		`{"userStatus": {"cascadeModelConfigData": {"clientModelConfigs": [{"label": "x"}]}}}`,
	}
	for _, p := range payloads {
		snap, err := Parse([]byte(p), testNow)
		if err != nil {
			t.Fatalf("Parse(%s): %v", p, err)
		}
		if len(snap.Models) == 0 {
			t.Fatalf("Parse(%s) returned zero models", p)
		}
		if !snap.IsDefault || snap.AccountLevel != UnknownAccountLevel {
			t.Errorf("Parse(%s) = default %v level %q", p, snap.IsDefault, snap.AccountLevel)
		}
	}
}

func TestParseInvalidJSON(t *testing.T) {
	snap, err := Parse([]byte("not json"), testNow)
	if err == nil {
		t.Fatal("expected decode error")
	}
	if len(snap.Models) == 0 || !snap.IsDefault {
		t.Error("invalid JSON should still produce the default snapshot")
	}
}

func TestParseInvalidResetTime(t *testing.T) {
	raw := `{"userStatus": {"cascadeModelConfigData": {"clientModelConfigs": [
		{"label": "M", "modelOrAlias": {"model": "m"}, "quotaInfo": {"remainingFraction": 0.5, "resetTime": "garbage"}}
	]}}}`
	snap, err := Parse([]byte(raw), testNow)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	m := snap.Models[0]
	if !m.ResetTime.Equal(testNow.Add(24 * time.Hour)) {
		t.Errorf("reset = %v, want now+24h", m.ResetTime)
	}
	if !m.ResetTimeUnreliable {
		t.Error("expected unreliable flag")
	}
	if m.HasSignature() {
		t.Error("unreliable reset time must not count as a signature")
	}
}

func TestPromptCreditsOmitted(t *testing.T) {
	tests := []struct {
		name string
		plan string
	}{
		{"no limit", `"planStatus": {"availablePromptCredits": 10}`},
		{"no available", `"planStatus": {"planInfo": {"monthlyPromptCredits": 100}}`},
		{"zero limit", `"planStatus": {"planInfo": {"monthlyPromptCredits": 0}, "availablePromptCredits": 10}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := `{"userStatus": {` + tt.plan + `, "cascadeModelConfigData": {"clientModelConfigs": [
				{"label": "M", "quotaInfo": {"remainingFraction": 1, "resetTime": "2026-03-02T00:00:00Z"}}
			]}}}`
			snap, err := Parse([]byte(raw), testNow)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if snap.PromptCredits != nil {
				t.Errorf("expected no prompt credits, got %+v", *snap.PromptCredits)
			}
		})
	}
}

func TestAccountLevelFallsBackToPlanName(t *testing.T) {
	raw := `{"userStatus": {"planStatus": {"planInfo": {"planName": "Teams"}}, "cascadeModelConfigData": {"clientModelConfigs": [
		{"label": "M", "quotaInfo": {"remainingFraction": 1}}
	]}}}`
	snap, err := Parse([]byte(raw), testNow)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if snap.AccountLevel != "Teams" {
		t.Errorf("account level = %q, want Teams", snap.AccountLevel)
	}
	if snap.Models[0].ModelID != "M" {
		t.Errorf("model id should fall back to label, got %q", snap.Models[0].ModelID)
	}
}

func TestParseResetTimeLayouts(t *testing.T) {
	for _, s := range []string{
		"2026-03-01T17:30:00Z",
		"2026-03-01T17:30:00.123456789Z",
		"2026-03-01T18:30:00+01:00",
		"2026-03-01T17:30:00",
	} {
		got, ok := ParseResetTime(s)
		if !ok {
			t.Errorf("ParseResetTime(%q) failed", s)
			continue
		}
		if got.Hour() != 17 || got.Minute() != 30 {
			t.Errorf("ParseResetTime(%q) = %v", s, got)
		}
	}
	if _, ok := ParseResetTime(""); ok {
		t.Error("empty reset time should not parse")
	}
}
