// Package quota turns the language server's status payload into a normalized
// per-model quota snapshot.
package quota

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// UnknownAccountLevel is reported when the payload names no tier or plan.
const UnknownAccountLevel = "Unknown"

// unreliableResetFallback replaces reset times that fail to parse.
const unreliableResetFallback = 24 * time.Hour

// Capabilities are per-model feature flags.
type Capabilities struct {
	SupportsImages bool     `json:"supports_images,omitempty"`
	Recommended    bool     `json:"recommended,omitempty"`
	AllowedTiers   []string `json:"allowed_tiers,omitempty"`
}

// ModelQuota is the normalized quota for one model.
type ModelQuota struct {
	ModelID             string        `json:"model_id"`
	DisplayName         string        `json:"display_name"`
	RemainingFraction   float64       `json:"remaining_fraction"`
	RemainingPercentage float64       `json:"remaining_percentage"`
	PercentUsed         int           `json:"percent_used"`
	ResetTime           time.Time     `json:"reset_time"`
	ResetTimeUnreliable bool          `json:"reset_time_unreliable,omitempty"`
	TimeUntilReset      time.Duration `json:"time_until_reset"`
	TimeUntilResetText  string        `json:"time_until_reset_text"`
	Capabilities        Capabilities  `json:"capabilities"`
}

// HasSignature reports whether the model carries both a fraction and a
// trustworthy reset time, which is what quota pool grouping keys on.
func (m ModelQuota) HasSignature() bool {
	return !m.ResetTime.IsZero() && !m.ResetTimeUnreliable
}

// PromptCredits is the aggregated credit balance.
type PromptCredits struct {
	Available           float64 `json:"available"`
	Monthly             float64 `json:"monthly"`
	UsedPercentage      int     `json:"used_percentage"`
	RemainingPercentage int     `json:"remaining_percentage"`
}

// Snapshot is one normalized poll of the status payload.
type Snapshot struct {
	Timestamp     time.Time      `json:"timestamp"`
	Models        []ModelQuota   `json:"models"`
	PromptCredits *PromptCredits `json:"prompt_credits,omitempty"`
	AccountLevel  string         `json:"account_level"`
	PlanName      string         `json:"plan_name,omitempty"`
	UserName      string         `json:"user_name,omitempty"`
	Email         string         `json:"email,omitempty"`
	IsDefault     bool           `json:"is_default,omitempty"`
}

// placeholderModels fill a snapshot when the payload has no usable quota entries.
var placeholderModels = []struct{ id, name string }{
	{"gemini-3-pro-high", "Gemini 3 Pro (High)"},
	{"claude-sonnet-4-5", "Claude Sonnet 4.5"},
	{"gpt-oss-120b", "GPT-OSS 120B"},
}

// DefaultSnapshot is returned instead of a snapshot with zero models.
func DefaultSnapshot(now time.Time) Snapshot {
	reset := now.Add(unreliableResetFallback)
	models := make([]ModelQuota, 0, len(placeholderModels))
	for _, p := range placeholderModels {
		models = append(models, newModelQuota(p.id, p.name, 1, reset, true, now, Capabilities{}))
	}
	return Snapshot{
		Timestamp:    now,
		Models:       models,
		AccountLevel: UnknownAccountLevel,
		IsDefault:    true,
	}
}

// Parse decodes a raw status body. Undecodable input yields the default
// snapshot together with the decode error, so callers can log and carry on.
func Parse(raw []byte, now time.Time) (Snapshot, error) {
	var resp StatusResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return DefaultSnapshot(now), fmt.Errorf("quota: decode status: %w", err)
	}
	return FromResponse(&resp, now), nil
}

// FromResponse normalizes a decoded status payload. It never fails.
func FromResponse(resp *StatusResponse, now time.Time) Snapshot {
	if resp == nil || resp.UserStatus == nil {
		return DefaultSnapshot(now)
	}
	us := resp.UserStatus

	var models []ModelQuota
	if us.CascadeModelConfigData != nil {
		for _, cfg := range us.CascadeModelConfigData.ClientModelConfigs {
			if cfg.QuotaInfo == nil {
				continue
			}
			models = append(models, modelFromConfig(cfg, now))
		}
	}
	if len(models) == 0 {
		return DefaultSnapshot(now)
	}

	snap := Snapshot{
		Timestamp:    now,
		Models:       models,
		AccountLevel: accountLevel(us),
		UserName:     us.Name,
		Email:        us.Email,
	}
	if us.PlanStatus != nil && us.PlanStatus.PlanInfo != nil {
		snap.PlanName = us.PlanStatus.PlanInfo.PlanName
	}
	snap.PromptCredits = promptCredits(us.PlanStatus)
	return snap
}

func modelFromConfig(cfg ModelConfig, now time.Time) ModelQuota {
	id := ""
	if cfg.ModelOrAlias != nil {
		id = cfg.ModelOrAlias.Model
	}
	if id == "" {
		id = cfg.Label
	}
	name := cfg.Label
	if name == "" {
		name = id
	}

	// Protobuf JSON omits a zero fraction, so absent means exhausted.
	fraction := 0.0
	if cfg.QuotaInfo.RemainingFraction != nil {
		fraction = float64(*cfg.QuotaInfo.RemainingFraction)
	}

	reset, ok := ParseResetTime(cfg.QuotaInfo.ResetTime)
	if !ok {
		reset = now.Add(unreliableResetFallback)
	}

	return newModelQuota(id, name, fraction, reset, !ok, now, Capabilities{
		SupportsImages: cfg.SupportsImages,
		Recommended:    cfg.IsRecommended,
		AllowedTiers:   cfg.AllowedTiers,
	})
}

func newModelQuota(id, name string, fraction float64, reset time.Time, unreliable bool, now time.Time, caps Capabilities) ModelQuota {
	fraction = clamp(fraction, 0, 1)
	remaining := fraction * 100
	until := reset.Sub(now)
	return ModelQuota{
		ModelID:             id,
		DisplayName:         name,
		RemainingFraction:   fraction,
		RemainingPercentage: remaining,
		PercentUsed:         int(math.Round(100 - remaining)),
		ResetTime:           reset,
		ResetTimeUnreliable: unreliable,
		TimeUntilReset:      until,
		TimeUntilResetText:  FormatTimeUntil(until),
		Capabilities:        caps,
	}
}

func accountLevel(us *UserStatus) string {
	if us.UserTier != nil && strings.TrimSpace(us.UserTier.Name) != "" {
		return us.UserTier.Name
	}
	if us.PlanStatus != nil && us.PlanStatus.PlanInfo != nil && us.PlanStatus.PlanInfo.PlanName != "" {
		return us.PlanStatus.PlanInfo.PlanName
	}
	return UnknownAccountLevel
}

// promptCredits is nil unless both the monthly limit and the available count
// are present and the limit is positive.
func promptCredits(ps *PlanStatus) *PromptCredits {
	if ps == nil || ps.PlanInfo == nil || ps.PlanInfo.MonthlyPromptCredits == nil || ps.AvailablePromptCredits == nil {
		return nil
	}
	monthly := float64(*ps.PlanInfo.MonthlyPromptCredits)
	available := float64(*ps.AvailablePromptCredits)
	if monthly <= 0 {
		return nil
	}
	return &PromptCredits{
		Available:           available,
		Monthly:             monthly,
		UsedPercentage:      int(math.Round((monthly - available) / monthly * 100)),
		RemainingPercentage: int(math.Round(available / monthly * 100)),
	}
}

var resetLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.000Z0700",
}

// ParseResetTime parses the ISO-like reset timestamps the server emits.
func ParseResetTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range resetLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
