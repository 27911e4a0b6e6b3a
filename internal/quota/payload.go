package quota

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// StatusResponse is the raw GetUserStatus body. Every field is optional;
// protobuf JSON drops zero values, so absence is normal.
type StatusResponse struct {
	UserStatus *UserStatus `json:"userStatus"`
}

// UserStatus is the nested status object.
type UserStatus struct {
	Name                   string           `json:"name"`
	Email                  string           `json:"email"`
	PlanStatus             *PlanStatus      `json:"planStatus"`
	CascadeModelConfigData *ModelConfigData `json:"cascadeModelConfigData"`
	UserTier               *UserTier        `json:"userTier"`
}

// UserTier names the account level.
type UserTier struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PlanStatus carries plan info and current credit balances.
type PlanStatus struct {
	PlanInfo               *PlanInfo  `json:"planInfo"`
	AvailablePromptCredits *FlexFloat `json:"availablePromptCredits"`
	AvailableFlowCredits   *FlexFloat `json:"availableFlowCredits"`
}

// PlanInfo carries plan limits.
type PlanInfo struct {
	PlanName             string     `json:"planName"`
	MonthlyPromptCredits *FlexFloat `json:"monthlyPromptCredits"`
	MonthlyFlowCredits   *FlexFloat `json:"monthlyFlowCredits"`
}

// ModelConfigData wraps the per-model configuration list.
type ModelConfigData struct {
	ClientModelConfigs []ModelConfig `json:"clientModelConfigs"`
}

// ModelConfig is one model entry.
type ModelConfig struct {
	Label          string        `json:"label"`
	ModelOrAlias   *ModelOrAlias `json:"modelOrAlias"`
	QuotaInfo      *QuotaInfo    `json:"quotaInfo"`
	SupportsImages bool          `json:"supportsImages"`
	IsRecommended  bool          `json:"isRecommended"`
	AllowedTiers   []string      `json:"allowedTiers"`
}

// ModelOrAlias holds the model identifier.
type ModelOrAlias struct {
	Model string `json:"model"`
}

// QuotaInfo holds the remaining fraction and reset time for a model.
type QuotaInfo struct {
	RemainingFraction *FlexFloat `json:"remainingFraction"`
	ResetTime         string     `json:"resetTime"`
}

// FlexFloat decodes a JSON number or a numeric string (protobuf int64 style).
type FlexFloat float64

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*f = FlexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = FlexFloat(v)
	return nil
}
