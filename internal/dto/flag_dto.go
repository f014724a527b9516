package dto

type FeatureFlagsResponse struct {
	SubscriptionDisabled bool                   `json:"subscription_disabled"`
	Flags                map[string]interface{} `json:"flags"`
}

type SetFlagRequest struct {
	Value string `json:"value" validate:"max=1000"`
	Type  string `json:"type" validate:"omitempty,oneof=string bool int json"`
}
