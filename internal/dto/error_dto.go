package dto

type ErrorResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// EntitlementErrorResponse is the 403 body for a refused chat send.
type EntitlementErrorResponse struct {
	Error         bool   `json:"error"`
	Message       string `json:"message"`
	Code          string `json:"code"`
	Reason        string `json:"reason"`
	QuestionsUsed int    `json:"questions_used"`
	TrialLimit    int    `json:"trial_limit"`
	UpgradePath   string `json:"upgrade_path"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	DB        string `json:"db"`
	Cache     string `json:"cache"`
}

type SystemInfoResponse struct {
	Service              string   `json:"service"`
	Environment          string   `json:"environment"`
	GoVersion            string   `json:"go_version"`
	Database             string   `json:"database"`
	Cache                string   `json:"cache"`
	AnswerProviders      []string `json:"answer_providers"`
	BillingEnabled       bool     `json:"billing_enabled"`
	GoogleSignIn         bool     `json:"google_sign_in"`
	TrialLimit           int      `json:"trial_limit"`
	SubscriptionDisabled bool     `json:"subscription_disabled"`
	Uptime               string   `json:"uptime"`
}
