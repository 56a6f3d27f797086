package dto

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error           string `json:"error"`
	Message         string `json:"message"`
	UpgradeRequired bool   `json:"upgrade_required,omitempty"`
	Resource        string `json:"resource,omitempty"`
	PlanTier        string `json:"plan_tier,omitempty"`
	Limit           *int64 `json:"limit,omitempty"`
}
