package dto

type CheckoutRequest struct {
	PlanType string `json:"plan_type" validate:"required,max=50"`
}

type CheckoutResponse struct {
	CheckoutURL string `json:"checkout_url"`
}

type PortalResponse struct {
	PortalURL string `json:"portal_url"`
}

type WebhookResponse struct {
	Received bool `json:"received"`
}
