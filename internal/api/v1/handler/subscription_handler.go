package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/PRX2112/image-opration-tools-sub001/internal/api/v1/dto"
	"github.com/PRX2112/image-opration-tools-sub001/internal/gateway"
	"github.com/PRX2112/image-opration-tools-sub001/internal/model"
	"github.com/PRX2112/image-opration-tools-sub001/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Stripe caps webhook payloads well below this.
const maxWebhookBody = 64 << 10

// SubscriptionHandler handles subscription endpoints and the payment webhook.
type SubscriptionHandler struct {
	subSvc   service.SubscriptionService
	gateway  gateway.PaymentGateway
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewSubscriptionHandler creates a new SubscriptionHandler.
func NewSubscriptionHandler(subSvc service.SubscriptionService, gw gateway.PaymentGateway, v *validator.Validate, logger zerolog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{subSvc: subSvc, gateway: gw, validate: v, logger: logger}
}

// RegisterRoutes registers the subscription endpoints.
func (h *SubscriptionHandler) RegisterRoutes(r chi.Router, authMw func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(authMw)
		r.Post("/subscriptions", h.Create)
		r.Post("/subscriptions/verify", h.Verify)
		r.Post("/subscriptions/cancel", h.Cancel)
		r.Get("/subscriptions/current", h.Current)
	})
	// Authenticated by the payload signature instead of a session.
	r.Post("/webhooks/payments", h.Webhook)
}

func toSubscriptionDTO(s *model.Subscription) dto.SubscriptionResponseDTO {
	return dto.SubscriptionResponseDTO{
		SubscriptionID:     s.ID,
		PlanID:             s.PlanID,
		Status:             string(s.Status),
		CurrentPeriodStart: s.CurrentPeriodStart,
		CurrentPeriodEnd:   s.CurrentPeriodEnd,
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		CreatedAt:          s.CreatedAt,
	}
}

// Create godoc
// @Summary Start a subscription
// @Description Creates a gateway subscription for the plan and billing cycle. The client completes payment with the returned gateway id.
// @Tags subscriptions
// @Accept json
// @Produce json
// @Param subscription body dto.CreateSubscriptionRequest true "Plan and billing cycle"
// @Success 201 {object} dto.CreateSubscriptionResponse
// @Failure 400 {object} dto.ErrorResponse "invalid plan"
// @Failure 401 {object} dto.ErrorResponse
// @Failure 502 {object} dto.ErrorResponse "payment gateway failed"
// @Security BearerAuth
// @Router /subscriptions [post]
func (h *SubscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req dto.CreateSubscriptionRequest
	if err := decodeAndValidate(w, r, h.validate, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	// Unknown plan or cycle values are rejected by the catalog as ErrInvalidPlan.
	res, err := h.subSvc.Create(r.Context(), id, req.PlanID, req.BillingCycle)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto.CreateSubscriptionResponse{
		SubscriptionID:        res.Subscription.ID,
		GatewaySubscriptionID: res.GatewaySubscriptionID,
	})
}

// Verify godoc
// @Summary Verify a checkout payment
// @Description Verifies the payment signature, activates the subscription and upgrades the plan tier.
// @Tags subscriptions
// @Accept json
// @Produce json
// @Param body body dto.VerifyPaymentRequest true "Payment confirmation"
// @Success 200 {object} dto.SubscriptionResponseDTO
// @Failure 400 {object} dto.ErrorResponse "invalid signature"
// @Failure 404 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse "subscription closed"
// @Security BearerAuth
// @Router /subscriptions/verify [post]
func (h *SubscriptionHandler) Verify(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req dto.VerifyPaymentRequest
	if err := decodeAndValidate(w, r, h.validate, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	sub, err := h.subSvc.VerifyPayment(r.Context(), id, service.VerifyPaymentInput{
		GatewayPaymentID:      req.GatewayPaymentID,
		GatewaySubscriptionID: req.GatewaySubscriptionID,
		Signature:             req.Signature,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionDTO(sub))
}

// Cancel godoc
// @Summary Cancel at period end
// @Description Keeps the paid tier until the current period ends.
// @Tags subscriptions
// @Produce json
// @Success 200 {object} dto.SubscriptionResponseDTO
// @Failure 404 {object} dto.ErrorResponse "no active subscription"
// @Failure 502 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /subscriptions/cancel [post]
func (h *SubscriptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	sub, err := h.subSvc.Cancel(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionDTO(sub))
}

// Current godoc
// @Summary Current subscription
// @Description Returns the latest subscription with its payments.
// @Tags subscriptions
// @Produce json
// @Success 200 {object} dto.CurrentSubscriptionResponse
// @Failure 404 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /subscriptions/current [get]
func (h *SubscriptionHandler) Current(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	cur, err := h.subSvc.GetCurrent(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	payments := make([]dto.PaymentDTO, 0, len(cur.Payments))
	for _, p := range cur.Payments {
		payments = append(payments, dto.PaymentDTO{
			GatewayPaymentID: p.GatewayPaymentID,
			AmountCents:      p.AmountCents,
			Currency:         p.Currency,
			Source:           string(p.Source),
			CreatedAt:        p.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, dto.CurrentSubscriptionResponse{Subscription: toSubscriptionDTO(cur.Subscription), Payments: payments})
}

// Webhook godoc
// @Summary Payment gateway webhook
// @Description Verifies the Stripe-Signature header over the raw body and applies the event. Unknown events are acknowledged.
// @Tags webhooks
// @Accept json
// @Produce json
// @Success 200 {object} map[string]bool
// @Failure 400 {object} dto.ErrorResponse "invalid signature"
// @Failure 404 {object} dto.ErrorResponse "subscription not known yet, redelivery expected"
// @Router /webhooks/payments [post]
func (h *SubscriptionHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, h.logger, model.ErrInvalidInput)
		return
	}

	evt, err := h.gateway.ParseWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, model.ErrInvalidSignature) {
			h.logger.Warn().Err(err).Str("security_event", "invalid_signature").Str("remote_addr", r.RemoteAddr).Msg("Rejected webhook")
			writeError(w, h.logger, model.ErrInvalidSignature)
			return
		}
		// Redelivering a signed body that never parses cannot succeed.
		h.logger.Warn().Err(err).Msg("Acknowledged unreadable webhook")
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	if err := h.subSvc.HandleWebhookEvent(r.Context(), evt); err != nil {
		// Any non-2xx makes the gateway redeliver. Unknown subscriptions land here too.
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
