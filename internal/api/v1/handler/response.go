package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/PRX2112/image-opration-tools-sub001/internal/api/v1/dto"
	"github.com/PRX2112/image-opration-tools-sub001/internal/middleware"
	"github.com/PRX2112/image-opration-tools-sub001/internal/model"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

const maxJSONBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	var limitErr *model.LimitExceededError
	switch {
	case errors.As(err, &limitErr):
		limit := limitErr.Limit
		writeJSON(w, http.StatusForbidden, dto.ErrorResponse{
			Error:           "limit_exceeded",
			Message:         limitErr.Error(),
			UpgradeRequired: true,
			Resource:        limitErr.Resource,
			PlanTier:        string(limitErr.Tier),
			Limit:           &limit,
		})
	case errors.Is(err, model.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_input", Message: err.Error()})
	case errors.Is(err, model.ErrInvalidPlan):
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_plan", Message: err.Error()})
	case errors.Is(err, model.ErrInvalidSignature):
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_signature", Message: "signature verification failed"})
	case errors.Is(err, model.ErrUnauthenticated):
		writeJSON(w, http.StatusUnauthorized, dto.ErrorResponse{Error: "unauthenticated", Message: "invalid credentials"})
	case errors.Is(err, model.ErrNotFound):
		writeJSON(w, http.StatusNotFound, dto.ErrorResponse{Error: "not_found", Message: err.Error()})
	case errors.Is(err, model.ErrEmailTaken):
		writeJSON(w, http.StatusConflict, dto.ErrorResponse{Error: "email_taken", Message: err.Error()})
	case errors.Is(err, model.ErrSubscriptionClosed):
		writeJSON(w, http.StatusConflict, dto.ErrorResponse{Error: "subscription_closed", Message: err.Error()})
	case errors.Is(err, model.ErrUpstreamFailure):
		logger.Error().Err(err).Msg("Upstream failure")
		writeJSON(w, http.StatusBadGateway, dto.ErrorResponse{Error: "upstream_failure", Message: "an upstream service failed, please retry later"})
	default:
		logger.Error().Err(err).Msg("Internal error")
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "internal", Message: "internal server error"})
	}
}

// decodeAndValidate reads a JSON body into dst and validates it.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, validate *validator.Validate, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid JSON payload: %v", model.ErrInvalidInput, err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: validation failed: %v", model.ErrInvalidInput, err)
	}
	return nil
}

func accountID(r *http.Request) (string, error) {
	id, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		return "", fmt.Errorf("%w: account id not found in context", model.ErrUnauthenticated)
	}
	return id, nil
}
