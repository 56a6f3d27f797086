package handler

import (
	"net/http"

	"github.com/PRX2112/image-opration-tools-sub001/internal/api/v1/dto"
	"github.com/PRX2112/image-opration-tools-sub001/internal/model"
	"github.com/PRX2112/image-opration-tools-sub001/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// AccountHandler serves signup, login and the account profile.
type AccountHandler struct {
	accountService service.AccountService
	validate       *validator.Validate
	logger         zerolog.Logger
}

func NewAccountHandler(accountService service.AccountService, v *validator.Validate, logger zerolog.Logger) *AccountHandler {
	return &AccountHandler{accountService: accountService, validate: v, logger: logger}
}

// RegisterRoutes mounts v1 account routes
func (h *AccountHandler) RegisterRoutes(r chi.Router, authMw func(http.Handler) http.Handler) {
	r.Post("/auth/signup", h.signup)
	r.Post("/auth/login", h.login)
	r.With(authMw).Get("/accounts/me", h.getMe)
}

func toAccountDTO(a *model.Account) dto.AccountResponseDTO {
	return dto.AccountResponseDTO{AccountID: a.ID, Email: a.Email, DisplayName: a.DisplayName, CreatedAt: a.CreatedAt}
}

func toSessionDTO(s *service.Session) dto.SessionResponseDTO {
	return dto.SessionResponseDTO{Token: s.Token, ExpiresAt: s.ExpiresAt, Account: toAccountDTO(s.Account)}
}

// signup godoc
// @Summary Register an account
// @Tags auth
// @Accept json
// @Produce json
// @Param body body dto.SignupRequest true "Signup request"
// @Success 201 {object} dto.SessionResponseDTO
// @Failure 400 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse "email already registered"
// @Router /auth/signup [post]
func (h *AccountHandler) signup(w http.ResponseWriter, r *http.Request) {
	var req dto.SignupRequest
	if err := decodeAndValidate(w, r, h.validate, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	session, err := h.accountService.Register(r.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionDTO(session))
}

// login godoc
// @Summary Log in with email and password
// @Tags auth
// @Accept json
// @Produce json
// @Param body body dto.LoginRequest true "Login request"
// @Success 200 {object} dto.SessionResponseDTO
// @Failure 400 {object} dto.ErrorResponse
// @Failure 401 {object} dto.ErrorResponse
// @Router /auth/login [post]
func (h *AccountHandler) login(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if err := decodeAndValidate(w, r, h.validate, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	session, err := h.accountService.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(session))
}

// getMe godoc
// @Summary Get the authenticated account
// @Tags accounts
// @Produce json
// @Success 200 {object} dto.AccountResponseDTO
// @Failure 401 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /accounts/me [get]
func (h *AccountHandler) getMe(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	account, err := h.accountService.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(account))
}
