package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/PRX2112/image-opration-tools-sub001/internal/api/v1/dto"
	"github.com/PRX2112/image-opration-tools-sub001/internal/model"
	"github.com/PRX2112/image-opration-tools-sub001/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// UsageHandler exposes the entitlement ledger.
type UsageHandler struct {
	ledger   service.LedgerService
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewUsageHandler(ledger service.LedgerService, v *validator.Validate, logger zerolog.Logger) *UsageHandler {
	return &UsageHandler{ledger: ledger, validate: v, logger: logger}
}

// RegisterRoutes mounts v1 usage routes
func (h *UsageHandler) RegisterRoutes(r chi.Router, authMw func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(authMw)
		r.Get("/usage", h.getUsage)
		r.Post("/usage/downloads", h.trackDownload)
		r.Get("/usage/history", h.listHistory)
	})
}

func (h *UsageHandler) usageDTO(u *model.UsageRecord) dto.UsageResponseDTO {
	limits := h.ledger.Limits(u.PlanTier)
	return dto.UsageResponseDTO{
		DownloadsThisMonth: u.DownloadsThisMonth,
		StorageUsedBytes:   u.StorageUsedBytes,
		PlanTier:           string(u.PlanTier),
		LastResetAt:        u.LastResetAt,
		Limits: dto.LimitsDTO{
			DownloadsPerMonth: limits.DownloadsPerMonth,
			MaxFileSizeBytes:  limits.MaxFileSizeBytes,
			StorageBytes:      limits.StorageBytes,
		},
	}
}

// getUsage godoc
// @Summary Current usage
// @Description Returns the monthly counters and plan limits, resetting the period first when it is due.
// @Tags usage
// @Produce json
// @Success 200 {object} dto.UsageResponseDTO
// @Failure 401 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /usage [get]
func (h *UsageHandler) getUsage(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	usage, err := h.ledger.GetUsage(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.usageDTO(usage))
}

// trackDownload godoc
// @Summary Track a download
// @Description Counts a completed download against the monthly allowance.
// @Tags usage
// @Accept json
// @Produce json
// @Param body body dto.TrackDownloadRequest true "Download"
// @Success 200 {object} dto.UsageResponseDTO
// @Failure 400 {object} dto.ErrorResponse
// @Failure 403 {object} dto.ErrorResponse "limit exceeded, upgrade required"
// @Security BearerAuth
// @Router /usage/downloads [post]
func (h *UsageHandler) trackDownload(w http.ResponseWriter, r *http.Request) {
	// 1. Extract account id from context
	id, err := accountID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	// 2. Decode and validate before any write
	var req dto.TrackDownloadRequest
	if err := decodeAndValidate(w, r, h.validate, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	// 3. Record the download; the ledger re-checks the limit on the locked row
	usage, err := h.ledger.RecordDownload(r.Context(), id, service.DownloadInput{
		FileSizeBytes: req.FileSize,
		ToolName:      req.ToolName,
		FileName:      req.FileName,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.usageDTO(usage))
}

// listHistory godoc
// @Summary Download history
// @Description Lists downloads for paid plans, newest first.
// @Tags usage
// @Produce json
// @Param limit query int false "Max entries (default 20, max 100)"
// @Param offset query int false "Offset"
// @Success 200 {array} dto.DownloadHistoryDTO
// @Failure 400 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /usage/history [get]
func (h *UsageHandler) listHistory(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	limit, err := queryInt(r, "limit", defaultHistoryLimit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if limit <= 0 || limit > maxHistoryLimit {
		limit = defaultHistoryLimit
	}

	entries, err := h.ledger.History(r.Context(), id, limit, offset)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	resp := make([]dto.DownloadHistoryDTO, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, dto.DownloadHistoryDTO{
			ID:            e.ID,
			ToolName:      e.ToolName,
			FileName:      e.FileName,
			FileSizeBytes: e.FileSizeBytes,
			CreatedAt:     e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", model.ErrInvalidInput, name)
	}
	return v, nil
}
