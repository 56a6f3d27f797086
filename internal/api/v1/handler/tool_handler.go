package handler

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/PRX2112/image-opration-tools-sub001/internal/api/v1/dto"
	"github.com/PRX2112/image-opration-tools-sub001/internal/model"
	"github.com/PRX2112/image-opration-tools-sub001/internal/processor"
	"github.com/PRX2112/image-opration-tools-sub001/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// ToolHandler runs image tools on uploaded files.
type ToolHandler struct {
	imageService   service.ImageService
	validate       *validator.Validate
	maxUploadBytes int64
	logger         zerolog.Logger
}

func NewToolHandler(imageService service.ImageService, v *validator.Validate, maxUploadBytes int64, logger zerolog.Logger) *ToolHandler {
	return &ToolHandler{imageService: imageService, validate: v, maxUploadBytes: maxUploadBytes, logger: logger}
}

// RegisterRoutes mounts v1 tool routes
func (h *ToolHandler) RegisterRoutes(r chi.Router, authMw func(http.Handler) http.Handler) {
	r.With(authMw).Post("/tools/{operation}", h.process)
}

// process godoc
// @Summary Run an image tool
// @Description Processes the uploaded file and counts it as a download. With save=true the result is stored and a link is returned instead of the file.
// @Tags tools
// @Accept multipart/form-data
// @Produce octet-stream,json
// @Param operation path string true "resize|crop|compress|convert|rotate|flip|upscale"
// @Param file formData file true "Image"
// @Param width formData int false "Target width"
// @Param height formData int false "Target height"
// @Param x formData int false "Crop origin x"
// @Param y formData int false "Crop origin y"
// @Param quality formData int false "JPEG quality 1-100"
// @Param format formData string false "Target format for convert"
// @Param angle formData int false "Rotation in degrees"
// @Param direction formData string false "horizontal|vertical"
// @Param scale formData number false "Upscale factor"
// @Param save formData bool false "Store the result"
// @Success 200 {file} binary
// @Failure 400 {object} dto.ErrorResponse
// @Failure 403 {object} dto.ErrorResponse "limit exceeded, upgrade required"
// @Security BearerAuth
// @Router /tools/{operation} [post]
func (h *ToolHandler) process(w http.ResponseWriter, r *http.Request) {
	// 1. Extract account id from context
	id, err := accountID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	// 2. Parse and validate the form
	req, input, fileName, err := h.parseForm(w, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	// 3. Process; the service runs the ledger checks around the processor
	res, err := h.imageService.Process(r.Context(), service.ProcessRequest{
		AccountID: id,
		FileName:  fileName,
		Input:     input,
		Save:      req.Save,
		Operation: processor.Operation{
			Kind:      req.Operation,
			Width:     req.Width,
			Height:    req.Height,
			X:         req.X,
			Y:         req.Y,
			Quality:   req.Quality,
			Format:    req.Format,
			Angle:     req.Angle,
			Direction: req.Direction,
			Scale:     req.Scale,
		},
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	// 4. Respond with a link or the file itself
	w.Header().Set("X-Downloads-This-Month", strconv.FormatInt(res.Usage.DownloadsThisMonth, 10))
	if res.URL != "" {
		writeJSON(w, http.StatusOK, dto.SavedFileResponse{
			FileName:    res.FileName,
			ContentType: res.ContentType,
			SizeBytes:   len(res.Data),
			Width:       res.Width,
			Height:      res.Height,
			URL:         res.URL,
			ObjectKey:   res.ObjectKey,
		})
		return
	}
	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": res.FileName}))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.Data); err != nil {
		h.logger.Warn().Err(err).Str("account_id", id).Msg("Failed to write processed file")
	}
}

func (h *ToolHandler) parseForm(w http.ResponseWriter, r *http.Request) (*dto.ToolRequest, []byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, nil, "", fmt.Errorf("%w: upload exceeds %d bytes", model.ErrInvalidInput, h.maxUploadBytes)
		}
		return nil, nil, "", fmt.Errorf("%w: invalid multipart form: %v", model.ErrInvalidInput, err)
	}

	req := &dto.ToolRequest{Operation: chi.URLParam(r, "operation")}
	var err error
	ints := []struct {
		name string
		dst  *int
	}{
		{"width", &req.Width}, {"height", &req.Height}, {"x", &req.X}, {"y", &req.Y},
		{"quality", &req.Quality}, {"angle", &req.Angle},
	}
	for _, f := range ints {
		if *f.dst, err = formInt(r, f.name); err != nil {
			return nil, nil, "", err
		}
	}
	if raw := r.FormValue("scale"); raw != "" {
		if req.Scale, err = strconv.ParseFloat(raw, 64); err != nil {
			return nil, nil, "", fmt.Errorf("%w: scale must be a number", model.ErrInvalidInput)
		}
	}
	if raw := r.FormValue("save"); raw != "" {
		if req.Save, err = strconv.ParseBool(raw); err != nil {
			return nil, nil, "", fmt.Errorf("%w: save must be a boolean", model.ErrInvalidInput)
		}
	}
	req.Format = r.FormValue("format")
	req.Direction = r.FormValue("direction")

	if err := h.validate.Struct(req); err != nil {
		return nil, nil, "", fmt.Errorf("%w: validation failed: %v", model.ErrInvalidInput, err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, nil, "", fmt.Errorf("%w: file is required", model.ErrInvalidInput)
	}
	defer file.Close()
	input, err := io.ReadAll(file)
	if err != nil {
		return nil, nil, "", fmt.Errorf("%w: reading upload: %v", model.ErrInvalidInput, err)
	}
	return req, input, header.Filename, nil
}

func formInt(r *http.Request, name string) (int, error) {
	raw := r.FormValue(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", model.ErrInvalidInput, name)
	}
	return v, nil
}
