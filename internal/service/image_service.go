package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/PRX2112/image-opration-tools-sub001/internal/model"
	"github.com/PRX2112/image-opration-tools-sub001/internal/processor"
	"github.com/PRX2112/image-opration-tools-sub001/internal/storage"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	savedObjectURLTTL = 15 * time.Minute
	discardTimeout    = 10 * time.Second
)

// ProcessRequest is one tool invocation on an uploaded file.
type ProcessRequest struct {
	AccountID string
	FileName  string
	Input     []byte
	Operation processor.Operation
	// Save keeps the result in object storage and counts it against the storage allowance.
	Save bool
}

// ProcessResult is the processed file and, when saved, a link to it.
type ProcessResult struct {
	*processor.Result
	FileName  string
	ObjectKey string
	URL       string
	Usage     *model.UsageRecord
}

// ImageService gates image tools behind the entitlement ledger.
type ImageService interface {
	Process(ctx context.Context, req ProcessRequest) (*ProcessResult, error)
}

type imageService struct {
	ledger    LedgerService
	processor processor.ImageProcessor
	store     storage.ObjectStore
	logger    zerolog.Logger
}

// NewImageService creates an ImageService. store may be nil, in which case saving is rejected.
func NewImageService(ledger LedgerService, proc processor.ImageProcessor, store storage.ObjectStore, logger zerolog.Logger) ImageService {
	return &imageService{
		ledger:    ledger,
		processor: proc,
		store:     store,
		logger:    logger.With().Str("service", "ImageService").Logger(),
	}
}

func (s *imageService) Process(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
	if len(req.Input) == 0 {
		return nil, fmt.Errorf("%w: empty file", model.ErrInvalidInput)
	}
	if req.Save && s.store == nil {
		return nil, fmt.Errorf("%w: saving files is not available", model.ErrInvalidInput)
	}

	// 1. Read-path checks; RecordDownload re-checks at write time.
	if _, err := s.ledger.CheckFileSize(ctx, req.AccountID, int64(len(req.Input))); err != nil {
		return nil, err
	}
	if _, err := s.ledger.CheckDownload(ctx, req.AccountID); err != nil {
		return nil, err
	}

	// 2. Process
	out, err := s.processor.Process(ctx, req.Input, req.Operation)
	if err != nil {
		if errors.Is(err, processor.ErrDecode) || errors.Is(err, processor.ErrUnsupported) {
			return nil, fmt.Errorf("%w: %v", model.ErrInvalidInput, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.logger.Error().Err(err).Str("account_id", req.AccountID).Str("operation", req.Operation.Kind).Msg("Image processing failed")
		return nil, fmt.Errorf("%w: %v", model.ErrUpstreamFailure, err)
	}

	result := &ProcessResult{Result: out, FileName: outputName(req.FileName, req.Operation.Kind, out.Format)}

	// 3. Optional save. The object is uploaded before it is counted so a
	// failed upload never uses up allowance.
	if req.Save {
		if err := s.ledger.CheckStorage(ctx, req.AccountID, int64(len(out.Data))); err != nil {
			return nil, err
		}
		result.ObjectKey = fmt.Sprintf("accounts/%s/%s.%s", req.AccountID, uuid.NewString(), out.Format)
		if err := s.store.Put(ctx, result.ObjectKey, out.ContentType, out.Data); err != nil {
			s.logger.Error().Err(err).Str("account_id", req.AccountID).Str("key", result.ObjectKey).Msg("Failed to save processed file")
			return nil, fmt.Errorf("%w: %v", model.ErrUpstreamFailure, err)
		}
	}

	// 4. Count the download; the ledger re-checks downloads and storage on the locked row
	usage, err := s.ledger.RecordDownload(ctx, req.AccountID, DownloadInput{
		FileSizeBytes: int64(len(out.Data)),
		ToolName:      req.Operation.Kind,
		FileName:      result.FileName,
		Saved:         req.Save,
	})
	if err != nil {
		if req.Save {
			s.discard(req.AccountID, result.ObjectKey)
		}
		return nil, err
	}

	// 5. Link to the saved file
	if req.Save {
		url, err := s.store.PresignGet(ctx, result.ObjectKey, savedObjectURLTTL)
		if err != nil {
			s.logger.Error().Err(err).Str("key", result.ObjectKey).Msg("Failed to presign saved file")
			return nil, fmt.Errorf("%w: %v", model.ErrUpstreamFailure, err)
		}
		result.URL = url
	}
	result.Usage = usage
	return result, nil
}

// discard removes an uploaded object whose download the ledger refused. It
// runs detached from the request context, which may already be cancelled.
func (s *imageService) discard(accountID, key string) {
	ctx, cancel := context.WithTimeout(context.Background(), discardTimeout)
	defer cancel()
	if err := s.store.Delete(ctx, key); err != nil {
		s.logger.Error().Err(err).Str("account_id", accountID).Str("key", key).Msg("Failed to delete uncounted saved file")
	}
}

// outputName derives the download name, e.g. "photo.png" -> "photo-resize.jpeg".
func outputName(name, op, format string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.TrimSuffix(base, path.Ext(base))
	if base == "" || base == "." || base == "/" {
		base = "image"
	}
	return fmt.Sprintf("%s-%s.%s", base, op, format)
}
