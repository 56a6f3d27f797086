package model

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrInvalidInput       = errors.New("invalid input")
	ErrLimitExceeded      = errors.New("limit exceeded")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrNotFound           = errors.New("not found")
	ErrUpstreamFailure    = errors.New("upstream failure")
	ErrInvalidPlan        = errors.New("invalid plan")
	ErrEmailTaken         = errors.New("email already registered")
	ErrSubscriptionClosed = errors.New("subscription is closed")
)

// Limit resources reported in LimitExceededError.
const (
	ResourceDownloads = "downloads"
	ResourceFileSize  = "file_size"
	ResourceStorage   = "storage"
)

// LimitExceededError describes an entitlement denial. It matches ErrLimitExceeded.
type LimitExceededError struct {
	Resource string
	Tier     PlanTier
	Limit    int64
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s limit exceeded for %s plan (limit %d)", e.Resource, e.Tier, e.Limit)
}

func (e *LimitExceededError) Is(target error) bool {
	return target == ErrLimitExceeded
}
