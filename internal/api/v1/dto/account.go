package dto

import "time"

// SignupRequest is used for account registration
type SignupRequest struct {
	Email       string  `json:"email" validate:"required,email,max=320"`
	Password    string  `json:"password" validate:"required,min=8,max=72"`
	DisplayName *string `json:"display_name,omitempty" validate:"omitempty,max=100"`
}

// LoginRequest is used for password login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// AccountResponseDTO is returned in API responses
type AccountResponseDTO struct {
	AccountID   string    `json:"account_id"`
	Email       string    `json:"email"`
	DisplayName *string   `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// SessionResponseDTO carries a bearer token
type SessionResponseDTO struct {
	Token     string             `json:"token"`
	ExpiresAt time.Time          `json:"expires_at"`
	Account   AccountResponseDTO `json:"account"`
}
