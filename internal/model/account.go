package model

import "time"

// Account represents a registered end user.
type Account struct {
	ID               string    `db:"id" json:"id"`
	Email            string    `db:"email" json:"email"`
	DisplayName      *string   `db:"display_name" json:"display_name,omitempty"`
	PasswordHash     string    `db:"password_hash" json:"-"`
	StripeCustomerID *string   `db:"stripe_customer_id" json:"-"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}
