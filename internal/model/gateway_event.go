package model

import "time"

// GatewayEventKind is the closed set of billing events the state machine understands.
type GatewayEventKind string

const (
	EventActivated GatewayEventKind = "activated"
	EventCharged   GatewayEventKind = "charged"
	EventCancelled GatewayEventKind = "cancelled"
	EventCompleted GatewayEventKind = "completed"
	EventPaused    GatewayEventKind = "paused"
	EventResumed   GatewayEventKind = "resumed"
	EventUnknown   GatewayEventKind = "unknown"
)

// GatewayEvent is a verified webhook notification, normalised from the gateway's own shape.
type GatewayEvent struct {
	ID                    string
	Provider              string
	Kind                  GatewayEventKind
	RawType               string
	GatewaySubscriptionID string
	GatewayPaymentID      string
	AmountCents           int64
	Currency              string
	PeriodStart           *time.Time
	PeriodEnd             *time.Time
	Payload               []byte
}

// WebhookEvent is the journal row kept for every verified webhook delivery.
type WebhookEvent struct {
	ID              int64      `db:"id"`
	Provider        string     `db:"provider"`
	EventID         string     `db:"event_id"`
	EventType       string     `db:"event_type"`
	Payload         []byte     `db:"payload"`
	ProcessedAt     *time.Time `db:"processed_at"`
	ProcessingError *string    `db:"processing_error"`
	CreatedAt       time.Time  `db:"created_at"`
}
