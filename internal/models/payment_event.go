package models

import "time"

// PaymentEvent is an append-only audit record of a transaction
// lifecycle step. Events are written off the request path and are
// never read back by this service.
type PaymentEvent struct {
	ID                string         `json:"id"`
	CheckoutRequestID string         `json:"checkout_request_id"`
	Action            string         `json:"action"`
	Details           map[string]any `json:"details,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

const (
	EventInitiated = "initiated"
	EventSuccess   = "callback_success"
	EventFailed    = "callback_failed"
)
