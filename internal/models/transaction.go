package models

import "time"

type TransactionStatus string

const (
	StatusPending TransactionStatus = "PENDING"
	StatusSuccess TransactionStatus = "SUCCESS"
	StatusFailed  TransactionStatus = "FAILED"
)

// IsTerminal reports whether the status is one of the two final states.
func (s TransactionStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// CanTransition reports whether a status change is legal. The only
// legal moves are PENDING -> SUCCESS and PENDING -> FAILED.
func CanTransition(from, to TransactionStatus) bool {
	return from == StatusPending && to.IsTerminal()
}

// Transaction is one STK push attempt, keyed by the gateway-issued
// checkout request id. It is inserted as PENDING once the gateway
// acknowledges the push and finalized exactly once by a callback.
type Transaction struct {
	CheckoutRequestID string            `json:"checkout_request_id"`
	MerchantRequestID string            `json:"merchant_request_id"`
	Phone             string            `json:"phone"`
	Amount            float64           `json:"amount"`
	AccountReference  string            `json:"account_reference"`
	TransactionDesc   string            `json:"transaction_desc"`
	CustomerMessage   string            `json:"customer_message,omitempty"`
	Status            TransactionStatus `json:"status"`
	ResultCode        *int              `json:"result_code,omitempty"`
	ResultDesc        string            `json:"result_desc,omitempty"`
	TransactionID     *string           `json:"transaction_id,omitempty"`
	TransactionDate   string            `json:"transaction_date,omitempty"`
	Balance           *float64          `json:"balance,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         *time.Time        `json:"updated_at,omitempty"`
}

// TransactionUpdate carries the fields written on the single
// PENDING -> terminal transition. The pointer fields are only set on
// success callbacks.
type TransactionUpdate struct {
	Status          TransactionStatus
	ResultCode      int
	ResultDesc      string
	Amount          *float64
	Phone           *string
	TransactionID   *string
	TransactionDate *string
	Balance         *float64
}

// TransactionFilter narrows List queries. Zero values mean "no filter".
type TransactionFilter struct {
	Phone  string
	Status TransactionStatus
}
