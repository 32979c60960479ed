package models

import "errors"

// Domain errors returned by repositories and services. Raw store
// errors (constraint names, SQLSTATEs) never cross this boundary.
var (
	// ErrDuplicateTransaction indicates a correlation id or gateway
	// receipt that already exists in the store.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrNotFound indicates no transaction matches the correlation id.
	ErrNotFound = errors.New("transaction not found")

	// ErrAlreadyFinalized indicates the matched transaction is already
	// in a terminal state. Callers treat a replayed callback as a
	// no-op, not a failure.
	ErrAlreadyFinalized = errors.New("transaction already finalized")

	// ErrMalformedCallback indicates a callback envelope that cannot be
	// correlated or is missing required metadata.
	ErrMalformedCallback = errors.New("malformed callback")
)
