package repository

import (
	"context"

	"github.com/josva12/Mpesa-PaySTK/internal/models"
)

// Transactions is the durable record of payment attempts. Correctness
// under concurrent duplicates lives here: Insert relies on the
// checkout_request_id uniqueness constraint and Finalize on a guarded
// match-only-if-PENDING update.
type Transactions interface {
	// Insert stores a new PENDING transaction. A replayed correlation
	// id yields models.ErrDuplicateTransaction.
	Insert(ctx context.Context, tx models.Transaction) (models.Transaction, error)

	GetByCheckoutID(ctx context.Context, checkoutRequestID string) (models.Transaction, error)

	// Finalize applies the single PENDING -> terminal transition.
	// Returns models.ErrNotFound when the correlation id was never
	// issued and models.ErrAlreadyFinalized when the row is already
	// terminal (a replayed callback).
	Finalize(ctx context.Context, checkoutRequestID string, upd models.TransactionUpdate) (models.Transaction, error)

	// List returns a page ordered by creation time descending, plus
	// the total match count for the filter.
	List(ctx context.Context, f models.TransactionFilter, limit, offset int) ([]models.Transaction, int64, error)

	Ping(ctx context.Context) error
}

// PaymentEvents appends lifecycle audit rows.
type PaymentEvents interface {
	Create(ctx context.Context, e models.PaymentEvent) error
}
