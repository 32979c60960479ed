package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/josva12/Mpesa-PaySTK/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

type paymentEventsRepo struct{ pool *pgxpool.Pool }

func (r *paymentEventsRepo) Create(ctx context.Context, e models.PaymentEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO payment_events(id, checkout_request_id, action, details) VALUES($1,$2,$3,$4)`,
		e.ID, e.CheckoutRequestID, e.Action, e.Details,
	)
	return err
}
