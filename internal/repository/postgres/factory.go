package postgres

import (
	repo "github.com/josva12/Mpesa-PaySTK/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repositories struct {
	Transactions  repo.Transactions
	PaymentEvents repo.PaymentEvents
}

func NewRepositories(pool *pgxpool.Pool) Repositories {
	return Repositories{
		Transactions:  &transactionsRepo{pool},
		PaymentEvents: &paymentEventsRepo{pool},
	}
}
