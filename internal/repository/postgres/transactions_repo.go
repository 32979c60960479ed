package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/josva12/Mpesa-PaySTK/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

type transactionsRepo struct{ pool *pgxpool.Pool }

const txColumns = `checkout_request_id, merchant_request_id, phone, amount,
 account_reference, transaction_desc, customer_message, status,
 result_code, result_desc, transaction_id, transaction_date, balance,
 created_at, updated_at`

func scanTransaction(row pgx.Row) (models.Transaction, error) {
	var tx models.Transaction
	err := row.Scan(
		&tx.CheckoutRequestID, &tx.MerchantRequestID, &tx.Phone, &tx.Amount,
		&tx.AccountReference, &tx.TransactionDesc, &tx.CustomerMessage, &tx.Status,
		&tx.ResultCode, &tx.ResultDesc, &tx.TransactionID, &tx.TransactionDate, &tx.Balance,
		&tx.CreatedAt, &tx.UpdatedAt,
	)
	return tx, err
}

// translateError maps store constraint failures to domain errors so
// raw SQLSTATE detail never leaks past the repository.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return models.ErrDuplicateTransaction
	}
	return err
}

func (r *transactionsRepo) Insert(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
	row := r.pool.QueryRow(ctx, `
INSERT INTO transactions (
  checkout_request_id, merchant_request_id, phone, amount,
  account_reference, transaction_desc, customer_message, status
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
RETURNING `+txColumns,
		tx.CheckoutRequestID, tx.MerchantRequestID, tx.Phone, tx.Amount,
		tx.AccountReference, tx.TransactionDesc, tx.CustomerMessage, tx.Status,
	)
	out, err := scanTransaction(row)
	if err != nil {
		return models.Transaction{}, translateError(err)
	}
	return out, nil
}

func (r *transactionsRepo) GetByCheckoutID(ctx context.Context, id string) (models.Transaction, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE checkout_request_id=$1`, id)
	tx, err := scanTransaction(row)
	if err != nil {
		return models.Transaction{}, translateError(err)
	}
	return tx, nil
}

// Finalize is the guarded terminal transition: the UPDATE matches only
// while the row is still PENDING, so concurrent duplicate callbacks
// race safely and exactly one applies.
func (r *transactionsRepo) Finalize(ctx context.Context, id string, upd models.TransactionUpdate) (models.Transaction, error) {
	row := r.pool.QueryRow(ctx, `
UPDATE transactions SET
  status           = $2,
  result_code      = $3,
  result_desc      = $4,
  amount           = COALESCE($5, amount),
  phone            = COALESCE($6, phone),
  transaction_id   = COALESCE($7, transaction_id),
  transaction_date = COALESCE($8, transaction_date),
  balance          = COALESCE($9, balance),
  updated_at       = now()
WHERE checkout_request_id = $1 AND status = 'PENDING'
RETURNING `+txColumns,
		id, upd.Status, upd.ResultCode, upd.ResultDesc,
		upd.Amount, upd.Phone, upd.TransactionID, upd.TransactionDate, upd.Balance,
	)
	tx, err := scanTransaction(row)
	if err == nil {
		return tx, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		// Zero rows matched: either the id was never issued or the row
		// is already terminal. An existence check tells them apart.
		existing, gerr := r.GetByCheckoutID(ctx, id)
		if gerr != nil {
			return models.Transaction{}, gerr
		}
		return existing, models.ErrAlreadyFinalized
	}
	return models.Transaction{}, translateError(err)
}

func (r *transactionsRepo) List(ctx context.Context, f models.TransactionFilter, limit, offset int) ([]models.Transaction, int64, error) {
	var (
		where []string
		args  []any
	)
	if f.Phone != "" {
		args = append(args, f.Phone)
		where = append(where, fmt.Sprintf("phone=$%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM transactions`+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.pool.Query(ctx, `SELECT `+txColumns+` FROM transactions`+cond+
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, tx)
	}
	return out, total, rows.Err()
}

func (r *transactionsRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
