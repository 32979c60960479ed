package postgres

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/josva12/Mpesa-PaySTK/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestTranslateError(t *testing.T) {
	t.Run("unique violation becomes duplicate transaction", func(t *testing.T) {
		err := translateError(&pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "transactions_pkey"})
		assert.ErrorIs(t, err, models.ErrDuplicateTransaction)
	})

	t.Run("no rows becomes not found", func(t *testing.T) {
		assert.ErrorIs(t, translateError(pgx.ErrNoRows), models.ErrNotFound)
	})

	t.Run("other errors pass through", func(t *testing.T) {
		sentinel := errors.New("connection reset")
		assert.Equal(t, sentinel, translateError(sentinel))
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, translateError(nil))
	})
}
