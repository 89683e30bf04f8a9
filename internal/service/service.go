package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/tablepay/api/internal/apperr"
	"github.com/tablepay/api/internal/database"
)

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// DB is a connection pool: plain queries plus transactions.
// Satisfied by *pgxpool.Pool.
type DB interface {
	database.DBTX
	TxBeginner
}

// Publisher pushes real-time events to a restaurant's staff clients.
// Publish must not block the caller.
type Publisher interface {
	Publish(restaurantID uuid.UUID, event string, payload interface{})
}

// CartClearer empties the cart an order was placed from.
type CartClearer interface {
	Clear(ctx context.Context, customerID *uuid.UUID, sessionID string) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(uuid.UUID, string, interface{}) {}

// notFound maps pgx.ErrNoRows to apperr.ErrNotFound and wraps anything else
// with the action that failed.
func notFound(err error, what, action string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", apperr.ErrNotFound, what)
	}
	return fmt.Errorf("%s: %w", action, err)
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid {
		return decimal.Zero
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(val.(string))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(d.StringFixed(2))
	return n
}

func textOrNull(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

func uuidOrNull(id *uuid.UUID) pgtype.UUID {
	if id == nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: *id, Valid: true}
}
