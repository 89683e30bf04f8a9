package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const paymentColumns = `id, bill_request_id, payment_method_id, amount, tips_amount, merged_order_ids,
    status, gateway_request_id, gateway_trans_id, completed_at, failed_reason, created_at, updated_at`

func scanPayment(row scanner) (Payment, error) {
	var i Payment
	err := row.Scan(
		&i.ID,
		&i.BillRequestID,
		&i.PaymentMethodID,
		&i.Amount,
		&i.TipsAmount,
		&i.MergedOrderIDs,
		&i.Status,
		&i.GatewayRequestID,
		&i.GatewayTransID,
		&i.CompletedAt,
		&i.FailedReason,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getPaymentMethodByCode = `-- name: GetPaymentMethodByCode :one
SELECT id, code, name, is_active
FROM payment_methods
WHERE code = $1 AND is_active = true
`

func (q *Queries) GetPaymentMethodByCode(ctx context.Context, code string) (PaymentMethod, error) {
	row := q.db.QueryRow(ctx, getPaymentMethodByCode, code)
	var i PaymentMethod
	err := row.Scan(&i.ID, &i.Code, &i.Name, &i.IsActive)
	return i, err
}

const getPaymentMethod = `-- name: GetPaymentMethod :one
SELECT id, code, name, is_active
FROM payment_methods
WHERE id = $1
`

func (q *Queries) GetPaymentMethod(ctx context.Context, id uuid.UUID) (PaymentMethod, error) {
	row := q.db.QueryRow(ctx, getPaymentMethod, id)
	var i PaymentMethod
	err := row.Scan(&i.ID, &i.Code, &i.Name, &i.IsActive)
	return i, err
}

const createPayment = `-- name: CreatePayment :one
INSERT INTO payments (bill_request_id, payment_method_id, amount, tips_amount, merged_order_ids, status)
VALUES ($1, $2, $3, $4, $5, 'pending')
RETURNING ` + paymentColumns

type CreatePaymentParams struct {
	BillRequestID   pgtype.UUID `json:"bill_request_id"`
	PaymentMethodID uuid.UUID   `json:"payment_method_id"`
	Amount          int64       `json:"amount"`
	TipsAmount      int64       `json:"tips_amount"`
	MergedOrderIDs  []uuid.UUID `json:"merged_order_ids"`
}

func (q *Queries) CreatePayment(ctx context.Context, arg CreatePaymentParams) (Payment, error) {
	row := q.db.QueryRow(ctx, createPayment,
		arg.BillRequestID,
		arg.PaymentMethodID,
		arg.Amount,
		arg.TipsAmount,
		arg.MergedOrderIDs,
	)
	return scanPayment(row)
}

const hasPendingPayment = `-- name: HasPendingPayment :one
SELECT EXISTS (
    SELECT 1 FROM payments
    WHERE bill_request_id = $1 AND status = 'pending'
)
`

func (q *Queries) HasPendingPayment(ctx context.Context, billRequestID uuid.UUID) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, hasPendingPayment, billRequestID).Scan(&exists)
	return exists, err
}

const setPaymentGatewayRequest = `-- name: SetPaymentGatewayRequest :exec
UPDATE payments
SET gateway_request_id = $2, updated_at = now()
WHERE id = $1
`

type SetPaymentGatewayRequestParams struct {
	ID               uuid.UUID `json:"id"`
	GatewayRequestID string    `json:"gateway_request_id"`
}

func (q *Queries) SetPaymentGatewayRequest(ctx context.Context, arg SetPaymentGatewayRequestParams) error {
	_, err := q.db.Exec(ctx, setPaymentGatewayRequest, arg.ID, arg.GatewayRequestID)
	return err
}

const getPayment = `-- name: GetPayment :one
SELECT ` + paymentColumns + `
FROM payments
WHERE id = $1
`

func (q *Queries) GetPayment(ctx context.Context, id uuid.UUID) (Payment, error) {
	return scanPayment(q.db.QueryRow(ctx, getPayment, id))
}

const getPaymentForUpdate = `-- name: GetPaymentForUpdate :one
SELECT ` + paymentColumns + `
FROM payments
WHERE id = $1
FOR UPDATE
`

func (q *Queries) GetPaymentForUpdate(ctx context.Context, id uuid.UUID) (Payment, error) {
	return scanPayment(q.db.QueryRow(ctx, getPaymentForUpdate, id))
}

const completePayment = `-- name: CompletePayment :one
UPDATE payments
SET status = 'completed',
    gateway_trans_id = $2,
    completed_at = now(),
    updated_at = now()
WHERE id = $1 AND status = 'pending'
RETURNING ` + paymentColumns

type CompletePaymentParams struct {
	ID             uuid.UUID   `json:"id"`
	GatewayTransID pgtype.Text `json:"gateway_trans_id"`
}

func (q *Queries) CompletePayment(ctx context.Context, arg CompletePaymentParams) (Payment, error) {
	return scanPayment(q.db.QueryRow(ctx, completePayment, arg.ID, arg.GatewayTransID))
}

const failPayment = `-- name: FailPayment :one
UPDATE payments
SET status = 'failed',
    gateway_trans_id = COALESCE($2, gateway_trans_id),
    failed_reason = $3,
    updated_at = now()
WHERE id = $1 AND status = 'pending'
RETURNING ` + paymentColumns

type FailPaymentParams struct {
	ID             uuid.UUID   `json:"id"`
	GatewayTransID pgtype.Text `json:"gateway_trans_id"`
	FailedReason   pgtype.Text `json:"failed_reason"`
}

func (q *Queries) FailPayment(ctx context.Context, arg FailPaymentParams) (Payment, error) {
	return scanPayment(q.db.QueryRow(ctx, failPayment, arg.ID, arg.GatewayTransID, arg.FailedReason))
}

const expireStalePayments = `-- name: ExpireStalePayments :many
UPDATE payments
SET status = 'failed',
    failed_reason = 'expired',
    updated_at = now()
WHERE status = 'pending' AND created_at < $1
RETURNING ` + paymentColumns

func (q *Queries) ExpireStalePayments(ctx context.Context, before pgtype.Timestamptz) ([]Payment, error) {
	rows, err := q.db.Query(ctx, expireStalePayments, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Payment{}
	for rows.Next() {
		i, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
