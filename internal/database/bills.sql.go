package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const billRequestColumns = `id, restaurant_id, table_id, customer_id, order_ids, status, subtotal,
    tips_amount, total_amount, payment_method_code, status_reason, accepted_by, created_at, updated_at`

func scanBillRequest(row scanner) (BillRequest, error) {
	var i BillRequest
	err := row.Scan(
		&i.ID,
		&i.RestaurantID,
		&i.TableID,
		&i.CustomerID,
		&i.OrderIDs,
		&i.Status,
		&i.Subtotal,
		&i.TipsAmount,
		&i.TotalAmount,
		&i.PaymentMethodCode,
		&i.StatusReason,
		&i.AcceptedBy,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createBillRequest = `-- name: CreateBillRequest :one
INSERT INTO bill_requests (restaurant_id, table_id, customer_id, order_ids, status,
    subtotal, tips_amount, total_amount, payment_method_code)
VALUES ($1, $2, $3, $4, 'pending', $5, $6, $7, $8)
RETURNING ` + billRequestColumns

type CreateBillRequestParams struct {
	RestaurantID      uuid.UUID   `json:"restaurant_id"`
	TableID           uuid.UUID   `json:"table_id"`
	CustomerID        pgtype.UUID `json:"customer_id"`
	OrderIDs          []uuid.UUID `json:"order_ids"`
	Subtotal          int64       `json:"subtotal"`
	TipsAmount        int64       `json:"tips_amount"`
	TotalAmount       int64       `json:"total_amount"`
	PaymentMethodCode string      `json:"payment_method_code"`
}

func (q *Queries) CreateBillRequest(ctx context.Context, arg CreateBillRequestParams) (BillRequest, error) {
	row := q.db.QueryRow(ctx, createBillRequest,
		arg.RestaurantID,
		arg.TableID,
		arg.CustomerID,
		arg.OrderIDs,
		arg.Subtotal,
		arg.TipsAmount,
		arg.TotalAmount,
		arg.PaymentMethodCode,
	)
	return scanBillRequest(row)
}

const getBillRequest = `-- name: GetBillRequest :one
SELECT ` + billRequestColumns + `
FROM bill_requests
WHERE id = $1
`

func (q *Queries) GetBillRequest(ctx context.Context, id uuid.UUID) (BillRequest, error) {
	return scanBillRequest(q.db.QueryRow(ctx, getBillRequest, id))
}

const getBillRequestForUpdate = `-- name: GetBillRequestForUpdate :one
SELECT ` + billRequestColumns + `
FROM bill_requests
WHERE id = $1
FOR UPDATE
`

func (q *Queries) GetBillRequestForUpdate(ctx context.Context, id uuid.UUID) (BillRequest, error) {
	return scanBillRequest(q.db.QueryRow(ctx, getBillRequestForUpdate, id))
}

const updateBillRequestStatus = `-- name: UpdateBillRequestStatus :one
UPDATE bill_requests
SET status        = $2,
    status_reason = COALESCE($4, status_reason),
    accepted_by   = COALESCE($5, accepted_by),
    updated_at    = now()
WHERE id = $1 AND status = $3
RETURNING ` + billRequestColumns

type UpdateBillRequestStatusParams struct {
	ID             uuid.UUID   `json:"id"`
	Status         string      `json:"status"`
	ExpectedStatus string      `json:"expected_status"`
	StatusReason   pgtype.Text `json:"status_reason"`
	AcceptedBy     pgtype.UUID `json:"accepted_by"`
}

func (q *Queries) UpdateBillRequestStatus(ctx context.Context, arg UpdateBillRequestStatusParams) (BillRequest, error) {
	row := q.db.QueryRow(ctx, updateBillRequestStatus,
		arg.ID,
		arg.Status,
		arg.ExpectedStatus,
		arg.StatusReason,
		arg.AcceptedBy,
	)
	return scanBillRequest(row)
}

const completeBillRequest = `-- name: CompleteBillRequest :execrows
UPDATE bill_requests
SET status = 'completed', updated_at = now()
WHERE id = $1 AND status <> 'completed'
`

func (q *Queries) CompleteBillRequest(ctx context.Context, id uuid.UUID) (int64, error) {
	result, err := q.db.Exec(ctx, completeBillRequest, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
