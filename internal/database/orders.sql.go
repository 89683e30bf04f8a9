package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const orderColumns = `id, order_number, restaurant_id, table_id, customer_id, status,
    subtotal, tax, total, special_requests, status_reason, created_at, updated_at,
    accepted_at, preparing_at, ready_at, served_at, completed_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row scanner) (Order, error) {
	var i Order
	err := row.Scan(
		&i.ID,
		&i.OrderNumber,
		&i.RestaurantID,
		&i.TableID,
		&i.CustomerID,
		&i.Status,
		&i.Subtotal,
		&i.Tax,
		&i.Total,
		&i.SpecialRequests,
		&i.StatusReason,
		&i.CreatedAt,
		&i.UpdatedAt,
		&i.AcceptedAt,
		&i.PreparingAt,
		&i.ReadyAt,
		&i.ServedAt,
		&i.CompletedAt,
	)
	return i, err
}

func (q *Queries) queryOrders(ctx context.Context, sql string, args ...interface{}) ([]Order, error) {
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Order{}
	for rows.Next() {
		i, err := scanOrder(rows)
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

const createOrder = `-- name: CreateOrder :one
INSERT INTO orders (order_number, restaurant_id, table_id, customer_id, status, subtotal, tax, total, special_requests)
VALUES ($1, $2, $3, $4, 'pending', $5, $6, $7, $8)
RETURNING ` + orderColumns

type CreateOrderParams struct {
	OrderNumber     string      `json:"order_number"`
	RestaurantID    uuid.UUID   `json:"restaurant_id"`
	TableID         uuid.UUID   `json:"table_id"`
	CustomerID      pgtype.UUID `json:"customer_id"`
	Subtotal        int64       `json:"subtotal"`
	Tax             int64       `json:"tax"`
	Total           int64       `json:"total"`
	SpecialRequests pgtype.Text `json:"special_requests"`
}

func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	row := q.db.QueryRow(ctx, createOrder,
		arg.OrderNumber,
		arg.RestaurantID,
		arg.TableID,
		arg.CustomerID,
		arg.Subtotal,
		arg.Tax,
		arg.Total,
		arg.SpecialRequests,
	)
	return scanOrder(row)
}

const getOrder = `-- name: GetOrder :one
SELECT ` + orderColumns + `
FROM orders
WHERE id = $1
`

func (q *Queries) GetOrder(ctx context.Context, id uuid.UUID) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrder, id))
}

const getOrderForUpdate = `-- name: GetOrderForUpdate :one
SELECT ` + orderColumns + `
FROM orders
WHERE id = $1
FOR NO KEY UPDATE
`

func (q *Queries) GetOrderForUpdate(ctx context.Context, id uuid.UUID) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrderForUpdate, id))
}

const updateOrderTotals = `-- name: UpdateOrderTotals :one
UPDATE orders
SET subtotal = $2, tax = $3, total = $4, updated_at = now()
WHERE id = $1
RETURNING ` + orderColumns

type UpdateOrderTotalsParams struct {
	ID       uuid.UUID `json:"id"`
	Subtotal int64     `json:"subtotal"`
	Tax      int64     `json:"tax"`
	Total    int64     `json:"total"`
}

func (q *Queries) UpdateOrderTotals(ctx context.Context, arg UpdateOrderTotalsParams) (Order, error) {
	row := q.db.QueryRow(ctx, updateOrderTotals, arg.ID, arg.Subtotal, arg.Tax, arg.Total)
	return scanOrder(row)
}

// The WHERE clause on the expected status makes the transition a
// compare-and-swap: pgx.ErrNoRows means another writer moved the order first.
const updateOrderStatus = `-- name: UpdateOrderStatus :one
UPDATE orders
SET status        = $2,
    accepted_at   = COALESCE($4, accepted_at),
    preparing_at  = COALESCE($5, preparing_at),
    ready_at      = COALESCE($6, ready_at),
    served_at     = COALESCE($7, served_at),
    completed_at  = COALESCE($8, completed_at),
    status_reason = COALESCE($9, status_reason),
    updated_at    = now()
WHERE id = $1 AND status = $3
RETURNING ` + orderColumns

type UpdateOrderStatusParams struct {
	ID             uuid.UUID          `json:"id"`
	Status         string             `json:"status"`
	ExpectedStatus string             `json:"expected_status"`
	AcceptedAt     pgtype.Timestamptz `json:"accepted_at"`
	PreparingAt    pgtype.Timestamptz `json:"preparing_at"`
	ReadyAt        pgtype.Timestamptz `json:"ready_at"`
	ServedAt       pgtype.Timestamptz `json:"served_at"`
	CompletedAt    pgtype.Timestamptz `json:"completed_at"`
	StatusReason   pgtype.Text        `json:"status_reason"`
}

func (q *Queries) UpdateOrderStatus(ctx context.Context, arg UpdateOrderStatusParams) (Order, error) {
	row := q.db.QueryRow(ctx, updateOrderStatus,
		arg.ID,
		arg.Status,
		arg.ExpectedStatus,
		arg.AcceptedAt,
		arg.PreparingAt,
		arg.ReadyAt,
		arg.ServedAt,
		arg.CompletedAt,
		arg.StatusReason,
	)
	return scanOrder(row)
}

const completeOrdersByIDs = `-- name: CompleteOrdersByIDs :execrows
UPDATE orders
SET status = 'completed',
    completed_at = COALESCE(completed_at, now()),
    updated_at = now()
WHERE id = ANY($1::uuid[])
`

func (q *Queries) CompleteOrdersByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	result, err := q.db.Exec(ctx, completeOrdersByIDs, ids)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const listOrders = `-- name: ListOrders :many
SELECT ` + orderColumns + `
FROM orders
WHERE restaurant_id = $1
  AND ($2::text IS NULL OR status = $2)
  AND ($3::uuid IS NULL OR table_id = $3)
  AND ($4::uuid IS NULL OR customer_id = $4)
  AND ($5::timestamptz IS NULL OR created_at >= $5)
  AND ($6::timestamptz IS NULL OR created_at <= $6)
ORDER BY created_at DESC
LIMIT $7 OFFSET $8
`

type ListOrdersParams struct {
	RestaurantID uuid.UUID          `json:"restaurant_id"`
	Status       pgtype.Text        `json:"status"`
	TableID      pgtype.UUID        `json:"table_id"`
	CustomerID   pgtype.UUID        `json:"customer_id"`
	StartDate    pgtype.Timestamptz `json:"start_date"`
	EndDate      pgtype.Timestamptz `json:"end_date"`
	Limit        int32              `json:"limit"`
	Offset       int32              `json:"offset"`
}

func (q *Queries) ListOrders(ctx context.Context, arg ListOrdersParams) ([]Order, error) {
	return q.queryOrders(ctx, listOrders,
		arg.RestaurantID,
		arg.Status,
		arg.TableID,
		arg.CustomerID,
		arg.StartDate,
		arg.EndDate,
		arg.Limit,
		arg.Offset,
	)
}

const listOpenOrdersByTable = `-- name: ListOpenOrdersByTable :many
SELECT ` + orderColumns + `
FROM orders
WHERE table_id = $1
  AND status NOT IN ('completed', 'cancelled', 'rejected')
ORDER BY created_at DESC
`

func (q *Queries) ListOpenOrdersByTable(ctx context.Context, tableID uuid.UUID) ([]Order, error) {
	return q.queryOrders(ctx, listOpenOrdersByTable, tableID)
}

const listOrdersByIDs = `-- name: ListOrdersByIDs :many
SELECT ` + orderColumns + `
FROM orders
WHERE id = ANY($1::uuid[])
ORDER BY created_at
`

func (q *Queries) ListOrdersByIDs(ctx context.Context, ids []uuid.UUID) ([]Order, error) {
	return q.queryOrders(ctx, listOrdersByIDs, ids)
}

const createOrderItem = `-- name: CreateOrderItem :one
INSERT INTO order_items (order_id, menu_item_id, quantity, unit_price, subtotal, special_requests)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, order_id, menu_item_id, quantity, unit_price, subtotal, special_requests, created_at
`

type CreateOrderItemParams struct {
	OrderID         uuid.UUID      `json:"order_id"`
	MenuItemID      uuid.UUID      `json:"menu_item_id"`
	Quantity        int32          `json:"quantity"`
	UnitPrice       pgtype.Numeric `json:"unit_price"`
	Subtotal        int64          `json:"subtotal"`
	SpecialRequests pgtype.Text    `json:"special_requests"`
}

func (q *Queries) CreateOrderItem(ctx context.Context, arg CreateOrderItemParams) (OrderItem, error) {
	row := q.db.QueryRow(ctx, createOrderItem,
		arg.OrderID,
		arg.MenuItemID,
		arg.Quantity,
		arg.UnitPrice,
		arg.Subtotal,
		arg.SpecialRequests,
	)
	var i OrderItem
	err := row.Scan(
		&i.ID,
		&i.OrderID,
		&i.MenuItemID,
		&i.Quantity,
		&i.UnitPrice,
		&i.Subtotal,
		&i.SpecialRequests,
		&i.CreatedAt,
	)
	return i, err
}

const createOrderItemModifier = `-- name: CreateOrderItemModifier :one
INSERT INTO order_item_modifiers (order_item_id, modifier_option_id, price_adjustment)
VALUES ($1, $2, $3)
RETURNING id, order_item_id, modifier_option_id, price_adjustment
`

type CreateOrderItemModifierParams struct {
	OrderItemID      uuid.UUID      `json:"order_item_id"`
	ModifierOptionID uuid.UUID      `json:"modifier_option_id"`
	PriceAdjustment  pgtype.Numeric `json:"price_adjustment"`
}

func (q *Queries) CreateOrderItemModifier(ctx context.Context, arg CreateOrderItemModifierParams) (OrderItemModifier, error) {
	row := q.db.QueryRow(ctx, createOrderItemModifier, arg.OrderItemID, arg.ModifierOptionID, arg.PriceAdjustment)
	var i OrderItemModifier
	err := row.Scan(
		&i.ID,
		&i.OrderItemID,
		&i.ModifierOptionID,
		&i.PriceAdjustment,
	)
	return i, err
}

const listOrderItemDetails = `-- name: ListOrderItemDetails :many
SELECT oi.id, oi.order_id, oi.menu_item_id, oi.quantity, oi.unit_price, oi.subtotal,
       oi.special_requests, oi.created_at,
       mi.name AS menu_item_name, mi.description AS menu_item_description, mi.price AS menu_item_price
FROM order_items oi
JOIN menu_items mi ON mi.id = oi.menu_item_id
WHERE oi.order_id = $1
ORDER BY oi.created_at, oi.id
`

type ListOrderItemDetailsRow struct {
	ID                  uuid.UUID      `json:"id"`
	OrderID             uuid.UUID      `json:"order_id"`
	MenuItemID          uuid.UUID      `json:"menu_item_id"`
	Quantity            int32          `json:"quantity"`
	UnitPrice           pgtype.Numeric `json:"unit_price"`
	Subtotal            int64          `json:"subtotal"`
	SpecialRequests     pgtype.Text    `json:"special_requests"`
	CreatedAt           time.Time      `json:"created_at"`
	MenuItemName        string         `json:"menu_item_name"`
	MenuItemDescription pgtype.Text    `json:"menu_item_description"`
	MenuItemPrice       pgtype.Numeric `json:"menu_item_price"`
}

func (q *Queries) ListOrderItemDetails(ctx context.Context, orderID uuid.UUID) ([]ListOrderItemDetailsRow, error) {
	rows, err := q.db.Query(ctx, listOrderItemDetails, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []ListOrderItemDetailsRow{}
	for rows.Next() {
		var i ListOrderItemDetailsRow
		if err := rows.Scan(
			&i.ID,
			&i.OrderID,
			&i.MenuItemID,
			&i.Quantity,
			&i.UnitPrice,
			&i.Subtotal,
			&i.SpecialRequests,
			&i.CreatedAt,
			&i.MenuItemName,
			&i.MenuItemDescription,
			&i.MenuItemPrice,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listOrderItemModifierDetails = `-- name: ListOrderItemModifierDetails :many
SELECT oim.id, oim.order_item_id, oim.modifier_option_id, oim.price_adjustment,
       mo.name AS modifier_option_name
FROM order_item_modifiers oim
JOIN order_items oi ON oi.id = oim.order_item_id
JOIN modifier_options mo ON mo.id = oim.modifier_option_id
WHERE oi.order_id = $1
ORDER BY oim.order_item_id, oim.id
`

type ListOrderItemModifierDetailsRow struct {
	ID                 uuid.UUID      `json:"id"`
	OrderItemID        uuid.UUID      `json:"order_item_id"`
	ModifierOptionID   uuid.UUID      `json:"modifier_option_id"`
	PriceAdjustment    pgtype.Numeric `json:"price_adjustment"`
	ModifierOptionName string         `json:"modifier_option_name"`
}

func (q *Queries) ListOrderItemModifierDetails(ctx context.Context, orderID uuid.UUID) ([]ListOrderItemModifierDetailsRow, error) {
	rows, err := q.db.Query(ctx, listOrderItemModifierDetails, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []ListOrderItemModifierDetailsRow{}
	for rows.Next() {
		var i ListOrderItemModifierDetailsRow
		if err := rows.Scan(
			&i.ID,
			&i.OrderItemID,
			&i.ModifierOptionID,
			&i.PriceAdjustment,
			&i.ModifierOptionName,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
