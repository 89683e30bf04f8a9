package database

import (
	"context"

	"github.com/google/uuid"
)

const getTable = `-- name: GetTable :one
SELECT id, restaurant_id, table_number, location, status, created_at
FROM tables
WHERE id = $1
`

func (q *Queries) GetTable(ctx context.Context, id uuid.UUID) (Table, error) {
	row := q.db.QueryRow(ctx, getTable, id)
	var i Table
	err := row.Scan(
		&i.ID,
		&i.RestaurantID,
		&i.TableNumber,
		&i.Location,
		&i.Status,
		&i.CreatedAt,
	)
	return i, err
}

const listMenuItemsForOrder = `-- name: ListMenuItemsForOrder :many
SELECT id, restaurant_id, name, description, price, status, is_deleted
FROM menu_items
WHERE id = ANY($1::uuid[])
  AND restaurant_id = $2
  AND is_deleted = false
`

type ListMenuItemsForOrderParams struct {
	IDs          []uuid.UUID `json:"ids"`
	RestaurantID uuid.UUID   `json:"restaurant_id"`
}

func (q *Queries) ListMenuItemsForOrder(ctx context.Context, arg ListMenuItemsForOrderParams) ([]MenuItem, error) {
	rows, err := q.db.Query(ctx, listMenuItemsForOrder, arg.IDs, arg.RestaurantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []MenuItem{}
	for rows.Next() {
		var i MenuItem
		if err := rows.Scan(
			&i.ID,
			&i.RestaurantID,
			&i.Name,
			&i.Description,
			&i.Price,
			&i.Status,
			&i.IsDeleted,
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

const listModifierOptionsByIDs = `-- name: ListModifierOptionsByIDs :many
SELECT id, name, price_adjustment, status
FROM modifier_options
WHERE id = ANY($1::uuid[])
`

func (q *Queries) ListModifierOptionsByIDs(ctx context.Context, ids []uuid.UUID) ([]ModifierOption, error) {
	rows, err := q.db.Query(ctx, listModifierOptionsByIDs, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []ModifierOption{}
	for rows.Next() {
		var i ModifierOption
		if err := rows.Scan(
			&i.ID,
			&i.Name,
			&i.PriceAdjustment,
			&i.Status,
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
