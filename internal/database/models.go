package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type Table struct {
	ID           uuid.UUID   `json:"id"`
	RestaurantID uuid.UUID   `json:"restaurant_id"`
	TableNumber  string      `json:"table_number"`
	Location     pgtype.Text `json:"location"`
	Status       string      `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
}

type MenuItem struct {
	ID           uuid.UUID      `json:"id"`
	RestaurantID uuid.UUID      `json:"restaurant_id"`
	Name         string         `json:"name"`
	Description  pgtype.Text    `json:"description"`
	Price        pgtype.Numeric `json:"price"`
	Status       string         `json:"status"`
	IsDeleted    bool           `json:"is_deleted"`
}

type ModifierOption struct {
	ID              uuid.UUID      `json:"id"`
	Name            string         `json:"name"`
	PriceAdjustment pgtype.Numeric `json:"price_adjustment"`
	Status          pgtype.Text    `json:"status"`
}

type Order struct {
	ID              uuid.UUID          `json:"id"`
	OrderNumber     string             `json:"order_number"`
	RestaurantID    uuid.UUID          `json:"restaurant_id"`
	TableID         uuid.UUID          `json:"table_id"`
	CustomerID      pgtype.UUID        `json:"customer_id"`
	Status          string             `json:"status"`
	Subtotal        int64              `json:"subtotal"`
	Tax             int64              `json:"tax"`
	Total           int64              `json:"total"`
	SpecialRequests pgtype.Text        `json:"special_requests"`
	StatusReason    pgtype.Text        `json:"status_reason"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
	AcceptedAt      pgtype.Timestamptz `json:"accepted_at"`
	PreparingAt     pgtype.Timestamptz `json:"preparing_at"`
	ReadyAt         pgtype.Timestamptz `json:"ready_at"`
	ServedAt        pgtype.Timestamptz `json:"served_at"`
	CompletedAt     pgtype.Timestamptz `json:"completed_at"`
}

type OrderItem struct {
	ID              uuid.UUID      `json:"id"`
	OrderID         uuid.UUID      `json:"order_id"`
	MenuItemID      uuid.UUID      `json:"menu_item_id"`
	Quantity        int32          `json:"quantity"`
	UnitPrice       pgtype.Numeric `json:"unit_price"`
	Subtotal        int64          `json:"subtotal"`
	SpecialRequests pgtype.Text    `json:"special_requests"`
	CreatedAt       time.Time      `json:"created_at"`
}

type OrderItemModifier struct {
	ID               uuid.UUID      `json:"id"`
	OrderItemID      uuid.UUID      `json:"order_item_id"`
	ModifierOptionID uuid.UUID      `json:"modifier_option_id"`
	PriceAdjustment  pgtype.Numeric `json:"price_adjustment"`
}

type PaymentMethod struct {
	ID       uuid.UUID `json:"id"`
	Code     string    `json:"code"`
	Name     string    `json:"name"`
	IsActive bool      `json:"is_active"`
}

type BillRequest struct {
	ID                uuid.UUID   `json:"id"`
	RestaurantID      uuid.UUID   `json:"restaurant_id"`
	TableID           uuid.UUID   `json:"table_id"`
	CustomerID        pgtype.UUID `json:"customer_id"`
	OrderIDs          []uuid.UUID `json:"order_ids"`
	Status            string      `json:"status"`
	Subtotal          int64       `json:"subtotal"`
	TipsAmount        int64       `json:"tips_amount"`
	TotalAmount       int64       `json:"total_amount"`
	PaymentMethodCode string      `json:"payment_method_code"`
	StatusReason      pgtype.Text `json:"status_reason"`
	AcceptedBy        pgtype.UUID `json:"accepted_by"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

type Payment struct {
	ID               uuid.UUID          `json:"id"`
	BillRequestID    pgtype.UUID        `json:"bill_request_id"`
	PaymentMethodID  uuid.UUID          `json:"payment_method_id"`
	Amount           int64              `json:"amount"`
	TipsAmount       int64              `json:"tips_amount"`
	MergedOrderIDs   []uuid.UUID        `json:"merged_order_ids"`
	Status           string             `json:"status"`
	GatewayRequestID pgtype.Text        `json:"gateway_request_id"`
	GatewayTransID   pgtype.Text        `json:"gateway_trans_id"`
	CompletedAt      pgtype.Timestamptz `json:"completed_at"`
	FailedReason     pgtype.Text        `json:"failed_reason"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}
