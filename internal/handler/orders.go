package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tablepay/api/internal/database"
	"github.com/tablepay/api/internal/service"
)

// OrderServicer defines the service methods needed by order handlers.
// Satisfied by *service.OrderService; narrow interface for testability.
type OrderServicer interface {
	CreateOrder(ctx context.Context, req service.CreateOrderRequest) (*service.OrderDetails, error)
	AddItemsToOrder(ctx context.Context, orderID uuid.UUID, items []service.OrderItemRequest) (*service.OrderDetails, error)
	GetOrderDetails(ctx context.Context, orderID uuid.UUID) (*service.OrderDetails, error)
	ListOrders(ctx context.Context, f service.ListOrdersFilter) ([]database.Order, error)
	ListOpenOrdersByTable(ctx context.Context, tableID uuid.UUID) ([]database.Order, error)
	UpdateOrderStatus(ctx context.Context, req service.UpdateStatusRequest) (database.Order, error)
	AcceptOrder(ctx context.Context, restaurantID, orderID uuid.UUID) (database.Order, error)
	RejectOrder(ctx context.Context, restaurantID, orderID uuid.UUID, reason string) (database.Order, error)
	ServeOrder(ctx context.Context, restaurantID, orderID uuid.UUID) (database.Order, error)
}

// OrderHandler handles order endpoints.
type OrderHandler struct {
	svc      OrderServicer
	validate *validator.Validate
	logger   *logrus.Logger
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(svc OrderServicer, validate *validator.Validate, logger *logrus.Logger) *OrderHandler {
	return &OrderHandler{svc: svc, validate: validate, logger: logger}
}

// RegisterPublicRoutes registers the table-session endpoints under /api.
func (h *OrderHandler) RegisterPublicRoutes(r chi.Router) {
	r.Post("/orders", h.Create)
	r.Get("/orders/{id}", h.Get)
	r.Post("/orders/{id}/items", h.AddItems)
	r.Get("/tables/{tid}/orders", h.ListByTable)
}

// RegisterKitchenRoutes registers staff endpoints open to every kitchen-facing
// role. Expected to be mounted inside /restaurants/{rid}.
func (h *OrderHandler) RegisterKitchenRoutes(r chi.Router) {
	r.Get("/orders", h.List)
	r.Patch("/orders/{id}/status", h.UpdateStatus)
}

// RegisterWaiterRoutes registers the floor shortcuts. Expected to be mounted
// inside /restaurants/{rid}.
func (h *OrderHandler) RegisterWaiterRoutes(r chi.Router) {
	r.Post("/orders/{id}/accept", h.Accept)
	r.Post("/orders/{id}/reject", h.Reject)
	r.Post("/orders/{id}/serve", h.Serve)
}

// --- Request / Response types ---

type createOrderRequest struct {
	RestaurantID    string                   `json:"restaurant_id" validate:"required,uuid"`
	TableID         string                   `json:"table_id" validate:"required,uuid"`
	CustomerID      string                   `json:"customer_id" validate:"omitempty,uuid"`
	SessionID       string                   `json:"session_id" validate:"max=128"`
	SpecialRequests string                   `json:"special_requests" validate:"max=500"`
	Items           []createOrderItemRequest `json:"items" validate:"required,min=1,dive"`
}

type createOrderItemRequest struct {
	MenuItemID        string   `json:"menu_item_id" validate:"required,uuid"`
	Quantity          int32    `json:"quantity" validate:"gt=0"`
	ModifierOptionIDs []string `json:"modifier_option_ids" validate:"dive,uuid"`
	SpecialRequests   string   `json:"special_requests" validate:"max=500"`
}

type addItemsRequest struct {
	Items []createOrderItemRequest `json:"items" validate:"required,min=1,dive"`
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required"`
	Reason string `json:"reason" validate:"max=500"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type orderResponse struct {
	ID              uuid.UUID  `json:"id"`
	OrderNumber     string     `json:"order_number"`
	RestaurantID    uuid.UUID  `json:"restaurant_id"`
	TableID         uuid.UUID  `json:"table_id"`
	CustomerID      *uuid.UUID `json:"customer_id"`
	Status          string     `json:"status"`
	Subtotal        int64      `json:"subtotal"`
	Tax             int64      `json:"tax"`
	Total           int64      `json:"total"`
	SpecialRequests *string    `json:"special_requests"`
	StatusReason    *string    `json:"status_reason"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	AcceptedAt      *time.Time `json:"accepted_at"`
	PreparingAt     *time.Time `json:"preparing_at"`
	ReadyAt         *time.Time `json:"ready_at"`
	ServedAt        *time.Time `json:"served_at"`
	CompletedAt     *time.Time `json:"completed_at"`
}

type tableResponse struct {
	ID          uuid.UUID `json:"id"`
	TableNumber string    `json:"table_number"`
	Location    *string   `json:"location"`
}

type orderItemResponse struct {
	ID              uuid.UUID                   `json:"id"`
	MenuItemID      uuid.UUID                   `json:"menu_item_id"`
	MenuItemName    string                      `json:"menu_item_name"`
	Description     *string                     `json:"description"`
	Quantity        int32                       `json:"quantity"`
	UnitPrice       string                      `json:"unit_price"`
	Subtotal        int64                       `json:"subtotal"`
	SpecialRequests *string                     `json:"special_requests"`
	Modifiers       []orderItemModifierResponse `json:"modifiers"`
}

type orderItemModifierResponse struct {
	ID               uuid.UUID `json:"id"`
	ModifierOptionID uuid.UUID `json:"modifier_option_id"`
	Name             string    `json:"name"`
	PriceAdjustment  string    `json:"price_adjustment"`
}

// orderDetailResponse extends orderResponse with the table and line items.
type orderDetailResponse struct {
	orderResponse
	Table tableResponse       `json:"table"`
	Items []orderItemResponse `json:"items"`
}

// orderListResponse wraps a list of orders with pagination metadata.
type orderListResponse struct {
	Orders []orderResponse `json:"orders"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// --- Public handlers ---

// Create handles POST /api/orders.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	details, err := h.svc.CreateOrder(r.Context(), service.CreateOrderRequest{
		RestaurantID:    uuid.MustParse(req.RestaurantID),
		TableID:         uuid.MustParse(req.TableID),
		CustomerID:      optionalUUID(req.CustomerID),
		SessionID:       req.SessionID,
		SpecialRequests: req.SpecialRequests,
		Items:           toItemRequests(req.Items),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "create order", err)
		return
	}

	writeJSON(w, http.StatusCreated, toOrderDetailResponse(details))
}

// Get handles GET /api/orders/{id}.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	orderID, ok := urlUUID(w, r, "id", "order")
	if !ok {
		return
	}

	details, err := h.svc.GetOrderDetails(r.Context(), orderID)
	if err != nil {
		writeServiceError(w, r, h.logger, "get order", err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderDetailResponse(details))
}

// AddItems handles POST /api/orders/{id}/items.
func (h *OrderHandler) AddItems(w http.ResponseWriter, r *http.Request) {
	orderID, ok := urlUUID(w, r, "id", "order")
	if !ok {
		return
	}

	var req addItemsRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	details, err := h.svc.AddItemsToOrder(r.Context(), orderID, toItemRequests(req.Items))
	if err != nil {
		writeServiceError(w, r, h.logger, "add order items", err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderDetailResponse(details))
}

// ListByTable handles GET /api/tables/{tid}/orders. Only open orders are returned.
func (h *OrderHandler) ListByTable(w http.ResponseWriter, r *http.Request) {
	tableID, ok := urlUUID(w, r, "tid", "table")
	if !ok {
		return
	}

	orders, err := h.svc.ListOpenOrdersByTable(r.Context(), tableID)
	if err != nil {
		writeServiceError(w, r, h.logger, "list table orders", err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponses(orders))
}

// --- Staff handlers ---

// List handles GET /api/restaurants/{rid}/orders.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := urlUUID(w, r, "rid", "restaurant")
	if !ok {
		return
	}

	q := r.URL.Query()

	limit := 20
	if s := q.Get("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > 100 {
		limit = 100
	}

	offset := 0
	if s := q.Get("offset"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v >= 0 {
			offset = v
		}
	}

	filter := service.ListOrdersFilter{
		RestaurantID: restaurantID,
		Status:       q.Get("status"),
		Limit:        int32(limit),
		Offset:       int32(offset),
	}

	for param, dst := range map[string]**uuid.UUID{"table_id": &filter.TableID, "customer_id": &filter.CustomerID} {
		s := q.Get(param)
		if s == "" {
			continue
		}
		id, err := uuid.Parse(s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid " + param})
			return
		}
		*dst = &id
	}

	for param, dst := range map[string]**time.Time{"start_date": &filter.Start, "end_date": &filter.End} {
		s := q.Get(param)
		if s == "" {
			continue
		}
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid " + param + " format, use YYYY-MM-DD"})
			return
		}
		if param == "end_date" {
			// inclusive of the whole day
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		*dst = &t
	}

	orders, err := h.svc.ListOrders(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, h.logger, "list orders", err)
		return
	}

	writeJSON(w, http.StatusOK, orderListResponse{
		Orders: toOrderResponses(orders),
		Limit:  limit,
		Offset: offset,
	})
}

// UpdateStatus handles PATCH /api/restaurants/{rid}/orders/{id}/status.
func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := urlUUID(w, r, "rid", "restaurant")
	if !ok {
		return
	}
	orderID, ok := urlUUID(w, r, "id", "order")
	if !ok {
		return
	}

	var req updateStatusRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	order, err := h.svc.UpdateOrderStatus(r.Context(), service.UpdateStatusRequest{
		OrderID:      orderID,
		RestaurantID: restaurantID,
		Status:       req.Status,
		Reason:       req.Reason,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "update order status", err)
		return
	}

	writeJSON(w, http.StatusOK, dbOrderToResponse(order))
}

// Accept handles POST /api/restaurants/{rid}/orders/{id}/accept.
func (h *OrderHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.shortcut(w, r, "accept order", h.svc.AcceptOrder)
}

// Serve handles POST /api/restaurants/{rid}/orders/{id}/serve.
func (h *OrderHandler) Serve(w http.ResponseWriter, r *http.Request) {
	h.shortcut(w, r, "serve order", h.svc.ServeOrder)
}

// Reject handles POST /api/restaurants/{rid}/orders/{id}/reject.
func (h *OrderHandler) Reject(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := urlUUID(w, r, "rid", "restaurant")
	if !ok {
		return
	}
	orderID, ok := urlUUID(w, r, "id", "order")
	if !ok {
		return
	}

	var req rejectRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	order, err := h.svc.RejectOrder(r.Context(), restaurantID, orderID, req.Reason)
	if err != nil {
		writeServiceError(w, r, h.logger, "reject order", err)
		return
	}

	writeJSON(w, http.StatusOK, dbOrderToResponse(order))
}

func (h *OrderHandler) shortcut(w http.ResponseWriter, r *http.Request, action string,
	fn func(ctx context.Context, restaurantID, orderID uuid.UUID) (database.Order, error)) {
	restaurantID, ok := urlUUID(w, r, "rid", "restaurant")
	if !ok {
		return
	}
	orderID, ok := urlUUID(w, r, "id", "order")
	if !ok {
		return
	}

	order, err := fn(r.Context(), restaurantID, orderID)
	if err != nil {
		writeServiceError(w, r, h.logger, action, err)
		return
	}

	writeJSON(w, http.StatusOK, dbOrderToResponse(order))
}

// --- Helpers ---

func toItemRequests(items []createOrderItemRequest) []service.OrderItemRequest {
	out := make([]service.OrderItemRequest, len(items))
	for i, it := range items {
		out[i] = service.OrderItemRequest{
			MenuItemID:        uuid.MustParse(it.MenuItemID),
			Quantity:          it.Quantity,
			ModifierOptionIDs: parseUUIDs(it.ModifierOptionIDs),
			SpecialRequests:   it.SpecialRequests,
		}
	}
	return out
}

func dbOrderToResponse(o database.Order) orderResponse {
	return orderResponse{
		ID:              o.ID,
		OrderNumber:     o.OrderNumber,
		RestaurantID:    o.RestaurantID,
		TableID:         o.TableID,
		CustomerID:      uuidPtr(o.CustomerID),
		Status:          o.Status,
		Subtotal:        o.Subtotal,
		Tax:             o.Tax,
		Total:           o.Total,
		SpecialRequests: textPtr(o.SpecialRequests),
		StatusReason:    textPtr(o.StatusReason),
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
		AcceptedAt:      timePtr(o.AcceptedAt),
		PreparingAt:     timePtr(o.PreparingAt),
		ReadyAt:         timePtr(o.ReadyAt),
		ServedAt:        timePtr(o.ServedAt),
		CompletedAt:     timePtr(o.CompletedAt),
	}
}

func toOrderResponses(orders []database.Order) []orderResponse {
	resp := make([]orderResponse, len(orders))
	for i, o := range orders {
		resp[i] = dbOrderToResponse(o)
	}
	return resp
}

func toOrderDetailResponse(d *service.OrderDetails) orderDetailResponse {
	items := make([]orderItemResponse, len(d.Items))
	for i, it := range d.Items {
		mods := make([]orderItemModifierResponse, len(it.Modifiers))
		for j, m := range it.Modifiers {
			mods[j] = orderItemModifierResponse{
				ID:               m.Modifier.ID,
				ModifierOptionID: m.Modifier.ModifierOptionID,
				Name:             m.Name,
				PriceAdjustment:  numericToString(m.Modifier.PriceAdjustment),
			}
		}
		items[i] = orderItemResponse{
			ID:              it.Item.ID,
			MenuItemID:      it.Item.MenuItemID,
			MenuItemName:    it.MenuItemName,
			Description:     textPtr(it.MenuItemDesc),
			Quantity:        it.Item.Quantity,
			UnitPrice:       numericToString(it.Item.UnitPrice),
			Subtotal:        it.Item.Subtotal,
			SpecialRequests: textPtr(it.Item.SpecialRequests),
			Modifiers:       mods,
		}
	}

	return orderDetailResponse{
		orderResponse: dbOrderToResponse(d.Order),
		Table: tableResponse{
			ID:          d.Table.ID,
			TableNumber: d.Table.TableNumber,
			Location:    textPtr(d.Table.Location),
		},
		Items: items,
	}
}
