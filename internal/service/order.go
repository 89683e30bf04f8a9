package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/tablepay/api/internal/apperr"
	"github.com/tablepay/api/internal/database"
	"github.com/tablepay/api/internal/enum"
	"github.com/tablepay/api/internal/orderstate"
	"github.com/tablepay/api/internal/pricing"
)

const maxOrderNumberRetries = 3

// OrderStore defines the DB methods needed by the order service.
// Satisfied by *database.Queries (and its WithTx variant).
type OrderStore interface {
	GetTable(ctx context.Context, id uuid.UUID) (database.Table, error)
	ListMenuItemsForOrder(ctx context.Context, arg database.ListMenuItemsForOrderParams) ([]database.MenuItem, error)
	ListModifierOptionsByIDs(ctx context.Context, ids []uuid.UUID) ([]database.ModifierOption, error)
	CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error)
	CreateOrderItem(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error)
	CreateOrderItemModifier(ctx context.Context, arg database.CreateOrderItemModifierParams) (database.OrderItemModifier, error)
	GetOrder(ctx context.Context, id uuid.UUID) (database.Order, error)
	GetOrderForUpdate(ctx context.Context, id uuid.UUID) (database.Order, error)
	UpdateOrderTotals(ctx context.Context, arg database.UpdateOrderTotalsParams) (database.Order, error)
	UpdateOrderStatus(ctx context.Context, arg database.UpdateOrderStatusParams) (database.Order, error)
	ListOrders(ctx context.Context, arg database.ListOrdersParams) ([]database.Order, error)
	ListOpenOrdersByTable(ctx context.Context, tableID uuid.UUID) ([]database.Order, error)
	ListOrderItemDetails(ctx context.Context, orderID uuid.UUID) ([]database.ListOrderItemDetailsRow, error)
	ListOrderItemModifierDetails(ctx context.Context, orderID uuid.UUID) ([]database.ListOrderItemModifierDetailsRow, error)
}

// NewOrderStore creates an OrderStore from a DBTX (pool or tx).
type NewOrderStore func(db database.DBTX) OrderStore

// CreateOrderRequest is the validated input for placing an order from a
// table session.
type CreateOrderRequest struct {
	RestaurantID    uuid.UUID
	TableID         uuid.UUID
	CustomerID      *uuid.UUID
	SessionID       string
	SpecialRequests string
	Items           []OrderItemRequest
}

// OrderItemRequest is a single cart line.
type OrderItemRequest struct {
	MenuItemID        uuid.UUID
	Quantity          int32
	ModifierOptionIDs []uuid.UUID
	SpecialRequests   string
}

// UpdateStatusRequest moves an order within a restaurant to Status.
// Reason is recorded for cancellations and rejections.
type UpdateStatusRequest struct {
	OrderID      uuid.UUID
	RestaurantID uuid.UUID
	Status       string
	Reason       string
}

// OrderDetails is an order joined with its table, items and modifiers.
type OrderDetails struct {
	Order database.Order
	Table database.Table
	Items []OrderItemDetails
}

type OrderItemDetails struct {
	Item          database.OrderItem
	MenuItemName  string
	MenuItemDesc  pgtype.Text
	MenuItemPrice pgtype.Numeric
	Modifiers     []OrderItemModifierDetails
}

type OrderItemModifierDetails struct {
	Modifier database.OrderItemModifier
	Name     string
}

// ListOrdersFilter narrows a restaurant's order list. Zero values mean no filter.
type ListOrdersFilter struct {
	RestaurantID uuid.UUID
	Status       string
	TableID      *uuid.UUID
	CustomerID   *uuid.UUID
	Start        *time.Time
	End          *time.Time
	Limit        int32
	Offset       int32
}

// OrderService handles order business logic.
type OrderService struct {
	db       DB
	newStore NewOrderStore
	calc     pricing.Calculator
	cart     CartClearer
	events   Publisher
	logger   *logrus.Logger
	now      func() time.Time
}

// NewOrderService creates a new OrderService. cart and events may be nil.
func NewOrderService(db DB, newStore NewOrderStore, calc pricing.Calculator, cart CartClearer, events Publisher, logger *logrus.Logger) *OrderService {
	if events == nil {
		events = nopPublisher{}
	}
	return &OrderService{
		db:       db,
		newStore: newStore,
		calc:     calc,
		cart:     cart,
		events:   events,
		logger:   logger,
		now:      time.Now,
	}
}

// modifierInfo is a validated modifier option snapshot for one item.
type modifierInfo struct {
	optionID uuid.UUID
	name     string
	price    decimal.Decimal
}

// processedItem holds a priced order item and its modifiers.
type processedItem struct {
	params    database.CreateOrderItemParams
	menuItem  database.MenuItem
	modifiers []modifierInfo
	line      pricing.Line
}

// CreateOrder validates the cart, prices it and persists the order with its
// items atomically. Retries up to maxOrderNumberRetries times when the random
// order number collides with an existing one.
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*OrderDetails, error) {
	if err := validateItems(req.Items); err != nil {
		return nil, err
	}

	var (
		result  *OrderDetails
		lastErr error
	)
	for attempt := 0; attempt < maxOrderNumberRetries; attempt++ {
		res, err := s.createOrderTx(ctx, req)
		if err == nil {
			result = res
			break
		}
		if isOrderNumberConflict(err) {
			lastErr = err
			continue
		}
		return nil, err
	}
	if result == nil {
		return nil, lastErr
	}

	if s.cart != nil {
		if err := s.cart.Clear(ctx, req.CustomerID, req.SessionID); err != nil {
			s.logger.WithContext(ctx).WithError(err).WithField("order_id", result.Order.ID).
				Warn("failed to clear cart after order creation")
		}
	}
	s.events.Publish(result.Order.RestaurantID, enum.EventOrderCreated, result.Order)

	return result, nil
}

// isOrderNumberConflict checks if the error is a unique constraint violation
// on the order number (pgconn error code 23505).
func isOrderNumberConflict(err error) bool {
	return isUniqueViolation(err, "orders_order_number_key")
}

func (s *OrderService) createOrderTx(ctx context.Context, req CreateOrderRequest) (*OrderDetails, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	// --- Resolve table ---
	table, err := store.GetTable(ctx, req.TableID)
	if err != nil {
		return nil, notFound(err, "table", "get table")
	}
	if table.RestaurantID != req.RestaurantID {
		return nil, fmt.Errorf("%w: table does not belong to restaurant", apperr.ErrInvalidInput)
	}
	if table.Status != enum.TableStatusActive {
		return nil, fmt.Errorf("%w: table is %s", apperr.ErrInvalidState, table.Status)
	}

	items, err := s.processItems(ctx, store, req.RestaurantID, req.Items)
	if err != nil {
		return nil, err
	}

	lines := make([]pricing.Line, len(items))
	for i, it := range items {
		lines[i] = it.line
	}
	totals := s.calc.Compute(lines)

	order, err := store.CreateOrder(ctx, database.CreateOrderParams{
		OrderNumber:     s.orderNumber(),
		RestaurantID:    req.RestaurantID,
		TableID:         req.TableID,
		CustomerID:      uuidOrNull(req.CustomerID),
		Subtotal:        totals.Subtotal,
		Tax:             totals.Tax,
		Total:           totals.Total,
		SpecialRequests: textOrNull(req.SpecialRequests),
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	details, err := insertItems(ctx, store, order.ID, items)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &OrderDetails{Order: order, Table: table, Items: details}, nil
}

// AddItemsToOrder appends new lines to an open order and recomputes its
// totals from the persisted subtotal plus the new lines.
func (s *OrderService) AddItemsToOrder(ctx context.Context, orderID uuid.UUID, reqItems []OrderItemRequest) (*OrderDetails, error) {
	if err := validateItems(reqItems); err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := store.GetOrderForUpdate(ctx, orderID)
	if err != nil {
		return nil, notFound(err, "order", "get order")
	}
	if !orderstate.Open(order.Status) {
		return nil, fmt.Errorf("%w: cannot add items to order in status %s", apperr.ErrInvalidState, order.Status)
	}

	items, err := s.processItems(ctx, store, order.RestaurantID, reqItems)
	if err != nil {
		return nil, err
	}
	lines := make([]pricing.Line, len(items))
	for i, it := range items {
		lines[i] = it.line
	}

	if _, err := insertItems(ctx, store, order.ID, items); err != nil {
		return nil, err
	}

	totals := s.calc.AddTo(order.Subtotal, lines)
	updated, err := store.UpdateOrderTotals(ctx, database.UpdateOrderTotalsParams{
		ID:       order.ID,
		Subtotal: totals.Subtotal,
		Tax:      totals.Tax,
		Total:    totals.Total,
	})
	if err != nil {
		return nil, fmt.Errorf("update order totals: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	s.events.Publish(updated.RestaurantID, enum.EventOrderItemsAdded, updated)

	return s.GetOrderDetails(ctx, order.ID)
}

// UpdateOrderStatus applies one lifecycle transition. The write is
// conditional on the status read, so a concurrent change yields ErrConflict
// instead of overwriting it.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, req UpdateStatusRequest) (database.Order, error) {
	if !orderstate.Valid(req.Status) {
		return database.Order{}, fmt.Errorf("%w: unknown status %q", apperr.ErrInvalidInput, req.Status)
	}

	store := s.newStore(s.db)

	current, err := store.GetOrder(ctx, req.OrderID)
	if err != nil {
		return database.Order{}, notFound(err, "order", "get order")
	}
	if req.RestaurantID != uuid.Nil && current.RestaurantID != req.RestaurantID {
		return database.Order{}, fmt.Errorf("%w: order", apperr.ErrNotFound)
	}
	if err := orderstate.Check(current.Status, req.Status); err != nil {
		return database.Order{}, err
	}

	stamps := orderstate.StampFor(req.Status, s.now())
	reason := pgtype.Text{}
	if req.Status == enum.OrderStatusCancelled || req.Status == enum.OrderStatusRejected {
		reason = textOrNull(req.Reason)
	}

	updated, err := store.UpdateOrderStatus(ctx, database.UpdateOrderStatusParams{
		ID:             current.ID,
		Status:         req.Status,
		ExpectedStatus: current.Status,
		AcceptedAt:     stamps.AcceptedAt,
		PreparingAt:    stamps.PreparingAt,
		ReadyAt:        stamps.ReadyAt,
		ServedAt:       stamps.ServedAt,
		CompletedAt:    stamps.CompletedAt,
		StatusReason:   reason,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, fmt.Errorf("%w: order status changed, please retry", apperr.ErrConflict)
		}
		return database.Order{}, fmt.Errorf("update order status: %w", err)
	}

	s.events.Publish(updated.RestaurantID, enum.EventOrderStatusChanged, map[string]interface{}{
		"order_id":     updated.ID,
		"order_number": updated.OrderNumber,
		"table_id":     updated.TableID,
		"from":         current.Status,
		"to":           updated.Status,
	})

	return updated, nil
}

func (s *OrderService) AcceptOrder(ctx context.Context, restaurantID, orderID uuid.UUID) (database.Order, error) {
	return s.UpdateOrderStatus(ctx, UpdateStatusRequest{OrderID: orderID, RestaurantID: restaurantID, Status: enum.OrderStatusAccepted})
}

func (s *OrderService) RejectOrder(ctx context.Context, restaurantID, orderID uuid.UUID, reason string) (database.Order, error) {
	return s.UpdateOrderStatus(ctx, UpdateStatusRequest{OrderID: orderID, RestaurantID: restaurantID, Status: enum.OrderStatusRejected, Reason: reason})
}

func (s *OrderService) ServeOrder(ctx context.Context, restaurantID, orderID uuid.UUID) (database.Order, error) {
	return s.UpdateOrderStatus(ctx, UpdateStatusRequest{OrderID: orderID, RestaurantID: restaurantID, Status: enum.OrderStatusServed})
}

// GetOrderDetails loads an order with its table, items and modifiers.
func (s *OrderService) GetOrderDetails(ctx context.Context, orderID uuid.UUID) (*OrderDetails, error) {
	store := s.newStore(s.db)

	order, err := store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, notFound(err, "order", "get order")
	}
	table, err := store.GetTable(ctx, order.TableID)
	if err != nil {
		return nil, fmt.Errorf("get table: %w", err)
	}
	rows, err := store.ListOrderItemDetails(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	mods, err := store.ListOrderItemModifierDetails(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order item modifiers: %w", err)
	}

	byItem := make(map[uuid.UUID][]OrderItemModifierDetails, len(rows))
	for _, m := range mods {
		byItem[m.OrderItemID] = append(byItem[m.OrderItemID], OrderItemModifierDetails{
			Modifier: database.OrderItemModifier{
				ID:               m.ID,
				OrderItemID:      m.OrderItemID,
				ModifierOptionID: m.ModifierOptionID,
				PriceAdjustment:  m.PriceAdjustment,
			},
			Name: m.ModifierOptionName,
		})
	}

	items := make([]OrderItemDetails, len(rows))
	for i, r := range rows {
		items[i] = OrderItemDetails{
			Item: database.OrderItem{
				ID:              r.ID,
				OrderID:         r.OrderID,
				MenuItemID:      r.MenuItemID,
				Quantity:        r.Quantity,
				UnitPrice:       r.UnitPrice,
				Subtotal:        r.Subtotal,
				SpecialRequests: r.SpecialRequests,
				CreatedAt:       r.CreatedAt,
			},
			MenuItemName:  r.MenuItemName,
			MenuItemDesc:  r.MenuItemDescription,
			MenuItemPrice: r.MenuItemPrice,
			Modifiers:     byItem[r.ID],
		}
	}

	return &OrderDetails{Order: order, Table: table, Items: items}, nil
}

// ListOrders returns a restaurant's orders, newest first.
func (s *OrderService) ListOrders(ctx context.Context, f ListOrdersFilter) ([]database.Order, error) {
	params := database.ListOrdersParams{
		RestaurantID: f.RestaurantID,
		Status:       textOrNull(f.Status),
		TableID:      uuidOrNull(f.TableID),
		CustomerID:   uuidOrNull(f.CustomerID),
		Limit:        f.Limit,
		Offset:       f.Offset,
	}
	if f.Start != nil {
		params.StartDate = pgtype.Timestamptz{Time: *f.Start, Valid: true}
	}
	if f.End != nil {
		params.EndDate = pgtype.Timestamptz{Time: *f.End, Valid: true}
	}

	orders, err := s.newStore(s.db).ListOrders(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// ListOpenOrdersByTable returns the table's orders that are not completed,
// cancelled or rejected.
func (s *OrderService) ListOpenOrdersByTable(ctx context.Context, tableID uuid.UUID) ([]database.Order, error) {
	store := s.newStore(s.db)
	if _, err := store.GetTable(ctx, tableID); err != nil {
		return nil, notFound(err, "table", "get table")
	}
	orders, err := store.ListOpenOrdersByTable(ctx, tableID)
	if err != nil {
		return nil, fmt.Errorf("list open orders: %w", err)
	}
	return orders, nil
}

// --- Helpers ---

func validateItems(items []OrderItemRequest) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: items are required", apperr.ErrInvalidInput)
	}
	for i, it := range items {
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: item[%d]: quantity must be > 0", apperr.ErrInvalidInput, i)
		}
		if it.MenuItemID == uuid.Nil {
			return fmt.Errorf("%w: item[%d]: menu_item_id is required", apperr.ErrInvalidInput, i)
		}
	}
	return nil
}

// processItems resolves menu items (scoped to the restaurant) and modifier
// options in bulk, rejects missing or unavailable ones and prices each line.
func (s *OrderService) processItems(ctx context.Context, store OrderStore, restaurantID uuid.UUID, reqItems []OrderItemRequest) ([]processedItem, error) {
	menuIDs := distinct(reqItems, func(it OrderItemRequest) []uuid.UUID { return []uuid.UUID{it.MenuItemID} })
	menu, err := store.ListMenuItemsForOrder(ctx, database.ListMenuItemsForOrderParams{
		IDs:          menuIDs,
		RestaurantID: restaurantID,
	})
	if err != nil {
		return nil, fmt.Errorf("list menu items: %w", err)
	}
	if len(menu) != len(menuIDs) {
		return nil, fmt.Errorf("%w: some menu items not found", apperr.ErrInvalidInput)
	}
	menuByID := make(map[uuid.UUID]database.MenuItem, len(menu))
	var unavailable []string
	for _, m := range menu {
		menuByID[m.ID] = m
		if m.Status != enum.MenuItemStatusAvailable && m.Status != enum.MenuItemStatusActive {
			unavailable = append(unavailable, m.Name)
		}
	}
	if len(unavailable) > 0 {
		sort.Strings(unavailable)
		return nil, fmt.Errorf("%w: menu items not available: %s", apperr.ErrInvalidInput, strings.Join(unavailable, ", "))
	}

	optionIDs := distinct(reqItems, func(it OrderItemRequest) []uuid.UUID { return it.ModifierOptionIDs })
	optionByID := map[uuid.UUID]database.ModifierOption{}
	if len(optionIDs) > 0 {
		options, err := store.ListModifierOptionsByIDs(ctx, optionIDs)
		if err != nil {
			return nil, fmt.Errorf("list modifier options: %w", err)
		}
		for _, o := range options {
			// A null status counts as active.
			if o.Status.Valid && o.Status.String == enum.ModifierStatusInactive {
				continue
			}
			optionByID[o.ID] = o
		}
		if len(optionByID) != len(optionIDs) {
			return nil, fmt.Errorf("%w: some modifier options not found or inactive", apperr.ErrInvalidInput)
		}
	}

	items := make([]processedItem, len(reqItems))
	for i, it := range reqItems {
		mi := menuByID[it.MenuItemID]
		line := pricing.Line{UnitPrice: numericToDecimal(mi.Price), Quantity: it.Quantity}
		mods := make([]modifierInfo, len(it.ModifierOptionIDs))
		for j, oid := range it.ModifierOptionIDs {
			opt := optionByID[oid]
			price := numericToDecimal(opt.PriceAdjustment)
			mods[j] = modifierInfo{optionID: oid, name: opt.Name, price: price}
			line.Modifiers = append(line.Modifiers, price)
		}
		items[i] = processedItem{
			params: database.CreateOrderItemParams{
				MenuItemID:      it.MenuItemID,
				Quantity:        it.Quantity,
				UnitPrice:       mi.Price,
				Subtotal:        pricing.LineSubtotal(line),
				SpecialRequests: textOrNull(it.SpecialRequests),
			},
			menuItem:  mi,
			modifiers: mods,
			line:      line,
		}
	}
	return items, nil
}

func insertItems(ctx context.Context, store OrderStore, orderID uuid.UUID, items []processedItem) ([]OrderItemDetails, error) {
	details := make([]OrderItemDetails, 0, len(items))
	for _, pi := range items {
		pi.params.OrderID = orderID
		item, err := store.CreateOrderItem(ctx, pi.params)
		if err != nil {
			return nil, fmt.Errorf("create order item: %w", err)
		}

		mods := make([]OrderItemModifierDetails, 0, len(pi.modifiers))
		for _, m := range pi.modifiers {
			oim, err := store.CreateOrderItemModifier(ctx, database.CreateOrderItemModifierParams{
				OrderItemID:      item.ID,
				ModifierOptionID: m.optionID,
				PriceAdjustment:  decimalToNumeric(m.price),
			})
			if err != nil {
				return nil, fmt.Errorf("create order item modifier: %w", err)
			}
			mods = append(mods, OrderItemModifierDetails{Modifier: oim, Name: m.name})
		}

		details = append(details, OrderItemDetails{
			Item:          item,
			MenuItemName:  pi.menuItem.Name,
			MenuItemDesc:  pi.menuItem.Description,
			MenuItemPrice: pi.menuItem.Price,
			Modifiers:     mods,
		})
	}
	return details, nil
}

func distinct(items []OrderItemRequest, ids func(OrderItemRequest) []uuid.UUID) []uuid.UUID {
	seen := map[uuid.UUID]bool{}
	var out []uuid.UUID
	for _, it := range items {
		for _, id := range ids(it) {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

// orderNumber is ORD-YYYYMMDD-NNNN with a random four digit suffix. It is not
// collision proof; the unique constraint plus CreateOrder's retry cover that.
func (s *OrderService) orderNumber() string {
	return fmt.Sprintf("ORD-%s-%d", s.now().Format("20060102"), 1000+rand.IntN(9000))
}
