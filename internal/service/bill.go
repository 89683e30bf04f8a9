package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/sirupsen/logrus"
	"github.com/tablepay/api/internal/apperr"
	"github.com/tablepay/api/internal/database"
	"github.com/tablepay/api/internal/enum"
	"github.com/tablepay/api/internal/orderstate"
)

// BillStore defines the DB methods needed by the bill request service.
// Satisfied by *database.Queries.
type BillStore interface {
	GetTable(ctx context.Context, id uuid.UUID) (database.Table, error)
	ListOrdersByIDs(ctx context.Context, ids []uuid.UUID) ([]database.Order, error)
	GetPaymentMethodByCode(ctx context.Context, code string) (database.PaymentMethod, error)
	CreateBillRequest(ctx context.Context, arg database.CreateBillRequestParams) (database.BillRequest, error)
	GetBillRequest(ctx context.Context, id uuid.UUID) (database.BillRequest, error)
	UpdateBillRequestStatus(ctx context.Context, arg database.UpdateBillRequestStatusParams) (database.BillRequest, error)
}

// NewBillStore creates a BillStore from a DBTX (pool or tx).
type NewBillStore func(db database.DBTX) BillStore

// PaymentInitiator starts a provider payment for an accepted bill.
// Satisfied by *PaymentService.
type PaymentInitiator interface {
	InitiatePayment(ctx context.Context, req InitiatePaymentRequest) (*InitiatePaymentResult, error)
}

type CreateBillRequestInput struct {
	RestaurantID      uuid.UUID
	TableID           uuid.UUID
	CustomerID        *uuid.UUID
	OrderIDs          []uuid.UUID
	TipsAmount        int64
	PaymentMethodCode string
}

type AcceptBillResult struct {
	Bill    database.BillRequest
	Payment *InitiatePaymentResult
}

// BillService handles a table's requests to settle its open orders.
type BillService struct {
	db       DB
	newStore NewBillStore
	payments PaymentInitiator
	events   Publisher
	logger   *logrus.Logger
}

// NewBillService creates a new BillService. events may be nil.
func NewBillService(db DB, newStore NewBillStore, payments PaymentInitiator, events Publisher, logger *logrus.Logger) *BillService {
	if events == nil {
		events = nopPublisher{}
	}
	return &BillService{db: db, newStore: newStore, payments: payments, events: events, logger: logger}
}

// CreateBillRequest merges open orders of one table into a pending bill.
// The subtotal is the sum of the order totals; tips are added on top.
func (s *BillService) CreateBillRequest(ctx context.Context, in CreateBillRequestInput) (database.BillRequest, error) {
	if len(in.OrderIDs) == 0 {
		return database.BillRequest{}, fmt.Errorf("%w: order_ids are required", apperr.ErrInvalidInput)
	}
	if in.TipsAmount < 0 {
		return database.BillRequest{}, fmt.Errorf("%w: tips_amount must be >= 0", apperr.ErrInvalidInput)
	}

	store := s.newStore(s.db)

	table, err := store.GetTable(ctx, in.TableID)
	if err != nil {
		return database.BillRequest{}, notFound(err, "table", "get table")
	}
	if table.RestaurantID != in.RestaurantID {
		return database.BillRequest{}, fmt.Errorf("%w: table does not belong to restaurant", apperr.ErrInvalidInput)
	}

	code := strings.ToLower(in.PaymentMethodCode)
	if _, err := store.GetPaymentMethodByCode(ctx, code); err != nil {
		if isNoRows(err) {
			return database.BillRequest{}, fmt.Errorf("%w: payment method %s not available", apperr.ErrInvalidInput, code)
		}
		return database.BillRequest{}, fmt.Errorf("get payment method: %w", err)
	}

	ids := uniqueIDs(in.OrderIDs)
	orders, err := store.ListOrdersByIDs(ctx, ids)
	if err != nil {
		return database.BillRequest{}, fmt.Errorf("list orders: %w", err)
	}
	if len(orders) != len(ids) {
		return database.BillRequest{}, fmt.Errorf("%w: some orders not found", apperr.ErrInvalidInput)
	}

	var subtotal int64
	for _, o := range orders {
		if o.TableID != table.ID {
			return database.BillRequest{}, fmt.Errorf("%w: order %s is not on this table", apperr.ErrInvalidInput, o.OrderNumber)
		}
		if orderstate.Terminal(o.Status) {
			return database.BillRequest{}, fmt.Errorf("%w: order %s is %s", apperr.ErrInvalidState, o.OrderNumber, o.Status)
		}
		subtotal += o.Total
	}

	bill, err := store.CreateBillRequest(ctx, database.CreateBillRequestParams{
		RestaurantID:      in.RestaurantID,
		TableID:           table.ID,
		CustomerID:        uuidOrNull(in.CustomerID),
		OrderIDs:          ids,
		Subtotal:          subtotal,
		TipsAmount:        in.TipsAmount,
		TotalAmount:       subtotal + in.TipsAmount,
		PaymentMethodCode: code,
	})
	if err != nil {
		return database.BillRequest{}, fmt.Errorf("create bill request: %w", err)
	}

	s.events.Publish(bill.RestaurantID, enum.EventBillRequested, bill)
	return bill, nil
}

// AcceptBillRequest accepts a pending bill and starts its payment. Accepting
// a bill that is already accepted starts a new payment attempt, which is how
// a failed or expired payment is retried. The retry is refused with
// ErrInvalidState while an earlier attempt is still pending.
func (s *BillService) AcceptBillRequest(ctx context.Context, restaurantID, billID, waiterID uuid.UUID, clientIP string) (*AcceptBillResult, error) {
	store := s.newStore(s.db)

	bill, err := s.getScoped(ctx, store, restaurantID, billID)
	if err != nil {
		return nil, err
	}

	switch bill.Status {
	case enum.BillStatusPending:
		bill, err = store.UpdateBillRequestStatus(ctx, database.UpdateBillRequestStatusParams{
			ID:             bill.ID,
			Status:         enum.BillStatusAccepted,
			ExpectedStatus: enum.BillStatusPending,
			AcceptedBy:     pgtype.UUID{Bytes: waiterID, Valid: waiterID != uuid.Nil},
		})
		if err != nil {
			if isNoRows(err) {
				return nil, fmt.Errorf("%w: bill request status changed, please retry", apperr.ErrConflict)
			}
			return nil, fmt.Errorf("accept bill request: %w", err)
		}
		s.events.Publish(bill.RestaurantID, enum.EventBillAccepted, bill)
	case enum.BillStatusAccepted:
	default:
		return nil, fmt.Errorf("%w: bill request is %s", apperr.ErrInvalidState, bill.Status)
	}

	payment, err := s.payments.InitiatePayment(ctx, InitiatePaymentRequest{
		BillRequestID: bill.ID,
		Method:        bill.PaymentMethodCode,
		Amount:        bill.Subtotal,
		TipsAmount:    bill.TipsAmount,
		OrderIDs:      bill.OrderIDs,
		ClientIP:      clientIP,
	})
	if err != nil {
		return nil, err
	}

	return &AcceptBillResult{Bill: bill, Payment: payment}, nil
}

// RejectBillRequest rejects a pending bill with a reason.
func (s *BillService) RejectBillRequest(ctx context.Context, restaurantID, billID uuid.UUID, reason string) (database.BillRequest, error) {
	store := s.newStore(s.db)

	bill, err := s.getScoped(ctx, store, restaurantID, billID)
	if err != nil {
		return database.BillRequest{}, err
	}
	if bill.Status != enum.BillStatusPending {
		return database.BillRequest{}, fmt.Errorf("%w: bill request is %s", apperr.ErrInvalidState, bill.Status)
	}

	updated, err := store.UpdateBillRequestStatus(ctx, database.UpdateBillRequestStatusParams{
		ID:             bill.ID,
		Status:         enum.BillStatusRejected,
		ExpectedStatus: enum.BillStatusPending,
		StatusReason:   textOrNull(reason),
	})
	if err != nil {
		if isNoRows(err) {
			return database.BillRequest{}, fmt.Errorf("%w: bill request status changed, please retry", apperr.ErrConflict)
		}
		return database.BillRequest{}, fmt.Errorf("reject bill request: %w", err)
	}

	s.events.Publish(updated.RestaurantID, enum.EventBillRejected, updated)
	return updated, nil
}

func (s *BillService) getScoped(ctx context.Context, store BillStore, restaurantID, billID uuid.UUID) (database.BillRequest, error) {
	bill, err := store.GetBillRequest(ctx, billID)
	if err != nil {
		return database.BillRequest{}, notFound(err, "bill request", "get bill request")
	}
	if restaurantID != uuid.Nil && bill.RestaurantID != restaurantID {
		return database.BillRequest{}, fmt.Errorf("%w: bill request", apperr.ErrNotFound)
	}
	return bill, nil
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
