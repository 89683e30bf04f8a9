package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/tablepay/api/internal/apperr"
	"github.com/tablepay/api/internal/database"
	"github.com/tablepay/api/internal/enum"
)

// mockBillStore implements BillStore with configurable behavior.
type mockBillStore struct {
	getTableFn                func(ctx context.Context, id uuid.UUID) (database.Table, error)
	listOrdersByIDsFn         func(ctx context.Context, ids []uuid.UUID) ([]database.Order, error)
	getPaymentMethodByCodeFn  func(ctx context.Context, code string) (database.PaymentMethod, error)
	createBillRequestFn       func(ctx context.Context, arg database.CreateBillRequestParams) (database.BillRequest, error)
	getBillRequestFn          func(ctx context.Context, id uuid.UUID) (database.BillRequest, error)
	updateBillRequestStatusFn func(ctx context.Context, arg database.UpdateBillRequestStatusParams) (database.BillRequest, error)
}

func (m *mockBillStore) GetTable(ctx context.Context, id uuid.UUID) (database.Table, error) {
	return m.getTableFn(ctx, id)
}
func (m *mockBillStore) ListOrdersByIDs(ctx context.Context, ids []uuid.UUID) ([]database.Order, error) {
	return m.listOrdersByIDsFn(ctx, ids)
}
func (m *mockBillStore) GetPaymentMethodByCode(ctx context.Context, code string) (database.PaymentMethod, error) {
	return m.getPaymentMethodByCodeFn(ctx, code)
}
func (m *mockBillStore) CreateBillRequest(ctx context.Context, arg database.CreateBillRequestParams) (database.BillRequest, error) {
	return m.createBillRequestFn(ctx, arg)
}
func (m *mockBillStore) GetBillRequest(ctx context.Context, id uuid.UUID) (database.BillRequest, error) {
	return m.getBillRequestFn(ctx, id)
}
func (m *mockBillStore) UpdateBillRequestStatus(ctx context.Context, arg database.UpdateBillRequestStatusParams) (database.BillRequest, error) {
	return m.updateBillRequestStatusFn(ctx, arg)
}

// mockInitiator implements PaymentInitiator.
type mockInitiator struct {
	err      error
	requests []InitiatePaymentRequest
}

func (m *mockInitiator) InitiatePayment(ctx context.Context, req InitiatePaymentRequest) (*InitiatePaymentResult, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	return &InitiatePaymentResult{PaymentID: uuid.New(), TransactionID: "txn"}, nil
}

type billFixture struct {
	restaurantID uuid.UUID
	tableID      uuid.UUID
	orders       map[uuid.UUID]database.Order
	store        *mockBillStore
	payments     *mockInitiator
	events       *recordingPublisher
	svc          *BillService
}

func newBillFixture() *billFixture {
	f := &billFixture{
		restaurantID: uuid.New(),
		tableID:      uuid.New(),
		orders:       map[uuid.UUID]database.Order{},
		payments:     &mockInitiator{},
		events:       &recordingPublisher{},
	}
	f.store = &mockBillStore{
		getTableFn: func(ctx context.Context, id uuid.UUID) (database.Table, error) {
			if id != f.tableID {
				return database.Table{}, pgx.ErrNoRows
			}
			return database.Table{ID: f.tableID, RestaurantID: f.restaurantID, Status: enum.TableStatusActive}, nil
		},
		listOrdersByIDsFn: func(ctx context.Context, ids []uuid.UUID) ([]database.Order, error) {
			var out []database.Order
			for _, id := range ids {
				if o, ok := f.orders[id]; ok {
					out = append(out, o)
				}
			}
			return out, nil
		},
		getPaymentMethodByCodeFn: func(ctx context.Context, code string) (database.PaymentMethod, error) {
			switch code {
			case enum.PaymentMethodCash, enum.PaymentMethodMoMo, enum.PaymentMethodZaloPay, enum.PaymentMethodVNPay:
				return database.PaymentMethod{ID: uuid.New(), Code: code, IsActive: true}, nil
			}
			return database.PaymentMethod{}, pgx.ErrNoRows
		},
		createBillRequestFn: func(ctx context.Context, arg database.CreateBillRequestParams) (database.BillRequest, error) {
			return database.BillRequest{
				ID:                uuid.New(),
				RestaurantID:      arg.RestaurantID,
				TableID:           arg.TableID,
				CustomerID:        arg.CustomerID,
				OrderIDs:          arg.OrderIDs,
				Status:            enum.BillStatusPending,
				Subtotal:          arg.Subtotal,
				TipsAmount:        arg.TipsAmount,
				TotalAmount:       arg.TotalAmount,
				PaymentMethodCode: arg.PaymentMethodCode,
			}, nil
		},
	}
	newStore := func(db database.DBTX) BillStore { return f.store }
	f.svc = NewBillService(&mockDB{}, newStore, f.payments, f.events, testLogger())
	return f
}

func (f *billFixture) order(status string, total int64) uuid.UUID {
	id := uuid.New()
	f.orders[id] = database.Order{ID: id, OrderNumber: "ORD-" + id.String()[:4], RestaurantID: f.restaurantID, TableID: f.tableID, Status: status, Total: total}
	return id
}

func (f *billFixture) withBill(status string) database.BillRequest {
	b := database.BillRequest{
		ID:                uuid.New(),
		RestaurantID:      f.restaurantID,
		TableID:           f.tableID,
		OrderIDs:          []uuid.UUID{uuid.New()},
		Status:            status,
		Subtotal:          99000,
		TipsAmount:        5000,
		TotalAmount:       104000,
		PaymentMethodCode: enum.PaymentMethodZaloPay,
	}
	f.store.getBillRequestFn = func(ctx context.Context, id uuid.UUID) (database.BillRequest, error) {
		if id != b.ID {
			return database.BillRequest{}, pgx.ErrNoRows
		}
		return b, nil
	}
	f.store.updateBillRequestStatusFn = func(ctx context.Context, arg database.UpdateBillRequestStatusParams) (database.BillRequest, error) {
		if arg.ExpectedStatus != b.Status {
			return database.BillRequest{}, pgx.ErrNoRows
		}
		b.Status = arg.Status
		b.StatusReason = arg.StatusReason
		b.AcceptedBy = arg.AcceptedBy
		return b, nil
	}
	return b
}

// =====================
// CreateBillRequest
// =====================

func TestCreateBillRequest_SumsOrderTotals(t *testing.T) {
	f := newBillFixture()
	a := f.order(enum.OrderStatusServed, 99000)
	b := f.order(enum.OrderStatusPreparing, 55000)

	bill, err := f.svc.CreateBillRequest(context.Background(), CreateBillRequestInput{
		RestaurantID:      f.restaurantID,
		TableID:           f.tableID,
		OrderIDs:          []uuid.UUID{a, b, a},
		TipsAmount:        6000,
		PaymentMethodCode: "ZaloPay",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if bill.Subtotal != 154000 || bill.TipsAmount != 6000 || bill.TotalAmount != 160000 {
		t.Errorf("amounts = %d/%d/%d", bill.Subtotal, bill.TipsAmount, bill.TotalAmount)
	}
	if len(bill.OrderIDs) != 2 {
		t.Errorf("order ids should be de-duplicated, got %d", len(bill.OrderIDs))
	}
	if bill.PaymentMethodCode != enum.PaymentMethodZaloPay {
		t.Errorf("method = %q", bill.PaymentMethodCode)
	}
	if got := f.events.names(); len(got) != 1 || got[0] != enum.EventBillRequested {
		t.Errorf("events = %v", got)
	}
}

func TestCreateBillRequest_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(f *billFixture, in *CreateBillRequestInput)
		wantErr error
	}{
		{"no orders", func(f *billFixture, in *CreateBillRequestInput) { in.OrderIDs = nil }, apperr.ErrInvalidInput},
		{"negative tips", func(f *billFixture, in *CreateBillRequestInput) { in.TipsAmount = -1 }, apperr.ErrInvalidInput},
		{"unknown table", func(f *billFixture, in *CreateBillRequestInput) { in.TableID = uuid.New() }, apperr.ErrNotFound},
		{"other restaurant", func(f *billFixture, in *CreateBillRequestInput) { in.RestaurantID = uuid.New() }, apperr.ErrInvalidInput},
		{"unknown method", func(f *billFixture, in *CreateBillRequestInput) { in.PaymentMethodCode = "bitcoin" }, apperr.ErrInvalidInput},
		{"missing order", func(f *billFixture, in *CreateBillRequestInput) {
			in.OrderIDs = append(in.OrderIDs, uuid.New())
		}, apperr.ErrInvalidInput},
		{"order on another table", func(f *billFixture, in *CreateBillRequestInput) {
			id := f.order(enum.OrderStatusServed, 1000)
			o := f.orders[id]
			o.TableID = uuid.New()
			f.orders[id] = o
			in.OrderIDs = append(in.OrderIDs, id)
		}, apperr.ErrInvalidInput},
		{"completed order", func(f *billFixture, in *CreateBillRequestInput) {
			in.OrderIDs = append(in.OrderIDs, f.order(enum.OrderStatusCompleted, 1000))
		}, apperr.ErrInvalidState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBillFixture()
			in := CreateBillRequestInput{
				RestaurantID:      f.restaurantID,
				TableID:           f.tableID,
				OrderIDs:          []uuid.UUID{f.order(enum.OrderStatusServed, 99000)},
				PaymentMethodCode: enum.PaymentMethodCash,
			}
			created := false
			f.store.createBillRequestFn = func(ctx context.Context, arg database.CreateBillRequestParams) (database.BillRequest, error) {
				created = true
				return database.BillRequest{}, nil
			}
			tt.mutate(f, &in)

			_, err := f.svc.CreateBillRequest(context.Background(), in)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got: %v", tt.wantErr, err)
			}
			if created {
				t.Error("bill must not be created")
			}
		})
	}
}

// =====================
// AcceptBillRequest
// =====================

func TestAcceptBillRequest_StartsPayment(t *testing.T) {
	f := newBillFixture()
	bill := f.withBill(enum.BillStatusPending)
	waiter := uuid.New()

	res, err := f.svc.AcceptBillRequest(context.Background(), f.restaurantID, bill.ID, waiter, "10.0.0.8")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Bill.Status != enum.BillStatusAccepted || res.Bill.AcceptedBy.Bytes != waiter {
		t.Errorf("bill = %+v", res.Bill)
	}
	if len(f.payments.requests) != 1 {
		t.Fatalf("payment requests = %d", len(f.payments.requests))
	}
	req := f.payments.requests[0]
	if req.Amount != 99000 || req.TipsAmount != 5000 || req.Method != enum.PaymentMethodZaloPay || req.ClientIP != "10.0.0.8" {
		t.Errorf("payment request = %+v", req)
	}
	if got := f.events.names(); len(got) != 1 || got[0] != enum.EventBillAccepted {
		t.Errorf("events = %v", got)
	}
}

func TestAcceptBillRequest_RetryWhenAccepted(t *testing.T) {
	f := newBillFixture()
	bill := f.withBill(enum.BillStatusAccepted)
	f.store.updateBillRequestStatusFn = func(ctx context.Context, arg database.UpdateBillRequestStatusParams) (database.BillRequest, error) {
		t.Fatal("status must not be rewritten on retry")
		return database.BillRequest{}, nil
	}

	_, err := f.svc.AcceptBillRequest(context.Background(), f.restaurantID, bill.ID, uuid.New(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.payments.requests) != 1 {
		t.Errorf("payment requests = %d", len(f.payments.requests))
	}
}

func TestAcceptBillRequest_RetryWhilePending(t *testing.T) {
	f := newBillFixture()
	bill := f.withBill(enum.BillStatusAccepted)
	f.payments.err = fmt.Errorf("%w: bill request already has a pending payment", apperr.ErrInvalidState)

	_, err := f.svc.AcceptBillRequest(context.Background(), f.restaurantID, bill.ID, uuid.New(), "")
	if !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got: %v", err)
	}
	if len(f.events.names()) != 0 {
		t.Errorf("events = %v", f.events.names())
	}
}

func TestAcceptBillRequest_Rejected(t *testing.T) {
	for _, status := range []string{enum.BillStatusRejected, enum.BillStatusCompleted} {
		t.Run(status, func(t *testing.T) {
			f := newBillFixture()
			bill := f.withBill(status)

			_, err := f.svc.AcceptBillRequest(context.Background(), f.restaurantID, bill.ID, uuid.New(), "")
			if !errors.Is(err, apperr.ErrInvalidState) {
				t.Fatalf("expected ErrInvalidState, got: %v", err)
			}
			if len(f.payments.requests) != 0 {
				t.Error("no payment should start")
			}
		})
	}
}

func TestAcceptBillRequest_Conflict(t *testing.T) {
	f := newBillFixture()
	bill := f.withBill(enum.BillStatusPending)
	f.store.updateBillRequestStatusFn = func(ctx context.Context, arg database.UpdateBillRequestStatusParams) (database.BillRequest, error) {
		return database.BillRequest{}, pgx.ErrNoRows
	}

	_, err := f.svc.AcceptBillRequest(context.Background(), f.restaurantID, bill.ID, uuid.New(), "")
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected ErrConflict, got: %v", err)
	}
}

func TestAcceptBillRequest_OtherRestaurant(t *testing.T) {
	f := newBillFixture()
	bill := f.withBill(enum.BillStatusPending)

	_, err := f.svc.AcceptBillRequest(context.Background(), uuid.New(), bill.ID, uuid.New(), "")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}
}

func TestAcceptBillRequest_PaymentErrorPropagates(t *testing.T) {
	f := newBillFixture()
	bill := f.withBill(enum.BillStatusPending)
	f.payments.err = errors.New("zalopay: return_code 2")

	_, err := f.svc.AcceptBillRequest(context.Background(), f.restaurantID, bill.ID, uuid.New(), "")
	if err == nil || err.Error() != "zalopay: return_code 2" {
		t.Fatalf("unexpected error: %v", err)
	}
}

// =====================
// RejectBillRequest
// =====================

func TestRejectBillRequest(t *testing.T) {
	f := newBillFixture()
	bill := f.withBill(enum.BillStatusPending)

	got, err := f.svc.RejectBillRequest(context.Background(), f.restaurantID, bill.ID, "customer left")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != enum.BillStatusRejected || got.StatusReason.String != "customer left" {
		t.Errorf("bill = %+v", got)
	}
	if names := f.events.names(); len(names) != 1 || names[0] != enum.EventBillRejected {
		t.Errorf("events = %v", names)
	}
}

func TestRejectBillRequest_NotPending(t *testing.T) {
	f := newBillFixture()
	bill := f.withBill(enum.BillStatusAccepted)

	_, err := f.svc.RejectBillRequest(context.Background(), f.restaurantID, bill.ID, "late")
	if !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got: %v", err)
	}
}
