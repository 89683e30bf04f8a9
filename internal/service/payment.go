package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/tablepay/api/internal/apperr"
	"github.com/tablepay/api/internal/database"
	"github.com/tablepay/api/internal/enum"
	"github.com/tablepay/api/internal/gateway"
)

// PaymentStore defines the DB methods needed by the payment service.
// Satisfied by *database.Queries (and its WithTx variant).
type PaymentStore interface {
	GetBillRequest(ctx context.Context, id uuid.UUID) (database.BillRequest, error)
	GetBillRequestForUpdate(ctx context.Context, id uuid.UUID) (database.BillRequest, error)
	CompleteBillRequest(ctx context.Context, id uuid.UUID) (int64, error)
	CompleteOrdersByIDs(ctx context.Context, ids []uuid.UUID) (int64, error)
	GetPaymentMethodByCode(ctx context.Context, code string) (database.PaymentMethod, error)
	GetPaymentMethod(ctx context.Context, id uuid.UUID) (database.PaymentMethod, error)
	HasPendingPayment(ctx context.Context, billRequestID uuid.UUID) (bool, error)
	CreatePayment(ctx context.Context, arg database.CreatePaymentParams) (database.Payment, error)
	SetPaymentGatewayRequest(ctx context.Context, arg database.SetPaymentGatewayRequestParams) error
	GetPayment(ctx context.Context, id uuid.UUID) (database.Payment, error)
	GetPaymentForUpdate(ctx context.Context, id uuid.UUID) (database.Payment, error)
	CompletePayment(ctx context.Context, arg database.CompletePaymentParams) (database.Payment, error)
	FailPayment(ctx context.Context, arg database.FailPaymentParams) (database.Payment, error)
	ExpireStalePayments(ctx context.Context, before pgtype.Timestamptz) ([]database.Payment, error)
}

// NewPaymentStore creates a PaymentStore from a DBTX (pool or tx).
type NewPaymentStore func(db database.DBTX) PaymentStore

// Outcome is what a reconciled callback did to its payment.
type Outcome string

const (
	OutcomeCompleted        Outcome = "completed"
	OutcomeFailed           Outcome = "failed"
	OutcomeAlreadyProcessed Outcome = "already_processed"
)

// amountTolerance is the rounding slack allowed between a provider-reported
// amount and the persisted one.
var amountTolerance = decimal.NewFromInt(1)

type InitiatePaymentRequest struct {
	BillRequestID uuid.UUID
	Method        string
	Amount        int64
	TipsAmount    int64
	OrderIDs      []uuid.UUID
	ClientIP      string
}

type InitiatePaymentResult struct {
	PaymentID     uuid.UUID
	TransactionID string
	PaymentURL    string
	QRCode        string
}

type ReconcileResult struct {
	Payment database.Payment
	Outcome Outcome
}

type ConfirmCashRequest struct {
	PaymentID      uuid.UUID
	RestaurantID   uuid.UUID
	ReceivedAmount int64
}

type CashConfirmation struct {
	Payment database.Payment
	Change  int64
}

// PaymentService creates provider payments for accepted bills and applies
// verified provider callbacks.
type PaymentService struct {
	db       DB
	newStore NewPaymentStore
	gateways *gateway.Registry
	events   Publisher
	logger   *logrus.Logger
	now      func() time.Time
}

// NewPaymentService creates a new PaymentService. events may be nil.
func NewPaymentService(db DB, newStore NewPaymentStore, gateways *gateway.Registry, events Publisher, logger *logrus.Logger) *PaymentService {
	if events == nil {
		events = nopPublisher{}
	}
	return &PaymentService{
		db:       db,
		newStore: newStore,
		gateways: gateways,
		events:   events,
		logger:   logger,
		now:      time.Now,
	}
}

// InitiatePayment records a pending payment for an accepted bill request and
// asks the provider to create the matching transaction. A bill has at most
// one pending payment; a new attempt waits until the previous one fails or
// expires.
func (s *PaymentService) InitiatePayment(ctx context.Context, req InitiatePaymentRequest) (*InitiatePaymentResult, error) {
	store := s.newStore(s.db)

	bill, err := store.GetBillRequest(ctx, req.BillRequestID)
	if err != nil {
		return nil, notFound(err, "bill request", "get bill request")
	}
	if bill.Status != enum.BillStatusAccepted {
		return nil, fmt.Errorf("%w: bill request must be accepted before payment", apperr.ErrInvalidState)
	}

	method := strings.ToLower(req.Method)
	gw, err := s.gateways.Get(method)
	if err != nil {
		return nil, err
	}
	pm, err := store.GetPaymentMethodByCode(ctx, method)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("payment method %s not found or inactive", method), "get payment method")
	}

	pending, err := store.HasPendingPayment(ctx, bill.ID)
	if err != nil {
		return nil, fmt.Errorf("check pending payment: %w", err)
	}
	if pending {
		return nil, fmt.Errorf("%w: bill request already has a pending payment", apperr.ErrInvalidState)
	}

	payment, err := store.CreatePayment(ctx, database.CreatePaymentParams{
		BillRequestID:   pgtype.UUID{Bytes: bill.ID, Valid: true},
		PaymentMethodID: pm.ID,
		Amount:          req.Amount + req.TipsAmount,
		TipsAmount:      req.TipsAmount,
		MergedOrderIDs:  req.OrderIDs,
	})
	if err != nil {
		if isUniqueViolation(err, "idx_payments_one_pending_per_bill") {
			return nil, fmt.Errorf("%w: another payment was started for this bill request", apperr.ErrConflict)
		}
		return nil, fmt.Errorf("create payment: %w", err)
	}

	res, err := gw.CreatePayment(ctx, gateway.PaymentRequest{
		PaymentID:     payment.ID,
		BillRequestID: bill.ID,
		Amount:        payment.Amount,
		OrderCount:    len(req.OrderIDs),
		ClientIP:      req.ClientIP,
	})
	if err != nil {
		if _, ferr := store.FailPayment(ctx, database.FailPaymentParams{
			ID:           payment.ID,
			FailedReason: textOrNull("gateway error: " + err.Error()),
		}); ferr != nil {
			s.logger.WithContext(ctx).WithError(ferr).WithField("payment_id", payment.ID).Error("failed to mark payment failed")
		}
		return nil, fmt.Errorf("create %s payment: %w", method, err)
	}

	if err := store.SetPaymentGatewayRequest(ctx, database.SetPaymentGatewayRequestParams{
		ID:               payment.ID,
		GatewayRequestID: res.TransactionID,
	}); err != nil {
		return nil, fmt.Errorf("set gateway request: %w", err)
	}

	return &InitiatePaymentResult{
		PaymentID:     payment.ID,
		TransactionID: res.TransactionID,
		PaymentURL:    res.PaymentURL,
		QRCode:        res.QRCode,
	}, nil
}

// HandleCallback verifies a provider callback payload and reconciles it.
// Signature failures return apperr.ErrSignatureInvalid without touching state.
func (s *PaymentService) HandleCallback(ctx context.Context, method string, payload []byte) (*ReconcileResult, error) {
	gw, err := s.gateways.Get(method)
	if err != nil {
		return nil, err
	}
	n, err := gw.VerifyCallback(payload)
	if err != nil {
		return nil, err
	}
	return s.Reconcile(ctx, n)
}

// Reconcile applies a verified notification. The payment update, the forced
// completion of the bill's orders and the bill completion commit together.
// A notification for a payment that is no longer pending is a no-op.
func (s *PaymentService) Reconcile(ctx context.Context, n gateway.Notification) (*ReconcileResult, error) {
	paymentID, err := uuid.Parse(n.PaymentRef)
	if err != nil {
		return nil, fmt.Errorf("%w: payment %q", apperr.ErrNotFound, n.PaymentRef)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	payment, err := store.GetPaymentForUpdate(ctx, paymentID)
	if err != nil {
		return nil, notFound(err, "payment", "get payment")
	}

	if n.CheckAmount && n.Amount.Sub(decimal.NewFromInt(payment.Amount)).Abs().GreaterThanOrEqual(amountTolerance) {
		return nil, fmt.Errorf("%w: expected %d, got %s", apperr.ErrAmountMismatch, payment.Amount, n.Amount.String())
	}

	if payment.Status != enum.PaymentStatusPending {
		if n.Success && payment.Status == enum.PaymentStatusFailed {
			s.logger.WithContext(ctx).WithFields(logrus.Fields{
				"payment_id":       payment.ID,
				"method":           n.Method,
				"gateway_trans_id": n.GatewayTransID,
				"failed_reason":    payment.FailedReason.String,
			}).Warn("provider reported success for a failed payment, settle or refund manually")
		}
		return &ReconcileResult{Payment: payment, Outcome: OutcomeAlreadyProcessed}, nil
	}

	var bill *database.BillRequest
	if payment.BillRequestID.Valid {
		b, err := store.GetBillRequestForUpdate(ctx, uuid.UUID(payment.BillRequestID.Bytes))
		if err != nil {
			return nil, fmt.Errorf("get bill request: %w", err)
		}
		bill = &b
	}

	result := &ReconcileResult{}
	if n.Success && bill != nil && bill.Status == enum.BillStatusCompleted {
		// Another payment already settled this bill.
		updated, err := store.FailPayment(ctx, database.FailPaymentParams{
			ID:             payment.ID,
			GatewayTransID: textOrNull(n.GatewayTransID),
			FailedReason:   textOrNull(enum.FailedReasonBillSettled),
		})
		if err != nil {
			return nil, fmt.Errorf("fail payment: %w", err)
		}
		s.logger.WithContext(ctx).WithFields(logrus.Fields{
			"payment_id":       payment.ID,
			"bill_request_id":  bill.ID,
			"method":           n.Method,
			"gateway_trans_id": n.GatewayTransID,
		}).Warn("provider captured a payment for a settled bill, refund manually")
		result.Payment, result.Outcome = updated, OutcomeFailed
	} else if n.Success {
		updated, err := store.CompletePayment(ctx, database.CompletePaymentParams{
			ID:             payment.ID,
			GatewayTransID: textOrNull(n.GatewayTransID),
		})
		if err != nil {
			return nil, fmt.Errorf("complete payment: %w", err)
		}
		if bill != nil {
			if _, err := store.CompleteOrdersByIDs(ctx, bill.OrderIDs); err != nil {
				return nil, fmt.Errorf("complete orders: %w", err)
			}
			if _, err := store.CompleteBillRequest(ctx, bill.ID); err != nil {
				return nil, fmt.Errorf("complete bill request: %w", err)
			}
		}
		result.Payment, result.Outcome = updated, OutcomeCompleted
	} else {
		reason := n.FailureReason
		if reason == "" {
			reason = n.Method + " payment failed"
		}
		updated, err := store.FailPayment(ctx, database.FailPaymentParams{
			ID:             payment.ID,
			GatewayTransID: textOrNull(n.GatewayTransID),
			FailedReason:   textOrNull(reason),
		})
		if err != nil {
			return nil, fmt.Errorf("fail payment: %w", err)
		}
		result.Payment, result.Outcome = updated, OutcomeFailed
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	if bill != nil {
		event := enum.EventPaymentCompleted
		if result.Outcome == OutcomeFailed {
			event = enum.EventPaymentFailed
		}
		s.events.Publish(bill.RestaurantID, event, map[string]interface{}{
			"payment_id":      result.Payment.ID,
			"bill_request_id": bill.ID,
			"table_id":        bill.TableID,
			"order_ids":       bill.OrderIDs,
			"amount":          result.Payment.Amount,
			"method":          n.Method,
		})
	}

	return result, nil
}

// ConfirmCashPayment records the cash a waiter collected for a pending cash
// payment and completes it through Reconcile.
func (s *PaymentService) ConfirmCashPayment(ctx context.Context, req ConfirmCashRequest) (*CashConfirmation, error) {
	store := s.newStore(s.db)

	payment, err := store.GetPayment(ctx, req.PaymentID)
	if err != nil {
		return nil, notFound(err, "payment", "get payment")
	}
	if payment.BillRequestID.Valid && req.RestaurantID != uuid.Nil {
		bill, err := store.GetBillRequest(ctx, uuid.UUID(payment.BillRequestID.Bytes))
		if err != nil {
			return nil, fmt.Errorf("get bill request: %w", err)
		}
		if bill.RestaurantID != req.RestaurantID {
			return nil, fmt.Errorf("%w: payment", apperr.ErrNotFound)
		}
	}
	pm, err := store.GetPaymentMethod(ctx, payment.PaymentMethodID)
	if err != nil {
		return nil, fmt.Errorf("get payment method: %w", err)
	}
	if pm.Code != enum.PaymentMethodCash {
		return nil, fmt.Errorf("%w: payment method is %s, not cash", apperr.ErrInvalidState, pm.Code)
	}
	if payment.Status != enum.PaymentStatusPending {
		return nil, fmt.Errorf("%w: payment is already %s", apperr.ErrInvalidState, payment.Status)
	}
	if req.ReceivedAmount < payment.Amount {
		return nil, fmt.Errorf("%w: received amount %d is less than %d", apperr.ErrInvalidInput, req.ReceivedAmount, payment.Amount)
	}

	gw, err := s.gateways.Get(enum.PaymentMethodCash)
	if err != nil {
		return nil, err
	}
	receipt, err := gw.CreatePayment(ctx, gateway.PaymentRequest{PaymentID: payment.ID, Amount: payment.Amount})
	if err != nil {
		return nil, fmt.Errorf("cash receipt: %w", err)
	}

	res, err := s.Reconcile(ctx, gateway.Notification{
		Method:         enum.PaymentMethodCash,
		PaymentRef:     payment.ID.String(),
		Success:        true,
		GatewayTransID: receipt.TransactionID,
	})
	if err != nil {
		return nil, err
	}
	if res.Outcome == OutcomeAlreadyProcessed {
		return nil, fmt.Errorf("%w: payment is already %s", apperr.ErrInvalidState, res.Payment.Status)
	}

	return &CashConfirmation{Payment: res.Payment, Change: req.ReceivedAmount - payment.Amount}, nil
}

// VerifyVNPayReturn checks the signed query VNPay appends to the browser
// redirect. It reports the outcome without changing any state; the IPN is
// what settles the payment.
func (s *PaymentService) VerifyVNPayReturn(query []byte) (paymentID string, success bool, err error) {
	gw, err := s.gateways.Get(enum.PaymentMethodVNPay)
	if err != nil {
		return "", false, err
	}
	n, err := gw.VerifyCallback(query)
	if err != nil {
		return "", false, err
	}
	return n.PaymentRef, n.Success, nil
}

// ExpireStalePayments fails pending payments created before now-maxAge.
func (s *PaymentService) ExpireStalePayments(ctx context.Context, maxAge time.Duration) (int, error) {
	before := pgtype.Timestamptz{Time: s.now().Add(-maxAge), Valid: true}
	expired, err := s.newStore(s.db).ExpireStalePayments(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("expire stale payments: %w", err)
	}
	for _, p := range expired {
		s.logger.WithContext(ctx).WithFields(logrus.Fields{
			"payment_id": p.ID,
			"amount":     p.Amount,
			"created_at": p.CreatedAt,
		}).Info("payment expired")
	}
	return len(expired), nil
}

// isNoRows reports whether err is pgx.ErrNoRows.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
