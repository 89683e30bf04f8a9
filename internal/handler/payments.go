package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tablepay/api/internal/apperr"
	"github.com/tablepay/api/internal/database"
	"github.com/tablepay/api/internal/enum"
	"github.com/tablepay/api/internal/middleware"
	"github.com/tablepay/api/internal/service"
)

// maxCallbackBody bounds provider callback bodies.
const maxCallbackBody = 64 << 10

// PaymentServicer defines the service methods needed by payment handlers.
type PaymentServicer interface {
	HandleCallback(ctx context.Context, method string, payload []byte) (*service.ReconcileResult, error)
	VerifyVNPayReturn(query []byte) (paymentID string, success bool, err error)
	ConfirmCashPayment(ctx context.Context, req service.ConfirmCashRequest) (*service.CashConfirmation, error)
}

// PaymentHandler handles provider callbacks and cash confirmation.
type PaymentHandler struct {
	svc      PaymentServicer
	validate *validator.Validate
	logger   *logrus.Logger
}

func NewPaymentHandler(svc PaymentServicer, validate *validator.Validate, logger *logrus.Logger) *PaymentHandler {
	return &PaymentHandler{svc: svc, validate: validate, logger: logger}
}

// RegisterPublicRoutes registers the provider-facing endpoints under /api.
// They authenticate by signature, not by token.
func (h *PaymentHandler) RegisterPublicRoutes(r chi.Router) {
	r.Post("/payments/momo/ipn", h.MoMoIPN)
	r.Post("/payments/zalopay/callback", h.ZaloPayCallback)
	r.Get("/payments/vnpay/ipn", h.VNPayIPN)
	r.Get("/payments/vnpay/return", h.VNPayReturn)
}

// RegisterWaiterRoutes expects to be mounted inside /restaurants/{rid}.
func (h *PaymentHandler) RegisterWaiterRoutes(r chi.Router) {
	r.Post("/payments/{id}/cash-confirm", h.ConfirmCash)
}

// --- Request / Response types ---

type cashConfirmRequest struct {
	ReceivedAmount int64 `json:"received_amount" validate:"gt=0"`
}

type paymentResponse struct {
	ID             uuid.UUID   `json:"id"`
	BillRequestID  *uuid.UUID  `json:"bill_request_id"`
	Amount         int64       `json:"amount"`
	TipsAmount     int64       `json:"tips_amount"`
	MergedOrderIDs []uuid.UUID `json:"merged_order_ids"`
	Status         string      `json:"status"`
	GatewayTransID *string     `json:"gateway_trans_id"`
	FailedReason   *string     `json:"failed_reason"`
	CompletedAt    *time.Time  `json:"completed_at"`
	CreatedAt      time.Time   `json:"created_at"`
}

type cashConfirmResponse struct {
	Payment paymentResponse `json:"payment"`
	Change  int64           `json:"change"`
}

type vnpayAck struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

type momoAck struct {
	Status    string    `json:"status"`
	PaymentID uuid.UUID `json:"payment_id"`
}

type zaloPayAck struct {
	ReturnCode    int    `json:"return_code"`
	ReturnMessage string `json:"return_message"`
}

// --- Provider callbacks ---

// VNPayIPN handles GET /api/payments/vnpay/ipn. VNPay expects a 200 with an
// RspCode whatever the outcome.
func (h *PaymentHandler) VNPayIPN(w http.ResponseWriter, r *http.Request) {
	_, err := h.svc.HandleCallback(r.Context(), enum.PaymentMethodVNPay, []byte(r.URL.RawQuery))

	var ack vnpayAck
	switch {
	case err == nil:
		ack = vnpayAck{RspCode: "00", Message: "Confirm Success"}
	case errors.Is(err, apperr.ErrSignatureInvalid):
		ack = vnpayAck{RspCode: "97", Message: "Invalid signature"}
	case errors.Is(err, apperr.ErrNotFound):
		ack = vnpayAck{RspCode: "01", Message: "Order not found"}
	case errors.Is(err, apperr.ErrAmountMismatch):
		ack = vnpayAck{RspCode: "04", Message: "Invalid amount"}
	default:
		h.logger.WithContext(r.Context()).WithError(err).Error("vnpay ipn")
		ack = vnpayAck{RspCode: "99", Message: "Unknown error"}
	}
	writeJSON(w, http.StatusOK, ack)
}

// VNPayReturn handles GET /api/payments/vnpay/return, the browser redirect.
// It only reports what the signed query says; the IPN settles the payment.
func (h *PaymentHandler) VNPayReturn(w http.ResponseWriter, r *http.Request) {
	paymentID, success, err := h.svc.VerifyVNPayReturn([]byte(r.URL.RawQuery))
	if err != nil {
		writeServiceError(w, r, h.logger, "vnpay return", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"payment_id": paymentID,
		"success":    success,
	})
}

// MoMoIPN handles POST /api/payments/momo/ipn.
func (h *PaymentHandler) MoMoIPN(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	res, err := h.svc.HandleCallback(r.Context(), enum.PaymentMethodMoMo, body)
	if err != nil {
		writeServiceError(w, r, h.logger, "momo ipn", err)
		return
	}
	writeJSON(w, http.StatusOK, momoAck{Status: res.Payment.Status, PaymentID: res.Payment.ID})
}

// ZaloPay reads return_code: 1 settled, 2 already handled, -1 bad mac and
// 0 retry later.
const (
	zaloPayReturnSuccess = 1
	zaloPayReturnHandled = 2
	zaloPayReturnRetry   = 0
	zaloPayReturnBadMAC  = -1
)

// ZaloPayCallback handles POST /api/payments/zalopay/callback. An unknown
// payment is answered as handled so ZaloPay stops retrying it.
func (h *PaymentHandler) ZaloPayCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBody))
	if err != nil {
		writeJSON(w, http.StatusOK, zaloPayAck{ReturnCode: zaloPayReturnRetry, ReturnMessage: "invalid request body"})
		return
	}

	_, err = h.svc.HandleCallback(r.Context(), enum.PaymentMethodZaloPay, body)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, zaloPayAck{ReturnCode: zaloPayReturnSuccess, ReturnMessage: "success"})
	case errors.Is(err, apperr.ErrSignatureInvalid):
		writeJSON(w, http.StatusOK, zaloPayAck{ReturnCode: zaloPayReturnBadMAC, ReturnMessage: "mac not equal"})
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusOK, zaloPayAck{ReturnCode: zaloPayReturnHandled, ReturnMessage: "payment not found"})
	default:
		if statusFor(err) == 0 {
			h.logger.WithContext(r.Context()).WithError(err).Error("zalopay callback")
		}
		writeJSON(w, http.StatusOK, zaloPayAck{ReturnCode: zaloPayReturnRetry, ReturnMessage: err.Error()})
	}
}

// --- Staff ---

// ConfirmCash handles POST /api/restaurants/{rid}/payments/{id}/cash-confirm.
func (h *PaymentHandler) ConfirmCash(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := urlUUID(w, r, "rid", "restaurant")
	if !ok {
		return
	}
	paymentID, ok := urlUUID(w, r, "id", "payment")
	if !ok {
		return
	}

	var req cashConfirmRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	res, err := h.svc.ConfirmCashPayment(r.Context(), service.ConfirmCashRequest{
		PaymentID:      paymentID,
		RestaurantID:   restaurantID,
		ReceivedAmount: req.ReceivedAmount,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "confirm cash payment", err)
		return
	}

	if claims := middleware.ClaimsFromContext(r.Context()); claims != nil {
		h.logger.WithContext(r.Context()).WithFields(logrus.Fields{
			"payment_id": paymentID,
			"waiter_id":  claims.UserID,
			"received":   req.ReceivedAmount,
			"change":     res.Change,
		}).Info("cash payment confirmed")
	}

	writeJSON(w, http.StatusOK, cashConfirmResponse{
		Payment: dbPaymentToResponse(res.Payment),
		Change:  res.Change,
	})
}

func dbPaymentToResponse(p database.Payment) paymentResponse {
	return paymentResponse{
		ID:             p.ID,
		BillRequestID:  uuidPtr(p.BillRequestID),
		Amount:         p.Amount,
		TipsAmount:     p.TipsAmount,
		MergedOrderIDs: p.MergedOrderIDs,
		Status:         p.Status,
		GatewayTransID: textPtr(p.GatewayTransID),
		FailedReason:   textPtr(p.FailedReason),
		CompletedAt:    timePtr(p.CompletedAt),
		CreatedAt:      p.CreatedAt,
	}
}
