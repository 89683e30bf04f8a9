package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tablepay/api/internal/database"
	"github.com/tablepay/api/internal/middleware"
	"github.com/tablepay/api/internal/service"
)

// BillServicer defines the service methods needed by bill request handlers.
type BillServicer interface {
	CreateBillRequest(ctx context.Context, in service.CreateBillRequestInput) (database.BillRequest, error)
	AcceptBillRequest(ctx context.Context, restaurantID, billID, waiterID uuid.UUID, clientIP string) (*service.AcceptBillResult, error)
	RejectBillRequest(ctx context.Context, restaurantID, billID uuid.UUID, reason string) (database.BillRequest, error)
}

// BillHandler handles bill request endpoints.
type BillHandler struct {
	svc      BillServicer
	validate *validator.Validate
	logger   *logrus.Logger
}

func NewBillHandler(svc BillServicer, validate *validator.Validate, logger *logrus.Logger) *BillHandler {
	return &BillHandler{svc: svc, validate: validate, logger: logger}
}

// RegisterPublicRoutes registers POST /bill-requests under /api.
func (h *BillHandler) RegisterPublicRoutes(r chi.Router) {
	r.Post("/bill-requests", h.Create)
}

// RegisterWaiterRoutes expects to be mounted inside /restaurants/{rid}.
func (h *BillHandler) RegisterWaiterRoutes(r chi.Router) {
	r.Post("/bill-requests/{id}/accept", h.Accept)
	r.Post("/bill-requests/{id}/reject", h.Reject)
}

// --- Request / Response types ---

type createBillRequest struct {
	RestaurantID      string   `json:"restaurant_id" validate:"required,uuid"`
	TableID           string   `json:"table_id" validate:"required,uuid"`
	CustomerID        string   `json:"customer_id" validate:"omitempty,uuid"`
	OrderIDs          []string `json:"order_ids" validate:"required,min=1,dive,uuid"`
	TipsAmount        int64    `json:"tips_amount" validate:"gte=0"`
	PaymentMethodCode string   `json:"payment_method_code" validate:"required"`
}

type billResponse struct {
	ID                uuid.UUID   `json:"id"`
	RestaurantID      uuid.UUID   `json:"restaurant_id"`
	TableID           uuid.UUID   `json:"table_id"`
	CustomerID        *uuid.UUID  `json:"customer_id"`
	OrderIDs          []uuid.UUID `json:"order_ids"`
	Status            string      `json:"status"`
	Subtotal          int64       `json:"subtotal"`
	TipsAmount        int64       `json:"tips_amount"`
	TotalAmount       int64       `json:"total_amount"`
	PaymentMethodCode string      `json:"payment_method_code"`
	StatusReason      *string     `json:"status_reason"`
	AcceptedBy        *uuid.UUID  `json:"accepted_by"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

type paymentInitResponse struct {
	PaymentID     uuid.UUID `json:"payment_id"`
	TransactionID string    `json:"transaction_id,omitempty"`
	PaymentURL    string    `json:"payment_url,omitempty"`
	QRCode        string    `json:"qr_code,omitempty"`
}

type acceptBillResponse struct {
	Bill    billResponse         `json:"bill"`
	Payment *paymentInitResponse `json:"payment"`
}

// --- Handlers ---

// Create handles POST /api/bill-requests.
func (h *BillHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createBillRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	bill, err := h.svc.CreateBillRequest(r.Context(), service.CreateBillRequestInput{
		RestaurantID:      uuid.MustParse(req.RestaurantID),
		TableID:           uuid.MustParse(req.TableID),
		CustomerID:        optionalUUID(req.CustomerID),
		OrderIDs:          parseUUIDs(req.OrderIDs),
		TipsAmount:        req.TipsAmount,
		PaymentMethodCode: req.PaymentMethodCode,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "create bill request", err)
		return
	}

	writeJSON(w, http.StatusCreated, dbBillToResponse(bill))
}

// Accept handles POST /api/restaurants/{rid}/bill-requests/{id}/accept.
func (h *BillHandler) Accept(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := urlUUID(w, r, "rid", "restaurant")
	if !ok {
		return
	}
	billID, ok := urlUUID(w, r, "id", "bill request")
	if !ok {
		return
	}

	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	res, err := h.svc.AcceptBillRequest(r.Context(), restaurantID, billID, claims.UserID, clientIP(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "accept bill request", err)
		return
	}

	resp := acceptBillResponse{Bill: dbBillToResponse(res.Bill)}
	if res.Payment != nil {
		resp.Payment = &paymentInitResponse{
			PaymentID:     res.Payment.PaymentID,
			TransactionID: res.Payment.TransactionID,
			PaymentURL:    res.Payment.PaymentURL,
			QRCode:        res.Payment.QRCode,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Reject handles POST /api/restaurants/{rid}/bill-requests/{id}/reject.
func (h *BillHandler) Reject(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := urlUUID(w, r, "rid", "restaurant")
	if !ok {
		return
	}
	billID, ok := urlUUID(w, r, "id", "bill request")
	if !ok {
		return
	}

	var req rejectRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	bill, err := h.svc.RejectBillRequest(r.Context(), restaurantID, billID, req.Reason)
	if err != nil {
		writeServiceError(w, r, h.logger, "reject bill request", err)
		return
	}

	writeJSON(w, http.StatusOK, dbBillToResponse(bill))
}

func dbBillToResponse(b database.BillRequest) billResponse {
	return billResponse{
		ID:                b.ID,
		RestaurantID:      b.RestaurantID,
		TableID:           b.TableID,
		CustomerID:        uuidPtr(b.CustomerID),
		OrderIDs:          b.OrderIDs,
		Status:            b.Status,
		Subtotal:          b.Subtotal,
		TipsAmount:        b.TipsAmount,
		TotalAmount:       b.TotalAmount,
		PaymentMethodCode: b.PaymentMethodCode,
		StatusReason:      textPtr(b.StatusReason),
		AcceptedBy:        uuidPtr(b.AcceptedBy),
		CreatedAt:         b.CreatedAt,
		UpdatedAt:         b.UpdatedAt,
	}
}
