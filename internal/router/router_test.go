package router

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tablepay/api/internal/auth"
	"github.com/tablepay/api/internal/config"
	"github.com/tablepay/api/internal/database"
	"github.com/tablepay/api/internal/enum"
	"github.com/tablepay/api/internal/service"
	"github.com/tablepay/api/internal/ws"
)

const testSecret = "router-test-secret"

// stubOrders answers every call with an empty order so only the guards decide
// the status code.
type stubOrders struct{}

func (stubOrders) CreateOrder(context.Context, service.CreateOrderRequest) (*service.OrderDetails, error) {
	return &service.OrderDetails{}, nil
}
func (stubOrders) AddItemsToOrder(context.Context, uuid.UUID, []service.OrderItemRequest) (*service.OrderDetails, error) {
	return &service.OrderDetails{}, nil
}
func (stubOrders) GetOrderDetails(context.Context, uuid.UUID) (*service.OrderDetails, error) {
	return &service.OrderDetails{}, nil
}
func (stubOrders) ListOrders(context.Context, service.ListOrdersFilter) ([]database.Order, error) {
	return nil, nil
}
func (stubOrders) ListOpenOrdersByTable(context.Context, uuid.UUID) ([]database.Order, error) {
	return nil, nil
}
func (stubOrders) UpdateOrderStatus(context.Context, service.UpdateStatusRequest) (database.Order, error) {
	return database.Order{}, nil
}
func (stubOrders) AcceptOrder(context.Context, uuid.UUID, uuid.UUID) (database.Order, error) {
	return database.Order{}, nil
}
func (stubOrders) RejectOrder(context.Context, uuid.UUID, uuid.UUID, string) (database.Order, error) {
	return database.Order{}, nil
}
func (stubOrders) ServeOrder(context.Context, uuid.UUID, uuid.UUID) (database.Order, error) {
	return database.Order{}, nil
}

type stubBills struct{}

func (stubBills) CreateBillRequest(context.Context, service.CreateBillRequestInput) (database.BillRequest, error) {
	return database.BillRequest{}, nil
}
func (stubBills) AcceptBillRequest(context.Context, uuid.UUID, uuid.UUID, uuid.UUID, string) (*service.AcceptBillResult, error) {
	return &service.AcceptBillResult{}, nil
}
func (stubBills) RejectBillRequest(context.Context, uuid.UUID, uuid.UUID, string) (database.BillRequest, error) {
	return database.BillRequest{}, nil
}

type stubPayments struct{}

func (stubPayments) HandleCallback(context.Context, string, []byte) (*service.ReconcileResult, error) {
	return &service.ReconcileResult{}, nil
}
func (stubPayments) VerifyVNPayReturn([]byte) (string, bool, error) { return "", true, nil }
func (stubPayments) ConfirmCashPayment(context.Context, service.ConfirmCashRequest) (*service.CashConfirmation, error) {
	return &service.CashConfirmation{}, nil
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	cfg := &config.Config{JWTSecret: testSecret, CORSOrigins: []string{"http://localhost:5173"}}
	return New(cfg, Services{Orders: stubOrders{}, Bills: stubBills{}, Payments: stubPayments{}}, ws.NewHub(logger), logger)
}

func token(t *testing.T, restaurantID uuid.UUID, role string) string {
	t.Helper()
	tok, err := auth.GenerateToken(testSecret, uuid.New(), restaurantID, role, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return tok
}

func TestHealth(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestRouter(t).ServeHTTP(rr, httptest.NewRequest("GET", "/health", nil))

	if rr.Code != http.StatusOK || rr.Body.String() != `{"status":"ok"}` {
		t.Fatalf("health: got %d %s", rr.Code, rr.Body.String())
	}
}

func TestStaffRouteGuards(t *testing.T) {
	own := uuid.New()
	other := uuid.New()
	orderPath := func(rid uuid.UUID, suffix string) string {
		return "/api/restaurants/" + rid.String() + "/orders" + suffix
	}
	id := uuid.NewString()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		token  string
		want   int
	}{
		{"kitchen lists orders", "GET", orderPath(own, ""), "", token(t, own, enum.RoleKitchen), http.StatusOK},
		{"kitchen updates status", "PATCH", orderPath(own, "/"+id+"/status"), `{"status":"preparing"}`, token(t, own, enum.RoleKitchen), http.StatusOK},
		{"kitchen cannot accept", "POST", orderPath(own, "/"+id+"/accept"), "", token(t, own, enum.RoleKitchen), http.StatusForbidden},
		{"waiter accepts", "POST", orderPath(own, "/"+id+"/accept"), "", token(t, own, enum.RoleWaiter), http.StatusOK},
		{"kitchen cannot confirm cash", "POST", "/api/restaurants/" + own.String() + "/payments/" + id + "/cash-confirm", `{"received_amount":1}`, token(t, own, enum.RoleKitchen), http.StatusForbidden},
		{"waiter of other restaurant", "GET", orderPath(other, ""), "", token(t, own, enum.RoleWaiter), http.StatusForbidden},
		{"super admin anywhere", "POST", orderPath(other, "/"+id+"/serve"), "", token(t, own, enum.RoleSuperAdmin), http.StatusOK},
		{"unknown role", "GET", orderPath(own, ""), "", token(t, own, "customer"), http.StatusForbidden},
		{"no token", "GET", orderPath(own, ""), "", "", http.StatusUnauthorized},
		{"public order read", "GET", "/api/orders/" + id, "", "", http.StatusOK},
	}

	router := newTestRouter(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			req := httptest.NewRequest(tt.method, tt.path, body)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Errorf("status: got %d, want %d; body: %s", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}
