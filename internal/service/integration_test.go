//go:build integration

package service_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"database/sql"
	"encoding/hex"
	"io"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tablepay/api/internal/apperr"
	"github.com/tablepay/api/internal/database"
	"github.com/tablepay/api/internal/enum"
	"github.com/tablepay/api/internal/gateway"
	"github.com/tablepay/api/internal/pricing"
	"github.com/tablepay/api/internal/service"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const vnpaySecret = "INTEGRATIONSECRET"

// recorder keeps every published event type in order.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Publish(_ uuid.UUID, event string, _ interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// TestIntegrationFlow runs an order from the table to a settled VNPay payment
// against a real PostgreSQL database.
func TestIntegrationFlow(t *testing.T) {
	ctx := context.Background()

	connStr, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	runMigrations(t, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	events := &recorder{}

	gateways := gateway.NewRegistry(
		gateway.NewCash(),
		gateway.NewVNPay(gateway.VNPayConfig{
			TmnCode:    "TABLEPAY",
			HashSecret: vnpaySecret,
			PayURL:     "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
			ReturnURL:  "http://localhost:8081/api/payments/vnpay/return",
		}),
	)

	orders := service.NewOrderService(pool,
		func(db database.DBTX) service.OrderStore { return database.New(db) },
		pricing.NewCalculator(decimal.RequireFromString("0.10")),
		nil, events, logger)
	payments := service.NewPaymentService(pool,
		func(db database.DBTX) service.PaymentStore { return database.New(db) },
		gateways, events, logger)
	bills := service.NewBillService(pool,
		func(db database.DBTX) service.BillStore { return database.New(db) },
		payments, events, logger)

	fx := seedFixture(t, ctx, pool)

	// --- 1. Customer places an order: (45000 + 12000) x 2 ---
	created, err := orders.CreateOrder(ctx, service.CreateOrderRequest{
		RestaurantID: fx.restaurantID,
		TableID:      fx.tableID,
		SessionID:    "sess-integration",
		Items: []service.OrderItemRequest{{
			MenuItemID:        fx.menuItemID,
			Quantity:          2,
			ModifierOptionIDs: []uuid.UUID{fx.modifierID},
		}},
	})
	require.NoError(t, err)
	order := created.Order
	assert.Equal(t, enum.OrderStatusPending, order.Status)
	assert.Equal(t, int64(114000), order.Subtotal)
	assert.Equal(t, int64(11400), order.Tax)
	assert.Equal(t, int64(125400), order.Total)
	assert.Regexp(t, `^ORD-\d{8}-\d{4}$`, order.OrderNumber)
	require.Len(t, created.Items, 1)
	require.Len(t, created.Items[0].Modifiers, 1)

	// --- 2. Second round on the same order ---
	added, err := orders.AddItemsToOrder(ctx, order.ID, []service.OrderItemRequest{{MenuItemID: fx.menuItemID, Quantity: 1}})
	require.NoError(t, err)
	assert.Equal(t, int64(159000), added.Order.Subtotal)
	assert.Equal(t, int64(15900), added.Order.Tax)
	assert.Equal(t, int64(174900), added.Order.Total)
	assert.Len(t, added.Items, 2)

	// --- 3. Kitchen and floor move it along ---
	_, err = orders.AcceptOrder(ctx, fx.restaurantID, order.ID)
	require.NoError(t, err)
	for _, status := range []string{enum.OrderStatusPreparing, enum.OrderStatusReady} {
		_, err = orders.UpdateOrderStatus(ctx, service.UpdateStatusRequest{
			OrderID: order.ID, RestaurantID: fx.restaurantID, Status: status,
		})
		require.NoError(t, err, status)
	}
	served, err := orders.ServeOrder(ctx, fx.restaurantID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.OrderStatusServed, served.Status)
	assert.True(t, served.AcceptedAt.Valid && served.PreparingAt.Valid && served.ReadyAt.Valid && served.ServedAt.Valid)

	_, err = orders.UpdateOrderStatus(ctx, service.UpdateStatusRequest{
		OrderID: order.ID, RestaurantID: fx.restaurantID, Status: enum.OrderStatusPreparing,
	})
	assert.Error(t, err, "served orders cannot go back to the kitchen")

	open, err := orders.ListOpenOrdersByTable(ctx, fx.tableID)
	require.NoError(t, err)
	assert.Len(t, open, 1)

	// --- 4. Table asks for the bill, waiter accepts it ---
	bill, err := bills.CreateBillRequest(ctx, service.CreateBillRequestInput{
		RestaurantID:      fx.restaurantID,
		TableID:           fx.tableID,
		OrderIDs:          []uuid.UUID{order.ID, order.ID},
		TipsAmount:        5000,
		PaymentMethodCode: "VNPAY",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(174900), bill.Subtotal)
	assert.Equal(t, int64(179900), bill.TotalAmount)
	assert.Len(t, bill.OrderIDs, 1)

	accepted, err := bills.AcceptBillRequest(ctx, fx.restaurantID, bill.ID, uuid.New(), "127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, enum.BillStatusAccepted, accepted.Bill.Status)
	require.NotNil(t, accepted.Payment)
	paymentID := accepted.Payment.PaymentID
	assert.Contains(t, accepted.Payment.PaymentURL, "vnp_TxnRef="+paymentID.String())

	// A second attempt waits for the pending one
	_, err = bills.AcceptBillRequest(ctx, fx.restaurantID, bill.ID, uuid.New(), "127.0.0.1")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	// --- 5. Tampered and short-paid IPNs change nothing ---
	tampered := strings.Replace(string(vnpayIPN(paymentID, 179900, "00")), "vnp_ResponseCode=00", "vnp_ResponseCode=24", 1)
	_, err = payments.HandleCallback(ctx, enum.PaymentMethodVNPay, []byte(tampered))
	assert.Error(t, err)
	_, err = payments.HandleCallback(ctx, enum.PaymentMethodVNPay, vnpayIPN(paymentID, 170000, "00"))
	assert.Error(t, err)
	assert.Equal(t, enum.PaymentStatusPending, paymentStatus(t, ctx, pool, paymentID))

	// --- 6. VNPay confirms ---
	res, err := payments.HandleCallback(ctx, enum.PaymentMethodVNPay, vnpayIPN(paymentID, 179900, "00"))
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeCompleted, res.Outcome)
	assert.Equal(t, "14000001", res.Payment.GatewayTransID.String)

	final, err := orders.GetOrderDetails(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.OrderStatusCompleted, final.Order.Status)
	assert.True(t, final.Order.CompletedAt.Valid)
	assert.Equal(t, enum.BillStatusCompleted, billStatus(t, ctx, pool, bill.ID))

	// --- 7. Replays are acknowledged without side effects ---
	replay, err := payments.HandleCallback(ctx, enum.PaymentMethodVNPay, vnpayIPN(paymentID, 179900, "00"))
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeAlreadyProcessed, replay.Outcome)

	open, err = orders.ListOpenOrdersByTable(ctx, fx.tableID)
	require.NoError(t, err)
	assert.Empty(t, open)

	events.mu.Lock()
	defer events.mu.Unlock()
	assert.Equal(t, []string{
		enum.EventOrderCreated,
		enum.EventOrderItemsAdded,
		enum.EventOrderStatusChanged,
		enum.EventOrderStatusChanged,
		enum.EventOrderStatusChanged,
		enum.EventOrderStatusChanged,
		enum.EventBillRequested,
		enum.EventBillAccepted,
		enum.EventPaymentCompleted,
	}, events.events)
}

// TestIntegrationExpireStalePayments backdates a pending payment past the expiry window.
func TestIntegrationExpireStalePayments(t *testing.T) {
	ctx := context.Background()

	connStr, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()
	runMigrations(t, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	payments := service.NewPaymentService(pool,
		func(db database.DBTX) service.PaymentStore { return database.New(db) },
		gateway.NewRegistry(gateway.NewCash()), nil, logger)

	fx := seedFixture(t, ctx, pool)

	var stale, fresh uuid.UUID
	require.NoError(t, pool.QueryRow(ctx, `
		INSERT INTO payments (payment_method_id, amount, created_at)
		VALUES ($1, 50000, now() - interval '20 minutes') RETURNING id`, fx.cashMethodID).Scan(&stale))
	require.NoError(t, pool.QueryRow(ctx, `
		INSERT INTO payments (payment_method_id, amount)
		VALUES ($1, 50000) RETURNING id`, fx.cashMethodID).Scan(&fresh))

	n, err := payments.ExpireStalePayments(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, enum.PaymentStatusFailed, paymentStatus(t, ctx, pool, stale))
	assert.Equal(t, enum.PaymentStatusPending, paymentStatus(t, ctx, pool, fresh))

	var reason string
	require.NoError(t, pool.QueryRow(ctx, `SELECT failed_reason FROM payments WHERE id = $1`, stale).Scan(&reason))
	assert.Equal(t, enum.FailedReasonExpired, reason)
}

// --- Helpers ---

type fixture struct {
	restaurantID uuid.UUID
	tableID      uuid.UUID
	menuItemID   uuid.UUID
	modifierID   uuid.UUID
	cashMethodID uuid.UUID
}

func setupPostgresContainer(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("tablepay_test"),
		tcpostgres.WithUsername("tablepay"),
		tcpostgres.WithPassword("tablepay"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	return connStr, func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	}
}

func runMigrations(t *testing.T, connStr string) {
	t.Helper()

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("open db for migrations: %v", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		t.Fatalf("create migrate driver: %v", err)
	}

	// go test runs in the package directory (internal/service).
	m, err := migrate.NewWithDatabaseInstance("file://../../migrations", "postgres", driver)
	if err != nil {
		t.Fatalf("create migrate instance: %v", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("run migrations: %v", err)
	}
}

func seedFixture(t *testing.T, ctx context.Context, pool *pgxpool.Pool) fixture {
	t.Helper()
	var fx fixture

	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO restaurants (name) VALUES ('Integration Bistro') RETURNING id`).Scan(&fx.restaurantID))
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO tables (restaurant_id, table_number) VALUES ($1, 'T1') RETURNING id`,
		fx.restaurantID).Scan(&fx.tableID))
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO menu_items (restaurant_id, name, price) VALUES ($1, 'Pho Bo', 45000) RETURNING id`,
		fx.restaurantID).Scan(&fx.menuItemID))
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO modifier_options (name, price_adjustment) VALUES ('Extra beef', 12000) RETURNING id`).Scan(&fx.modifierID))

	for _, code := range []string{enum.PaymentMethodCash, enum.PaymentMethodVNPay} {
		var id uuid.UUID
		require.NoError(t, pool.QueryRow(ctx,
			`INSERT INTO payment_methods (code, name) VALUES ($1, $1) RETURNING id`, code).Scan(&id))
		if code == enum.PaymentMethodCash {
			fx.cashMethodID = id
		}
	}
	return fx
}

// vnpayIPN builds the query VNPay sends to the IPN endpoint.
func vnpayIPN(paymentID uuid.UUID, amount int64, code string) []byte {
	params := url.Values{}
	params.Set("vnp_TmnCode", "TABLEPAY")
	params.Set("vnp_TxnRef", paymentID.String())
	params.Set("vnp_Amount", strconv.FormatInt(amount*100, 10))
	params.Set("vnp_ResponseCode", code)
	params.Set("vnp_TransactionNo", "14000001")
	mac := hmac.New(sha512.New, []byte(vnpaySecret))
	mac.Write([]byte(params.Encode()))
	params.Set("vnp_SecureHash", hex.EncodeToString(mac.Sum(nil)))
	return []byte(params.Encode())
}

func paymentStatus(t *testing.T, ctx context.Context, pool *pgxpool.Pool, id uuid.UUID) string {
	t.Helper()
	var status string
	require.NoError(t, pool.QueryRow(ctx, `SELECT status FROM payments WHERE id = $1`, id).Scan(&status))
	return status
}

func billStatus(t *testing.T, ctx context.Context, pool *pgxpool.Pool, id uuid.UUID) string {
	t.Helper()
	var status string
	require.NoError(t, pool.QueryRow(ctx, `SELECT status FROM bill_requests WHERE id = $1`, id).Scan(&status))
	return status
}
