package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
	"github.com/tablepay/api/internal/config"
	"github.com/tablepay/api/internal/enum"
	"github.com/tablepay/api/internal/handler"
	mw "github.com/tablepay/api/internal/middleware"
	"github.com/tablepay/api/internal/ws"
)

// Services bundles what the handlers call into.
type Services struct {
	Orders   handler.OrderServicer
	Bills    handler.BillServicer
	Payments handler.PaymentServicer
}

// New creates a Chi router with all application routes wired up.
// Public routes serve table sessions and payment providers; staff routes are
// authenticated, restaurant-scoped and role-guarded.
func New(cfg *config.Config, svcs Services, hub *ws.Hub, logger *logrus.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
	})

	// WebSocket route (handles auth internally via query param)
	r.Get("/ws/restaurants/{rid}", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(hub, cfg.JWTSecret, w, r)
	})

	validate := handler.NewValidator()
	orderHandler := handler.NewOrderHandler(svcs.Orders, validate, logger)
	billHandler := handler.NewBillHandler(svcs.Bills, validate, logger)
	paymentHandler := handler.NewPaymentHandler(svcs.Payments, validate, logger)

	r.Route("/api", func(r chi.Router) {
		// Table session and provider callbacks
		orderHandler.RegisterPublicRoutes(r)
		billHandler.RegisterPublicRoutes(r)
		paymentHandler.RegisterPublicRoutes(r)

		// Staff
		r.Group(func(r chi.Router) {
			r.Use(mw.Authenticate(cfg.JWTSecret))

			r.Route("/restaurants/{rid}", func(r chi.Router) {
				r.Use(mw.RequireRestaurant)

				r.Group(func(r chi.Router) {
					r.Use(mw.RequireRole(enum.RoleAdmin, enum.RoleWaiter, enum.RoleKitchen))
					orderHandler.RegisterKitchenRoutes(r)
				})

				r.Group(func(r chi.Router) {
					r.Use(mw.RequireRole(enum.RoleAdmin, enum.RoleWaiter))
					orderHandler.RegisterWaiterRoutes(r)
					billHandler.RegisterWaiterRoutes(r)
					paymentHandler.RegisterWaiterRoutes(r)
				})
			})
		})
	})

	logger.Info("router initialized")
	return r
}
