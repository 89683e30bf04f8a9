package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/tablepay/api/internal/applog"
	"github.com/tablepay/api/internal/cart"
	"github.com/tablepay/api/internal/config"
	"github.com/tablepay/api/internal/database"
	"github.com/tablepay/api/internal/gateway"
	"github.com/tablepay/api/internal/jobs"
	"github.com/tablepay/api/internal/pricing"
	"github.com/tablepay/api/internal/router"
	"github.com/tablepay/api/internal/service"
	"github.com/tablepay/api/internal/ws"
)

const expireInterval = time.Minute

func main() {
	cfg := config.Load()
	logger := applog.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.WithError(err).Fatal("unable to connect to database")
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.WithError(err).Fatal("unable to ping database")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.WithError(err).Fatal("invalid REDIS_URL")
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		// Carts only need clearing; orders still go through without Redis.
		logger.WithError(err).Warn("redis unreachable, cart clearing will fail")
	}

	hub := ws.NewHub(logger)
	go hub.Run(ctx)

	httpClient := &http.Client{Timeout: 30 * time.Second}
	gateways := gateway.NewRegistry(
		gateway.NewCash(),
		gateway.NewVNPay(gateway.VNPayConfig{
			TmnCode:    cfg.VNPay.TmnCode,
			HashSecret: cfg.VNPay.HashSecret,
			PayURL:     cfg.VNPay.PayURL,
			ReturnURL:  cfg.VNPay.ReturnURL,
		}),
		gateway.NewMoMo(gateway.MoMoConfig{
			PartnerCode: cfg.MoMo.PartnerCode,
			AccessKey:   cfg.MoMo.AccessKey,
			SecretKey:   cfg.MoMo.SecretKey,
			Endpoint:    cfg.MoMo.Endpoint,
			RedirectURL: cfg.MoMo.RedirectURL,
			IPNURL:      cfg.MoMo.IPNURL,
		}, httpClient, logger),
		gateway.NewZaloPay(gateway.ZaloPayConfig{
			AppID:       cfg.ZaloPay.AppID,
			Key1:        cfg.ZaloPay.Key1,
			Key2:        cfg.ZaloPay.Key2,
			Endpoint:    cfg.ZaloPay.Endpoint,
			CallbackURL: cfg.ZaloPay.CallbackURL,
			RedirectURL: cfg.ZaloPay.RedirectURL,
		}, httpClient, logger),
	)

	orderService := service.NewOrderService(
		pool,
		func(db database.DBTX) service.OrderStore { return database.New(db) },
		pricing.NewCalculator(cfg.TaxRate),
		cart.NewStore(rdb, logger),
		hub,
		logger,
	)
	paymentService := service.NewPaymentService(
		pool,
		func(db database.DBTX) service.PaymentStore { return database.New(db) },
		gateways,
		hub,
		logger,
	)
	billService := service.NewBillService(
		pool,
		func(db database.DBTX) service.BillStore { return database.New(db) },
		paymentService,
		hub,
		logger,
	)

	scheduler, err := jobs.NewScheduler(paymentService, cfg.PaymentExpiry, expireInterval, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to create job scheduler")
	}
	scheduler.Start()

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: router.New(cfg, router.Services{
			Orders:   orderService,
			Bills:    billService,
			Payments: paymentService,
		}, hub, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithField("port", cfg.Port).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("http shutdown")
	}
	if err := scheduler.Stop(); err != nil {
		logger.WithError(err).Error("scheduler shutdown")
	}
}
