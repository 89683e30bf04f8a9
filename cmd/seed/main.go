package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/tablepay/api/internal/applog"
	"github.com/tablepay/api/internal/auth"
	"github.com/tablepay/api/internal/config"
	"github.com/tablepay/api/internal/enum"
)

var logger *logrus.Logger

type menuSeed struct {
	name        string
	description string
	price       string
}

var (
	demoTables = []struct{ number, location string }{
		{"T1", "Indoor"},
		{"T2", "Terrace"},
	}

	demoMenu = []menuSeed{
		{"Pho Bo", "Beef noodle soup", "45000"},
		{"Bun Cha", "Grilled pork with vermicelli", "55000"},
		{"Ca Phe Sua Da", "Iced coffee with condensed milk", "25000"},
	}

	demoModifiers = []struct{ name, price string }{
		{"Extra beef", "15000"},
		{"Large size", "10000"},
		{"No onion", "0"},
	}

	demoPaymentMethods = []struct{ code, name string }{
		{enum.PaymentMethodCash, "Cash"},
		{enum.PaymentMethodMoMo, "MoMo"},
		{enum.PaymentMethodZaloPay, "ZaloPay"},
		{enum.PaymentMethodVNPay, "VNPay"},
	}
)

func main() {
	name := flag.String("restaurant", "TablePay Demo Bistro", "Demo restaurant name")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "Lifetime of the printed staff tokens")
	flag.Parse()

	cfg := config.Load()
	logger = applog.New(cfg.LogLevel)

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.WithError(err).Fatal("unable to connect to database")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.WithError(err).Fatal("unable to ping database")
	}

	// Everything or nothing
	tx, err := pool.Begin(ctx)
	if err != nil {
		logger.WithError(err).Fatal("failed to begin transaction")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	restaurantID, err := seedRestaurant(ctx, tx, *name)
	if err != nil {
		logger.WithError(err).Fatal("failed to seed restaurant")
	}
	if err := seedTables(ctx, tx, restaurantID); err != nil {
		logger.WithError(err).Fatal("failed to seed tables")
	}
	if err := seedMenu(ctx, tx, restaurantID); err != nil {
		logger.WithError(err).Fatal("failed to seed menu")
	}
	if err := seedModifiers(ctx, tx); err != nil {
		logger.WithError(err).Fatal("failed to seed modifier options")
	}
	if err := seedPaymentMethods(ctx, tx); err != nil {
		logger.WithError(err).Fatal("failed to seed payment methods")
	}

	if err := tx.Commit(ctx); err != nil {
		logger.WithError(err).Fatal("failed to commit")
	}

	logger.WithField("restaurant_id", restaurantID).Info("seed completed")

	// There is no staff login in this API; print tokens for local testing.
	for _, role := range []string{enum.RoleAdmin, enum.RoleWaiter, enum.RoleKitchen} {
		tok, err := auth.GenerateToken(cfg.JWTSecret, uuid.New(), restaurantID, role, *tokenTTL)
		if err != nil {
			logger.WithError(err).Fatal("failed to generate token")
		}
		fmt.Printf("%-8s %s\n", role, tok)
	}
}

// seedRestaurant returns the active restaurant with this name, creating it if needed.
func seedRestaurant(ctx context.Context, tx pgx.Tx, name string) (uuid.UUID, error) {
	var id uuid.UUID
	err := tx.QueryRow(ctx, `SELECT id FROM restaurants WHERE name = $1 AND is_active = true LIMIT 1`, name).Scan(&id)
	if err == nil {
		logger.WithField("restaurant_id", id).Infof("restaurant '%s' already exists, skipping", name)
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("check restaurant: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO restaurants (name, address, is_active)
		VALUES ($1, $2, true)
		RETURNING id
	`, name, "1 Nguyen Hue, District 1, Ho Chi Minh City").Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert restaurant: %w", err)
	}

	logger.WithField("restaurant_id", id).Infof("created restaurant '%s'", name)
	return id, nil
}

func seedTables(ctx context.Context, tx pgx.Tx, restaurantID uuid.UUID) error {
	for _, t := range demoTables {
		tag, err := tx.Exec(ctx, `
			INSERT INTO tables (restaurant_id, table_number, location, status)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (restaurant_id, table_number) DO NOTHING
		`, restaurantID, t.number, t.location, enum.TableStatusActive)
		if err != nil {
			return fmt.Errorf("insert table %s: %w", t.number, err)
		}
		logger.WithField("created", tag.RowsAffected() == 1).Infof("table %s", t.number)
	}
	return nil
}

func seedMenu(ctx context.Context, tx pgx.Tx, restaurantID uuid.UUID) error {
	for _, m := range demoMenu {
		tag, err := tx.Exec(ctx, `
			INSERT INTO menu_items (restaurant_id, name, description, price, status)
			SELECT $1, $2, $3, $4::numeric, $5
			WHERE NOT EXISTS (
				SELECT 1 FROM menu_items WHERE restaurant_id = $1 AND name = $2 AND NOT is_deleted
			)
		`, restaurantID, m.name, m.description, m.price, enum.MenuItemStatusAvailable)
		if err != nil {
			return fmt.Errorf("insert menu item %s: %w", m.name, err)
		}
		logger.WithField("created", tag.RowsAffected() == 1).Infof("menu item %s", m.name)
	}
	return nil
}

// seedModifiers inserts modifier options. They are not scoped to a restaurant.
func seedModifiers(ctx context.Context, tx pgx.Tx) error {
	for _, m := range demoModifiers {
		tag, err := tx.Exec(ctx, `
			INSERT INTO modifier_options (name, price_adjustment, status)
			SELECT $1, $2::numeric, 'active'
			WHERE NOT EXISTS (SELECT 1 FROM modifier_options WHERE name = $1)
		`, m.name, m.price)
		if err != nil {
			return fmt.Errorf("insert modifier option %s: %w", m.name, err)
		}
		logger.WithField("created", tag.RowsAffected() == 1).Infof("modifier option %s", m.name)
	}
	return nil
}

func seedPaymentMethods(ctx context.Context, tx pgx.Tx) error {
	for _, pm := range demoPaymentMethods {
		if _, err := tx.Exec(ctx, `
			INSERT INTO payment_methods (code, name, is_active)
			VALUES ($1, $2, true)
			ON CONFLICT (code) DO NOTHING
		`, pm.code, pm.name); err != nil {
			return fmt.Errorf("insert payment method %s: %w", pm.code, err)
		}
	}
	logger.WithField("count", len(demoPaymentMethods)).Info("payment methods ensured")
	return nil
}
