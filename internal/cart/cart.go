// Package cart owns the Redis keys that hold a table session's cart.
// The customer app writes the cart; the API only clears it once the cart
// has become an order.
package cart

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "tablepay:cart:"

// Deleter is the slice of the Redis client the store needs.
// Satisfied by *redis.Client.
type Deleter interface {
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Store clears carts kept in Redis.
type Store struct {
	rdb    Deleter
	logger *logrus.Logger
}

func NewStore(rdb Deleter, logger *logrus.Logger) *Store {
	return &Store{rdb: rdb, logger: logger}
}

// CustomerKey is the cart key of a signed-in customer.
func CustomerKey(id uuid.UUID) string {
	return keyPrefix + "customer:" + id.String()
}

// SessionKey is the cart key of an anonymous table session.
func SessionKey(sessionID string) string {
	return keyPrefix + "session:" + sessionID
}

// Clear deletes the customer's cart and the session's cart, whichever are
// known. It is a no-op when neither is.
func (s *Store) Clear(ctx context.Context, customerID *uuid.UUID, sessionID string) error {
	var keys []string
	if customerID != nil {
		keys = append(keys, CustomerKey(*customerID))
	}
	if sessionID != "" {
		keys = append(keys, SessionKey(sessionID))
	}
	if len(keys) == 0 {
		return nil
	}

	n, err := s.rdb.Del(ctx, keys...).Result()
	if err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	s.logger.WithContext(ctx).WithFields(logrus.Fields{
		"keys":    keys,
		"deleted": n,
	}).Debug("cart cleared")
	return nil
}
