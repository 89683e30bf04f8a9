// Package orderstate is the order lifecycle: which status changes are
// allowed and which lifecycle timestamp each one stamps.
package orderstate

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/tablepay/api/internal/apperr"
	"github.com/tablepay/api/internal/enum"
)

var transitions = map[string][]string{
	enum.OrderStatusPending:   {enum.OrderStatusAccepted, enum.OrderStatusRejected, enum.OrderStatusCancelled},
	enum.OrderStatusAccepted:  {enum.OrderStatusPreparing, enum.OrderStatusCancelled},
	enum.OrderStatusPreparing: {enum.OrderStatusReady, enum.OrderStatusCancelled},
	enum.OrderStatusReady:     {enum.OrderStatusServed, enum.OrderStatusCancelled},
	enum.OrderStatusServed:    {enum.OrderStatusCompleted, enum.OrderStatusCancelled},
}

// Valid reports whether s is a known order status.
func Valid(s string) bool {
	switch s {
	case enum.OrderStatusPending, enum.OrderStatusAccepted, enum.OrderStatusPreparing,
		enum.OrderStatusReady, enum.OrderStatusServed, enum.OrderStatusCompleted,
		enum.OrderStatusCancelled, enum.OrderStatusRejected:
		return true
	}
	return false
}

// Terminal statuses have no outgoing transitions.
func Terminal(s string) bool {
	switch s {
	case enum.OrderStatusCompleted, enum.OrderStatusCancelled, enum.OrderStatusRejected:
		return true
	}
	return false
}

// Open reports whether items may still be added to an order in status s.
func Open(s string) bool {
	switch s {
	case enum.OrderStatusPending, enum.OrderStatusAccepted, enum.OrderStatusPreparing:
		return true
	}
	return false
}

func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Check returns a *apperr.TransitionError when from -> to is not allowed.
func Check(from, to string) error {
	if !CanTransition(from, to) {
		return &apperr.TransitionError{From: from, To: to}
	}
	return nil
}

// Stamps holds the lifecycle timestamps one transition sets. At most one
// field is valid; cancellation and rejection set none.
type Stamps struct {
	AcceptedAt  pgtype.Timestamptz
	PreparingAt pgtype.Timestamptz
	ReadyAt     pgtype.Timestamptz
	ServedAt    pgtype.Timestamptz
	CompletedAt pgtype.Timestamptz
}

// StampFor returns the timestamps entering status to sets at now.
func StampFor(to string, now time.Time) Stamps {
	ts := pgtype.Timestamptz{Time: now, Valid: true}
	var s Stamps
	switch to {
	case enum.OrderStatusAccepted:
		s.AcceptedAt = ts
	case enum.OrderStatusPreparing:
		s.PreparingAt = ts
	case enum.OrderStatusReady:
		s.ReadyAt = ts
	case enum.OrderStatusServed:
		s.ServedAt = ts
	case enum.OrderStatusCompleted:
		s.CompletedAt = ts
	}
	return s
}
