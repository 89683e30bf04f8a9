// Package gateway holds the payment provider adapters. Each adapter signs
// outbound payment requests and verifies inbound callbacks with the
// provider's own MAC scheme, so reconciliation only sees Notifications.
package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tablepay/api/internal/apperr"
)

// PaymentRequest is what the payment service asks a provider to collect.
type PaymentRequest struct {
	PaymentID     uuid.UUID
	BillRequestID uuid.UUID
	Amount        int64
	OrderCount    int
	ClientIP      string
}

// PaymentResult is the provider's answer to a create call. PaymentURL and
// QRCode are empty for providers that do not issue them.
type PaymentResult struct {
	TransactionID string `json:"transaction_id"`
	PaymentURL    string `json:"payment_url,omitempty"`
	QRCode        string `json:"qr_code,omitempty"`
}

// Notification is a verified callback mapped to a payment outcome.
type Notification struct {
	Method         string
	PaymentRef     string
	Success        bool
	GatewayTransID string
	FailureReason  string
	// Amount is only compared when CheckAmount is set.
	Amount      decimal.Decimal
	CheckAmount bool
}

// Gateway is one payment provider.
type Gateway interface {
	Method() string
	CreatePayment(ctx context.Context, req PaymentRequest) (PaymentResult, error)
	// VerifyCallback authenticates a raw callback payload. It returns
	// apperr.ErrSignatureInvalid when the MAC does not match.
	VerifyCallback(payload []byte) (Notification, error)
}

// Registry looks up gateways by lowercase method code.
type Registry struct {
	gateways map[string]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway, len(gateways))}
	for _, g := range gateways {
		r.gateways[g.Method()] = g
	}
	return r
}

func (r *Registry) Get(method string) (Gateway, error) {
	g, ok := r.gateways[strings.ToLower(method)]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported payment method %q", apperr.ErrInvalidInput, method)
	}
	return g, nil
}

func hmacSHA256Hex(key, data string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func hmacSHA512Hex(key, data string) string {
	mac := hmac.New(sha512.New, []byte(key))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// equalHex compares two hex digests in constant time, ignoring case.
func equalHex(expected, given string) bool {
	a, err := hex.DecodeString(expected)
	if err != nil {
		return false
	}
	b, err := hex.DecodeString(strings.ToLower(given))
	if err != nil {
		return false
	}
	return hmac.Equal(a, b)
}
