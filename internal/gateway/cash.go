package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/tablepay/api/internal/apperr"
	"github.com/tablepay/api/internal/enum"
)

// Cash is collected by a waiter. It issues a local transaction id so cash
// goes through the same reconciliation as the online providers.
type Cash struct {
	now func() time.Time
}

func NewCash() *Cash {
	return &Cash{now: time.Now}
}

func (c *Cash) Method() string { return enum.PaymentMethodCash }

func (c *Cash) CreatePayment(_ context.Context, _ PaymentRequest) (PaymentResult, error) {
	return PaymentResult{TransactionID: c.TransactionID()}, nil
}

func (c *Cash) TransactionID() string {
	return fmt.Sprintf("CASH-%d", c.now().UnixMilli())
}

func (c *Cash) VerifyCallback(_ []byte) (Notification, error) {
	return Notification{}, fmt.Errorf("%w: cash payments have no provider callback", apperr.ErrInvalidInput)
}
