package enum

// ── Group A: State machines (CHECK constrained in DB) ──

const (
	OrderStatusPending   = "pending"
	OrderStatusAccepted  = "accepted"
	OrderStatusPreparing = "preparing"
	OrderStatusReady     = "ready"
	OrderStatusServed    = "served"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
	OrderStatusRejected  = "rejected"
)

const (
	BillStatusPending   = "pending"
	BillStatusAccepted  = "accepted"
	BillStatusCompleted = "completed"
	BillStatusRejected  = "rejected"
)

const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
)

// ── Group B: Catalog availability (no DB constraint) ──

const (
	TableStatusActive = "active"
)

const (
	MenuItemStatusAvailable = "available"
	MenuItemStatusActive    = "active"
)

const (
	ModifierStatusInactive = "inactive"
)

// ── Group C: Roles and labels ──

const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleWaiter     = "waiter"
	RoleKitchen    = "kitchen"
)

const (
	PaymentMethodCash    = "cash"
	PaymentMethodMoMo    = "momo"
	PaymentMethodZaloPay = "zalopay"
	PaymentMethodVNPay   = "vnpay"
)

const (
	FailedReasonExpired     = "expired"
	FailedReasonBillSettled = "bill already settled"
)

// ── Group D: Real-time events pushed to restaurant rooms ──

const (
	EventOrderCreated       = "order.created"
	EventOrderItemsAdded    = "order.items_added"
	EventOrderStatusChanged = "order.status_changed"
	EventBillRequested      = "bill.requested"
	EventBillAccepted       = "bill.accepted"
	EventBillRejected       = "bill.rejected"
	EventPaymentCompleted   = "payment.completed"
	EventPaymentFailed      = "payment.failed"
)
