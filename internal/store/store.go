package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when the host store has no matching record.
var ErrNotFound = errors.New("store: not found")

// OrderStatus is the local order lifecycle state.
type OrderStatus string

const (
	OrderStatusPendingPayment OrderStatus = "PENDING_PAYMENT"
	OrderStatusPaid           OrderStatus = "PAID"
	OrderStatusRefunded       OrderStatus = "REFUNDED"
	OrderStatusFailed         OrderStatus = "FAILED"
	OrderStatusOnHold         OrderStatus = "ON_HOLD"
	OrderStatusCanceled       OrderStatus = "CANCELED"
)

// AuthorizationStatus mirrors the provider-side state of a funds hold.
type AuthorizationStatus string

const (
	AuthorizationCreated  AuthorizationStatus = "CREATED"
	AuthorizationCaptured AuthorizationStatus = "CAPTURED"
	AuthorizationVoided   AuthorizationStatus = "VOIDED"
	AuthorizationExpired  AuthorizationStatus = "EXPIRED"
)

// Authorization is a funds hold attached to a local order. It is captured at
// most once; the processor detects and tolerates duplicate attempts.
type Authorization struct {
	ID        string
	Status    AuthorizationStatus
	Amount    int64
	Currency  string
	ExpiresAt time.Time
}

// Open reports whether the authorization is still capturable at the given time.
func (a *Authorization) Open(now time.Time) bool {
	if a == nil || a.Status != AuthorizationCreated {
		return false
	}
	return a.ExpiresAt.IsZero() || a.ExpiresAt.After(now)
}

// Order is the narrow view of a host order this service reads and updates.
type Order struct {
	ID            string
	CustomerID    int64
	Status        OrderStatus
	Authorization *Authorization
	CaptureID     string
}

// InstrumentKind distinguishes card from wallet payment instruments.
type InstrumentKind string

const (
	InstrumentCard   InstrumentKind = "card"
	InstrumentWallet InstrumentKind = "wallet"
)

// PaymentInstrument is a vaulted, reusable payment method for a customer.
type PaymentInstrument struct {
	ID           string
	CustomerID   int64
	Token        string
	Kind         InstrumentKind
	CardLast4    string
	CardBrand    string
	CardExpMonth int
	CardExpYear  int
}

// Store is the contract to the host order/customer storage. The host system
// owns concurrency control and persistence; this service only reads state,
// writes new state, and appends notes through it.
type Store interface {
	GetOrder(ctx context.Context, orderID string) (Order, error)
	// GetOrderByCaptureID resolves the local order a provider capture id
	// belongs to. Used by refund and dispute reconciliation.
	GetOrderByCaptureID(ctx context.Context, captureID string) (Order, error)
	// OrdersWithOpenAuthorization lists the customer's orders whose
	// authorization is still in CREATED state and not expired.
	OrdersWithOpenAuthorization(ctx context.Context, customerID int64) ([]Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status OrderStatus) error
	AppendOrderNote(ctx context.Context, orderID, note string) error
	// MarkAuthorizationCaptured records that the order's authorization was
	// finalised into the given capture.
	MarkAuthorizationCaptured(ctx context.Context, orderID, captureID string) error

	// SavePaymentInstrument creates or updates the instrument keyed by its
	// provider token and returns the local instrument id.
	SavePaymentInstrument(ctx context.Context, inst PaymentInstrument) (string, error)
	DeletePaymentInstrument(ctx context.Context, customerID int64, token string) error
	SetDefaultPaymentInstrument(ctx context.Context, customerID int64, instrumentID string) error
}
