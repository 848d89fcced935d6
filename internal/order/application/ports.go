package application

import (
	"context"
	"time"

	"github.com/dmehra2102/storefront-backend/internal/order/domain"
	"github.com/dmehra2102/storefront-backend/internal/payment/gateway"
)

type OrderRepository interface {
	// CreateWithOutbox persists the order, its line items and the given
	// outbox event in a single transaction.
	CreateWithOutbox(ctx context.Context, o domain.Order, eventType string, payload []byte) error
	Get(ctx context.Context, id string) (domain.Order, error)
	FindBySessionRef(ctx context.Context, ref string) (domain.Order, error)
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Order, error)
	ListAll(ctx context.Context) ([]domain.Order, error)
	// SetSessionRef writes the session ref only if none is set yet.
	SetSessionRef(ctx context.Context, orderID, ref string) error
	// MarkPaid flips the order to (processing, paid) and enqueues the outbox
	// event, conditional on the order not already being paid. It reports
	// whether this call performed the transition. sessionRef is pinned onto
	// the order if none is stored yet, so a paid order always carries the
	// session it was paid through even when the ref write at creation failed.
	MarkPaid(ctx context.Context, orderID, sessionRef, eventType string, payload []byte) (bool, error)
	// MarkPaymentFailed sets paymentStatus=failed only while the order is
	// still payment-pending, and reports whether it did.
	MarkPaymentFailed(ctx context.Context, orderID, eventType string, payload []byte) (bool, error)
	UpdateStatus(ctx context.Context, orderID string, orderStatus *domain.OrderStatus, paymentStatus *domain.PaymentStatus) (domain.Order, error)
	FindPaidSince(ctx context.Context, since time.Time) ([]domain.Order, error)
}

type CheckoutGateway interface {
	CreateSession(ctx context.Context, orderID string, lines []gateway.SessionLine) (gateway.Session, error)
}

// ReceiptDispatcher delivers the post-payment receipt. Implementations must
// be safe to call from a goroutine; errors are the implementation's to log.
type ReceiptDispatcher interface {
	Deliver(ctx context.Context, o domain.Order)
}
