package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderDelivered  OrderStatus = "delivered"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

type PaymentMethod string

const (
	MethodCOD     PaymentMethod = "cod"
	MethodGateway PaymentMethod = "gateway"
)

var (
	ErrNoItems       = errors.New("order has no line items")
	ErrBadQuantity   = errors.New("line item quantity must be positive")
	ErrNegativePrice = errors.New("line item price must not be negative")
	ErrInvalidStatus = errors.New("invalid status value")
	ErrSessionRefSet = errors.New("gateway session ref already set")
)

type Order struct {
	ID            string
	OwnerID       string
	OwnerEmail    string
	Items         []OrderItem
	TotalPrice    decimal.Decimal
	Method        PaymentMethod
	OrderStatus   OrderStatus
	PaymentStatus PaymentStatus
	SessionRef    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type OrderItem struct {
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
}

// NewOrder validates the line items, captures their prices and returns an
// order in the (pending, pending) state. The total is computed once here and
// never recomputed afterwards.
func NewOrder(ownerID, ownerEmail string, method PaymentMethod, items []OrderItem) (Order, error) {
	if len(items) == 0 {
		return Order{}, ErrNoItems
	}
	total := decimal.Zero
	for _, item := range items {
		if item.Quantity <= 0 {
			return Order{}, fmt.Errorf("%w: product %s", ErrBadQuantity, item.ProductID)
		}
		if item.UnitPrice.IsNegative() {
			return Order{}, fmt.Errorf("%w: product %s", ErrNegativePrice, item.ProductID)
		}
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	now := time.Now().UTC()
	return Order{
		ID:            uuid.NewString(),
		OwnerID:       ownerID,
		OwnerEmail:    ownerEmail,
		Items:         items,
		TotalPrice:    total,
		Method:        method,
		OrderStatus:   OrderPending,
		PaymentStatus: PaymentPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func ValidOrderStatus(s OrderStatus) bool {
	switch s {
	case OrderPending, OrderProcessing, OrderDelivered:
		return true
	}
	return false
}

func ValidPaymentStatus(s PaymentStatus) bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentFailed:
		return true
	}
	return false
}

// State is an (orderStatus, paymentStatus) pair of the order lifecycle.
type State struct {
	Order   OrderStatus
	Payment PaymentStatus
}

func (o Order) State() State {
	return State{Order: o.OrderStatus, Payment: o.PaymentStatus}
}

// transitions holds the states gateway-driven reconciliation may move an
// order into. There is no edge out of a paid state other than fulfillment,
// so a late failure event can never regress a paid order.
var transitions = map[State][]State{
	{OrderPending, PaymentPending}: {
		{OrderProcessing, PaymentPaid},
		{OrderPending, PaymentFailed},
	},
	{OrderPending, PaymentFailed}: {
		{OrderProcessing, PaymentPaid},
	},
	{OrderProcessing, PaymentPaid}: {
		{OrderDelivered, PaymentPaid},
	},
}

func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
