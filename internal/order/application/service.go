package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmehra2102/storefront-backend/internal/order/domain"
	paymentdomain "github.com/dmehra2102/storefront-backend/internal/payment/domain"
	"github.com/dmehra2102/storefront-backend/internal/payment/gateway"
)

var (
	ErrNotFound = errors.New("order not found")
	// ErrSessionCreation marks an order that was persisted but has no
	// checkout session yet. The order itself is valid; the caller should
	// retry session creation, not discard the order.
	ErrSessionCreation = errors.New("checkout session creation failed")
)

type CreateResult struct {
	Order       domain.Order
	CheckoutURL string
}

type Service struct {
	log      *slog.Logger
	repo     OrderRepository
	checkout CheckoutGateway
	receipts ReceiptDispatcher
}

func NewService(log *slog.Logger, repo OrderRepository, checkout CheckoutGateway, receipts ReceiptDispatcher) *Service {
	return &Service{log: log, repo: repo, checkout: checkout, receipts: receipts}
}

// CreateOrder persists a new order in (pending, pending) and, for gateway
// payment, requests a checkout session and pins its ref onto the order.
// The order row commits before the session request on purpose: if the
// gateway call fails we keep an open retryable order rather than risk a
// session (and a charge) for an order we never stored.
func (s *Service) CreateOrder(ctx context.Context, ownerID, ownerEmail string, method domain.PaymentMethod, items []domain.OrderItem) (CreateResult, error) {
	o, err := domain.NewOrder(ownerID, ownerEmail, method, items)
	if err != nil {
		return CreateResult{}, err
	}

	created := domain.OrderCreated{
		OrderID:    o.ID,
		OwnerID:    o.OwnerID,
		Method:     string(o.Method),
		TotalPrice: o.TotalPrice.String(),
		Items:      domain.Snapshot(o.Items),
	}
	payload, err := json.Marshal(created)
	if err != nil {
		return CreateResult{}, err
	}
	if err := s.repo.CreateWithOutbox(ctx, o, "OrderCreated", payload); err != nil {
		return CreateResult{}, err
	}

	if o.Method != domain.MethodGateway {
		return CreateResult{Order: o}, nil
	}

	lines := make([]gateway.SessionLine, 0, len(o.Items))
	for _, item := range o.Items {
		lines = append(lines, gateway.SessionLine{
			Name:      item.ProductName,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}
	sess, err := s.checkout.CreateSession(ctx, o.ID, lines)
	if err != nil {
		s.log.Error("checkout session create failed", "order_id", o.ID, "err", err)
		return CreateResult{Order: o}, fmt.Errorf("%w: %v", ErrSessionCreation, err)
	}
	if err := s.repo.SetSessionRef(ctx, o.ID, sess.ID); err != nil {
		s.log.Error("session ref persist failed", "order_id", o.ID, "session_ref", sess.ID, "err", err)
		return CreateResult{Order: o}, fmt.Errorf("%w: %v", ErrSessionCreation, err)
	}
	o.SessionRef = sess.ID
	return CreateResult{Order: o, CheckoutURL: sess.URL}, nil
}

// HandleGatewayEvent applies one verified gateway event to the matching
// order. Unknown orders and duplicate deliveries are discarded without
// error: the gateway retries on failure and does not guarantee exactly-once
// or in-order delivery, so this path has to be idempotent and must never
// fail on an event we simply do not care about anymore.
func (s *Service) HandleGatewayEvent(ctx context.Context, ev paymentdomain.Event) error {
	o, err := s.resolveOrder(ctx, ev)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.log.Warn("gateway event matched no order, discarding",
				"event_id", ev.ID, "type", ev.Type, "session_ref", ev.SessionRef)
			return nil
		}
		return err
	}

	switch ev.Type {
	case paymentdomain.SessionCompleted:
		return s.applyPaid(ctx, o, ev)
	case paymentdomain.SessionExpired, paymentdomain.SessionPaymentFailed:
		return s.applyFailed(ctx, o, ev)
	default:
		s.log.Warn("unhandled gateway event type", "event_id", ev.ID, "type", ev.Type)
		return nil
	}
}

func (s *Service) applyPaid(ctx context.Context, o domain.Order, ev paymentdomain.Event) error {
	target := domain.State{Order: domain.OrderProcessing, Payment: domain.PaymentPaid}
	if !domain.CanTransition(o.State(), target) {
		s.log.Info("duplicate payment confirmation discarded", "order_id", o.ID, "event_id", ev.ID)
		return nil
	}

	payload, err := json.Marshal(domain.OrderPaid{
		OrderID:    o.ID,
		SessionRef: ev.SessionRef,
		TotalPrice: o.TotalPrice.String(),
	})
	if err != nil {
		return err
	}

	// The table check above races with concurrent deliveries; the
	// conditional update is what actually closes it.
	transitioned, err := s.repo.MarkPaid(ctx, o.ID, ev.SessionRef, "OrderPaid", payload)
	if err != nil {
		return err
	}
	if !transitioned {
		s.log.Info("duplicate payment confirmation discarded", "order_id", o.ID, "event_id", ev.ID)
		return nil
	}

	s.log.Info("order paid", "order_id", o.ID, "session_ref", ev.SessionRef)

	o.PaymentStatus = domain.PaymentPaid
	o.OrderStatus = domain.OrderProcessing
	if o.SessionRef == "" {
		o.SessionRef = ev.SessionRef
	}

	// Receipt delivery rides on the already-committed transition. It runs
	// detached from the webhook request and its failure is logged inside
	// the dispatcher, never surfaced back to the gateway.
	go s.receipts.Deliver(context.WithoutCancel(ctx), o)
	return nil
}

func (s *Service) applyFailed(ctx context.Context, o domain.Order, ev paymentdomain.Event) error {
	target := domain.State{Order: o.OrderStatus, Payment: domain.PaymentFailed}
	if !domain.CanTransition(o.State(), target) {
		// Either already failed, or already paid. A failure event arriving
		// after the success event must not regress a paid order.
		s.log.Info("payment failure event discarded", "order_id", o.ID, "event_id", ev.ID,
			"payment_status", o.PaymentStatus)
		return nil
	}

	payload, err := json.Marshal(domain.OrderPaymentFailed{
		OrderID:    o.ID,
		SessionRef: ev.SessionRef,
		Reason:     string(ev.Type),
	})
	if err != nil {
		return err
	}

	transitioned, err := s.repo.MarkPaymentFailed(ctx, o.ID, "OrderPaymentFailed", payload)
	if err != nil {
		return err
	}
	if !transitioned {
		s.log.Info("payment failure event discarded", "order_id", o.ID, "event_id", ev.ID)
		return nil
	}
	s.log.Info("order payment failed", "order_id", o.ID, "reason", ev.Type)
	return nil
}

func (s *Service) resolveOrder(ctx context.Context, ev paymentdomain.Event) (domain.Order, error) {
	if ev.OrderID != "" {
		o, err := s.repo.Get(ctx, ev.OrderID)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return domain.Order{}, err
		}
	}
	return s.repo.FindBySessionRef(ctx, ev.SessionRef)
}

func (s *Service) Get(ctx context.Context, id string) (domain.Order, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]domain.Order, error) {
	return s.repo.ListByOwner(ctx, ownerID)
}

func (s *Service) ListAll(ctx context.Context) ([]domain.Order, error) {
	return s.repo.ListAll(ctx)
}

// UpdateStatus is the operator override path. It validates enum membership
// but deliberately does not consult the transition table: an admin may move
// an order anywhere, e.g. marking a COD order paid on delivery.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, orderStatus *domain.OrderStatus, paymentStatus *domain.PaymentStatus) (domain.Order, error) {
	if orderStatus != nil && !domain.ValidOrderStatus(*orderStatus) {
		return domain.Order{}, fmt.Errorf("%w: order status %q", domain.ErrInvalidStatus, *orderStatus)
	}
	if paymentStatus != nil && !domain.ValidPaymentStatus(*paymentStatus) {
		return domain.Order{}, fmt.Errorf("%w: payment status %q", domain.ErrInvalidStatus, *paymentStatus)
	}
	if orderStatus == nil && paymentStatus == nil {
		return s.repo.Get(ctx, orderID)
	}
	return s.repo.UpdateStatus(ctx, orderID, orderStatus, paymentStatus)
}
