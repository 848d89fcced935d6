package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/storefront-backend/internal/order/domain"
	paymentdomain "github.com/dmehra2102/storefront-backend/internal/payment/domain"
	"github.com/dmehra2102/storefront-backend/internal/payment/gateway"
	"github.com/dmehra2102/storefront-backend/pkg/logging"
)

type fakeRepo struct {
	mu     sync.Mutex
	orders map[string]domain.Order
	events []string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{orders: map[string]domain.Order{}}
}

func (r *fakeRepo) CreateWithOutbox(ctx context.Context, o domain.Order, eventType string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[o.ID] = o
	r.events = append(r.events, eventType)
	return nil
}

func (r *fakeRepo) Get(ctx context.Context, id string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return domain.Order{}, ErrNotFound
	}
	return o, nil
}

func (r *fakeRepo) FindBySessionRef(ctx context.Context, ref string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.SessionRef == ref && ref != "" {
			return o, nil
		}
	}
	return domain.Order{}, ErrNotFound
}

func (r *fakeRepo) ListByOwner(ctx context.Context, ownerID string) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Order
	for _, o := range r.orders {
		if o.OwnerID == ownerID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListAll(ctx context.Context) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Order
	for _, o := range r.orders {
		out = append(out, o)
	}
	return out, nil
}

func (r *fakeRepo) SetSessionRef(ctx context.Context, orderID, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	if o.SessionRef != "" {
		if o.SessionRef == ref {
			return nil
		}
		return domain.ErrSessionRefSet
	}
	o.SessionRef = ref
	r.orders[orderID] = o
	return nil
}

func (r *fakeRepo) MarkPaid(ctx context.Context, orderID, sessionRef, eventType string, payload []byte) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return false, ErrNotFound
	}
	if o.PaymentStatus == domain.PaymentPaid {
		return false, nil
	}
	o.PaymentStatus = domain.PaymentPaid
	o.OrderStatus = domain.OrderProcessing
	if o.SessionRef == "" {
		o.SessionRef = sessionRef
	}
	r.orders[orderID] = o
	r.events = append(r.events, eventType)
	return true, nil
}

func (r *fakeRepo) MarkPaymentFailed(ctx context.Context, orderID, eventType string, payload []byte) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return false, ErrNotFound
	}
	if o.PaymentStatus != domain.PaymentPending {
		return false, nil
	}
	o.PaymentStatus = domain.PaymentFailed
	r.orders[orderID] = o
	r.events = append(r.events, eventType)
	return true, nil
}

func (r *fakeRepo) UpdateStatus(ctx context.Context, orderID string, orderStatus *domain.OrderStatus, paymentStatus *domain.PaymentStatus) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, ErrNotFound
	}
	if orderStatus != nil {
		o.OrderStatus = *orderStatus
	}
	if paymentStatus != nil {
		o.PaymentStatus = *paymentStatus
	}
	r.orders[orderID] = o
	return o, nil
}

func (r *fakeRepo) FindPaidSince(ctx context.Context, since time.Time) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Order
	for _, o := range r.orders {
		if o.PaymentStatus == domain.PaymentPaid && !o.CreatedAt.Before(since) {
			out = append(out, o)
		}
	}
	return out, nil
}

type fakeCheckout struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (c *fakeCheckout) CreateSession(ctx context.Context, orderID string, lines []gateway.SessionLine) (gateway.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.fail {
		return gateway.Session{}, errors.New("gateway unavailable")
	}
	return gateway.Session{ID: "sess_" + orderID, URL: "https://gw.example/pay/" + orderID}, nil
}

type fakeReceipts struct {
	mu        sync.Mutex
	delivered []domain.Order
	done      chan struct{}
}

func newFakeReceipts() *fakeReceipts {
	return &fakeReceipts{done: make(chan struct{}, 16)}
}

func (f *fakeReceipts) Deliver(ctx context.Context, o domain.Order) {
	f.mu.Lock()
	f.delivered = append(f.delivered, o)
	f.mu.Unlock()
	f.done <- struct{}{}
}

func (f *fakeReceipts) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered)
}

func (f *fakeReceipts) waitOne(t *testing.T) {
	t.Helper()
	select {
	case <-f.done:
	case <-time.After(2 * time.Second):
		t.Fatal("receipt pipeline was not invoked")
	}
}

func newTestService(t *testing.T) (*Service, *fakeRepo, *fakeCheckout, *fakeReceipts) {
	t.Helper()
	repo := newFakeRepo()
	checkout := &fakeCheckout{}
	receipts := newFakeReceipts()
	return NewService(logging.New("error"), repo, checkout, receipts), repo, checkout, receipts
}

func items(price string, qty int) []domain.OrderItem {
	return []domain.OrderItem{{
		ProductID:   "p1",
		ProductName: "Free Range Eggs",
		Quantity:    qty,
		UnitPrice:   decimal.RequireFromString(price),
	}}
}

func completedEvent(o domain.Order) paymentdomain.Event {
	return paymentdomain.Event{
		ID:         "evt_1",
		Type:       paymentdomain.SessionCompleted,
		SessionRef: o.SessionRef,
		OrderID:    o.ID,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestCreateOrder_GatewayHappyPath(t *testing.T) {
	svc, repo, checkout, _ := newTestService(t)

	res, err := svc.CreateOrder(context.Background(), "u1", "u1@example.com", domain.MethodGateway, items("10.00", 2))
	require.NoError(t, err)

	assert.True(t, res.Order.TotalPrice.Equal(decimal.RequireFromString("20.00")))
	assert.Equal(t, domain.OrderPending, res.Order.OrderStatus)
	assert.Equal(t, domain.PaymentPending, res.Order.PaymentStatus)
	assert.Equal(t, 1, checkout.calls)
	assert.NotEmpty(t, res.CheckoutURL)

	stored, err := repo.Get(context.Background(), res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, "sess_"+res.Order.ID, stored.SessionRef)
	assert.Equal(t, []string{"OrderCreated"}, repo.events)
}

func TestCreateOrder_CODSkipsGateway(t *testing.T) {
	svc, _, checkout, _ := newTestService(t)

	res, err := svc.CreateOrder(context.Background(), "u1", "u1@example.com", domain.MethodCOD, items("5.00", 1))
	require.NoError(t, err)
	assert.Zero(t, checkout.calls)
	assert.Empty(t, res.CheckoutURL)
	assert.Empty(t, res.Order.SessionRef)
}

func TestCreateOrder_SessionFailureKeepsOrder(t *testing.T) {
	svc, repo, checkout, _ := newTestService(t)
	checkout.fail = true

	res, err := svc.CreateOrder(context.Background(), "u1", "u1@example.com", domain.MethodGateway, items("10.00", 1))
	require.ErrorIs(t, err, ErrSessionCreation)

	// The order row survives in (pending, pending) with no session ref:
	// the caller retries checkout without a new order.
	stored, getErr := repo.Get(context.Background(), res.Order.ID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.PaymentPending, stored.PaymentStatus)
	assert.Equal(t, domain.OrderPending, stored.OrderStatus)
	assert.Empty(t, stored.SessionRef)
}

func TestCreateOrder_RejectsBadItems(t *testing.T) {
	svc, repo, _, _ := newTestService(t)

	_, err := svc.CreateOrder(context.Background(), "u1", "u1@example.com", domain.MethodGateway, nil)
	assert.ErrorIs(t, err, domain.ErrNoItems)

	_, err = svc.CreateOrder(context.Background(), "u1", "u1@example.com", domain.MethodGateway, items("10.00", 0))
	assert.ErrorIs(t, err, domain.ErrBadQuantity)

	assert.Empty(t, repo.orders, "no state mutation on validation errors")
}

func TestHandleGatewayEvent_CompletedThenDuplicate(t *testing.T) {
	svc, repo, _, receipts := newTestService(t)

	res, err := svc.CreateOrder(context.Background(), "u1", "u1@example.com", domain.MethodGateway, items("10.00", 2))
	require.NoError(t, err)
	stored, _ := repo.Get(context.Background(), res.Order.ID)
	ev := completedEvent(stored)

	require.NoError(t, svc.HandleGatewayEvent(context.Background(), ev))
	receipts.waitOne(t)

	paid, _ := repo.Get(context.Background(), res.Order.ID)
	assert.Equal(t, domain.OrderProcessing, paid.OrderStatus)
	assert.Equal(t, domain.PaymentPaid, paid.PaymentStatus)
	assert.Equal(t, 1, receipts.count())

	// Redelivery of the same event is a no-op: state unchanged, no second
	// receipt.
	require.NoError(t, svc.HandleGatewayEvent(context.Background(), ev))
	again, _ := repo.Get(context.Background(), res.Order.ID)
	assert.Equal(t, domain.PaymentPaid, again.PaymentStatus)
	assert.Equal(t, 1, receipts.count())
}

func TestHandleGatewayEvent_FailureAfterSuccessIsDiscarded(t *testing.T) {
	svc, repo, _, receipts := newTestService(t)

	res, err := svc.CreateOrder(context.Background(), "u1", "u1@example.com", domain.MethodGateway, items("10.00", 2))
	require.NoError(t, err)
	stored, _ := repo.Get(context.Background(), res.Order.ID)

	require.NoError(t, svc.HandleGatewayEvent(context.Background(), completedEvent(stored)))
	receipts.waitOne(t)

	failEv := paymentdomain.Event{
		ID:         "evt_2",
		Type:       paymentdomain.SessionPaymentFailed,
		SessionRef: stored.SessionRef,
		OrderID:    stored.ID,
	}
	require.NoError(t, svc.HandleGatewayEvent(context.Background(), failEv))

	after, _ := repo.Get(context.Background(), res.Order.ID)
	assert.Equal(t, domain.PaymentPaid, after.PaymentStatus, "success is sticky")
	assert.Equal(t, domain.OrderProcessing, after.OrderStatus)
}

func TestHandleGatewayEvent_ExpiredMarksFailed(t *testing.T) {
	svc, repo, _, receipts := newTestService(t)

	res, err := svc.CreateOrder(context.Background(), "u1", "u1@example.com", domain.MethodGateway, items("10.00", 2))
	require.NoError(t, err)
	stored, _ := repo.Get(context.Background(), res.Order.ID)

	ev := paymentdomain.Event{
		ID:         "evt_3",
		Type:       paymentdomain.SessionExpired,
		SessionRef: stored.SessionRef,
		OrderID:    stored.ID,
	}
	require.NoError(t, svc.HandleGatewayEvent(context.Background(), ev))

	after, _ := repo.Get(context.Background(), res.Order.ID)
	assert.Equal(t, domain.PaymentFailed, after.PaymentStatus)
	assert.Equal(t, domain.OrderPending, after.OrderStatus, "order stays open for retry")
	assert.Zero(t, receipts.count())
}

// When the session ref write at creation failed, the order sits at
// session_ref unset while a live session exists at the provider. The
// completion event resolves via the order id in the metadata and the paid
// transition backfills the ref, so a paid order always carries its session.
func TestHandleGatewayEvent_PaidBackfillsSessionRef(t *testing.T) {
	svc, repo, _, receipts := newTestService(t)

	o, err := domain.NewOrder("u1", "u1@example.com", domain.MethodGateway, items("10.00", 1))
	require.NoError(t, err)
	require.NoError(t, repo.CreateWithOutbox(context.Background(), o, "OrderCreated", []byte(`{}`)))

	ev := paymentdomain.Event{
		ID:         "evt_6",
		Type:       paymentdomain.SessionCompleted,
		SessionRef: "sess_live",
		OrderID:    o.ID,
	}
	require.NoError(t, svc.HandleGatewayEvent(context.Background(), ev))
	receipts.waitOne(t)

	after, _ := repo.Get(context.Background(), o.ID)
	assert.Equal(t, domain.PaymentPaid, after.PaymentStatus)
	assert.Equal(t, "sess_live", after.SessionRef)
}

func TestHandleGatewayEvent_UnknownOrderDiscarded(t *testing.T) {
	svc, _, _, receipts := newTestService(t)

	ev := paymentdomain.Event{
		ID:         "evt_4",
		Type:       paymentdomain.SessionCompleted,
		SessionRef: "sess_nobody",
		OrderID:    "no-such-order",
	}
	assert.NoError(t, svc.HandleGatewayEvent(context.Background(), ev))
	assert.Zero(t, receipts.count())
}

func TestHandleGatewayEvent_ResolvesBySessionRef(t *testing.T) {
	svc, repo, _, receipts := newTestService(t)

	res, err := svc.CreateOrder(context.Background(), "u1", "u1@example.com", domain.MethodGateway, items("10.00", 1))
	require.NoError(t, err)
	stored, _ := repo.Get(context.Background(), res.Order.ID)

	ev := paymentdomain.Event{
		ID:         "evt_5",
		Type:       paymentdomain.SessionCompleted,
		SessionRef: stored.SessionRef,
		// No order id in the metadata; the session ref is the fallback.
	}
	require.NoError(t, svc.HandleGatewayEvent(context.Background(), ev))
	receipts.waitOne(t)

	after, _ := repo.Get(context.Background(), res.Order.ID)
	assert.Equal(t, domain.PaymentPaid, after.PaymentStatus)
}

func TestUpdateStatus_RejectsUnknownEnums(t *testing.T) {
	svc, repo, _, _ := newTestService(t)

	res, err := svc.CreateOrder(context.Background(), "u1", "u1@example.com", domain.MethodCOD, items("10.00", 1))
	require.NoError(t, err)

	bad := domain.OrderStatus("shipped")
	_, err = svc.UpdateStatus(context.Background(), res.Order.ID, &bad, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	badPay := domain.PaymentStatus("refunded")
	_, err = svc.UpdateStatus(context.Background(), res.Order.ID, nil, &badPay)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	unchanged, _ := repo.Get(context.Background(), res.Order.ID)
	assert.Equal(t, domain.OrderPending, unchanged.OrderStatus)
	assert.Equal(t, domain.PaymentPending, unchanged.PaymentStatus)
}

func TestUpdateStatus_AdminOverride(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	res, err := svc.CreateOrder(context.Background(), "u1", "u1@example.com", domain.MethodCOD, items("10.00", 1))
	require.NoError(t, err)

	// COD order marked paid and delivered by an operator; the permissive
	// path allows it without a gateway event.
	paid := domain.PaymentPaid
	delivered := domain.OrderDelivered
	o, err := svc.UpdateStatus(context.Background(), res.Order.ID, &delivered, &paid)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderDelivered, o.OrderStatus)
	assert.Equal(t, domain.PaymentPaid, o.PaymentStatus)
}
