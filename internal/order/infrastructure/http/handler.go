package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/storefront-backend/internal/auth"
	"github.com/dmehra2102/storefront-backend/internal/order/application"
	"github.com/dmehra2102/storefront-backend/internal/order/domain"
	"github.com/dmehra2102/storefront-backend/internal/payment/gateway"
	"github.com/dmehra2102/storefront-backend/pkg/metrics"
)

const sigHeader = "Gateway-Signature"

// DedupeStore is the advisory duplicate filter for webhook deliveries. Seen
// is a read-only lookup; MarkSeen is called only after the event has been
// applied, so a delivery that failed with 500 stays retryable.
type DedupeStore interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkSeen(ctx context.Context, eventID string) error
}

type Handler struct {
	log      *slog.Logger
	service  *application.Service
	verifier *gateway.Verifier
	idem     DedupeStore
	metrics  *metrics.ServerMetrics
	authmw   func(http.Handler) http.Handler
	tracer   trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service, verifier *gateway.Verifier,
	idem DedupeStore, m *metrics.ServerMetrics, authVerifier auth.Verifier) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		verifier: verifier,
		idem:     idem,
		metrics:  m,
		authmw:   auth.Require(authVerifier),
		tracer:   otel.Tracer("order-http"),
	}
}

// Routes serves the authenticated /orders subtree. The gateway webhook is
// exposed separately through Webhook: it is unauthenticated, the signature
// over the raw body is the authentication.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.authmw)
	r.Post("/", h.createOrder)
	r.Get("/myorders", h.myOrders)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAdmin)
		r.Get("/", h.allOrders)
		r.Put("/{id}/status", h.updateStatus)
		r.Get("/income/summary", h.incomeSummary)
	})
	return r
}

type createOrderReq struct {
	PaymentMethod string      `json:"payment_method"`
	Items         []itemInput `json:"items"`
}

type itemInput struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateOrder")
	defer span.End()

	id, _ := auth.FromContext(ctx)

	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	method := domain.PaymentMethod(req.PaymentMethod)
	if method == "" {
		method = domain.MethodCOD
	}
	if method != domain.MethodCOD && method != domain.MethodGateway {
		writeError(w, http.StatusBadRequest, "unknown payment method")
		return
	}

	items := make([]domain.OrderItem, 0, len(req.Items))
	for _, in := range req.Items {
		items = append(items, domain.OrderItem{
			ProductID:   in.ProductID,
			ProductName: in.ProductName,
			Quantity:    in.Quantity,
			UnitPrice:   in.UnitPrice,
		})
	}

	res, err := h.service.CreateOrder(ctx, id.UserID, id.Email, method, items)
	switch {
	case errors.Is(err, domain.ErrNoItems),
		errors.Is(err, domain.ErrBadQuantity),
		errors.Is(err, domain.ErrNegativePrice):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, application.ErrSessionCreation):
		// The order row is committed; the client retries checkout, not the
		// whole order.
		h.metrics.OrdersCreated.Inc()
		writeJSON(w, http.StatusAccepted, map[string]any{
			"order":   orderView(res.Order),
			"message": "order created, checkout unavailable, retry later",
		})
		return
	case err != nil:
		h.log.Error("create order failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.metrics.OrdersCreated.Inc()
	writeJSON(w, http.StatusCreated, map[string]any{
		"order":        orderView(res.Order),
		"checkout_url": res.CheckoutURL,
	})
}

func (h *Handler) myOrders(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	orders, err := h.service.ListByOwner(r.Context(), id.UserID)
	if err != nil {
		h.log.Error("list orders failed", "owner_id", id.UserID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, views(orders))
}

func (h *Handler) allOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListAll(r.Context())
	if err != nil {
		h.log.Error("list all orders failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, views(orders))
}

type updateStatusReq struct {
	OrderStatus   *string `json:"order_status"`
	PaymentStatus *string `json:"payment_status"`
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	var req updateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	var os *domain.OrderStatus
	if req.OrderStatus != nil {
		v := domain.OrderStatus(*req.OrderStatus)
		os = &v
	}
	var ps *domain.PaymentStatus
	if req.PaymentStatus != nil {
		v := domain.PaymentStatus(*req.PaymentStatus)
		ps = &v
	}

	o, err := h.service.UpdateStatus(r.Context(), orderID, os, ps)
	switch {
	case errors.Is(err, domain.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, application.ErrNotFound):
		writeError(w, http.StatusNotFound, "order not found")
		return
	case err != nil:
		h.log.Error("update status failed", "order_id", orderID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, orderView(o))
}

func (h *Handler) incomeSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.IncomeSummary(r.Context(), time.Now())
	if err != nil {
		h.log.Error("income summary failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Webhook verifies the signature over the exact raw bytes before anything
// parses the payload. Responses steer the gateway's retry behaviour: 400 for
// events we will never accept, 200 for everything handled or knowingly
// discarded, 500 only for transient storage trouble worth a redelivery.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GatewayWebhook")
	defer span.End()

	rawBody, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	ev, err := h.verifier.VerifyAndParse(rawBody, r.Header.Get(sigHeader))
	if err != nil {
		h.log.Warn("webhook rejected", "err", err)
		h.metrics.WebhookEvents.WithLabelValues("unknown", "rejected").Inc()
		writeError(w, http.StatusBadRequest, "signature verification failed")
		return
	}

	if h.idem != nil {
		if seen, err := h.idem.Seen(ctx, ev.ID); err != nil {
			// Redis being down must not stall reconciliation; the
			// conditional update still dedupes.
			h.log.Warn("idempotency check unavailable", "err", err)
		} else if seen {
			h.metrics.WebhookEvents.WithLabelValues(string(ev.Type), "duplicate").Inc()
			writeJSON(w, http.StatusOK, map[string]bool{"received": true})
			return
		}
	}

	if err := h.service.HandleGatewayEvent(ctx, ev); err != nil {
		h.log.Error("webhook processing failed", "event_id", ev.ID, "err", err)
		h.metrics.WebhookEvents.WithLabelValues(string(ev.Type), "error").Inc()
		writeError(w, http.StatusInternalServerError, "processing failed")
		return
	}

	if h.idem != nil {
		if err := h.idem.MarkSeen(ctx, ev.ID); err != nil {
			h.log.Warn("idempotency mark unavailable", "event_id", ev.ID, "err", err)
		}
	}

	h.metrics.WebhookEvents.WithLabelValues(string(ev.Type), "processed").Inc()
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

type orderItemView struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type view struct {
	ID            string          `json:"id"`
	Items         []orderItemView `json:"items"`
	TotalPrice    decimal.Decimal `json:"total_price"`
	PaymentMethod string          `json:"payment_method"`
	PaymentStatus string          `json:"payment_status"`
	OrderStatus   string          `json:"order_status"`
	SessionRef    string          `json:"session_ref,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

func orderView(o domain.Order) view {
	items := make([]orderItemView, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, orderItemView{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		})
	}
	return view{
		ID:            o.ID,
		Items:         items,
		TotalPrice:    o.TotalPrice,
		PaymentMethod: string(o.Method),
		PaymentStatus: string(o.PaymentStatus),
		OrderStatus:   string(o.OrderStatus),
		SessionRef:    o.SessionRef,
		CreatedAt:     o.CreatedAt,
	}
}

func views(orders []domain.Order) []view {
	out := make([]view, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderView(o))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}
