package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmehra2102/storefront-backend/internal/order/application"
	"github.com/dmehra2102/storefront-backend/internal/order/domain"
)

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func (r *Repository) CreateWithOutbox(ctx context.Context, o domain.Order, eventType string, payload []byte) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `INSERT INTO orders
			(id, owner_id, owner_email, total_price, payment_method, payment_status, order_status, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		o.ID, o.OwnerID, o.OwnerEmail, o.TotalPrice, o.Method, o.PaymentStatus, o.OrderStatus, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, item := range o.Items {
		batch.Queue(`INSERT INTO order_items (order_id, product_id, product_name, quantity, unit_price)
			VALUES ($1,$2,$3,$4,$5)`,
			o.ID, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}

	if err := insertOutbox(ctx, tx, o.ID, eventType, payload); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) Get(ctx context.Context, id string) (domain.Order, error) {
	return r.fetchOne(ctx, `WHERE id=$1`, id)
}

func (r *Repository) FindBySessionRef(ctx context.Context, ref string) (domain.Order, error) {
	return r.fetchOne(ctx, `WHERE session_ref=$1`, ref)
}

const orderColumns = `id, owner_id, owner_email, total_price, payment_method, payment_status, order_status,
	COALESCE(session_ref, ''), created_at, updated_at`

func (r *Repository) fetchOne(ctx context.Context, where string, arg any) (domain.Order, error) {
	var o domain.Order
	err := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders `+where, arg).
		Scan(&o.ID, &o.OwnerID, &o.OwnerEmail, &o.TotalPrice, &o.Method, &o.PaymentStatus,
			&o.OrderStatus, &o.SessionRef, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, application.ErrNotFound
		}
		return domain.Order{}, err
	}
	if err := r.loadItems(ctx, &o); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func (r *Repository) loadItems(ctx context.Context, o *domain.Order) error {
	rows, err := r.pool.Query(ctx,
		`SELECT product_id, product_name, quantity, unit_price FROM order_items WHERE order_id=$1 ORDER BY id`, o.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPrice); err != nil {
			return err
		}
		o.Items = append(o.Items, item)
	}
	return rows.Err()
}

func (r *Repository) ListByOwner(ctx context.Context, ownerID string) ([]domain.Order, error) {
	return r.list(ctx, `WHERE owner_id=$1 ORDER BY created_at DESC`, ownerID)
}

func (r *Repository) ListAll(ctx context.Context) ([]domain.Order, error) {
	return r.list(ctx, `ORDER BY created_at DESC`)
}

func (r *Repository) list(ctx context.Context, tail string, args ...any) ([]domain.Order, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders `+tail, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.ID, &o.OwnerID, &o.OwnerEmail, &o.TotalPrice, &o.Method,
			&o.PaymentStatus, &o.OrderStatus, &o.SessionRef, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range orders {
		if err := r.loadItems(ctx, &orders[i]); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// SetSessionRef pins the gateway session onto the order. The ref is
// write-once: a second attempt, or a concurrent one, finds session_ref
// non-null and changes nothing.
func (r *Repository) SetSessionRef(ctx context.Context, orderID, ref string) error {
	ct, err := r.pool.Exec(ctx,
		`UPDATE orders SET session_ref=$2, updated_at=now() WHERE id=$1 AND session_ref IS NULL`, orderID, ref)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		existing, err := r.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if existing.SessionRef == ref {
			return nil
		}
		return domain.ErrSessionRefSet
	}
	return nil
}

// MarkPaid performs the paid transition and the outbox insert in one
// transaction, guarded by "not already paid". Two concurrently delivered
// completion events race on this statement; exactly one sees a row update
// and owns the side effects. A still-null session_ref is backfilled from the
// event so a paid order never lacks the session it was paid through.
func (r *Repository) MarkPaid(ctx context.Context, orderID, sessionRef, eventType string, payload []byte) (bool, error) {
	return r.conditionalTransition(ctx, orderID, eventType, payload,
		`UPDATE orders SET payment_status='paid', order_status='processing',
			session_ref = COALESCE(session_ref, NULLIF($2,'')), updated_at=now()
		 WHERE id=$1 AND payment_status <> 'paid'`, sessionRef)
}

func (r *Repository) MarkPaymentFailed(ctx context.Context, orderID, eventType string, payload []byte) (bool, error) {
	return r.conditionalTransition(ctx, orderID, eventType, payload,
		`UPDATE orders SET payment_status='failed', updated_at=now()
		 WHERE id=$1 AND payment_status = 'pending'`)
}

func (r *Repository) conditionalTransition(ctx context.Context, orderID, eventType string, payload []byte, stmt string, extra ...any) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	args := append([]any{orderID}, extra...)
	ct, err := tx.Exec(ctx, stmt, args...)
	if err != nil {
		return false, err
	}
	if ct.RowsAffected() == 0 {
		return false, tx.Commit(ctx)
	}
	if err := insertOutbox(ctx, tx, orderID, eventType, payload); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func (r *Repository) UpdateStatus(ctx context.Context, orderID string, orderStatus *domain.OrderStatus, paymentStatus *domain.PaymentStatus) (domain.Order, error) {
	ct, err := r.pool.Exec(ctx, `UPDATE orders SET
			order_status = COALESCE($2, order_status),
			payment_status = COALESCE($3, payment_status),
			updated_at = now()
		WHERE id=$1`, orderID, orderStatus, paymentStatus)
	if err != nil {
		return domain.Order{}, err
	}
	if ct.RowsAffected() == 0 {
		return domain.Order{}, application.ErrNotFound
	}
	return r.Get(ctx, orderID)
}

func (r *Repository) FindPaidSince(ctx context.Context, since time.Time) ([]domain.Order, error) {
	return r.list(ctx, `WHERE payment_status='paid' AND created_at >= $1 ORDER BY created_at`, since)
}

func insertOutbox(ctx context.Context, tx pgx.Tx, orderID, eventType string, payload []byte) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, status) VALUES ($1,$2,$3,$4,'pending')`,
		"order", orderID, eventType, payload)
	return err
}
