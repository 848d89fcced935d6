package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id             text PRIMARY KEY,
	owner_id       text NOT NULL,
	owner_email    text NOT NULL,
	total_price    numeric(12,2) NOT NULL CHECK (total_price >= 0),
	payment_method text NOT NULL,
	payment_status text NOT NULL DEFAULT 'pending',
	order_status   text NOT NULL DEFAULT 'pending',
	session_ref    text UNIQUE,
	created_at     timestamptz NOT NULL,
	updated_at     timestamptz NOT NULL
);

CREATE INDEX IF NOT EXISTS orders_owner_idx ON orders (owner_id, created_at DESC);
CREATE INDEX IF NOT EXISTS orders_paid_created_idx ON orders (created_at) WHERE payment_status = 'paid';

CREATE TABLE IF NOT EXISTS order_items (
	id           bigserial PRIMARY KEY,
	order_id     text NOT NULL REFERENCES orders(id),
	product_id   text NOT NULL,
	product_name text NOT NULL,
	quantity     integer NOT NULL CHECK (quantity > 0),
	unit_price   numeric(12,2) NOT NULL CHECK (unit_price >= 0)
);

CREATE INDEX IF NOT EXISTS order_items_order_idx ON order_items (order_id);

CREATE TABLE IF NOT EXISTS outbox (
	id             bigserial PRIMARY KEY,
	aggregate_type text NOT NULL,
	aggregate_id   text NOT NULL,
	type           text NOT NULL,
	payload        bytea NOT NULL,
	status         text NOT NULL DEFAULT 'pending',
	relay_id       text,
	lease_until    timestamptz,
	retry_count    integer NOT NULL DEFAULT 0,
	last_error     text,
	created_at     timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS outbox_pending_idx ON outbox (id) WHERE status = 'pending';
`

// Migrate applies the schema. Statements are idempotent so startup can run
// this unconditionally.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}
