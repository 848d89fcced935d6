package postgres

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS subscribers (
			email      text PRIMARY KEY,
			created_at timestamptz NOT NULL DEFAULT now()
		)`)
	return err
}

func (r *Repository) Add(ctx context.Context, email string) (bool, error) {
	ct, err := r.pool.Exec(ctx,
		`INSERT INTO subscribers (email) VALUES ($1) ON CONFLICT (email) DO NOTHING`, email)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (r *Repository) Remove(ctx context.Context, email string) (bool, error) {
	ct, err := r.pool.Exec(ctx, `DELETE FROM subscribers WHERE email=$1`, email)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}
