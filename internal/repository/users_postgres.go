package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/civchange/pdf2psd-back/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresUsersRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresUsersRepository(ctx context.Context, databaseURL string) (*PostgresUsersRepository, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse pg config: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return &PostgresUsersRepository{pool: pool}, nil
}

func (r *PostgresUsersRepository) Close() {
	r.pool.Close()
}

func (r *PostgresUsersRepository) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	var (
		user domain.User
		plan string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, name, plan, conversions_left, created_at, updated_at
		FROM users
		WHERE id = $1
	`, userID).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&plan,
		&user.ConversionsLeft,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	user.Plan = domain.ParsePlan(plan)
	return &user, nil
}

// DecrementConversions charges one conversion in a single statement so
// concurrent settles never lose an update.
func (r *PostgresUsersRepository) DecrementConversions(ctx context.Context, userID string) (int, error) {
	var remaining int
	err := r.pool.QueryRow(ctx, `
		UPDATE users
		SET conversions_left = GREATEST(conversions_left - 1, 0),
			updated_at = NOW()
		WHERE id = $1
		RETURNING conversions_left
	`, userID).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("decrement conversions: %w", err)
	}
	return remaining, nil
}
