package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/punchamoorthee/kalatori/internal/domain"
)

// errRaced means another writer inserted the same order first.
var errRaced = errors.New("concurrent insert")

type Postgres struct {
	Db *pgxpool.Pool
}

func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Postgres{Db: pool}, nil
}

func (s *Postgres) Close() error {
	s.Db.Close()
	return nil
}

func (s *Postgres) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			order_id TEXT PRIMARY KEY,
			payment_account TEXT NOT NULL,
			payment_status TEXT NOT NULL,
			withdrawal_status TEXT NOT NULL,
			snapshot JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS orders_payment_account_idx ON orders (payment_account)`,
	}

	for _, stmt := range stmts {
		if _, err := s.Db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
	}
	return nil
}

// SaveStatus locks the order row, applies the transition rule and writes the
// snapshot. A lost insert race is retried once against the winner's row.
func (s *Postgres) SaveStatus(ctx context.Context, st domain.OrderStatus) (bool, error) {
	changed, err := s.saveStatus(ctx, st)
	if errors.Is(err, errRaced) {
		changed, err = s.saveStatus(ctx, st)
	}
	return changed, err
}

func (s *Postgres) saveStatus(ctx context.Context, st domain.OrderStatus) (bool, error) {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return false, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	existing, err := pgScan(tx.QueryRow(ctx,
		"SELECT snapshot, created_at, updated_at FROM orders WHERE order_id = $1 FOR UPDATE", st.Order))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return false, fmt.Errorf("lock acquisition failed: %w", err)
	}

	var current *domain.OrderStatus
	if existing != nil {
		current = &existing.Status
	}
	write, err := checkTransition(current, st)
	if err != nil || !write {
		return false, err
	}

	next := merge(current, st)
	snapshot, err := json.Marshal(next)
	if err != nil {
		return false, err
	}

	if existing == nil {
		_, err = tx.Exec(ctx,
			`INSERT INTO orders (order_id, payment_account, payment_status, withdrawal_status, snapshot)
			 VALUES ($1, $2, $3, $4, $5)`,
			next.Order, next.PaymentAccount, string(next.PaymentStatus), string(next.WithdrawalStatus), snapshot,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return false, errRaced
			}
			return false, fmt.Errorf("order insert failed: %w", err)
		}
	} else {
		_, err = tx.Exec(ctx,
			`UPDATE orders
			 SET payment_account = $1, payment_status = $2, withdrawal_status = $3, snapshot = $4, updated_at = now()
			 WHERE order_id = $5`,
			next.PaymentAccount, string(next.PaymentStatus), string(next.WithdrawalStatus), snapshot, next.Order,
		)
		if err != nil {
			return false, fmt.Errorf("order update failed: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("tx commit failed: %w", err)
	}
	return true, nil
}

func (s *Postgres) GetOrder(ctx context.Context, orderID string) (*Record, error) {
	return pgScan(s.Db.QueryRow(ctx,
		"SELECT snapshot, created_at, updated_at FROM orders WHERE order_id = $1", orderID))
}

func (s *Postgres) GetByAccount(ctx context.Context, paymentAccount string) (*Record, error) {
	return pgScan(s.Db.QueryRow(ctx,
		`SELECT snapshot, created_at, updated_at FROM orders
		 WHERE payment_account = $1 ORDER BY updated_at DESC LIMIT 1`, paymentAccount))
}

func pgScan(row pgx.Row) (*Record, error) {
	var (
		rec      Record
		snapshot []byte
	)
	if err := row.Scan(&snapshot, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(snapshot, &rec.Status); err != nil {
		return nil, fmt.Errorf("decode stored snapshot: %w", err)
	}
	return &rec, nil
}
