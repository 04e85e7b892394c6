package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/punchamoorthee/kalatori/internal/domain"
)

type SQLite struct {
	db *sql.DB
}

// NewSQLite opens dsn with the pure Go sqlite driver. Writes are serialized
// on one connection, which also keeps ":memory:" databases shared.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			order_id TEXT PRIMARY KEY,
			payment_account TEXT NOT NULL,
			payment_status TEXT NOT NULL,
			withdrawal_status TEXT NOT NULL,
			snapshot TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS orders_payment_account_idx ON orders (payment_account);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

func (s *SQLite) SaveStatus(ctx context.Context, st domain.OrderStatus) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback()

	existing, err := scanRecord(tx.QueryRowContext(ctx,
		`SELECT snapshot, created_at, updated_at FROM orders WHERE order_id = ?`, st.Order))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return false, err
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
	now := time.Now().UTC().Format(time.RFC3339Nano)

	if existing == nil {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO orders
			 (order_id, payment_account, payment_status, withdrawal_status, snapshot, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			next.Order, next.PaymentAccount, string(next.PaymentStatus), string(next.WithdrawalStatus),
			string(snapshot), now, now,
		)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE orders
			 SET payment_account = ?, payment_status = ?, withdrawal_status = ?, snapshot = ?, updated_at = ?
			 WHERE order_id = ?`,
			next.PaymentAccount, string(next.PaymentStatus), string(next.WithdrawalStatus),
			string(snapshot), now, next.Order,
		)
	}
	if err != nil {
		return false, fmt.Errorf("save order %s: %w", next.Order, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("tx commit failed: %w", err)
	}
	return true, nil
}

func (s *SQLite) GetOrder(ctx context.Context, orderID string) (*Record, error) {
	return scanRecord(s.db.QueryRowContext(ctx,
		`SELECT snapshot, created_at, updated_at FROM orders WHERE order_id = ?`, orderID))
}

func (s *SQLite) GetByAccount(ctx context.Context, paymentAccount string) (*Record, error) {
	return scanRecord(s.db.QueryRowContext(ctx,
		`SELECT snapshot, created_at, updated_at FROM orders
		 WHERE payment_account = ? ORDER BY updated_at DESC LIMIT 1`, paymentAccount))
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func scanRecord(row *sql.Row) (*Record, error) {
	var snapshot, created, updated string
	if err := row.Scan(&snapshot, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal([]byte(snapshot), &rec.Status); err != nil {
		return nil, fmt.Errorf("decode stored snapshot: %w", err)
	}
	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return nil, err
	}
	return &rec, nil
}
