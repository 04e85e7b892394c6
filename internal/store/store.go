// Package store persists the latest known status of each order.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/punchamoorthee/kalatori/internal/domain"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrInvalidStatus     = errors.New("unknown payment status")
	ErrInvalidTransition = errors.New("payment status cannot leave a terminal state")
)

// Record is an order's stored status snapshot.
type Record struct {
	Status    domain.OrderStatus `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Store is the persistence capability used by the orchestrator and the
// callback service. SaveStatus reports whether anything was written.
type Store interface {
	SaveStatus(ctx context.Context, st domain.OrderStatus) (bool, error)
	GetOrder(ctx context.Context, orderID string) (*Record, error)
	GetByAccount(ctx context.Context, paymentAccount string) (*Record, error)
	Close() error
}

// Open picks the implementation named by driver and prepares its schema.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		s, err := NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := NewPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// checkTransition decides whether next should overwrite current. A repeat of
// the stored payment and withdrawal status is a no-op unless next fills a
// callback or payment account the stored status lacks. A terminal payment
// status may only be followed by itself.
func checkTransition(current *domain.OrderStatus, next domain.OrderStatus) (bool, error) {
	if next.Order == "" {
		return false, domain.ErrMissingOrderID
	}
	if !next.PaymentStatus.Valid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidStatus, next.PaymentStatus)
	}
	if current == nil {
		return true, nil
	}
	if current.PaymentStatus.Terminal() && next.PaymentStatus != current.PaymentStatus {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.PaymentStatus, next.PaymentStatus)
	}
	if current.PaymentStatus == next.PaymentStatus && current.WithdrawalStatus == next.WithdrawalStatus &&
		!fills(current.Callback, next.Callback) && !fills(current.PaymentAccount, next.PaymentAccount) {
		return false, nil
	}
	return true, nil
}

func fills(stored, incoming string) bool {
	return stored == "" && incoming != ""
}

// merge keeps fields the public endpoint omits.
func merge(current *domain.OrderStatus, next domain.OrderStatus) domain.OrderStatus {
	if current == nil {
		return next
	}
	if next.Callback == "" {
		next.Callback = current.Callback
	}
	if next.PaymentAccount == "" {
		next.PaymentAccount = current.PaymentAccount
	}
	return next
}
