package models

import (
	"time"

	"github.com/punchamoorthee/kalatori/internal/domain"
)

// CreateOrderRequest is the payload from the shop frontend.
type CreateOrderRequest struct {
	Amount   domain.Amount `json:"amount"`
	Currency string        `json:"currency"`
	Callback string        `json:"callback,omitempty"`
}

// OrderResponse is an order as the service currently knows it.
type OrderResponse struct {
	Order      domain.OrderStatus `json:"order"`
	Monitoring bool               `json:"monitoring"`
	CreatedAt  *time.Time         `json:"created_at,omitempty"`
	UpdatedAt  *time.Time         `json:"updated_at,omitempty"`
}

// CallbackResponse acknowledges a daemon callback.
type CallbackResponse struct {
	OrderID       string               `json:"order_id"`
	PaymentStatus domain.PaymentStatus `json:"payment_status"`
	Changed       bool                 `json:"changed"`
}

type HealthResponse struct {
	Status         string        `json:"status"`
	Daemon         *DaemonHealth `json:"daemon,omitempty"`
	ActiveMonitors int           `json:"active_monitors"`
}

type DaemonHealth struct {
	Healthy bool                `json:"healthy"`
	Version string              `json:"version,omitempty"`
	Status  domain.HealthStatus `json:"status,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details []domain.ApiError `json:"details,omitempty"`
}
