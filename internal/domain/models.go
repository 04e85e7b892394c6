package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidAmount   = errors.New("amount must be positive")
	ErrMissingCurrency = errors.New("currency is required")
	ErrMissingOrderID  = errors.New("order id is required")
	ErrMalformedStatus = errors.New("malformed order status")
)

// PaymentStatus is the daemon's view of whether an order has been paid.
// It only ever moves from pending to one of the terminal values.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentTimedOut PaymentStatus = "timed_out"
)

// Terminal reports whether no further change is expected for the order.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentPaid || s == PaymentTimedOut
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentTimedOut:
		return true
	}
	return false
}

// WithdrawalStatus is informational only.
type WithdrawalStatus string

const (
	WithdrawalWaiting   WithdrawalStatus = "waiting"
	WithdrawalFailed    WithdrawalStatus = "failed"
	WithdrawalCompleted WithdrawalStatus = "completed"
	WithdrawalNone      WithdrawalStatus = "none"
)

type CurrencyKind string

const (
	CurrencyNative CurrencyKind = "native"
	CurrencyAsset  CurrencyKind = "asset"
)

// CurrencyProperties describes how a currency is settled on chain.
type CurrencyProperties struct {
	ChainName string       `json:"chain_name"`
	Kind      CurrencyKind `json:"kind"`
	Decimals  int          `json:"decimals"`
	RPCURL    string       `json:"rpc_url"`
	AssetID   *int64       `json:"asset_id,omitempty"`
}

// CurrencyInfo is a currency code plus its chain properties.
type CurrencyInfo struct {
	Currency string `json:"currency"`
	CurrencyProperties
}

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionFinalized TransactionStatus = "finalized"
	TransactionFailed    TransactionStatus = "failed"
)

// TransactionInfo is one on-chain transfer observed for an order.
type TransactionInfo struct {
	BlockNumber      *int64            `json:"block_number,omitempty"`
	PositionInBlock  *int64            `json:"position_in_block,omitempty"`
	Timestamp        string            `json:"timestamp,omitempty"`
	TransactionBytes string            `json:"transaction_bytes"`
	Sender           string            `json:"sender"`
	Recipient        string            `json:"recipient"`
	Amount           TransferAmount    `json:"amount"`
	Currency         CurrencyInfo      `json:"currency"`
	Status           TransactionStatus `json:"status"`
}

type ServerInfo struct {
	Version        string `json:"version"`
	InstanceID     string `json:"instance_id"`
	Debug          bool   `json:"debug,omitempty"`
	KalatoriRemark string `json:"kalatori_remark,omitempty"`
}

// OrderStatus is a snapshot of a payment order as reported by the daemon.
type OrderStatus struct {
	Order            string            `json:"order"`
	PaymentStatus    PaymentStatus     `json:"payment_status"`
	WithdrawalStatus WithdrawalStatus  `json:"withdrawal_status"`
	Message          string            `json:"message,omitempty"`
	PaymentAccount   string            `json:"payment_account"`
	Amount           Amount            `json:"amount"`
	Currency         CurrencyInfo      `json:"currency"`
	Callback         string            `json:"callback,omitempty"`
	PaymentPage      string            `json:"payment_page,omitempty"`
	RedirectURL      string            `json:"redirect_url,omitempty"`
	Recipient        string            `json:"recipient"`
	Transactions     []TransactionInfo `json:"transactions"`
	ServerInfo       ServerInfo        `json:"server_info"`
}

// Validate checks the fields every order reply from the daemon carries.
func (s OrderStatus) Validate() error {
	if s.Order == "" {
		return fmt.Errorf("%w: missing order", ErrMalformedStatus)
	}
	if !s.PaymentStatus.Valid() {
		return fmt.Errorf("%w: payment_status %q", ErrMalformedStatus, s.PaymentStatus)
	}
	return nil
}

// ServerStatus is the daemon's capability descriptor.
type ServerStatus struct {
	ServerInfo          ServerInfo                    `json:"server_info"`
	SupportedCurrencies map[string]CurrencyProperties `json:"supported_currencies"`
}

type HealthStatus string

const (
	HealthOK       HealthStatus = "ok"
	HealthDegraded HealthStatus = "degraded"
	HealthCritical HealthStatus = "critical"
)

type RPCEndpointStatus struct {
	RPCURL    string       `json:"rpc_url"`
	ChainName string       `json:"chain_name"`
	Status    HealthStatus `json:"status"`
}

// ServerHealth reports liveness plus per-chain RPC connectivity.
type ServerHealth struct {
	ServerInfo    ServerInfo          `json:"server_info"`
	ConnectedRPCs []RPCEndpointStatus `json:"connected_rpcs"`
	Status        HealthStatus        `json:"status"`
}

// CreateOrderRequest is the body of an order creation call.
type CreateOrderRequest struct {
	Amount   Amount `json:"amount"`
	Currency string `json:"currency"`
	Callback string `json:"callback,omitempty"`
}

func (r CreateOrderRequest) Validate() error {
	if !r.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if r.Currency == "" {
		return ErrMissingCurrency
	}
	return nil
}

// UpdateOrderRequest carries only the fields being changed.
type UpdateOrderRequest struct {
	Amount   *Amount `json:"amount,omitempty"`
	Currency string  `json:"currency,omitempty"`
	Callback string  `json:"callback,omitempty"`
}

// ApiError names the request parameter the daemon rejected.
type ApiError struct {
	Parameter string `json:"parameter"`
	Message   string `json:"message"`
}

// PaymentStatusUpdate is produced once per completed poll cycle.
type PaymentStatusUpdate struct {
	OrderID        string      `json:"order_id"`
	PaymentAccount string      `json:"payment_account"`
	Status         OrderStatus `json:"status"`
	Timestamp      time.Time   `json:"timestamp"`
}
