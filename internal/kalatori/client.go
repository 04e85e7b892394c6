// Package kalatori is a typed HTTP client for the Kalatori payment daemon.
//
// Every call returns the decoded body together with the status code and
// headers. Failures are one of *TransportError, *HTTPError or *DecodeError
// and are surfaced unchanged; the client performs no retries or caching.
package kalatori

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/punchamoorthee/kalatori/internal/config"
	"github.com/punchamoorthee/kalatori/internal/domain"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4 << 10
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Response is a decoded daemon reply.
type Response[T any] struct {
	Data   T
	Status int
	Header http.Header
}

type Client struct {
	baseURL string
	mode    config.Mode
	timeout time.Duration
	headers map[string]string
	http    Doer
}

type Option func(*Client)

// WithHTTPClient replaces the transport, mostly for tests.
func WithHTTPClient(d Doer) Option {
	return func(c *Client) { c.http = d }
}

func New(cfg config.KalatoriConfig, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		mode:    cfg.Mode,
		timeout: cfg.Timeout,
		headers: make(map[string]string, len(cfg.Headers)),
		http:    http.DefaultClient,
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.mode == "" {
		c.mode = config.ModeEmbedded
	}
	for k, v := range cfg.Headers {
		c.headers[k] = v
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string   { return c.baseURL }
func (c *Client) Mode() config.Mode { return c.mode }

// CreateOrder registers an order with the daemon. A 409 reply means the order
// already resolved; its body is returned as the current status.
func (c *Client) CreateOrder(ctx context.Context, orderID string, req domain.CreateOrderRequest) (*Response[domain.OrderStatus], error) {
	if orderID == "" {
		return nil, domain.ErrMissingOrderID
	}
	return doJSON[domain.OrderStatus](ctx, c, call{
		method:        http.MethodPost,
		path:          "/v2/order/" + url.PathEscape(orderID),
		endpoint:      "/v2/order/{id}",
		body:          req,
		conflictState: true,
	})
}

// GetOrderStatus fetches the current status of an order by id.
func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (*Response[domain.OrderStatus], error) {
	if orderID == "" {
		return nil, domain.ErrMissingOrderID
	}
	return doJSON[domain.OrderStatus](ctx, c, call{
		method:        http.MethodPost,
		path:          "/v2/order/" + url.PathEscape(orderID),
		endpoint:      "/v2/order/{id}",
		conflictState: true,
	})
}

// UpdateOrder changes only the fields set in req.
func (c *Client) UpdateOrder(ctx context.Context, orderID string, req domain.UpdateOrderRequest) (*Response[domain.OrderStatus], error) {
	if orderID == "" {
		return nil, domain.ErrMissingOrderID
	}
	return doJSON[domain.OrderStatus](ctx, c, call{
		method:        http.MethodPost,
		path:          "/v2/order/" + url.PathEscape(orderID),
		endpoint:      "/v2/order/{id}",
		body:          req,
		conflictState: true,
	})
}

func (c *Client) ForceWithdrawal(ctx context.Context, orderID string) (*Response[domain.OrderStatus], error) {
	if orderID == "" {
		return nil, domain.ErrMissingOrderID
	}
	return doJSON[domain.OrderStatus](ctx, c, call{
		method:   http.MethodPost,
		path:     "/v2/order/" + url.PathEscape(orderID) + "/forceWithdrawal",
		endpoint: "/v2/order/{id}/forceWithdrawal",
	})
}

// GetPaymentStatus looks an order up by its payment account through the
// public endpoint, which omits privileged fields such as the callback.
func (c *Client) GetPaymentStatus(ctx context.Context, paymentAccount string) (*Response[domain.OrderStatus], error) {
	if paymentAccount == "" {
		return nil, errors.New("payment account is required")
	}
	return doJSON[domain.OrderStatus](ctx, c, call{
		method:   http.MethodPost,
		path:     "/public/v2/payment/" + url.PathEscape(paymentAccount),
		endpoint: "/public/v2/payment/{account}",
	})
}

func (c *Client) GetStatus(ctx context.Context) (*Response[domain.ServerStatus], error) {
	return doJSON[domain.ServerStatus](ctx, c, call{
		method:   http.MethodGet,
		path:     "/v2/status",
		endpoint: "/v2/status",
	})
}

func (c *Client) GetHealth(ctx context.Context) (*Response[domain.ServerHealth], error) {
	return doJSON[domain.ServerHealth](ctx, c, call{
		method:   http.MethodGet,
		path:     "/v2/health",
		endpoint: "/v2/health",
	})
}

// Overview is the daemon's capability descriptor plus, optionally, its health.
type Overview struct {
	Status *domain.ServerStatus `json:"status"`
	Health *domain.ServerHealth `json:"health,omitempty"`
}

// Healthy is true when health reports ok, or when health was not requested
// and the status call succeeded.
func (o *Overview) Healthy() bool {
	if o == nil {
		return false
	}
	if o.Health != nil {
		return o.Health.Status == domain.HealthOK
	}
	return o.Status != nil
}

// Overview fetches status and health concurrently.
func (c *Client) Overview(ctx context.Context, includeHealth bool) (*Overview, error) {
	g, ctx := errgroup.WithContext(ctx)
	var ov Overview

	g.Go(func() error {
		resp, err := c.GetStatus(ctx)
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}
		ov.Status = &resp.Data
		return nil
	})

	if includeHealth {
		g.Go(func() error {
			resp, err := c.GetHealth(ctx)
			if err != nil {
				return fmt.Errorf("health: %w", err)
			}
			ov.Health = &resp.Data
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &ov, nil
}

type call struct {
	method   string
	path     string
	endpoint string // metrics label
	body     any
	// conflictState treats a 409 whose body decodes as the resource as a
	// successful read of the current state.
	conflictState bool
}

func doJSON[T any](ctx context.Context, c *Client, cl call) (*Response[T], error) {
	timer := prometheus.NewTimer(daemonRequestDuration.WithLabelValues(cl.method, cl.endpoint))
	defer timer.ObserveDuration()

	resp, err := c.send(ctx, cl)
	if err != nil {
		label := Kind(err)
		if label == "" {
			label = "error"
		}
		daemonRequestsTotal.WithLabelValues(cl.method, cl.endpoint, label).Inc()
		return nil, err
	}
	daemonRequestsTotal.WithLabelValues(cl.method, cl.endpoint, strconv.Itoa(resp.status)).Inc()

	fullURL := c.baseURL + cl.path

	if resp.status < 200 || resp.status > 299 {
		if resp.status == http.StatusConflict && cl.conflictState {
			var data T
			if err := decode(resp.body, &data); err == nil {
				return &Response[T]{Data: data, Status: resp.status, Header: resp.header}, nil
			}
		}
		return nil, &HTTPError{
			Method:     cl.method,
			URL:        fullURL,
			Status:     resp.status,
			StatusText: http.StatusText(resp.status),
			Errors:     parseAPIErrors(resp.body),
		}
	}

	var data T
	if err := decode(resp.body, &data); err != nil {
		return nil, &DecodeError{Status: resp.status, Body: truncate(resp.body), Err: err}
	}
	return &Response[T]{Data: data, Status: resp.status, Header: resp.header}, nil
}

// validator is implemented by reply types that can tell a well-formed body
// from JSON that merely parsed.
type validator interface {
	Validate() error
}

func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return err
	}
	if val, ok := v.(validator); ok {
		return val.Validate()
	}
	return nil
}

type rawResponse struct {
	status int
	header http.Header
	body   []byte
}

func (c *Client) send(ctx context.Context, cl call) (*rawResponse, error) {
	fullURL := c.baseURL + cl.path

	var body io.Reader
	if cl.body != nil {
		b, err := json.Marshal(cl.body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, cl.method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(cl.method, fullURL, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(cl.method, fullURL, err)
	}

	return &rawResponse{status: resp.StatusCode, header: resp.Header, body: b}, nil
}

func transportError(method, url string, err error) *TransportError {
	timeout := errors.Is(err, context.DeadlineExceeded)
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		timeout = true
	}
	return &TransportError{
		Method:  method,
		URL:     url,
		Timeout: timeout,
		Err:     err,
	}
}

// parseAPIErrors reads the daemon's validation payload, a JSON array of
// {parameter, message}. Anything else yields nil.
func parseAPIErrors(body []byte) []domain.ApiError {
	var errs []domain.ApiError
	if err := json.Unmarshal(body, &errs); err != nil {
		return nil
	}
	return errs
}

func truncate(b []byte) []byte {
	if len(b) > maxErrorBody {
		return b[:maxErrorBody]
	}
	return b
}
