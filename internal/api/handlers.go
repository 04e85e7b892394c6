package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/punchamoorthee/kalatori/internal/config"
	"github.com/punchamoorthee/kalatori/internal/domain"
	"github.com/punchamoorthee/kalatori/internal/kalatori"
	"github.com/punchamoorthee/kalatori/internal/logging"
	"github.com/punchamoorthee/kalatori/internal/models"
	"github.com/punchamoorthee/kalatori/internal/store"
)

const healthTimeout = 5 * time.Second

// Orders creates orders and reports which ones are being monitored.
// *service.Tracker satisfies it.
type Orders interface {
	CreateOrder(ctx context.Context, orderID string, req domain.CreateOrderRequest) (*domain.OrderStatus, error)
	Monitoring(orderID string) bool
	Active() int
}

// Daemon is the health probe. *kalatori.Client satisfies it.
type Daemon interface {
	Overview(ctx context.Context, includeHealth bool) (*kalatori.Overview, error)
}

type Handler struct {
	store  store.Store
	orders Orders
	daemon Daemon
	shop   config.ShopConfig
	log    logging.Logger
}

func NewHandler(s store.Store, orders Orders, daemon Daemon, shop config.ShopConfig, log logging.Logger) *Handler {
	if log == nil {
		log = logging.Nop{}
	}
	return &Handler{store: s, orders: orders, daemon: daemon, shop: shop, log: log}
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := models.HealthResponse{Status: "ok", ActiveMonitors: h.orders.Active()}

	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	ov, err := h.daemon.Overview(ctx, true)
	if err != nil {
		resp.Status = "degraded"
		resp.Daemon = &models.DaemonHealth{Error: err.Error()}
		respondWithJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	resp.Daemon = &models.DaemonHealth{Healthy: ov.Healthy()}
	if ov.Status != nil {
		resp.Daemon.Version = ov.Status.ServerInfo.Version
	}
	if ov.Health != nil {
		resp.Daemon.Status = ov.Health.Status
	}
	if !resp.Daemon.Healthy {
		resp.Status = "degraded"
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	var body models.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	req := domain.CreateOrderRequest{Amount: body.Amount, Currency: body.Currency, Callback: body.Callback}
	if err := req.Validate(); err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if !h.shop.CurrencyAllowed(req.Currency) {
		respondWithError(w, http.StatusUnprocessableEntity, "Currency not accepted: "+req.Currency)
		return
	}

	st, err := h.orders.CreateOrder(r.Context(), orderID, req)
	if err != nil {
		h.log.Error("create order failed", map[string]any{"order_id": orderID, "error": err})
		respondWithDaemonError(w, err)
		return
	}

	if _, err := h.store.SaveStatus(r.Context(), *st); err != nil && !errors.Is(err, store.ErrInvalidTransition) {
		h.log.Error("persist order failed", map[string]any{"order_id": orderID, "error": err})
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	code := http.StatusCreated
	if st.PaymentStatus.Terminal() {
		code = http.StatusOK
	}
	w.Header().Set("Location", "/api/v1/orders/"+orderID)
	respondWithJSON(w, code, models.OrderResponse{Order: *st, Monitoring: h.orders.Monitoring(orderID)})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	rec, err := h.store.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "Order not found")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	respondWithJSON(w, http.StatusOK, models.OrderResponse{
		Order:      rec.Status,
		Monitoring: h.orders.Monitoring(orderID),
		CreatedAt:  &rec.CreatedAt,
		UpdatedAt:  &rec.UpdatedAt,
	})
}

// PaymentCallback accepts the daemon's out-of-band status notification.
// Repeating a known status is acknowledged without a write.
func (h *Handler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	var st domain.OrderStatus
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if st.Order == "" || st.PaymentStatus == "" {
		respondWithError(w, http.StatusBadRequest, "order and payment_status are required")
		return
	}

	changed, err := h.store.SaveStatus(r.Context(), st)
	switch {
	case errors.Is(err, store.ErrInvalidStatus):
		respondWithError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case errors.Is(err, store.ErrInvalidTransition):
		respondWithError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.log.Error("persist callback failed", map[string]any{"order_id": st.Order, "error": err})
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	h.log.Info("payment callback", map[string]any{
		"order_id":       st.Order,
		"payment_status": string(st.PaymentStatus),
		"changed":        changed,
	})
	respondWithJSON(w, http.StatusOK, models.CallbackResponse{
		OrderID:       st.Order,
		PaymentStatus: st.PaymentStatus,
		Changed:       changed,
	})
}

// respondWithDaemonError maps order client failures onto gateway codes.
// Validation rejections by the daemon are passed through as 422.
func respondWithDaemonError(w http.ResponseWriter, err error) {
	var httpErr *kalatori.HTTPError
	switch {
	case errors.Is(err, domain.ErrMissingOrderID),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrMissingCurrency):
		respondWithError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &httpErr) && httpErr.Status >= 400 && httpErr.Status < 500:
		respondWithJSON(w, http.StatusUnprocessableEntity, models.ErrorResponse{
			Error:   "Order rejected by payment daemon",
			Details: httpErr.Errors,
		})
	case kalatori.Kind(err) == kalatori.KindTimeout:
		respondWithError(w, http.StatusGatewayTimeout, "Payment daemon timed out")
	case kalatori.Kind(err) != "":
		respondWithError(w, http.StatusBadGateway, "Payment daemon unavailable")
	default:
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, models.ErrorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
