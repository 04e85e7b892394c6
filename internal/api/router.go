package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(Instrument(h.log))

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/orders/{id}", h.CreateOrder).Methods(http.MethodPost)
	apiV1.HandleFunc("/orders/{id}", h.GetOrder).Methods(http.MethodGet)
	apiV1.HandleFunc("/payment/callback", h.PaymentCallback).Methods(http.MethodPost)

	return r
}
