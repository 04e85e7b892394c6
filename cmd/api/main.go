package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"

	"github.com/punchamoorthee/kalatori/internal/api"
	"github.com/punchamoorthee/kalatori/internal/config"
	"github.com/punchamoorthee/kalatori/internal/eventbus"
	"github.com/punchamoorthee/kalatori/internal/kalatori"
	"github.com/punchamoorthee/kalatori/internal/logging"
	"github.com/punchamoorthee/kalatori/internal/monitor"
	"github.com/punchamoorthee/kalatori/internal/service"
	"github.com/punchamoorthee/kalatori/internal/store"
)

func main() {
	configPath := flag.String("config", os.Getenv("KALATORI_CONFIG"), "YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	logger := logging.NewStdoutLogger()

	orderStore, err := store.Open(context.Background(), cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		log.Fatalf("Unable to open store: %v", err)
	}
	defer orderStore.Close()

	// Initialize Layers
	client := kalatori.New(cfg.Kalatori)
	bus := eventbus.NewInMemoryBus()
	service.NewRecorder(orderStore, logger).Attach(bus)

	sessionCfg := service.Config{
		Monitor: monitor.Config{
			Interval:    cfg.Monitor.Interval,
			MaxAttempts: cfg.Monitor.MaxAttempts,
		},
		AutoStart: cfg.Monitor.AutoStart,
	}
	tracker := service.NewTracker(func() *service.PaymentService {
		return service.NewPaymentService(client, sessionCfg,
			service.WithBus(bus),
			service.WithLogger(logger),
		)
	})
	defer tracker.Close()

	handler := api.NewHandler(orderStore, tracker, client, cfg.Shop, logger)
	r := api.NewRouter(handler)

	logger.Info("server starting", map[string]any{
		"port":     cfg.Server.Port,
		"env":      cfg.Server.Env,
		"daemon":   client.BaseURL(),
		"mode":     string(client.Mode()),
		"store":    cfg.Store.Driver,
		"interval": cfg.Monitor.Interval.String(),
	})
	if err := http.ListenAndServe(":"+cfg.Server.Port, r); err != nil {
		log.Fatal(err)
	}
}
