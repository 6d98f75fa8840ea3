// cmd/telemetryd — Fleet telemetry fan-out service.
//
// Consumes GPS, tire-sensor and load events from Kafka, enriches them from
// the truck catalog (MySQL) and the SmartTyre API, persists them to MongoDB,
// and fans them out to WebSocket subscribers. Also serves the bootstrap
// snapshot endpoints and an HTTP ingress bridge for producers without bus
// access.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"truck-telemetryv1/config"
	"truck-telemetryv1/internal/api"
	"truck-telemetryv1/internal/bootstrap"
	"truck-telemetryv1/internal/bridge"
	"truck-telemetryv1/internal/catalog"
	"truck-telemetryv1/internal/docstore"
	"truck-telemetryv1/internal/enrich"
	"truck-telemetryv1/internal/hub"
	"truck-telemetryv1/internal/ingest"
	"truck-telemetryv1/internal/metrics"
	"truck-telemetryv1/internal/notify"
	"truck-telemetryv1/internal/smarttyre"
	"truck-telemetryv1/internal/vlog"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[telemetryd] starting...")

	cfg := config.Load()
	logs := vlog.New(os.Stdout, slog.LevelInfo)
	m := metrics.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cat, err := catalog.Open(cfg.MySQLURI)
	if err != nil {
		log.Fatalf("[telemetryd] catalog: %v", err)
	}
	defer cat.Close()

	connectCtx, connectCancel := context.WithTimeout(ctx, 15*time.Second)
	store, err := docstore.Connect(connectCtx, cfg.MongoURI, cfg.MongoDB)
	connectCancel()
	if err != nil {
		log.Fatalf("[telemetryd] docstore: %v", err)
	}
	defer func() {
		shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		store.Close(shutdownCtx)
		c()
	}()

	indexCtx, indexCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := store.EnsureIndexes(indexCtx); err != nil {
		log.Printf("[telemetryd] index creation failed: %v", err)
	}
	indexCancel()

	tyres := smarttyre.New(cfg.SmartTyreBaseURL, cfg.SmartTyreClientID, cfg.SmartTyreClientSecret, cfg.SmartTyreSignKey)

	cache := enrich.NewCache(cat, tyres, m)
	positions := enrich.NewResolver(cat)

	h := hub.New(cat, m)

	handlers := ingest.NewHandlers(store, h, cat, cache, positions, m, logs)
	if cfg.AlertWebhookURL != "" {
		handlers.SetNotifier(notify.NewWebhookNotifier(cfg.AlertWebhookURL))
		log.Printf("[telemetryd] alert webhook enabled")
	}

	consumer, err := ingest.NewConsumer(cfg, handlers, m)
	if err != nil {
		log.Fatalf("[telemetryd] kafka: %v", err)
	}
	defer consumer.Close()
	go consumer.Run(ctx)

	boot := bootstrap.New(ctx, store, cat, h, m, logs)

	router := api.New(h, boot, bridge.New(handlers))
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: router.Mux()}
	go func() {
		log.Printf("[telemetryd] http listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[telemetryd] http server: %v", err)
		}
	}()

	ms := metrics.NewServer(cfg.MetricsAddr)
	ms.Start()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("[telemetryd] shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	ms.Stop(shutdownCtx)
	log.Println("[telemetryd] bye")
}
