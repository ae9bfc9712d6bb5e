// Package main is the entry point for the ops console relay API server.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oremus-labs/ol-ops-console/config"
	"github.com/oremus-labs/ol-ops-console/internal/api"
	"github.com/oremus-labs/ol-ops-console/internal/events"
	"github.com/oremus-labs/ol-ops-console/internal/handlers"
	"github.com/oremus-labs/ol-ops-console/internal/logutil"
	"github.com/oremus-labs/ol-ops-console/internal/redisx"
	"github.com/oremus-labs/ol-ops-console/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	version         = "0.1.0-go"
	shutdownTimeout = 5 * time.Second
)

var streamSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "ops_console_stream_subscribers",
	Help: "Consoles currently attached to the live event stream",
})

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("Starting ops console relay server v%s", version)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	cfg := config.Load()
	if !logutil.SetLevel(cfg.LogLevel) {
		log.Printf("Unknown LOG_LEVEL %q, keeping info", cfg.LogLevel)
	}
	logutil.Info("server_bootstrap", logutil.Fields{
		"version":       version,
		"port":          cfg.ServerPort,
		"journalDriver": cfg.JournalDriver,
		"redisAddr":     cfg.RedisAddr,
		"eventsChannel": cfg.EventsChannel,
		"authEnabled":   cfg.APIToken != "",
	})

	journal, err := store.Open(cfg.JournalDSN, cfg.JournalDriver)
	if err != nil {
		log.Fatalf("Failed to open event journal: %v", err)
	}
	defer journal.Close()

	redisClient, err := redisx.NewClient(redisx.Config{
		ClientName:  "ops-console-server",
		Addr:        cfg.RedisAddr,
		Username:    cfg.RedisUsername,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		TLSEnabled:  cfg.RedisTLSEnabled,
		TLSInsecure: cfg.RedisTLSInsecure,
	})
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	} else {
		log.Println("Redis disabled (REDIS_ADDR not set); live stream only carries local events")
	}

	bus := events.NewBus(rootCtx, events.Options{
		Client:  redisClient,
		Logger:  log.Default(),
		Channel: cfg.EventsChannel,
	})

	h := handlers.New(journal, bus, handlers.Options{Version: version})
	srv := api.NewServer(h, api.Options{APIToken: cfg.APIToken}).Start(":" + cfg.ServerPort)

	startSubscriberMonitor(rootCtx, bus)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	rootCancel()
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

func startSubscriberMonitor(ctx context.Context, bus *events.Bus) {
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				streamSubscribers.Set(float64(bus.Subscribers()))
			}
		}
	}()
}
