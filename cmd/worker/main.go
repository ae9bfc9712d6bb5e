// Package main bootstraps the feed relay worker: it follows the platform
// event feed, journals it and republishes it for the relay API servers.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oremus-labs/ol-ops-console/config"
	"github.com/oremus-labs/ol-ops-console/internal/client"
	"github.com/oremus-labs/ol-ops-console/internal/events"
	"github.com/oremus-labs/ol-ops-console/internal/logutil"
	"github.com/oremus-labs/ol-ops-console/internal/metrics"
	"github.com/oremus-labs/ol-ops-console/internal/redisx"
	"github.com/oremus-labs/ol-ops-console/internal/store"
	"github.com/oremus-labs/ol-ops-console/internal/worker"
)

const (
	workerVersion   = "0.1.0-go"
	upstreamTimeout = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("Starting ops console relay worker v%s", workerVersion)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	if !logutil.SetLevel(cfg.LogLevel) {
		log.Printf("Unknown LOG_LEVEL %q, keeping info", cfg.LogLevel)
	}
	logutil.Info("worker_bootstrap", logutil.Fields{
		"version":         workerVersion,
		"apiBase":         cfg.Feed.APIBase,
		"refreshInterval": cfg.Feed.RefreshInterval.String(),
		"redisAddr":       cfg.RedisAddr,
		"eventsChannel":   cfg.EventsChannel,
		"journalDriver":   cfg.JournalDriver,
		"journalKeep":     cfg.JournalKeep,
		"metricsPort":     cfg.MetricsPort,
	})

	metricsSrv := metrics.Serve(":" + cfg.MetricsPort)

	journal, err := store.Open(cfg.JournalDSN, cfg.JournalDriver)
	if err != nil {
		log.Fatalf("worker: failed to open event journal: %v", err)
	}
	defer journal.Close()

	redisClient, err := redisx.NewClient(redisx.Config{
		ClientName:  "ops-console-worker",
		Addr:        cfg.RedisAddr,
		Username:    cfg.RedisUsername,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		TLSEnabled:  cfg.RedisTLSEnabled,
		TLSInsecure: cfg.RedisTLSInsecure,
	})
	if err != nil {
		log.Fatalf("worker: failed to connect to redis: %v", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	eventBus := events.NewBus(ctx, events.Options{
		Client:  redisClient,
		Logger:  log.Default(),
		Channel: cfg.EventsChannel,
	})

	upstream := client.New(cfg.Feed.APIBase, cfg.Feed.APIToken, upstreamTimeout)

	runner := worker.New(worker.Options{
		Source:       upstream,
		Journal:      journal,
		Publisher:    eventBus,
		Logger:       log.Default(),
		Interval:     cfg.HeartbeatInterval,
		PollInterval: cfg.Feed.RefreshInterval,
		Keep:         cfg.JournalKeep,
	})

	runErr := runner.Run(ctx)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server forced to shutdown: %v", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Printf("worker stopped: %v", runErr)
		os.Exit(1)
	}
	log.Println("worker exited cleanly")
}
