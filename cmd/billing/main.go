// cmd/billing/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/deannos/tariff-billing-engine/internal/billing"
	"github.com/deannos/tariff-billing-engine/internal/config"
	"github.com/deannos/tariff-billing-engine/internal/logger"
	"github.com/deannos/tariff-billing-engine/internal/publisher"
	"github.com/deannos/tariff-billing-engine/internal/repository"
	"github.com/deannos/tariff-billing-engine/internal/server"
	"go.uber.org/zap"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./configs", "Path to the configuration directory")
	flag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration from %s: %v\n", configPath, err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Configuration loaded",
		zap.String("database_driver", cfg.Database.Driver),
		zap.Bool("cache_enabled", cfg.Cache.Enabled),
		zap.Bool("kafka_enabled", cfg.Kafka.Enabled),
	)

	// Tariff repository
	var repo billing.TariffRepository
	var pg *repository.Postgres
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		pg, err = repository.OpenPostgres(context.Background(), cfg.Database, log)
		if err != nil {
			log.Fatal("Failed to connect to tariff database", zap.Error(err))
		}
		if cfg.Database.Migrate {
			if err := pg.Migrate(context.Background()); err != nil {
				log.Fatal("Failed to migrate tariff database", zap.Error(err))
			}
		}
		repo = pg
	default:
		log.Warn("Using the in-memory reference tariffs")
		repo = repository.NewSeededMemory()
	}
	if cfg.Cache.Enabled {
		repo = repository.NewCached(repo, cfg.Cache.TTL, cfg.Cache.CleanupInterval)
	}

	engine := billing.NewEngine(repo, log)

	// Bill events are optional; a nil publisher is never handed to the server.
	var pub *publisher.Publisher
	var httpServer *server.HTTPServer
	if cfg.Kafka.Enabled {
		producer, err := publisher.NewKafkaProducer(cfg.Kafka, log)
		if err != nil {
			log.Fatal("Failed to create Kafka producer", zap.Error(err))
		}
		pub = publisher.NewPublisher(cfg, log, producer)
		pub.Start()
		httpServer = server.NewHTTPServer(cfg, engine, pub, log)
	} else {
		httpServer = server.NewHTTPServer(cfg, engine, nil, log)
	}

	if err := httpServer.Start(); err != nil {
		log.Fatal("Failed to start HTTP server", zap.Error(err))
	}
	log.Info("Billing service started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Stop accepting requests before draining bill events.
	if err := httpServer.Stop(shutdownCtx); err != nil {
		log.Error("Error during HTTP server shutdown", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	if pub != nil {
		pub.Stop()
		log.Info("Bill publisher stopped", zap.Any("metrics", pub.GetMetrics()))
	}

	if pg != nil {
		if err := pg.Close(); err != nil {
			log.Error("Error closing tariff database", zap.Error(err))
		}
	}

	log.Info("Server exited")
}
