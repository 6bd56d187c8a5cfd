package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sessionsieve/sessionsieve/internal/cohort"
	"github.com/sessionsieve/sessionsieve/internal/config"
	"github.com/sessionsieve/sessionsieve/internal/enrich"
	"github.com/sessionsieve/sessionsieve/internal/metrics"
	"github.com/sessionsieve/sessionsieve/internal/producer"
	"github.com/sessionsieve/sessionsieve/internal/semantic"
	"github.com/sessionsieve/sessionsieve/internal/server"
	"github.com/sessionsieve/sessionsieve/internal/storage"
	"github.com/sessionsieve/sessionsieve/internal/validation"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/apiserver.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	log.Info().Msg("Starting SessionSieve API server...")
	metrics.InitMetrics()

	deps := server.Deps{
		Parser:     semantic.NewParser(cfg.Parser, cfg.Signals),
		Classifier: cohort.NewClassifier(cfg.Cohort),
	}

	if len(cfg.Kafka.Brokers) > 0 {
		kafkaProducer := producer.New(cfg.Kafka)
		defer kafkaProducer.Close()
		deps.Publisher = kafkaProducer
		log.Info().Msg("Kafka producer initialized")
	}

	if cfg.Postgres.DSN != "" {
		db, err := pgxpool.New(context.Background(), cfg.Postgres.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Postgres")
		}
		defer db.Close()

		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		deps.Validator = validation.NewValidator(db, rdb, cfg.RateLimit)
		log.Info().Msg("API key validation enabled")
	}

	enricher := enrich.NewEnricher(cfg.GeoIP.DatabasePath)
	defer enricher.Close()
	deps.Enricher = enricher

	if cfg.ClickHouse.Addr != "" {
		ch, err := storage.NewClickHouse(cfg.ClickHouse)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to ClickHouse")
		}
		defer ch.Close()
		deps.Cohorts = ch
		log.Info().Msg("ClickHouse storage initialized")
	}

	srv := server.New(cfg.Server, cfg.RateLimit, deps)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: srv.Router(),
	}

	go func() {
		log.Info().Int("port", cfg.Server.HTTPPort).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to serve HTTP")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down API server...")
	httpServer.Shutdown(context.Background())
	log.Info().Msg("API server stopped")
}
