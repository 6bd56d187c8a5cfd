package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sessionsieve/sessionsieve/internal/config"
	"github.com/sessionsieve/sessionsieve/internal/consumer"
	"github.com/sessionsieve/sessionsieve/internal/metrics"
	"github.com/sessionsieve/sessionsieve/internal/pipeline"
	"github.com/sessionsieve/sessionsieve/internal/producer"
	"github.com/sessionsieve/sessionsieve/internal/semantic"
	"github.com/sessionsieve/sessionsieve/internal/storage"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/compressor.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	log.Info().Msg("Starting SessionSieve compressor...")
	metrics.InitMetrics()

	store, err := storage.NewClickHouse(cfg.ClickHouse)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to ClickHouse")
	}
	defer store.Close()
	log.Info().Str("addr", cfg.ClickHouse.Addr).Msg("ClickHouse storage initialized")

	var dedup pipeline.Deduper
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		dedup = pipeline.NewRedisDeduper(rdb, 0)
		log.Info().Msg("Redis deduplication enabled")
	}

	kafkaProducer := producer.New(cfg.Kafka)
	defer kafkaProducer.Close()
	log.Info().Str("topic", cfg.Kafka.Topics["semantic"]).Msg("Semantic topic publishing enabled")

	parser := semantic.NewParser(cfg.Parser, cfg.Signals)
	compressor := pipeline.NewCompressor(parser, store, kafkaProducer, dedup, cfg.Batch)

	kafkaConsumer := consumer.New(cfg.Kafka, compressor)

	ctx, cancel := context.WithCancel(context.Background())
	go kafkaConsumer.Start(ctx)

	// Ops surface: health and Prometheus scrape only.
	opsRouter := chi.NewRouter()
	opsRouter.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	opsRouter.Handle("/metrics", metrics.Handler())

	opsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: opsRouter,
	}
	go func() {
		log.Info().Int("port", cfg.Server.HTTPPort).Msg("Starting ops server")
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to serve ops endpoints")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down compressor...")
	cancel()
	if err := kafkaConsumer.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close consumer")
	}
	compressor.Stop()
	opsServer.Shutdown(context.Background())
	log.Info().Msg("Compressor stopped")
}
