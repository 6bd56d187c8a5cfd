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
	"github.com/sessionsieve/sessionsieve/internal/metrics"
	"github.com/sessionsieve/sessionsieve/internal/producer"
	"github.com/sessionsieve/sessionsieve/internal/syncer"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/syncd.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	if len(cfg.Sync.Projects) == 0 {
		log.Fatal().Msg("No sync projects configured")
	}

	log.Info().Msg("Starting SessionSieve sync daemon...")
	metrics.InitMetrics()

	kafkaProducer := producer.New(cfg.Kafka)
	defer kafkaProducer.Close()
	log.Info().Msg("Kafka producer initialized")

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		log.Info().Msg("Redis sync cursors enabled")
	}

	s, err := syncer.New(cfg.Sync, kafkaProducer, rdb)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build syncer")
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start syncer")
	}
	log.Info().Int("projects", len(cfg.Sync.Projects)).Msg("Sync schedules registered")

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

	log.Info().Msg("Shutting down sync daemon...")
	cancel()
	s.Stop()
	opsServer.Shutdown(context.Background())
	log.Info().Msg("Sync daemon stopped")
}
