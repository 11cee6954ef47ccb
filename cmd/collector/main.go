package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/xela07ax/blackbox-pipeline/internal/collector"
	"github.com/xela07ax/blackbox-pipeline/internal/infra"
	"github.com/xela07ax/blackbox-pipeline/internal/repository/postgres"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	// 2. Инфраструктура и ресурсы
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	if cfg.Database.URL == "" {
		log.Fatal("database.url (or DATABASE_URL env) is required")
	}
	repo := postgres.NewRecordRepo(cfg.Database.URL)
	// Проверяем соединение с таймаутом
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := repo.Ping(pingCtx); err != nil {
		log.Fatalf("Database unreachable: %v", err)
	}
	cancel()

	// 3. Метрики
	reg := prometheus.NewRegistry()
	metrics := collector.NewMetrics(reg)

	// Экспортируем метрики для Prometheus
	go func() {
		http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		log.Fatal(http.ListenAndServe(":9090", nil))
	}()

	// 4. Синк: пакетная запись в Postgres с drain при остановке
	sink := collector.NewSink(repo, metrics, logger,
		cfg.Collector.SinkBufferSize, cfg.Collector.SinkBatchSize, cfg.Collector.SinkFlushInterval)
	sink.Start()

	presence := collector.NewPresence(rdb, logger)
	ingest := collector.NewHandler(sink, presence, metrics, logger)

	// 5. HTTP Server. Порядок важен: Trace -> RateLimit -> Handler
	limiter := rate.NewLimiter(rate.Limit(cfg.Collector.IngestRateLimit), cfg.Collector.IngestBurst)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Group(func(r chi.Router) {
		r.Use(chimw.RequestID)
		r.Use(collector.TracingMiddleware)
		r.Use(collector.RateLimitMiddleware(limiter, metrics))
		r.Post("/v1/ingest", ingest.Ingest)
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 6. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Collector started on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	<-stop // Ждем сигнал
	log.Print("Collector stopping...")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server Shutdown Failed: %+v", err)
	}

	// Сначала закрываем вход, потом даем синку дописать буфер
	sink.Stop()
	log.Print("Collector exited properly")
}
