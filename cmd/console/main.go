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

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/blackbox-pipeline/internal/bridge"
	"github.com/xela07ax/blackbox-pipeline/internal/console/handler"
	"github.com/xela07ax/blackbox-pipeline/internal/console/server"
	"github.com/xela07ax/blackbox-pipeline/internal/console/service"
	"github.com/xela07ax/blackbox-pipeline/internal/infra"
	"github.com/xela07ax/blackbox-pipeline/internal/infra/auth"
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

	// 2. Ключи RS256: публичный обязателен, приватный нужен для выдачи токенов
	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		log.Fatalf("failed to parse public key: %v", err)
	}
	privKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		log.Fatalf("failed to parse private key: %v", err)
	}
	validator := auth.NewBaseValidator(pubKey)

	// 3. Хранилища
	if cfg.Database.URL == "" {
		log.Fatal("database.url (or DATABASE_URL env) is required")
	}
	repo := postgres.NewRecordRepo(cfg.Database.URL)
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := repo.Ping(pingCtx); err != nil {
		log.Fatalf("Database unreachable: %v", err)
	}
	pingCancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Контекст фоновых воркеров: отменяется при остановке сервиса
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Presence: прогрев из Redis + подписка на канал коллектора
	presence := service.NewPresenceTracker(rdb, logger)
	if err := presence.Init(ctx); err != nil {
		logger.Warn("presence warmup failed, starting cold", zap.Error(err))
	}
	go presence.StartListener(ctx)

	// 5. Мост к контейнерному рантайму (best-effort: без него работаем тоже)
	var tailer service.ContainerTailer
	dockerClient, err := bridge.NewClient(cfg.Bridge.Host, cfg.Bridge.TailLines, logger)
	if err != nil {
		logger.Warn("container bridge disabled", zap.Error(err))
	} else {
		tailer = dockerClient
	}

	// 6. Сервисный слой
	authSvc := service.NewAuthService(repo, validator, privKey, cfg.Auth.TokenTTL)
	timelineSvc := service.NewTimelineService(repo)
	correlateSvc := service.NewCorrelationService(repo, tailer, cfg.Correlation, logger)
	statsSvc := service.NewStatsService(repo, presence)

	directorySvc := service.NewDirectoryService(repo, cfg.Directory, logger)
	go directorySvc.Run(ctx)

	// 7. HTTP-слой
	srv := server.NewConsoleServer(
		cfg,
		logger,
		authSvc, // валидатор токенов через embedding BaseValidator
		handler.NewAuthHandler(authSvc),
		handler.NewTimelineHandler(timelineSvc),
		handler.NewCorrelateHandler(correlateSvc),
		handler.NewSessionsHandler(directorySvc, logger),
		handler.NewBridgeHandler(dockerClient, presence, cfg.Bridge.PollInterval, logger),
		handler.NewDashboardHandler(statsSvc),
	)

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 8. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Console started on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	<-stop
	log.Print("Console stopping...")

	// Останавливаем фоновые воркеры (каталог, presence-подписку)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server Shutdown Failed: %+v", err)
	}
	log.Print("Console exited properly")
}
