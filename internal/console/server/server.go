package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/blackbox-pipeline/internal/console/handler"
	"github.com/xela07ax/blackbox-pipeline/internal/infra"
	"github.com/xela07ax/blackbox-pipeline/internal/infra/auth"
	"go.uber.org/zap"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// Интерфейс для проверки токенов (RS256)
	// Реализуется через embedding BaseValidator в AuthService
	authValidator auth.TokenValidator

	// Обработчики инспектора
	authHandler      *handler.AuthHandler      // /auth/token
	timelineHandler  *handler.TimelineHandler  // /api/v1/timeline, /api/v1/trace
	correlateHandler *handler.CorrelateHandler // /api/v1/correlate
	sessionsHandler  *handler.SessionsHandler  // /api/v1/sessions (+live)
	bridgeHandler    *handler.BridgeHandler    // /api/v1/bridge
	dashHandler      *handler.DashboardHandler // /api/v1/dashboard
}

// NewConsoleServer инициализирует сервер консоли со всеми зависимостями
func NewConsoleServer(
	cfg *infra.Config,
	logger *zap.Logger,
	validator auth.TokenValidator,
	authH *handler.AuthHandler,
	timelineH *handler.TimelineHandler,
	correlateH *handler.CorrelateHandler,
	sessionsH *handler.SessionsHandler,
	bridgeH *handler.BridgeHandler,
	dashH *handler.DashboardHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:           chi.NewRouter(),
		logger:           logger.Named("console-api"),
		cfg:              cfg,
		authValidator:    validator,
		authHandler:      authH,
		timelineHandler:  timelineH,
		correlateHandler: correlateH,
		sessionsHandler:  sessionsH,
		bridgeHandler:    bridgeH,
		dashHandler:      dashH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ (Открыты для всех) ---
	r.Group(func(r chi.Router) {
		// Логин должен быть доступен без токена
		r.Post("/auth/token", s.authHandler.Login)

		// Healthcheck для мониторинга
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		// Подключаем универсальный Middleware только для этой группы
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		// Dashboard & Stats
		r.Get("/api/v1/dashboard/stats", s.dashHandler.GetStats)

		// Таймлайн и инспектор событий
		r.Get("/api/v1/timeline", s.timelineHandler.GetPage)
		r.Get("/api/v1/trace/{traceID}", s.timelineHandler.GetTrace)
		r.Get("/api/v1/correlate", s.correlateHandler.GetBundle)

		// Живой каталог сессий
		r.Route("/api/v1/sessions", func(r chi.Router) {
			r.Get("/", s.sessionsHandler.List)
			r.Get("/live", s.sessionsHandler.Live)
		})

		// Мост к контейнерным логам
		r.Get("/api/v1/bridge/{service}/logs", s.bridgeHandler.GetLogs)
		r.Get("/api/v1/bridge/live", s.bridgeHandler.LiveLogs)
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
