package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/xela07ax/blackbox-pipeline/internal/console/handler"
	"github.com/xela07ax/blackbox-pipeline/internal/console/service"
	"github.com/xela07ax/blackbox-pipeline/internal/domain"
	"github.com/xela07ax/blackbox-pipeline/internal/infra"
	"github.com/xela07ax/blackbox-pipeline/internal/infra/auth"
)

// stubRepo закрывает все читающие контракты сервисного слоя.
type stubRepo struct{}

func (stubRepo) FetchTimeline(context.Context, string, string, string, int, int) ([]domain.Record, error) {
	return nil, nil
}
func (stubRepo) FetchByTrace(context.Context, string) ([]domain.Record, error) { return nil, nil }
func (stubRepo) FetchWindow(context.Context, string, string, time.Time, time.Time) ([]domain.Record, error) {
	return nil, nil
}
func (stubRepo) FetchRecent(context.Context, int) ([]domain.Record, error) { return nil, nil }
func (stubRepo) ListOperatorIDs(context.Context) ([]string, error)         { return nil, nil }
func (stubRepo) GetGlobalStats(context.Context) (*domain.GlobalStats, error) {
	return &domain.GlobalStats{TotalRecords: 7}, nil
}

type stubOperators struct {
	hash string
}

func (s stubOperators) GetOperatorByUsername(_ context.Context, username string) (*domain.Operator, error) {
	if username != "inspector" {
		return nil, nil
	}
	return &domain.Operator{ID: "op-1", Username: "inspector", PasswordHash: s.hash, Role: "admin"}, nil
}

type stubTraces struct{}

func (stubTraces) SessionTraces(context.Context, string) ([]string, error) { return nil, nil }

func newTestServer(t *testing.T) *ConsoleServer {
	t.Helper()
	logger := zap.NewNop()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	require.NoError(t, err)

	authSvc := service.NewAuthService(stubOperators{hash: string(hash)},
		auth.NewBaseValidator(&key.PublicKey), key, time.Hour)

	repo := stubRepo{}
	timelineSvc := service.NewTimelineService(repo)
	correlateSvc := service.NewCorrelationService(repo, nil, infra.CorrelationConfig{}, logger)
	directorySvc := service.NewDirectoryService(repo, infra.DirectoryConfig{}, logger)

	return NewConsoleServer(
		&infra.Config{},
		logger,
		authSvc,
		handler.NewAuthHandler(authSvc),
		handler.NewTimelineHandler(timelineSvc),
		handler.NewCorrelateHandler(correlateSvc),
		handler.NewSessionsHandler(directorySvc, logger),
		handler.NewBridgeHandler(nil, stubTraces{}, 0, logger),
		handler.NewDashboardHandler(stubRepo{}),
	)
}

func login(t *testing.T, srv *ConsoleServer) string {
	t.Helper()
	body, _ := json.Marshal(domain.LoginRequest{Username: "inspector", Password: "correct-horse"})
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/token", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code)

	var resp domain.TokenResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp.AccessToken
}

func TestServer_PublicRoutes(t *testing.T) {
	srv := newTestServer(t)

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	// Логин с неверным паролем — без уточнения причины
	body, _ := json.Marshal(domain.LoginRequest{Username: "inspector", Password: "wrong"})
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/token", bytes.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestServer_ProtectedPerimeter(t *testing.T) {
	srv := newTestServer(t)

	protected := []string{
		"/api/v1/dashboard/stats",
		"/api/v1/timeline",
		"/api/v1/trace/t1",
		"/api/v1/correlate",
		"/api/v1/sessions",
		"/api/v1/bridge/billing/logs",
	}
	for _, path := range protected {
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code, "path %s без токена", path)
	}
}

func TestServer_AuthorizedAccess(t *testing.T) {
	srv := newTestServer(t)
	token := login(t, srv)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dashboard/stats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var stats domain.GlobalStats
	require.NoError(t, json.NewDecoder(w.Body).Decode(&stats))
	assert.Equal(t, int64(7), stats.TotalRecords)

	// Таймлайн пустой, но отвечает корректной страницей
	req = httptest.NewRequest(http.MethodGet, "/api/v1/timeline?session=s1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_SessionsList(t *testing.T) {
	srv := newTestServer(t)
	token := login(t, srv)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

// Мост без подключенного рантайма отвечает категорией transport_unavailable.
func TestServer_BridgeUnavailable(t *testing.T) {
	srv := newTestServer(t)
	token := login(t, srv)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/bridge/billing/logs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "transport_unavailable", resp["error"])
}
