package auth

import (
	"context"
	"net/http"

	"github.com/xela07ax/blackbox-pipeline/internal/domain"
	"go.uber.org/zap"
)

// TokenValidator — интерфейс, который реализует сервис авторизации консоли
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.OperatorClaims, error)
}

func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			// Прокидываем данные в контекст
			ctx := context.WithValue(r.Context(), "operator_id", claims.OperatorID)
			ctx = context.WithValue(ctx, "operator_role", claims.Role)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
