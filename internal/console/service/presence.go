package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/blackbox-pipeline/internal/infra"
)

// warmupLockTTL страхует от вечного лока, если прогревавшаяся консоль
// умерла, не дойдя до конца Init.
const warmupLockTTL = 30 * time.Second

// PresenceTracker держит в памяти множество подключенных пользователей
// (зарегистрированных, не-операторов). L1 — локальная мапа, L2 — Redis:
// при старте прогреваемся из сета, дальше живем на Pub/Sub событиях
// от коллектора, без опроса.
type PresenceTracker struct {
	mu        sync.RWMutex
	connected map[string]struct{}
	rdb       *redis.Client
	logger    *zap.Logger
}

func NewPresenceTracker(rdb *redis.Client, logger *zap.Logger) *PresenceTracker {
	return &PresenceTracker{
		connected: make(map[string]struct{}),
		rdb:       rdb,
		logger:    logger.Named("presence"),
	}
}

// Init загружает текущее множество подключенных при старте сервиса.
// Прогрев под распределенным локом: при одновременном рестарте
// нескольких консолей сет вычитывает только одна, остальные стартуют
// холодными и наполняются от Pub/Sub.
func (t *PresenceTracker) Init(ctx context.Context) error {
	acquired, err := t.rdb.SetNX(ctx, infra.RedisKeyLockPresenceWarmup, 1, warmupLockTTL).Result()
	if err != nil {
		return err
	}
	if !acquired {
		t.logger.Info("presence warmup held by another console, starting cold")
		return nil
	}

	users, err := t.rdb.SMembers(ctx, infra.RedisKeyConnectedUsers).Result()
	if err != nil {
		return err
	}

	t.mu.Lock()
	for _, id := range users {
		t.connected[id] = struct{}{}
	}
	t.mu.Unlock()
	return nil
}

// MarkActive — внутренний метод для обновления мапы
func (t *PresenceTracker) MarkActive(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected[userID] = struct{}{}
}

// Count — сколько пользователей сейчас числится подключенными.
func (t *PresenceTracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.connected)
}

// SessionTraces возвращает известные trace-id сессии: по ним мост
// фильтрует контейнерный хвост, когда выбран пользователь без события.
func (t *PresenceTracker) SessionTraces(ctx context.Context, sessionID string) ([]string, error) {
	return t.rdb.SMembers(ctx, infra.SessionTracesKey(sessionID)).Result()
}

// StartListener подписывается на Redis и обновляет состояние
func (t *PresenceTracker) StartListener(ctx context.Context) {
	// Канал должен совпадать с тем, что публикует коллектор
	pubsub := t.rdb.Subscribe(ctx, infra.RedisChanPresence)
	defer pubsub.Close()

	ch := pubsub.Channel()
	t.logger.Info("presence listener started")

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				t.logger.Info("presence channel closed")
				return
			}

			// payload = "<user_id>|<session_id>"
			userID, _, _ := strings.Cut(msg.Payload, "|")
			if userID != "" {
				t.MarkActive(userID)
			}

		case <-ctx.Done():
			t.logger.Info("presence listener stopping by context...")
			return
		}
	}
}
