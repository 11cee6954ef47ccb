package collector

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/blackbox-pipeline/internal/domain"
	"github.com/xela07ax/blackbox-pipeline/internal/infra"
)

// presenceTTL ограничивает жизнь presence-данных: Redis здесь кэш
// фактов «кто жив», а не хранилище.
const presenceTTL = 24 * time.Hour

// Presence раскладывает факт активности по Redis и оповещает консоль
// через Pub/Sub. Консоль держит свой счетчик подключенных в памяти и
// не опрашивает базу.
type Presence struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewPresence(rdb *redis.Client, logger *zap.Logger) *Presence {
	return &Presence{rdb: rdb, logger: logger.With(zap.String("mod", "presence"))}
}

// Touch отмечает активность сессии/пользователя и запоминает все
// trace-id пачки — сессионный и индивидуальные trace сетевых фактов.
// По этому множеству мост потом фильтрует контейнерный хвост.
func (p *Presence) Touch(ctx context.Context, batch domain.ShipmentBatch, traces []string) {
	pipe := p.rdb.Pipeline()

	pipe.SAdd(ctx, infra.RedisKeyActiveSessions, batch.SessionID)
	pipe.Expire(ctx, infra.RedisKeyActiveSessions, presenceTTL)

	if len(traces) > 0 {
		key := infra.SessionTracesKey(batch.SessionID)
		for _, id := range traces {
			pipe.SAdd(ctx, key, id)
		}
		pipe.Expire(ctx, key, presenceTTL)
	}

	// Анонимный трафик в каталог не попадает — и в presence тоже.
	if batch.UserID != "" {
		pipe.SAdd(ctx, infra.RedisKeyConnectedUsers, batch.UserID)
		pipe.Expire(ctx, infra.RedisKeyConnectedUsers, presenceTTL)
		pipe.Publish(ctx, infra.RedisChanPresence, batch.UserID+"|"+batch.SessionID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		// Presence — best effort: прием пачки из-за Redis не падает.
		p.logger.Warn("presence update failed", zap.Error(err))
	}
}
