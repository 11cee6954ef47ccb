package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных пайплайна в Redis
	RedisNamespace = "bbx"
)

// Ключи для Sets и Hash (состояние presence)
const (
	// RedisKeyConnectedUsers — множество user_id с активными сессиями
	// (только зарегистрированные, не-операторы).
	RedisKeyConnectedUsers = RedisNamespace + ":presence:connected_set"

	// RedisKeyActiveSessions — множество session_id, видевших трафик.
	RedisKeyActiveSessions = RedisNamespace + ":presence:sessions_set"

	// RedisKeyLockPresenceWarmup — распределенный лок прогрева кэша.
	RedisKeyLockPresenceWarmup = RedisNamespace + ":lock:warmup:presence"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanPresence — канал уведомлений о новой активности:
	// payload = "<user_id>|<session_id>". Консоль слушает его, чтобы
	// держать счетчик подключенных в памяти без опроса БД.
	RedisChanPresence = RedisNamespace + ":presence:activity"
)

// SessionTracesKey — ключ списка trace-id, известных для сессии.
// По нему мост фильтрует контейнерный хвост при выборе пользователя.
func SessionTracesKey(sessionID string) string {
	return fmt.Sprintf("%s:session:%s:traces", RedisNamespace, sessionID)
}
