package domain

import "time"

// PresenceStatus — состояние пользователя в живом каталоге сессий.
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusIdle    PresenceStatus = "idle"
	StatusOffline PresenceStatus = "offline"
)

// Пороги статусов. Статус никогда не хранится — всегда вычисляется
// от текущего момента, иначе карточки «протухают» между обновлениями.
const (
	OnlineThreshold = 5 * time.Minute
	IdleThreshold   = 30 * time.Minute
)

// StatusFor — чистая функция статуса от давности последней активности.
func StatusFor(lastActivity, now time.Time) PresenceStatus {
	age := now.Sub(lastActivity)
	switch {
	case age < OnlineThreshold:
		return StatusOnline
	case age < IdleThreshold:
		return StatusIdle
	default:
		return StatusOffline
	}
}

// SessionCard — проекция по последним строкам лога, не источник правды.
// Пересобирается целиком на каждом обновлении каталога.
type SessionCard struct {
	SessionID    string         `json:"session_id"`
	UserName     string         `json:"user_name"`
	Status       PresenceStatus `json:"status"`
	LastActivity time.Time      `json:"last_activity"`
	LatencyMs    int64          `json:"latency_ms"`
	RequestCount int            `json:"request_count"`
	ErrorCount   int            `json:"error_count"`
}
