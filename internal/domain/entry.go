package domain

import "time"

// LogLevel — уровень клиентской записи. Совпадает со строками,
// которые шлет SDK, чтобы не гонять enum-конвертацию по сети.
type LogLevel string

const (
	LevelLog   LogLevel = "log"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
	LevelDebug LogLevel = "debug"
)

// LogEntry — одна запись «черного ящика». Message всегда уже замаскирован
// на стороне SDK: немаскированный текст не покидает процесс клиента.
type LogEntry struct {
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NetworkEntry — факт об одном исходящем вызове. При сбое транспорта
// Status отсутствует (0), а Error содержит текст ошибки. TraceID — тот
// самый X-Trace-ID, который транспорт проставил в уходящий запрос:
// сервер и контейнерные логи будут помечены им же, и только через это
// поле клиентский факт сшивается с ними точным совпадением.
type NetworkEntry struct {
	TraceID    string    `json:"trace_id,omitempty"`
	Method     string    `json:"method"`
	URL        string    `json:"url"`
	Status     int       `json:"status,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	SizeBytes  int64     `json:"size_bytes,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ClientMeta — окружение клиента на момент старта сессии.
// Заполняется один раз при инициализации рекордера.
type ClientMeta struct {
	UserAgent string `json:"user_agent,omitempty"`
	Locale    string `json:"locale,omitempty"`
	Timezone  string `json:"timezone,omitempty"`
	Screen    string `json:"screen,omitempty"`
	Platform  string `json:"platform,omitempty"`
	Hostname  string `json:"hostname,omitempty"`
}

// Session живет ровно столько, сколько живет экземпляр рекордера.
type Session struct {
	SessionID string     `json:"session_id"`
	StartTime time.Time  `json:"start_time"`
	Meta      ClientMeta `json:"metadata"`
}

// ShipmentBatch — полезная нагрузка одной отправки в коллектор.
type ShipmentBatch struct {
	TraceID   string     `json:"trace_id"`
	SessionID string     `json:"session_id"`
	UserID    string     `json:"user_id,omitempty"`
	UserName  string     `json:"user_name,omitempty"`
	Logs      []LogEntry `json:"logs"`
	Meta      ClientMeta `json:"metadata"`
}

// Record — строка в хранилище. Единая таблица для клиентских записей,
// сетевых фактов и серверного аудита: Kind разделяет происхождение,
// а trace_id/session_id/timestamp — ключи для корреляции.
type Record struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	TraceID    string    `json:"trace_id,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	UserName   string    `json:"user_name,omitempty"`
	Kind       string    `json:"kind"` // "console" | "network" | "audit"
	Level      LogLevel  `json:"level,omitempty"`
	Message    string    `json:"message,omitempty"`
	Action     string    `json:"action,omitempty"`
	EntityName string    `json:"entity_name,omitempty"`
	Method     string    `json:"method,omitempty"`
	Path       string    `json:"path,omitempty"`
	Status     int       `json:"status,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	IsSuccess  bool      `json:"is_success"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	RecordKindConsole = "console"
	RecordKindNetwork = "network"
	RecordKindAudit   = "audit"
)
