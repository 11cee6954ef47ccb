package domain

import "time"

// EventClass — классификация события таймлайна.
type EventClass string

const (
	ClassError       EventClass = "error"
	ClassConsole     EventClass = "console"
	ClassAPIRequest  EventClass = "api_request"
	ClassAPIResponse EventClass = "api_response"
	ClassClick       EventClass = "click"
	ClassNavigation  EventClass = "navigation"
)

// Severity — цветовая градация события для инспектора (по кодам ответа).
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// TimelineEvent восстанавливается сервером из строк хранилища.
// Иммутабелен: при необходимости деталей перечитывается, а не патчится.
type TimelineEvent struct {
	ID         string     `json:"id"`
	Timestamp  time.Time  `json:"timestamp"`
	Class      EventClass `json:"class"`
	Severity   Severity   `json:"severity"`
	Action     string     `json:"action,omitempty"`
	EntityName string     `json:"entity_name,omitempty"`
	Method     string     `json:"http_method,omitempty"`
	Path       string     `json:"request_path,omitempty"`
	StatusCode int        `json:"status_code,omitempty"`
	DurationMs int64      `json:"duration_ms,omitempty"`
	IsSuccess  bool       `json:"is_success"`
	Error      string     `json:"error_message,omitempty"`
	TraceID    string     `json:"trace_id,omitempty"`
	SessionID  string     `json:"session_id,omitempty"`
}

// TimelinePage — одна страница таймлайна (сортировка по убыванию времени).
type TimelinePage struct {
	Events  []TimelineEvent `json:"events"`
	Page    int             `json:"page"`
	Size    int             `json:"size"`
	HasMore bool            `json:"has_more"`
}

// CorrelationWindow — вычисленный интервал [Start, End] для привязки
// слабо идентифицированных логов к выбранному событию.
type CorrelationWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains проверяет попадание таймстемпа в окно (границы включительно).
func (w CorrelationWindow) Contains(ts time.Time) bool {
	return !ts.Before(w.Start) && !ts.After(w.End)
}

// CorrelationBundle — итог работы Correlation Engine: событие плюс все
// логи, которые движок смог к нему привязать. Degraded=true означает,
// что окно не нашло ни одной записи и возвращен полный набор.
type CorrelationBundle struct {
	Event         TimelineEvent     `json:"event"`
	Window        CorrelationWindow `json:"window"`
	ClientLogs    []Record          `json:"client_logs"`
	ServerLogs    []Record          `json:"server_logs"`
	ContainerLogs []string          `json:"container_logs,omitempty"`
	Degraded      bool              `json:"degraded"`
}
