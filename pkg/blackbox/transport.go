package blackbox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xela07ax/blackbox-pipeline/internal/domain"
)

type ctxKey string

const traceCtxKey ctxKey = "trace_id"

// ContextWithTrace кладет trace-id в контекст исходящего запроса.
func ContextWithTrace(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceCtxKey, traceID)
}

// TraceFromContext безопасно достает trace-id в любом месте кода.
func TraceFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(traceCtxKey).(string); ok {
		return id
	}
	return ""
}

// Transport — инструментирующая обертка над http.RoundTripper.
// Подмена интерфейса вместо патчинга: собирается при старте
// (http.Client{Transport: NewTransport(...)}), снимается возвратом
// к исходному транспорту.
//
// Для каждого неисключенного вызова: проставляет X-Trace-ID (если его
// еще нет), меряет wall-clock длительность и отдает итог рекордеру как
// NetworkEntry — успехом или ошибкой, но всегда одним и тем же путем
// буферизации и доставки.
type Transport struct {
	base    http.RoundTripper
	rec     *Recorder
	exclude []string
}

// NewTransport оборачивает base (nil — http.DefaultTransport).
// Эндпоинт коллектора исключается всегда: инструментирование
// собственной отгрузки породило бы петлю обратной связи.
func NewTransport(base http.RoundTripper, rec *Recorder, exclude ...string) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	ex := append([]string{
		ingestPath,
		"/health",
		"/metrics",
		"/static/",
		"/favicon",
	}, exclude...)
	return &Transport{base: base, rec: rec, exclude: ex}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.excluded(req.URL.Path) {
		return t.base.RoundTrip(req)
	}

	// Сквозной идентификатор: заголовок > контекст > чеканка нового.
	traceID := req.Header.Get(TraceHeader)
	if traceID == "" {
		traceID = TraceFromContext(req.Context())
		if traceID == "" {
			traceID = uuid.New().String()
		}
		req.Header.Set(TraceHeader, traceID)
	}

	start := time.Now()
	// В записи уходит ровно тот trace, что ушел в заголовке: иначе
	// серверные логи получат один id, а клиентский факт — другой,
	// и точная сшивка по trace развалится.
	entry := domain.NetworkEntry{
		TraceID:   traceID,
		Method:    req.Method,
		URL:       req.URL.String(),
		Timestamp: start,
	}

	resp, err := t.base.RoundTrip(req)
	entry.DurationMs = time.Since(start).Milliseconds()

	if err != nil {
		entry.Error = err.Error()
		t.rec.RecordNetwork(entry)
		return nil, err // ошибку пробрасываем как есть
	}

	entry.Status = resp.StatusCode
	if resp.ContentLength > 0 {
		entry.SizeBytes = resp.ContentLength
	}
	t.rec.RecordNetwork(entry)
	return resp, nil
}

func (t *Transport) excluded(path string) bool {
	for _, e := range t.exclude {
		if strings.Contains(path, e) {
			return true
		}
	}
	return false
}

// encodeNetworkEntry сериализует сетевой факт в сообщение лога.
func encodeNetworkEntry(e domain.NetworkEntry) string {
	b, err := json.Marshal(e)
	if err != nil {
		// Деградация до строкового представления, запись не теряем.
		return fmt.Sprintf("network %s %s: status=%d err=%s", e.Method, e.URL, e.Status, e.Error)
	}
	return string(b)
}
