package collector

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/blackbox-pipeline/internal/domain"
)

// Handler принимает пачки от SDK и раскладывает их в синк.
type Handler struct {
	sink     *Sink
	presence *Presence
	metrics  *Metrics
	logger   *zap.Logger
}

func NewHandler(sink *Sink, presence *Presence, metrics *Metrics, logger *zap.Logger) *Handler {
	return &Handler{
		sink:     sink,
		presence: presence,
		metrics:  metrics,
		logger:   logger.Named("ingest"),
	}
}

// Ingest обрабатывает POST /v1/ingest.
// Ответ нарочно максимально быстрый: валидация, конвертация в строки,
// неблокирующий Put в синк — вся тяжелая работа за каналом.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var batch domain.ShipmentBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		h.metrics.ErrorTotal.WithLabelValues("bad_payload").Inc()
		h.metrics.IngestDuration.WithLabelValues("400").Observe(time.Since(start).Seconds())
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if batch.SessionID == "" || len(batch.Logs) == 0 {
		h.metrics.ErrorTotal.WithLabelValues("bad_payload").Inc()
		h.metrics.IngestDuration.WithLabelValues("400").Observe(time.Since(start).Seconds())
		http.Error(w, "session_id and logs are required", http.StatusBadRequest)
		return
	}

	// Trace пачки: из payload, иначе из заголовка (TracingMiddleware).
	traceID := batch.TraceID
	if traceID == "" {
		traceID = extractTraceID(r.Context())
	}

	// Trace-id сессии: trace пачки плюс индивидуальные trace сетевых
	// фактов — по этому множеству мост фильтрует контейнерный хвост.
	traces := make([]string, 0, len(batch.Logs)+1)
	if traceID != "" {
		traces = append(traces, traceID)
	}
	for _, entry := range batch.Logs {
		rec := recordFromEntry(batch, traceID, entry)
		if rec.Kind == domain.RecordKindNetwork && rec.TraceID != traceID {
			traces = append(traces, rec.TraceID)
		}
		h.sink.Put(rec)
	}

	h.presence.Touch(r.Context(), batch, traces)

	h.metrics.IngestBatches.WithLabelValues(domain.RecordKindConsole).Inc()
	h.metrics.IngestRecords.Add(float64(len(batch.Logs)))
	h.metrics.IngestDuration.WithLabelValues("202").Observe(time.Since(start).Seconds())

	// 202: пачка принята, но до Postgres доедет асинхронно.
	w.WriteHeader(http.StatusAccepted)
}

// recordFromEntry превращает запись SDK в строку хранилища.
// Сетевые факты SDK шлет тем же каналом, сериализовав NetworkEntry в
// message — здесь мы их распознаем и раскладываем по колонкам.
func recordFromEntry(batch domain.ShipmentBatch, traceID string, entry domain.LogEntry) domain.Record {
	rec := domain.Record{
		ID:        uuid.New().String(),
		SessionID: batch.SessionID,
		TraceID:   traceID,
		UserID:    batch.UserID,
		UserName:  batch.UserName,
		Kind:      domain.RecordKindConsole,
		Level:     entry.Level,
		Message:   entry.Message,
		IsSuccess: entry.Level != domain.LevelError,
		Timestamp: entry.Timestamp,
	}

	var ne domain.NetworkEntry
	if err := json.Unmarshal([]byte(entry.Message), &ne); err == nil && ne.Method != "" && ne.URL != "" {
		rec.Kind = domain.RecordKindNetwork
		// Сетевой факт несет trace конкретного запроса — он точнее,
		// чем сессионный trace пачки.
		if ne.TraceID != "" {
			rec.TraceID = ne.TraceID
		}
		rec.Method = ne.Method
		rec.Path = ne.URL
		rec.Status = ne.Status
		rec.DurationMs = ne.DurationMs
		rec.Error = ne.Error
		rec.IsSuccess = ne.Error == "" && ne.Status < 400
		if !ne.Timestamp.IsZero() {
			rec.Timestamp = ne.Timestamp
		}
	}

	return rec
}
