package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xela07ax/blackbox-pipeline/internal/bridge"
)

// TraceResolver достает известные trace-id сессии (для фильтра по
// пользователю без выбранного события).
type TraceResolver interface {
	SessionTraces(ctx context.Context, sessionID string) ([]string, error)
}

type BridgeHandler struct {
	client       *bridge.Client
	traces       TraceResolver
	pollInterval time.Duration
	logger       *zap.Logger
	upgrader     websocket.Upgrader
}

func NewBridgeHandler(client *bridge.Client, traces TraceResolver, pollInterval time.Duration, logger *zap.Logger) *BridgeHandler {
	return &BridgeHandler{
		client:       client,
		traces:       traces,
		pollInterval: pollInterval,
		logger:       logger.Named("bridge"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// GetLogs — хвост контейнера с приоритетом фильтров
// GET /api/v1/bridge/{service}/logs?trace=...&session=...&lines=...
func (h *BridgeHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	// Мост опционален: без сокета рантайма отвечаем как при недоступном транспорте
	if h.client == nil {
		h.writeBridgeError(w, &bridge.BridgeError{Kind: bridge.KindTransport, Service: chi.URLParam(r, "service")})
		return
	}

	serviceName := chi.URLParam(r, "service")
	q := r.URL.Query()
	traceID := q.Get("trace")
	lines, _ := strconv.Atoi(q.Get("lines"))

	// Один trace всегда бьет набор trace пользователя; набор нужен
	// только когда событие не выбрано, а сессия — да.
	var userTraces []string
	if traceID == "" && q.Get("session") != "" {
		var err error
		userTraces, err = h.traces.SessionTraces(r.Context(), q.Get("session"))
		if err != nil {
			h.logger.Warn("session traces lookup failed", zap.Error(err))
		}
	}

	logLines, err := h.client.Logs(r.Context(), serviceName, traceID, userTraces, lines)
	if err != nil {
		h.writeBridgeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Service string   `json:"service"`
		Lines   []string `json:"lines"`
	}{serviceName, logLines})
}

// writeBridgeError раскладывает категории отказа по HTTP-кодам.
// Оператор получает конкретную причину, не «что-то сломалось».
func (h *BridgeHandler) writeBridgeError(w http.ResponseWriter, err error) {
	var be *bridge.BridgeError
	status := http.StatusBadGateway
	kind := bridge.KindTransport

	if errors.As(err, &be) {
		kind = be.Kind
		switch be.Kind {
		case bridge.KindNotFound:
			status = http.StatusNotFound
		case bridge.KindAccessDenied:
			status = http.StatusForbidden
		case bridge.KindBadRequest:
			status = http.StatusBadRequest
		case bridge.KindTransport:
			status = http.StatusBadGateway
		}
	}

	h.logger.Warn("bridge request failed", zap.String("kind", string(kind)), zap.Error(err))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": string(kind)})
}

// LiveLogs — websocket-хвост контейнера, пока открыт инспекторский вид.
// Каждое сообщение клиента ({"service","trace","session","lines"}) — смена
// выбора; гонку медленного опроса против нового выбора решает поколение
// поллера (last-selection-wins).
// GET /api/v1/bridge/live
func (h *BridgeHandler) LiveLogs(w http.ResponseWriter, r *http.Request) {
	if h.client == nil {
		h.writeBridgeError(w, &bridge.BridgeError{Kind: bridge.KindTransport})
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	poller := bridge.NewPoller(h.client, h.pollInterval, h.logger)
	defer poller.Stop()

	// Читатель команд: каждая — новый выбор оператора.
	type command struct {
		Service string `json:"service"`
		Trace   string `json:"trace"`
		Session string `json:"session"`
		Lines   int    `json:"lines"`
	}
	// После Upgrade контекст запроса не закрывается вместе с клиентом:
	// уход клиента виден только по ошибке чтения.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			var cmd command
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			sel := bridge.Selection{Service: cmd.Service, TraceID: cmd.Trace, Lines: cmd.Lines}
			if cmd.Trace == "" && cmd.Session != "" {
				if traces, err := h.traces.SessionTraces(r.Context(), cmd.Session); err == nil {
					sel.Traces = traces
				}
			}
			poller.Select(sel)
		}
	}()

	for {
		select {
		case snap := <-poller.Updates():
			payload := struct {
				Lines []string `json:"lines"`
				Error string   `json:"error,omitempty"`
			}{Lines: snap.Lines}
			if snap.Err != nil {
				var be *bridge.BridgeError
				if errors.As(snap.Err, &be) {
					payload.Error = string(be.Kind)
				} else {
					payload.Error = string(bridge.KindTransport)
				}
			}
			if err := conn.WriteJSON(payload); err != nil {
				return
			}
		case <-clientGone:
			return
		}
	}
}
