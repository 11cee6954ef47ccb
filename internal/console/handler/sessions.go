package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xela07ax/blackbox-pipeline/internal/console/service"
)

type SessionsHandler struct {
	directory *service.DirectoryService
	logger    *zap.Logger
	upgrader  websocket.Upgrader
}

func NewSessionsHandler(directory *service.DirectoryService, logger *zap.Logger) *SessionsHandler {
	return &SessionsHandler{
		directory: directory,
		logger:    logger.Named("sessions"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Консоль живет за тем же ориджином, что и API
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// List — снимок живого каталога для обычного опроса
// GET /api/v1/sessions
func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.directory.Snapshot())
}

// Live — websocket-фид: каждый пересчет каталога уходит подписчику
// GET /api/v1/sessions/live
func (h *SessionsHandler) Live(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// Первый кадр — текущее состояние, не дожидаясь обновления.
	if err := conn.WriteJSON(h.directory.Snapshot()); err != nil {
		return
	}

	updates, unsubscribe := h.directory.Subscribe()
	defer unsubscribe()
	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(snap); err != nil {
				h.logger.Debug("live feed client gone", zap.Error(err))
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
