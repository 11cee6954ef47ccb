package handler

import (
	"encoding/json"
	"net/http"

	"github.com/xela07ax/blackbox-pipeline/internal/console/service"
)

type CorrelateHandler struct {
	service *service.CorrelationService
}

func NewCorrelateHandler(s *service.CorrelationService) *CorrelateHandler {
	return &CorrelateHandler{service: s}
}

// GetBundle собирает инспекторский бандл для выбранного события
// GET /api/v1/correlate?session=...&event=...&container=...
func (h *CorrelateHandler) GetBundle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := q.Get("session")
	eventID := q.Get("event")
	if sessionID == "" || eventID == "" {
		http.Error(w, "session and event are required", http.StatusBadRequest)
		return
	}

	bundle, err := h.service.Correlate(r.Context(), sessionID, eventID, q.Get("container"))
	if err != nil {
		http.Error(w, "Failed to correlate event", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(bundle)
}
