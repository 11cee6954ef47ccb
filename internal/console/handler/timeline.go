package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/blackbox-pipeline/internal/console/service"
	"github.com/xela07ax/blackbox-pipeline/internal/domain"
)

type TimelineHandler struct {
	service *service.TimelineService
}

func NewTimelineHandler(s *service.TimelineService) *TimelineHandler {
	return &TimelineHandler{service: s}
}

// GetPage возвращает страницу таймлайна с фильтрацией
// GET /api/v1/timeline?session=...&user=...&q=...&page=1&size=50
func (h *TimelineHandler) GetPage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("size"))

	result, err := h.service.GetPage(r.Context(), q.Get("session"), q.Get("user"), q.Get("q"), page, size)
	if err != nil {
		http.Error(w, "Failed to fetch timeline", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// GetTrace — полный таймлайн одного trace со связанными строками
// GET /api/v1/trace/{traceID}
func (h *TimelineHandler) GetTrace(w http.ResponseWriter, r *http.Request) {
	traceID := chi.URLParam(r, "traceID")
	if traceID == "" {
		http.Error(w, "traceID is required", http.StatusBadRequest)
		return
	}

	events, records, err := h.service.GetTrace(r.Context(), traceID)
	if err != nil {
		http.Error(w, "Failed to fetch trace", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		TraceID string                 `json:"trace_id"`
		Events  []domain.TimelineEvent `json:"events"`
		Records []domain.Record        `json:"records"`
	}{traceID, events, records})
}
