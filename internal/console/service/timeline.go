package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/xela07ax/blackbox-pipeline/internal/domain"
)

// TimelineProvider описывает контракт чтения строк для таймлайна.
type TimelineProvider interface {
	FetchTimeline(ctx context.Context, sessionID, userID, search string, limit, offset int) ([]domain.Record, error)
	FetchByTrace(ctx context.Context, traceID string) ([]domain.Record, error)
}

// TimelineService восстанавливает классифицированный таймлайн сессии
// из сырых строк хранилища. Страницы не кэшируются: каждая
// перечитывается заново, событие иммутабельно после создания.
type TimelineService struct {
	repo TimelineProvider
}

func NewTimelineService(repo TimelineProvider) *TimelineService {
	return &TimelineService{repo: repo}
}

// GetPage возвращает страницу таймлайна по убыванию времени.
func (s *TimelineService) GetPage(ctx context.Context, sessionID, userID, search string, page, size int) (*domain.TimelinePage, error) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 200 {
		size = 50
	}

	// Просим на одну строку больше лимита: дешевый признак has_more.
	records, err := s.repo.FetchTimeline(ctx, sessionID, userID, search, size, (page-1)*size)
	if err != nil {
		return nil, fmt.Errorf("timeline_service: failed to fetch page: %w", err)
	}

	hasMore := len(records) > size
	if hasMore {
		records = records[:size]
	}

	events := make([]domain.TimelineEvent, 0, len(records))
	for _, rec := range records {
		events = append(events, EventFromRecord(rec))
	}

	return &domain.TimelinePage{Events: events, Page: page, Size: size, HasMore: hasMore}, nil
}

// GetTrace — полный таймлайн одного trace плюс его сырые строки
// (инспекторский запрос fetch-by-trace).
func (s *TimelineService) GetTrace(ctx context.Context, traceID string) ([]domain.TimelineEvent, []domain.Record, error) {
	records, err := s.repo.FetchByTrace(ctx, traceID)
	if err != nil {
		return nil, nil, fmt.Errorf("timeline_service: failed to fetch trace: %w", err)
	}

	events := make([]domain.TimelineEvent, 0, len(records))
	for _, rec := range records {
		events = append(events, EventFromRecord(rec))
	}
	return events, records, nil
}

// EventFromRecord превращает строку хранилища в событие таймлайна.
func EventFromRecord(rec domain.Record) domain.TimelineEvent {
	return domain.TimelineEvent{
		ID:         rec.ID,
		Timestamp:  rec.Timestamp,
		Class:      Classify(rec),
		Severity:   StatusSeverity(rec.Status),
		Action:     rec.Action,
		EntityName: rec.EntityName,
		Method:     rec.Method,
		Path:       rec.Path,
		StatusCode: rec.Status,
		DurationMs: rec.DurationMs,
		IsSuccess:  rec.IsSuccess,
		Error:      rec.Error,
		TraceID:    rec.TraceID,
		SessionID:  rec.SessionID,
	}
}

// Словарь действий для кликов и навигации.
var (
	clickWords      = []string{"click", "press", "tap", "submit"}
	navigationWords = []string{"navigate", "navigation", "route", "redirect", "page_view"}
)

// Classify применяет правила классификации к строке, в порядке
// приоритета. Порядок — часть контракта: явная ошибка бьет все
// остальное, клиентская запись — сетевые признаки, и так далее.
func Classify(rec domain.Record) domain.EventClass {
	// 1. Явный маркер ошибки или неуспех
	if rec.Error != "" || !rec.IsSuccess {
		return domain.ClassError
	}

	// 2. Маркер клиентской сессии — консольная запись
	if rec.Kind == domain.RecordKindConsole {
		return domain.ClassConsole
	}

	// 3. Наличие HTTP-метода: запрос без статуса, ответ со статусом
	if rec.Method != "" {
		if rec.Status == 0 {
			return domain.ClassAPIRequest
		}
		return domain.ClassAPIResponse
	}

	// 4. Словарь действий
	action := strings.ToLower(rec.Action)
	for _, w := range navigationWords {
		if strings.Contains(action, w) {
			return domain.ClassNavigation
		}
	}
	for _, w := range clickWords {
		if strings.Contains(action, w) {
			return domain.ClassClick
		}
	}

	// 5. Дефолт
	return domain.ClassAPIRequest
}

// StatusSeverity — градация по стандартным диапазонам кодов.
// Без кода ответа событие считается информационным.
func StatusSeverity(status int) domain.Severity {
	switch {
	case status == 0:
		return domain.SeverityInfo
	case status < 300:
		return domain.SeveritySuccess
	case status < 400:
		return domain.SeverityInfo
	case status < 500:
		return domain.SeverityWarning
	default:
		return domain.SeverityError
	}
}

// sortEventsAsc — события по возрастанию времени (для оконной математики).
func sortEventsAsc(events []domain.TimelineEvent) {
	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}
