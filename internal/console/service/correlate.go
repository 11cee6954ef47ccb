package service

/*
CorrelationService — алгоритмическое сердце инспектора.

Задача: по выбранному событию таймлайна собрать все логи (клиентские,
серверные, контейнерные), которые правдоподобно относятся к тому же
действию пользователя. Там, где у события есть свой trace-id, работает
точный путь (exact-match по идентификатору). Для сессионных клиентских
логов, не привязанных к одному запросу, работает временное окно:

  windowStart = выбранное.ts - Lookback   (асинхронная работа успевает
                                           логировать ДО завершения вызова)
  windowEnd   = следующее_по_времени.ts + TrailingBuffer
                либо, если событие самое свежее,
                выбранное.ts + Lookahead

Правило деградации: пустое окно — это свидетельство сбоя корреляции
(рассинхрон часов, потерянные идентификаторы), а не отсутствия логов.
Показать оператору все — меньшее зло, чем показать ничего.
*/

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/blackbox-pipeline/internal/domain"
	"github.com/xela07ax/blackbox-pipeline/internal/infra"
)

// CorrelationProvider — чтение строк для корреляции.
type CorrelationProvider interface {
	FetchWindow(ctx context.Context, sessionID, kind string, from, to time.Time) ([]domain.Record, error)
	FetchByTrace(ctx context.Context, traceID string) ([]domain.Record, error)
}

// ContainerTailer — опциональный источник контейнерных логов.
type ContainerTailer interface {
	Logs(ctx context.Context, service, traceID string, traces []string, lines int) ([]string, error)
}

type CorrelationService struct {
	repo   CorrelationProvider
	bridge ContainerTailer
	cfg    infra.CorrelationConfig
	logger *zap.Logger
}

func NewCorrelationService(repo CorrelationProvider, bridge ContainerTailer, cfg infra.CorrelationConfig, logger *zap.Logger) *CorrelationService {
	return &CorrelationService{
		repo:   repo,
		bridge: bridge,
		cfg:    cfg,
		logger: logger.Named("correlate"),
	}
}

// ComputeWindow — чистая оконная математика. events отсортированы по
// возрастанию времени, selected — индекс выбранного события.
func ComputeWindow(events []domain.TimelineEvent, selected int, cfg infra.CorrelationConfig) domain.CorrelationWindow {
	sel := events[selected]
	w := domain.CorrelationWindow{Start: sel.Timestamp.Add(-cfg.Lookback)}

	if selected+1 < len(events) {
		// Есть строго более новое событие: окно закрывается чуть позже
		// него, чтобы поймать хвостовые асинхронные логи.
		w.End = events[selected+1].Timestamp.Add(cfg.TrailingBuffer)
	} else {
		// Выбрано самое свежее событие — смотрим вперед на Lookahead.
		w.End = sel.Timestamp.Add(cfg.Lookahead)
	}
	return w
}

// Correlate собирает инспекторский бандл для события eventID сессии.
func (s *CorrelationService) Correlate(ctx context.Context, sessionID, eventID, containerService string) (*domain.CorrelationBundle, error) {
	// Полный набор строк сессии: он же — резерв для деградации.
	all, err := s.repo.FetchWindow(ctx, sessionID, "", time.Time{}, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("correlate: failed to fetch session records: %w", err)
	}

	events := make([]domain.TimelineEvent, 0, len(all))
	for _, rec := range all {
		events = append(events, EventFromRecord(rec))
	}
	sortEventsAsc(events)

	selected := -1
	for i := range events {
		if events[i].ID == eventID {
			selected = i
			break
		}
	}
	if selected == -1 {
		return nil, fmt.Errorf("correlate: event %s not found in session %s", eventID, sessionID)
	}

	window := ComputeWindow(events, selected, s.cfg)
	bundle := &domain.CorrelationBundle{Event: events[selected], Window: window}

	// Серверные логи: точный путь по trace-id, если он есть у события.
	if bundle.Event.TraceID != "" {
		traced, err := s.repo.FetchByTrace(ctx, bundle.Event.TraceID)
		if err != nil {
			s.logger.Warn("trace lookup failed, falling back to window", zap.Error(err))
		} else {
			for _, rec := range traced {
				if rec.Kind == domain.RecordKindAudit {
					bundle.ServerLogs = append(bundle.ServerLogs, rec)
				}
			}
		}
	}

	// Временное окно: клиентские логи всегда, серверные — если точный
	// путь ничего не дал.
	for _, rec := range all {
		// Выбранная строка уже лежит в bundle.Event — в окне она шум.
		if rec.ID == eventID || !window.Contains(rec.Timestamp) {
			continue
		}
		switch rec.Kind {
		case domain.RecordKindConsole, domain.RecordKindNetwork:
			bundle.ClientLogs = append(bundle.ClientLogs, rec)
		case domain.RecordKindAudit:
			if bundle.Event.TraceID == "" {
				bundle.ServerLogs = append(bundle.ServerLogs, rec)
			}
		}
	}

	// Деградация: ноль привязанных логов — возвращаем полный набор.
	if len(bundle.ClientLogs) == 0 && len(bundle.ServerLogs) == 0 {
		bundle.Degraded = true
		for _, rec := range all {
			switch rec.Kind {
			case domain.RecordKindConsole, domain.RecordKindNetwork:
				bundle.ClientLogs = append(bundle.ClientLogs, rec)
			case domain.RecordKindAudit:
				bundle.ServerLogs = append(bundle.ServerLogs, rec)
			}
		}
	}

	// Контейнерные логи — best effort, бандл без них валиден.
	if s.bridge != nil && containerService != "" {
		lines, err := s.bridge.Logs(ctx, containerService, bundle.Event.TraceID, nil, 0)
		if err != nil {
			s.logger.Warn("container tail failed", zap.String("service", containerService), zap.Error(err))
		} else {
			bundle.ContainerLogs = lines
		}
	}

	return bundle, nil
}
