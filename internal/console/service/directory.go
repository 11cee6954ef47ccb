package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/blackbox-pipeline/internal/domain"
	"github.com/xela07ax/blackbox-pipeline/internal/infra"
)

// DirectoryProvider — чтение данных для живого каталога.
type DirectoryProvider interface {
	FetchRecent(ctx context.Context, limit int) ([]domain.Record, error)
	ListOperatorIDs(ctx context.Context) ([]string, error)
}

/*
DirectoryService — живой каталог сессий.

Каталог — проекция, не источник правды: на каждом обновлении карточки
пересобираются целиком из последних N строк лога. Статус карточки
никогда не хранится — пересчитывается от текущего момента при каждом
снимке. Latency — намеренно дешевое сглаживание round((old+new)/2),
сохранено как есть ради поведенческой совместимости (это не честное
скользящее среднее: поздние замеры весят больше, и это осознанно).
*/
type DirectoryService struct {
	repo   DirectoryProvider
	cfg    infra.DirectoryConfig
	logger *zap.Logger

	mu    sync.RWMutex
	cards []domain.SessionCard

	subMu sync.Mutex
	subs  []chan []domain.SessionCard
}

func NewDirectoryService(repo DirectoryProvider, cfg infra.DirectoryConfig, logger *zap.Logger) *DirectoryService {
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 200
	}
	if cfg.MaxCards <= 0 {
		cfg.MaxCards = 15
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 10 * time.Second
	}
	return &DirectoryService{
		repo:   repo,
		cfg:    cfg,
		logger: logger.Named("directory"),
	}
}

// Run — периодическое обновление каталога. Блокируется до отмены
// контекста; запускается отдельной горутиной из main.
func (s *DirectoryService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()

	// Первый снимок сразу, не дожидаясь тикера.
	if err := s.Refresh(ctx); err != nil {
		s.logger.Warn("initial directory refresh failed", zap.Error(err))
	}

	for {
		select {
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				s.logger.Warn("directory refresh failed", zap.Error(err))
				continue
			}
			s.broadcast()
		case <-ctx.Done():
			s.closeSubs()
			return
		}
	}
}

// Refresh пересобирает карточки из свежих строк.
func (s *DirectoryService) Refresh(ctx context.Context) error {
	records, err := s.repo.FetchRecent(ctx, s.cfg.SampleSize)
	if err != nil {
		return fmt.Errorf("directory: failed to fetch recent records: %w", err)
	}

	operators, err := s.repo.ListOperatorIDs(ctx)
	if err != nil {
		return fmt.Errorf("directory: failed to list operators: %w", err)
	}
	opSet := make(map[string]struct{}, len(operators))
	for _, id := range operators {
		opSet[id] = struct{}{}
	}

	cards := BuildCards(records, opSet, s.cfg.MaxCards)

	s.mu.Lock()
	s.cards = cards
	s.mu.Unlock()
	return nil
}

// Snapshot возвращает карточки со статусами, пересчитанными на сейчас.
func (s *DirectoryService) Snapshot() []domain.SessionCard {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	out := make([]domain.SessionCard, len(s.cards))
	for i, c := range s.cards {
		c.Status = domain.StatusFor(c.LastActivity, now)
		out[i] = c
	}
	return out
}

// Subscribe — канал для live-фида (websocket). Каждое обновление
// каталога прилетает всем подписчикам; медленный подписчик пропускает
// снимки, а не тормозит остальных. Вторым значением возвращается
// отписка: хэндлер обязан вызвать ее на выходе, иначе канал ушедшего
// клиента останется в списке рассылки навсегда. Повторный вызов
// отписки безопасен, как и вызов после closeSubs.
func (s *DirectoryService) Subscribe() (<-chan []domain.SessionCard, func()) {
	ch := make(chan []domain.SessionCard, 4)
	s.subMu.Lock()
	s.subs = append(s.subs, ch)
	s.subMu.Unlock()

	unsubscribe := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		for i, sub := range s.subs {
			if sub == ch {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, unsubscribe
}

func (s *DirectoryService) broadcast() {
	snap := s.Snapshot()
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (s *DirectoryService) closeSubs() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		close(ch)
	}
	s.subs = nil
}

// BuildCards группирует строки по разрешенной идентичности и собирает
// карточки. records отсортированы по убыванию времени.
//
// Разрешение идентичности: проверенное имя > числовая метка по user_id.
// Строки без того и другого (анонимный трафик) в каталог не попадают,
// как и строки операторов.
func BuildCards(records []domain.Record, operators map[string]struct{}, maxCards int) []domain.SessionCard {
	type group struct {
		card domain.SessionCard
	}
	groups := make(map[string]*group)
	order := []string{}

	for _, rec := range records {
		if _, isOp := operators[rec.UserID]; isOp {
			continue
		}

		name := resolveIdentity(rec)
		if name == "" {
			continue
		}

		g, ok := groups[name]
		if !ok {
			g = &group{card: domain.SessionCard{
				SessionID:    rec.SessionID,
				UserName:     name,
				LastActivity: rec.Timestamp,
			}}
			groups[name] = g
			order = append(order, name)
		}

		g.card.RequestCount++
		if rec.Timestamp.After(g.card.LastActivity) {
			g.card.LastActivity = rec.Timestamp
			g.card.SessionID = rec.SessionID
		}
		if !rec.IsSuccess || rec.Status >= 400 {
			g.card.ErrorCount++
		}
		if rec.DurationMs > 0 {
			if g.card.LatencyMs == 0 {
				g.card.LatencyMs = rec.DurationMs
			} else {
				// Дешевое сглаживание, сохранено поведенчески как есть.
				g.card.LatencyMs = (g.card.LatencyMs + rec.DurationMs + 1) / 2
			}
		}
	}

	now := time.Now()
	cards := make([]domain.SessionCard, 0, len(groups))
	for _, name := range order {
		c := groups[name].card
		c.Status = domain.StatusFor(c.LastActivity, now)
		cards = append(cards, c)
	}

	// Самые свежие группы — первыми; размер каталога ограничен.
	sort.Slice(cards, func(i, j int) bool {
		return cards[i].LastActivity.After(cards[j].LastActivity)
	})
	if len(cards) > maxCards {
		cards = cards[:maxCards]
	}
	return cards
}

func resolveIdentity(rec domain.Record) string {
	if rec.UserName != "" {
		return rec.UserName
	}
	if _, err := strconv.ParseInt(rec.UserID, 10, 64); err == nil && rec.UserID != "" {
		return "user#" + rec.UserID
	}
	return ""
}
