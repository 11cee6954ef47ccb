package service

import (
	"context"
	"fmt"

	"github.com/xela07ax/blackbox-pipeline/internal/domain"
)

// StatsProvider — агрегаты из хранилища.
type StatsProvider interface {
	GetGlobalStats(ctx context.Context) (*domain.GlobalStats, error)
}

type StatsService struct {
	repo     StatsProvider
	presence *PresenceTracker
}

func NewStatsService(repo StatsProvider, presence *PresenceTracker) *StatsService {
	return &StatsService{repo: repo, presence: presence}
}

// GetGlobalStats дополняет агрегат из БД живым счетчиком подключенных.
func (s *StatsService) GetGlobalStats(ctx context.Context) (*domain.GlobalStats, error) {
	stats, err := s.repo.GetGlobalStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("stats_service: failed to fetch stats: %w", err)
	}
	stats.ConnectedUsers = s.presence.Count()
	return stats, nil
}
