package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/blackbox-pipeline/internal/domain"
	"github.com/xela07ax/blackbox-pipeline/internal/infra"
)

func TestStatusFor_Thresholds(t *testing.T) {
	now := time.Now()
	cases := map[time.Duration]domain.PresenceStatus{
		2 * time.Minute:  domain.StatusOnline,
		20 * time.Minute: domain.StatusIdle,
		2 * time.Hour:    domain.StatusOffline,
	}
	for age, want := range cases {
		assert.Equal(t, want, domain.StatusFor(now.Add(-age), now), "age %s", age)
	}

	// Границы: ровно на пороге статус уже следующий
	assert.Equal(t, domain.StatusIdle, domain.StatusFor(now.Add(-domain.OnlineThreshold), now))
	assert.Equal(t, domain.StatusOffline, domain.StatusFor(now.Add(-domain.IdleThreshold), now))
}

func TestBuildCards_GroupsAndCounts(t *testing.T) {
	now := time.Now()
	records := []domain.Record{
		{UserID: "1", UserName: "alice", SessionID: "sA", IsSuccess: true, DurationMs: 100, Timestamp: now},
		{UserID: "1", UserName: "alice", SessionID: "sA", IsSuccess: false, Status: 500, Timestamp: now.Add(-time.Minute)},
		{UserID: "1", UserName: "alice", SessionID: "sA", IsSuccess: true, Status: 404, Timestamp: now.Add(-2 * time.Minute)},
		{UserID: "2", UserName: "bob", SessionID: "sB", IsSuccess: true, Timestamp: now.Add(-10 * time.Minute)},
	}

	cards := BuildCards(records, nil, 15)
	require.Len(t, cards, 2)

	alice := cards[0] // свежее — первая
	assert.Equal(t, "alice", alice.UserName)
	assert.Equal(t, 3, alice.RequestCount)
	assert.Equal(t, 2, alice.ErrorCount, "ошибка = не-успех ИЛИ статус >= 400")
	assert.Equal(t, domain.StatusOnline, alice.Status)
	assert.True(t, alice.LastActivity.Equal(now))

	bob := cards[1]
	assert.Equal(t, "bob", bob.UserName)
	assert.Equal(t, domain.StatusIdle, bob.Status)
}

func TestBuildCards_IdentityResolution(t *testing.T) {
	now := time.Now()
	records := []domain.Record{
		// verified name / только числовой id / аноним / нечисловой id без имени
		{UserID: "7", UserName: "named", SessionID: "s1", IsSuccess: true, Timestamp: now},
		{UserID: "42", SessionID: "s2", IsSuccess: true, Timestamp: now},
		{UserID: "", UserName: "", SessionID: "s3", IsSuccess: true, Timestamp: now},
		{UserID: "abc", SessionID: "s4", IsSuccess: true, Timestamp: now},
	}

	cards := BuildCards(records, nil, 15)
	require.Len(t, cards, 2)

	names := map[string]bool{}
	for _, c := range cards {
		names[c.UserName] = true
	}
	assert.True(t, names["named"], "проверенное имя — как есть")
	assert.True(t, names["user#42"], "числовой id — синтетическая метка")
}

func TestBuildCards_SkipsOperators(t *testing.T) {
	now := time.Now()
	records := []domain.Record{
		{UserID: "1", UserName: "alice", SessionID: "s1", IsSuccess: true, Timestamp: now},
		{UserID: "99", UserName: "admin", SessionID: "s2", IsSuccess: true, Timestamp: now},
	}

	cards := BuildCards(records, map[string]struct{}{"99": {}}, 15)
	require.Len(t, cards, 1)
	assert.Equal(t, "alice", cards[0].UserName)
}

// Сглаживание латентности: целочисленное (old+new+1)/2 с округлением вверх.
func TestBuildCards_LatencySmoothing(t *testing.T) {
	now := time.Now()
	// records идут по убыванию времени: сперва 100ms, потом 205ms
	records := []domain.Record{
		{UserID: "1", UserName: "alice", SessionID: "s1", IsSuccess: true, DurationMs: 100, Timestamp: now},
		{UserID: "1", UserName: "alice", SessionID: "s1", IsSuccess: true, DurationMs: 205, Timestamp: now.Add(-time.Minute)},
	}

	cards := BuildCards(records, nil, 15)
	require.Len(t, cards, 1)
	// (100+205+1)/2 = 153
	assert.Equal(t, int64(153), cards[0].LatencyMs)

	// Нулевые длительности не разбавляют среднее
	records = append(records, domain.Record{
		UserID: "1", UserName: "alice", SessionID: "s1", IsSuccess: true, Timestamp: now.Add(-2 * time.Minute),
	})
	cards = BuildCards(records, nil, 15)
	assert.Equal(t, int64(153), cards[0].LatencyMs)
}

func TestBuildCards_CapsDirectorySize(t *testing.T) {
	now := time.Now()
	var records []domain.Record
	for i := 0; i < 40; i++ {
		records = append(records, domain.Record{
			UserID:    fmt.Sprintf("%d", i),
			UserName:  fmt.Sprintf("user-%02d", i),
			SessionID: fmt.Sprintf("s%d", i),
			IsSuccess: true,
			Timestamp: now.Add(-time.Duration(i) * time.Second),
		})
	}

	cards := BuildCards(records, nil, 15)
	require.Len(t, cards, 15)
	// Остаются самые свежие группы
	assert.Equal(t, "user-00", cards[0].UserName)
	assert.Equal(t, "user-14", cards[14].UserName)
}

func TestDirectoryService_RefreshAndSnapshot(t *testing.T) {
	now := time.Now()
	repo := &fakeRepo{
		records: []domain.Record{
			{UserID: "1", UserName: "alice", SessionID: "s1", IsSuccess: true, Timestamp: now},
		},
		operators: []string{"99"},
	}
	svc := NewDirectoryService(repo, infra.DirectoryConfig{}, zap.NewNop())

	require.NoError(t, svc.Refresh(context.Background()))
	snap := svc.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, domain.StatusOnline, snap[0].Status)
}

func TestDirectoryService_SlowSubscriberDoesNotBlock(t *testing.T) {
	repo := &fakeRepo{records: []domain.Record{
		{UserID: "1", UserName: "alice", SessionID: "s1", IsSuccess: true, Timestamp: time.Now()},
	}}
	svc := NewDirectoryService(repo, infra.DirectoryConfig{}, zap.NewNop())
	require.NoError(t, svc.Refresh(context.Background()))

	_, _ = svc.Subscribe() // подписчик, который никогда не читает

	done := make(chan struct{})
	go func() {
		// Буфер канала 4: пятый broadcast не должен зависнуть
		for i := 0; i < 10; i++ {
			svc.broadcast()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast заблокировался на медленном подписчике")
	}
}

// Ушедший клиент не должен оставлять свой канал в списке рассылки.
func TestDirectoryService_UnsubscribeRemovesChannel(t *testing.T) {
	repo := &fakeRepo{records: []domain.Record{
		{UserID: "1", UserName: "alice", SessionID: "s1", IsSuccess: true, Timestamp: time.Now()},
	}}
	svc := NewDirectoryService(repo, infra.DirectoryConfig{}, zap.NewNop())
	require.NoError(t, svc.Refresh(context.Background()))

	gone, unsubscribe := svc.Subscribe()
	stay, _ := svc.Subscribe()

	unsubscribe()

	// Канал ушедшего закрыт, а не брошен открытым
	_, ok := <-gone
	assert.False(t, ok, "канал отписанного подписчика должен быть закрыт")

	svc.subMu.Lock()
	assert.Len(t, svc.subs, 1, "отписка обязана убрать канал из списка")
	svc.subMu.Unlock()

	// Оставшийся подписчик продолжает получать снимки
	svc.broadcast()
	select {
	case snap := <-stay:
		require.Len(t, snap, 1)
	case <-time.After(time.Second):
		t.Fatal("оставшийся подписчик не получил снимок")
	}

	// Повторная отписка и отписка после closeSubs — no-op
	assert.NotPanics(t, func() {
		unsubscribe()
		svc.closeSubs()
		unsubscribe()
	})
}
