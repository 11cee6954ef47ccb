package collector

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/blackbox-pipeline/internal/domain"
)

// memStorage копит записанные пачки в памяти.
type memStorage struct {
	mu      sync.Mutex
	records []domain.Record
	batches int
	err     error
}

func (m *memStorage) WriteBatch(_ context.Context, recs []domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, recs...)
	m.batches++
	return nil
}

func (m *memStorage) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func newTestSink(repo StorageInterface, bufferSize, batchSize int, interval time.Duration) *Sink {
	return NewSink(repo, NewMetrics(nil), zap.NewNop(), bufferSize, batchSize, interval)
}

func TestSink_BatchSizeFlush(t *testing.T) {
	st := &memStorage{}
	s := newTestSink(st, 100, 3, time.Hour) // тикер не участвует
	s.Start()

	for i := 0; i < 3; i++ {
		s.Put(domain.Record{ID: fmt.Sprintf("r%d", i), SessionID: "s1"})
	}

	assert.Eventually(t, func() bool { return st.count() == 3 }, 2*time.Second, 10*time.Millisecond)
	s.Stop()
}

func TestSink_TickerFlush(t *testing.T) {
	st := &memStorage{}
	s := newTestSink(st, 100, 1000, 20*time.Millisecond)
	s.Start()

	s.Put(domain.Record{ID: "lonely", SessionID: "s1"})

	// Пачка далека от лимита — доедет по таймеру
	assert.Eventually(t, func() bool { return st.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	s.Stop()
}

// Остановка не теряет ничего из очереди: drain вычитывает канал
// до конца и делает финальный сброс.
func TestSink_StopDrainsEverything(t *testing.T) {
	st := &memStorage{}
	s := newTestSink(st, 1000, 50, time.Hour)
	s.Start()

	const total = 500
	for i := 0; i < total; i++ {
		s.Put(domain.Record{ID: fmt.Sprintf("r%d", i), SessionID: "s1"})
	}
	s.Stop()

	assert.Equal(t, total, st.count())
}

func TestSink_PutAfterStopIsDropped(t *testing.T) {
	st := &memStorage{}
	s := newTestSink(st, 10, 5, time.Hour)
	s.Start()
	s.Stop()

	// Не должно паниковать на закрытом канале
	assert.NotPanics(t, func() {
		s.Put(domain.Record{ID: "late", SessionID: "s1"})
	})
	assert.Equal(t, 0, st.count())
}

// Put, стартовавший одновременно со Stop, либо успевает в канал, либо
// отбрасывается флагом — но никогда не попадает на закрытый канал.
func TestSink_ConcurrentPutDuringStop(t *testing.T) {
	st := &memStorage{}
	s := newTestSink(st, 1000, 50, time.Hour)
	s.Start()

	stopWriters := make(chan struct{})
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; ; i++ {
				select {
				case <-stopWriters:
					return
				default:
					s.Put(domain.Record{ID: fmt.Sprintf("w%d-r%d", w, i), SessionID: "s1"})
				}
			}
		}(w)
	}

	time.Sleep(5 * time.Millisecond)
	assert.NotPanics(t, s.Stop)
	close(stopWriters)
	wg.Wait()

	// Повторный Stop — no-op, а не паника на двойном close
	assert.NotPanics(t, s.Stop)
	assert.Greater(t, st.count(), 0)
}

func TestSink_OverflowDoesNotBlock(t *testing.T) {
	st := &memStorage{}
	// Воркер не запущен: канал емкостью 2 переполнится мгновенно
	s := newTestSink(st, 2, 100, time.Hour)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			s.Put(domain.Record{ID: fmt.Sprintf("r%d", i), SessionID: "s1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Put заблокировался на переполненном канале")
	}
}

func TestSink_FillsZeroTimestamp(t *testing.T) {
	st := &memStorage{}
	s := newTestSink(st, 10, 1, time.Hour)
	s.Start()

	s.Put(domain.Record{ID: "r1", SessionID: "s1"})
	s.Stop()

	require.Equal(t, 1, st.count())
	assert.False(t, st.records[0].Timestamp.IsZero())
}
