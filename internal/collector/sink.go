package collector

/*
Sink — высокопроизводительный приемник строк наблюдаемости.

Ключевые свойства:
- Non-blocking: вход через неблокирующий канал, задержки Postgres не
  влияют на время ответа ingest-эндпоинта.
- Batching: накопление в памяти и пакетная запись (Bulk Insert) по
  таймеру или при достижении лимита пачки.
- Drain Pattern: при остановке канал закрывается, воркер вычитывает
  остатки и делает финальный flush — потерь при перезагрузке нет.
- Load Shedding: при переполнении канала строка не блокирует вход,
  факт сброса пишется в обычный логгер.
*/

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/blackbox-pipeline/internal/domain"
)

// StorageInterface определяет, куда физически сохраняются строки
type StorageInterface interface {
	// WriteBatch сохраняет пачку строк за один раз
	WriteBatch(ctx context.Context, records []domain.Record) error
}

type Sink struct {
	ch      chan domain.Record
	repo    StorageInterface
	logger  *zap.Logger
	metrics *Metrics
	wg      sync.WaitGroup

	flushInterval time.Duration
	batchSize     int

	// Защита от Put после остановки. RLock на время отправки дешев
	// (Put неблокирующий), зато Stop закрывает канал строго после
	// того, как все начатые Put из него вышли.
	mu     sync.RWMutex
	closed bool
}

func NewSink(repo StorageInterface, metrics *Metrics, logger *zap.Logger, bufferSize, batchSize int, flushInterval time.Duration) *Sink {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 500 * time.Millisecond
	}
	return &Sink{
		ch:            make(chan domain.Record, bufferSize),
		repo:          repo,
		logger:        logger.With(zap.String("mod", "sink")),
		metrics:       metrics,
		flushInterval: flushInterval,
		batchSize:     batchSize,
	}
}

func (s *Sink) Start() {
	s.wg.Add(1)
	go s.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
// Эксклюзивный лок берется только после того, как все начатые Put
// отпустили свои RLock — окна «флаг увидели, канал уже закрыт» нет.
func (s *Sink) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true

	// Drain Pattern: завершение воркера — только через закрытие канала.
	s.logger.Info("stopping sink: closing channel and flushing buffer...")
	close(s.ch)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("sink stopped gracefully")
}

// Put принимает строку на запись. Никогда не блокирует вызывающего.
func (s *Sink) Put(rec domain.Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.logger.Warn("record dropped: sink is stopping", zap.String("id", rec.ID))
		return
	}

	select {
	case s.ch <- rec:
		s.metrics.SinkBufferFill.Set(float64(len(s.ch)))
	default:
		// Канал переполнен (Backpressure) — сбрасываем нагрузку,
		// но оставляем след в стандартном логгере.
		s.logger.Error("sink_buffer_overflow",
			zap.String("session_id", rec.SessionID),
			zap.String("trace_id", rec.TraceID),
		)
	}
}

func (s *Sink) worker() {
	defer s.wg.Done()

	batch := make([]domain.Record, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			// Background: основной контекст может быть уже закрыт
			if err := s.repo.WriteBatch(context.Background(), batch); err != nil {
				s.metrics.SinkFlushFailures.Inc()
				s.logger.Error("sink flush failed", zap.Error(err))
			}
			batch = batch[:0]
		}
	}

	for {
		select {
		case rec, ok := <-s.ch:
			if !ok {
				// Канал закрыт в Stop() — воркер сначала вычитал
				// остатки очереди, теперь финальный сброс и выход.
				flush()
				s.logger.Info("sink worker finished")
				return
			}
			batch = append(batch, rec)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
