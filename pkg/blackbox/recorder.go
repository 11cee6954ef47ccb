package blackbox

/*
Recorder — «черный ящик» клиентского процесса. Собирает логи и сетевые
факты в собственный буфер и пачками отгружает их в коллектор.

Жизненный цикл: Uninitialized -> Active -> Stopped (атомарный флаг).
Сброс буфера инициируется тремя независимыми источниками — периодическим
тикером, переполнением буфера и немедленно при записи уровня error.
Все три обслуживает одна горутина flushLoop (внеочередные — сигналом
через буферизованный канал), поэтому конкурентный Record во время Stop
не гоняется с WaitGroup. Сброс пустого буфера является no-op, а сами
отгрузки сериализованы мьютексом.

Отказ доставки невидим для пользователя хост-приложения: пачка
возвращается в начало буфера (at-least-once, порядок сохранен), а сама
ошибка пишется через запасной логгер, который НЕ проходит через
CaptureCore — иначе получили бы бесконечную рекурсию захвата.
*/

import (
	"context"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/blackbox-pipeline/internal/domain"
	"github.com/xela07ax/blackbox-pipeline/pkg/blackbox/masking"
)

// Состояния рекордера.
const (
	stateUninitialized int32 = iota
	stateActive
	stateStopped
)

const (
	defaultFlushInterval = 10 * time.Second
	defaultBufferCap     = 100
)

type Options struct {
	CollectorURL string
	APIKey       string
	UserID       string
	UserName     string

	FlushInterval time.Duration // по умолчанию 10s
	BufferCap     int           // жесткий потолок буфера, по умолчанию 100

	// Logger — «оригинальный» логгер хоста (без CaptureCore).
	// Через него рекордер сообщает о собственных проблемах доставки.
	Logger *zap.Logger

	Meta domain.ClientMeta
}

type Recorder struct {
	opts     Options
	session  domain.Session
	traceID  string // session-default trace, чеканится один раз
	buf      *Buffer
	shipper  *Shipper
	fallback *zap.Logger

	state   int32
	done    chan struct{}
	flushCh chan struct{} // сигнал внеочередного сброса, обслуживает flushLoop
	wg      sync.WaitGroup
	flushMu sync.Mutex // отгрузки строго по одной
}

// New чеканит сессию и готовит рекордер. Фоновые задачи не стартуют
// до вызова Start.
func New(opts Options) *Recorder {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaultFlushInterval
	}
	if opts.BufferCap <= 0 {
		opts.BufferCap = defaultBufferCap
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	meta := opts.Meta
	if meta.Hostname == "" {
		meta.Hostname, _ = os.Hostname()
	}
	if meta.Platform == "" {
		meta.Platform = runtime.GOOS + "/" + runtime.GOARCH
	}

	return &Recorder{
		opts: opts,
		session: domain.Session{
			SessionID: uuid.New().String(),
			StartTime: time.Now(),
			Meta:      meta,
		},
		traceID:  uuid.New().String(),
		buf:      NewBuffer(),
		shipper:  NewShipper(opts.CollectorURL, opts.APIKey, opts.Logger),
		fallback: opts.Logger.Named("blackbox"),
		done:     make(chan struct{}),
		flushCh:  make(chan struct{}, 1),
	}
}

// Session возвращает иммутабельную сессию рекордера.
func (r *Recorder) Session() domain.Session { return r.session }

// TraceID — сессионный trace по умолчанию (для запросов без своего).
func (r *Recorder) TraceID() string { return r.traceID }

// Start переводит рекордер в Active и запускает периодический сброс.
func (r *Recorder) Start() {
	if !atomic.CompareAndSwapInt32(&r.state, stateUninitialized, stateActive) {
		return
	}
	r.wg.Add(1)
	go r.flushLoop()
}

// Record маскирует и буферизует запись. Уровень error и достижение
// потолка буфера запускают немедленный сброс, не дожидаясь тикера.
func (r *Recorder) Record(level domain.LogLevel, msg string) {
	if atomic.LoadInt32(&r.state) != stateActive {
		return
	}

	n := r.buf.Append(domain.LogEntry{
		Level:     level,
		Message:   masking.MaskString(msg),
		Timestamp: time.Now(),
	})

	if level == domain.LevelError || n >= r.opts.BufferCap {
		r.triggerFlush()
	}
}

// RecordNetwork кладет сетевой факт в тот же буфер, что и логи:
// единый путь буферизации и доставки для всех типов записей.
func (r *Recorder) RecordNetwork(e domain.NetworkEntry) {
	if atomic.LoadInt32(&r.state) != stateActive {
		return
	}

	level := domain.LevelInfo
	if e.Error != "" || e.Status >= 400 {
		level = domain.LevelError
	}

	n := r.buf.Append(domain.LogEntry{
		Level:     level,
		Message:   masking.MaskString(encodeNetworkEntry(e)),
		Timestamp: e.Timestamp,
	})

	if level == domain.LevelError || n >= r.opts.BufferCap {
		r.triggerFlush()
	}
}

// Flush атомарно подменяет буфер и пытается доставить снятую пачку.
// При полном отказе обоих каналов пачка возвращается в начало буфера.
func (r *Recorder) Flush(ctx context.Context) {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	batch := r.buf.SwapAndClear()
	if len(batch) == 0 {
		return
	}

	payload := domain.ShipmentBatch{
		TraceID:   r.traceID,
		SessionID: r.session.SessionID,
		UserID:    r.opts.UserID,
		UserName:  r.opts.UserName,
		Logs:      batch,
		Meta:      r.session.Meta,
	}

	if err := r.shipper.Ship(ctx, payload); err != nil {
		// Тихо для пользователя, но не для нас: запасной логгер
		// идет мимо CaptureCore, рекурсии захвата не будет.
		r.fallback.Warn("batch delivery failed, requeueing",
			zap.Int("batch_size", len(batch)),
			zap.Error(err),
		)
		r.buf.Requeue(batch)
	}
}

// Stop останавливает фоновые задачи и выполняет финальный сброс.
// После Stop рекордер мертв; Record становится no-op.
func (r *Recorder) Stop(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&r.state, stateActive, stateStopped) {
		return
	}
	close(r.done)
	r.wg.Wait()

	// Финальный сброс: вычитываем все, что осталось.
	r.Flush(ctx)
}

// triggerFlush будит flushLoop, не трогая его WaitGroup: конкурентный
// Record, заставший остановку, в худшем случае оставит сигнал без
// обработчика — его записи заберет финальный сброс в Stop.
func (r *Recorder) triggerFlush() {
	select {
	case r.flushCh <- struct{}{}:
	default: // сигнал уже стоит в очереди
	}
}

func (r *Recorder) flushLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Flush(context.Background())
		case <-r.flushCh:
			r.Flush(context.Background())
		case <-r.done:
			return
		}
	}
}
