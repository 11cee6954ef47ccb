package bridge

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Selection — что именно смотрит оператор. Приоритет фильтров
// закреплен в Client.Logs: TraceID > Traces > без фильтра.
type Selection struct {
	Service string
	TraceID string
	Traces  []string
	Lines   int
}

// Snapshot — один результат опроса. Gen позволяет получателю
// отбросить устаревший снимок, если выбор уже сменился.
type Snapshot struct {
	Gen   uint64
	Lines []string
	Err   error
}

/*
Poller — опрос хвоста сервиса, пока открыт инспекторский вид.

Гонка «медленный ответ против нового выбора» решается явно, счетчиком
поколений: каждый Select инкрементирует gen и отменяет контекст
предыдущего цикла; снимок доставляется только если его поколение все
еще текущее (last-selection-wins). Stop вызывается, когда вид уходит
в фон — опрос полностью прекращается.
*/
type Poller struct {
	client   *Client
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc

	out chan Snapshot
}

func NewPoller(client *Client, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{
		client:   client,
		interval: interval,
		logger:   logger.Named("poller"),
		out:      make(chan Snapshot, 4),
	}
}

// Updates — канал снимков для активного вида.
func (p *Poller) Updates() <-chan Snapshot {
	return p.out
}

// Select меняет текущий выбор и перезапускает цикл опроса.
func (p *Poller) Select(sel Selection) {
	p.mu.Lock()
	p.gen++
	gen := p.gen
	if p.cancel != nil {
		p.cancel() // гасим предыдущий цикл вместе с его in-flight запросом
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.mu.Unlock()

	go p.loop(ctx, gen, sel)
}

// Stop прекращает опрос (вид ушел в фон).
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gen++ // все снимки в полете становятся устаревшими
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *Poller) loop(ctx context.Context, gen uint64, sel Selection) {
	// Первый опрос сразу, дальше по тикеру.
	p.poll(ctx, gen, sel)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.poll(ctx, gen, sel)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Poller) poll(ctx context.Context, gen uint64, sel Selection) {
	lines, err := p.client.Logs(ctx, sel.Service, sel.TraceID, sel.Traces, sel.Lines)

	p.mu.Lock()
	stale := gen != p.gen
	p.mu.Unlock()
	if stale || ctx.Err() != nil {
		return // выбор уже сменился, снимок никому не нужен
	}

	if err != nil {
		p.logger.Warn("bridge poll failed", zap.String("service", sel.Service), zap.Error(err))
	}

	select {
	case p.out <- Snapshot{Gen: gen, Lines: lines, Err: err}:
	default:
		// Получатель не успевает — пропускаем снимок, не копим очередь.
	}
}
