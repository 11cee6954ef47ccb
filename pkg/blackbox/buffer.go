package blackbox

import (
	"sync"

	"github.com/xela07ax/blackbox-pipeline/internal/domain"
)

// Buffer — единственный владелец накопленных записей рекордера.
// Никакого глобального состояния: все мутации только через Append,
// SwapAndClear и Requeue под одним мьютексом. Это гарантирует, что
// записи, добавленные во время сериализации пачки, не теряются и не
// дублируются — swap-then-serialize, а не serialize-then-clear.
type Buffer struct {
	mu      sync.Mutex
	entries []domain.LogEntry
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

// Append добавляет запись и возвращает новую длину буфера —
// по ней рекордер решает, пора ли сбрасывать (backpressure).
func (b *Buffer) Append(e domain.LogEntry) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, e)
	return len(b.entries)
}

// SwapAndClear атомарно забирает все накопленное и оставляет пустой
// буфер. Конкурентные Append во время сетевого I/O попадут уже в новый.
func (b *Buffer) SwapAndClear() []domain.LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.entries
	b.entries = nil
	return out
}

// Requeue возвращает неотправленную пачку В НАЧАЛО живого буфера,
// сохраняя исходный порядок. Вызывается при полном отказе доставки.
func (b *Buffer) Requeue(batch []domain.LogEntry) {
	if len(batch) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(batch, b.entries...)
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
