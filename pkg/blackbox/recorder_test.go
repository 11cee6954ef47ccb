package blackbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/blackbox-pipeline/internal/domain"
)

// fakeCollector принимает пачки и складывает их для проверок.
type fakeCollector struct {
	mu      sync.Mutex
	batches []domain.ShipmentBatch
	fail    bool
	srv     *httptest.Server
}

func newFakeCollector(t *testing.T) *fakeCollector {
	t.Helper()
	fc := &fakeCollector{}
	fc.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fc.mu.Lock()
		defer fc.mu.Unlock()
		if fc.fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var b domain.ShipmentBatch
		if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fc.batches = append(fc.batches, b)
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(fc.srv.Close)
	return fc
}

func (fc *fakeCollector) setFail(v bool) {
	fc.mu.Lock()
	fc.fail = v
	fc.mu.Unlock()
}

func (fc *fakeCollector) received() []domain.ShipmentBatch {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	out := make([]domain.ShipmentBatch, len(fc.batches))
	copy(out, fc.batches)
	return out
}

func newTestRecorder(fc *fakeCollector, opts ...func(*Options)) *Recorder {
	o := Options{
		CollectorURL:  fc.srv.URL,
		UserID:        "42",
		UserName:      "tester",
		FlushInterval: time.Hour, // тикер не должен вмешиваться в тесты
		Logger:        zap.NewNop(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	return New(o)
}

func TestRecorder_MintsSessionOnce(t *testing.T) {
	fc := newFakeCollector(t)
	r := newTestRecorder(fc)

	s := r.Session()
	assert.NotEmpty(t, s.SessionID)
	assert.NotEmpty(t, r.TraceID())
	assert.NotEmpty(t, s.Meta.Hostname)
	assert.Equal(t, s.SessionID, r.Session().SessionID)
}

func TestRecorder_NoopBeforeStartAndAfterStop(t *testing.T) {
	fc := newFakeCollector(t)
	r := newTestRecorder(fc)

	r.Record(domain.LevelInfo, "dropped: not started")
	assert.Equal(t, 0, r.buf.Len())

	r.Start()
	r.Stop(context.Background())

	r.Record(domain.LevelInfo, "dropped: stopped")
	assert.Equal(t, 0, r.buf.Len())
}

func TestRecorder_StopFlushesRemainder(t *testing.T) {
	fc := newFakeCollector(t)
	r := newTestRecorder(fc)
	r.Start()

	r.Record(domain.LevelInfo, "one")
	r.Record(domain.LevelWarn, "two")
	r.Stop(context.Background())

	batches := fc.received()
	require.Len(t, batches, 1)
	require.Len(t, batches[0].Logs, 2)
	assert.Equal(t, "one", batches[0].Logs[0].Message)
	assert.Equal(t, r.Session().SessionID, batches[0].SessionID)
	assert.Equal(t, "tester", batches[0].UserName)
}

// Запись уровня error уходит немедленно вместе со всем накопленным.
func TestRecorder_ErrorTriggersImmediateFlush(t *testing.T) {
	fc := newFakeCollector(t)
	r := newTestRecorder(fc)
	r.Start()
	defer r.Stop(context.Background())

	r.Record(domain.LevelInfo, "log1")
	r.Record(domain.LevelInfo, "log2")
	r.Record(domain.LevelError, "boom")

	assert.Eventually(t, func() bool {
		batches := fc.received()
		if len(batches) == 0 {
			return false
		}
		total := 0
		for _, b := range batches {
			total += len(b.Logs)
		}
		return total == 3
	}, 2*time.Second, 10*time.Millisecond, "все три записи должны уехать одной волной, без тикера")
}

func TestRecorder_BufferCapTriggersFlush(t *testing.T) {
	fc := newFakeCollector(t)
	r := newTestRecorder(fc, func(o *Options) { o.BufferCap = 5 })
	r.Start()
	defer r.Stop(context.Background())

	for i := 0; i < 5; i++ {
		r.Record(domain.LevelInfo, "fill")
	}

	assert.Eventually(t, func() bool {
		return len(fc.received()) > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRecorder_MasksBeforeBuffering(t *testing.T) {
	fc := newFakeCollector(t)
	r := newTestRecorder(fc)
	r.Start()

	r.Record(domain.LevelInfo, "login with password=hunter2 ok")
	r.Stop(context.Background())

	batches := fc.received()
	require.Len(t, batches, 1)
	assert.NotContains(t, batches[0].Logs[0].Message, "hunter2")
}

// При отказе доставки пачка возвращается в буфер и доезжает
// при следующем сбросе.
func TestRecorder_RequeueOnDeliveryFailure(t *testing.T) {
	fc := newFakeCollector(t)
	r := newTestRecorder(fc)
	r.Start()

	fc.setFail(true)
	r.Record(domain.LevelInfo, "survivor")
	r.Flush(context.Background())
	assert.Equal(t, 1, r.buf.Len(), "пачка должна вернуться в буфер")
	assert.Empty(t, fc.received())

	fc.setFail(false)
	r.Stop(context.Background())

	batches := fc.received()
	require.Len(t, batches, 1)
	assert.Equal(t, "survivor", batches[0].Logs[0].Message)
}

// Запись на фоне остановки: внеочередные сбросы идут сигналом в
// flushLoop, поэтому гонки Record против Stop за WaitGroup нет.
func TestRecorder_ConcurrentRecordDuringStop(t *testing.T) {
	fc := newFakeCollector(t)
	r := newTestRecorder(fc)
	r.Start()

	stopWriters := make(chan struct{})
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stopWriters:
					return
				default:
					// error каждый раз дергает внеочередной сброс
					r.Record(domain.LevelError, "burst")
				}
			}
		}()
	}

	time.Sleep(10 * time.Millisecond)
	assert.NotPanics(t, func() { r.Stop(context.Background()) })
	close(stopWriters)
	wg.Wait()

	assert.NotEmpty(t, fc.received())
}

func TestRecorder_NetworkEntryLevel(t *testing.T) {
	fc := newFakeCollector(t)
	r := newTestRecorder(fc)
	r.Start()

	r.RecordNetwork(domain.NetworkEntry{Method: "GET", URL: "/ok", Status: 200, Timestamp: time.Now()})
	r.RecordNetwork(domain.NetworkEntry{Method: "GET", URL: "/broken", Status: 503, Timestamp: time.Now()})
	r.Stop(context.Background())

	var all []domain.LogEntry
	for _, b := range fc.received() {
		all = append(all, b.Logs...)
	}
	require.Len(t, all, 2)

	byURL := map[string]domain.LogLevel{}
	for _, e := range all {
		var ne domain.NetworkEntry
		require.NoError(t, json.Unmarshal([]byte(e.Message), &ne))
		byURL[ne.URL] = e.Level
	}
	assert.Equal(t, domain.LevelInfo, byURL["/ok"])
	assert.Equal(t, domain.LevelError, byURL["/broken"])
}
