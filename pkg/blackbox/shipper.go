package blackbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/xela07ax/blackbox-pipeline/internal/domain"
)

// TraceHeader — заголовок, через который trace-id доезжает до сервера.
const TraceHeader = "X-Trace-ID"

const ingestPath = "/v1/ingest"

/*
Shipper — двухканальная доставка пачек в коллектор.

Канал 1 («beacon»): одноразовый POST с коротким таймаутом и закрытием
соединения. Ничего не ждет и не повторяет — его задача успеть уйти даже
при сворачивании процесса (аналог unload-safe доставки).

Канал 2 («keepalive»): обычный клиент с keep-alive, обернутый в retry с
бэкоффом и circuit breaker. Breaker здесь не для красоты: мертвый
коллектор не должен подвешивать завершение хост-приложения повторами.

Ship возвращает ошибку только если отказали ОБА канала — тогда рекордер
вернет пачку в буфер (at-least-once; дубликаты возможны, если сервер
принял пачку, а клиент не увидел подтверждение).
*/
type Shipper struct {
	url       string
	apiKey    string
	beacon    *http.Client
	keepalive *http.Client
	cb        *gobreaker.CircuitBreaker
	logger    *zap.Logger
}

func NewShipper(collectorURL, apiKey string, logger *zap.Logger) *Shipper {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "blackbox-shipper",
		MaxRequests: 2,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &Shipper{
		url:    collectorURL + ingestPath,
		apiKey: apiKey,
		beacon: &http.Client{
			Timeout:   2 * time.Second,
			Transport: &http.Transport{DisableKeepAlives: true},
		},
		keepalive: &http.Client{Timeout: 10 * time.Second},
		cb:        cb,
		logger:    logger.Named("shipper"),
	}
}

// Ship пытается доставить пачку: сначала beacon, затем keepalive
// с тем же payload.
func (s *Shipper) Ship(ctx context.Context, batch domain.ShipmentBatch) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("shipper: marshal batch: %w", err)
	}

	if err := s.send(ctx, s.beacon, batch.TraceID, body); err == nil {
		return nil
	} else {
		s.logger.Debug("beacon channel failed, falling back", zap.Error(err))
	}

	_, cbErr := s.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
		)
		return nil, r.Do(func() error {
			return s.send(ctx, s.keepalive, batch.TraceID, body)
		})
	})
	if cbErr != nil {
		return fmt.Errorf("shipper: both delivery channels failed: %w", cbErr)
	}
	return nil
}

func (s *Shipper) send(ctx context.Context, client *http.Client, traceID string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(TraceHeader, traceID)
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("collector returned HTTP %d", resp.StatusCode)
	}
	return nil
}
