package bridge

/*
Client — мост к логам контейнерного рантайма.

Docker Engine API — обычный HTTP поверх unix-сокета (или TCP), поэтому
никакой SDK не нужен: GET /containers/{name}/logs с демультиплексацией
мультиплексированного потока (8-байтовые заголовки кадров stdout/stderr).

Коды ответа демона раскладываются в типизированные категории BridgeError:
404 — сервис не найден, 403 — доступ запрещен, 400 — кривой запрос,
сетевые сбои — транспорт недоступен.
*/

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const apiVersion = "v1.43"

type Client struct {
	http    *http.Client
	baseURL string
	tail    int
	logger  *zap.Logger
}

// NewClient принимает host вида unix:///var/run/docker.sock или
// tcp://127.0.0.1:2375.
func NewClient(host string, tailLines int, logger *zap.Logger) (*Client, error) {
	if tailLines <= 0 {
		tailLines = 200
	}

	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("bridge: invalid host %q: %w", host, err)
	}

	c := &Client{tail: tailLines, logger: logger.Named("bridge")}

	switch u.Scheme {
	case "unix":
		socketPath := u.Path
		c.baseURL = "http://docker"
		c.http = &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		}
	case "tcp", "http":
		c.baseURL = "http://" + u.Host
		c.http = &http.Client{Timeout: 10 * time.Second}
	default:
		return nil, fmt.Errorf("bridge: unsupported host scheme %q", u.Scheme)
	}

	return c, nil
}

// Tail возвращает последние lines строк лога сервиса (stdout+stderr,
// с таймстемпами демона).
func (c *Client) Tail(ctx context.Context, service string, lines int) ([]string, error) {
	if service == "" {
		return nil, &BridgeError{Kind: KindBadRequest, Service: service, Cause: fmt.Errorf("service name is empty")}
	}
	if lines <= 0 {
		lines = c.tail
	}

	reqURL := fmt.Sprintf("%s/%s/containers/%s/logs?stdout=1&stderr=1&timestamps=1&tail=%d",
		c.baseURL, apiVersion, url.PathEscape(service), lines)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &BridgeError{Kind: KindBadRequest, Service: service, Cause: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &BridgeError{Kind: KindTransport, Service: service, Cause: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, &BridgeError{Kind: KindNotFound, Service: service, Cause: fmt.Errorf("HTTP 404")}
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return nil, &BridgeError{Kind: KindAccessDenied, Service: service, Cause: fmt.Errorf("HTTP %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusBadRequest:
		return nil, &BridgeError{Kind: KindBadRequest, Service: service, Cause: fmt.Errorf("HTTP 400")}
	case resp.StatusCode >= 300:
		return nil, &BridgeError{Kind: KindTransport, Service: service, Cause: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &BridgeError{Kind: KindTransport, Service: service, Cause: err}
	}

	// TTY-контейнеры отдают сырой поток, остальные — кадрированный.
	if resp.Header.Get("Content-Type") == "application/vnd.docker.raw-stream" {
		return splitLines(string(body)), nil
	}
	return demuxStream(body), nil
}

// Logs — главная точка входа с приоритетом фильтров:
// один trace (точный) > набор trace пользователя (любой из) > весь хвост.
func (c *Client) Logs(ctx context.Context, service, traceID string, traces []string, lines int) ([]string, error) {
	all, err := c.Tail(ctx, service, lines)
	if err != nil {
		return nil, err
	}

	if traceID != "" {
		return FilterByTrace(all, traceID), nil
	}
	if len(traces) > 0 {
		return FilterByAnyTrace(all, traces), nil
	}
	return all, nil
}

// FilterByTrace — точный фильтр по одному идентификатору.
func FilterByTrace(lines []string, traceID string) []string {
	out := []string{}
	for _, l := range lines {
		if strings.Contains(l, traceID) {
			out = append(out, l)
		}
	}
	return out
}

// FilterByAnyTrace оставляет строки, содержащие ЛЮБОЙ из известных
// trace-id пользователя.
func FilterByAnyTrace(lines []string, traces []string) []string {
	out := []string{}
	for _, l := range lines {
		for _, t := range traces {
			if t != "" && strings.Contains(l, t) {
				out = append(out, l)
				break
			}
		}
	}
	return out
}

// demuxStream разбирает мультиплексированный поток Docker: каждый кадр
// начинается 8-байтовым заголовком [stream, 0, 0, 0, size(BE32)].
func demuxStream(data []byte) []string {
	var sb strings.Builder
	for len(data) >= 8 {
		size := binary.BigEndian.Uint32(data[4:8])
		data = data[8:]
		if uint32(len(data)) < size {
			// Обрезанный кадр — берем что есть
			sb.Write(data)
			break
		}
		sb.Write(data[:size])
		data = data[size:]
	}
	return splitLines(sb.String())
}

func splitLines(s string) []string {
	raw := strings.Split(strings.TrimRight(s, "\n"), "\n")
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}
