package bridge

import (
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// frame собирает один кадр мультиплексированного потока демона.
func frame(stream byte, payload string) []byte {
	head := make([]byte, 8)
	head[0] = stream
	binary.BigEndian.PutUint32(head[4:], uint32(len(payload)))
	return append(head, payload...)
}

// fakeDaemon эмулирует Docker Engine API для /containers/{name}/logs.
func fakeDaemon(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(strings.Replace(srv.URL, "http://", "tcp://", 1), 200, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestNewClient_Schemes(t *testing.T) {
	_, err := NewClient("unix:///var/run/docker.sock", 0, zap.NewNop())
	assert.NoError(t, err)

	_, err = NewClient("tcp://127.0.0.1:2375", 0, zap.NewNop())
	assert.NoError(t, err)

	_, err = NewClient("ftp://nope", 0, zap.NewNop())
	assert.Error(t, err)
}

func TestTail_DemuxesFrames(t *testing.T) {
	c := fakeDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/containers/billing/logs")
		assert.Equal(t, "1", r.URL.Query().Get("stdout"))
		assert.Equal(t, "1", r.URL.Query().Get("stderr"))
		assert.Equal(t, "50", r.URL.Query().Get("tail"))

		w.Header().Set("Content-Type", "application/vnd.docker.multiplexed-stream")
		w.Write(frame(1, "stdout line one\n"))
		w.Write(frame(2, "stderr line two\n"))
		w.Write(frame(1, "stdout line three\n"))
	})

	lines, err := c.Tail(context.Background(), "billing", 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"stdout line one", "stderr line two", "stdout line three"}, lines)
}

func TestTail_RawStreamForTTY(t *testing.T) {
	c := fakeDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.docker.raw-stream")
		w.Write([]byte("raw one\nraw two\n"))
	})

	lines, err := c.Tail(context.Background(), "tty-app", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"raw one", "raw two"}, lines)
}

func TestTail_ErrorCategories(t *testing.T) {
	cases := map[int]Kind{
		http.StatusNotFound:            KindNotFound,
		http.StatusForbidden:           KindAccessDenied,
		http.StatusUnauthorized:        KindAccessDenied,
		http.StatusBadRequest:          KindBadRequest,
		http.StatusInternalServerError: KindTransport,
	}
	for status, want := range cases {
		c := fakeDaemon(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})

		_, err := c.Tail(context.Background(), "svc", 0)
		var be *BridgeError
		require.ErrorAs(t, err, &be, "status %d", status)
		assert.Equal(t, want, be.Kind, "status %d", status)
		assert.Equal(t, "svc", be.Service)
	}
}

func TestTail_TransportUnavailable(t *testing.T) {
	c, err := NewClient("tcp://127.0.0.1:1", 0, zap.NewNop())
	require.NoError(t, err)

	_, err = c.Tail(context.Background(), "svc", 0)
	var be *BridgeError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, KindTransport, be.Kind)
	assert.NotNil(t, errors.Unwrap(be))
}

func TestTail_EmptyServiceName(t *testing.T) {
	c, err := NewClient("tcp://127.0.0.1:2375", 0, zap.NewNop())
	require.NoError(t, err)

	_, err = c.Tail(context.Background(), "", 0)
	var be *BridgeError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, KindBadRequest, be.Kind)
}

func daemonLines(lines ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.docker.raw-stream")
		for _, l := range lines {
			w.Write([]byte(l + "\n"))
		}
	}
}

// Приоритет фильтров: один trace бьет набор, набор бьет полный хвост.
func TestLogs_FilterPrecedence(t *testing.T) {
	c := fakeDaemon(t, daemonLines(
		"ts1 trace=aaa handled request",
		"ts2 trace=bbb handled request",
		"ts3 no trace at all",
	))
	ctx := context.Background()

	out, err := c.Logs(ctx, "svc", "aaa", []string{"bbb"}, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Contains(t, out[0], "trace=aaa")

	out, err = c.Logs(ctx, "svc", "", []string{"aaa", "bbb"}, 0)
	require.NoError(t, err)
	assert.Len(t, out, 2)

	out, err = c.Logs(ctx, "svc", "", nil, 0)
	require.NoError(t, err)
	assert.Len(t, out, 3)
}

func TestFilterByAnyTrace_IgnoresEmptyIDs(t *testing.T) {
	lines := []string{"trace=aaa ok", "plain"}
	// Пустой trace-id в наборе не должен матчить все подряд
	assert.Equal(t, []string{"trace=aaa ok"}, FilterByAnyTrace(lines, []string{"", "aaa"}))
	assert.Empty(t, FilterByAnyTrace(lines, []string{""}))
}

func TestDemuxStream_TruncatedFrame(t *testing.T) {
	full := frame(1, "complete line\n")
	cut := frame(1, "this frame claims more bytes")
	cut = cut[:len(cut)-5] // обрываем payload

	lines := demuxStream(append(full, cut...))
	require.NotEmpty(t, lines)
	assert.Equal(t, "complete line", lines[0])
}

func TestBridgeError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	be := &BridgeError{Kind: KindTransport, Service: "svc", Cause: cause}
	assert.ErrorIs(t, be, cause)
	assert.Contains(t, be.Error(), "svc")
}
