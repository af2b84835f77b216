// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package uart

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/tuyalink/pkg/tuyamcu"
)

// chunkConn serves queued chunks and then io.EOF
type chunkConn struct {
	chunks chan []byte

	mu     sync.Mutex
	writes [][]byte
	baud   int
}

func newChunkConn(chunks ...[]byte) *chunkConn {
	c := &chunkConn{chunks: make(chan []byte, len(chunks))}
	for _, ch := range chunks {
		c.chunks <- ch
	}
	close(c.chunks)
	return c
}

func (c *chunkConn) Read(p []byte) (int, error) {
	chunk, ok := <-c.chunks
	if !ok {
		return 0, io.EOF
	}
	return copy(p, chunk), nil
}

func (c *chunkConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (c *chunkConn) Close() error { return nil }

func (c *chunkConn) SetBaudRate(baud int) error {
	c.baud = baud
	return nil
}

func newTestLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

func waitDone(t *testing.T, tr *Transport) {
	t.Helper()
	select {
	case <-tr.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("reader goroutine did not exit")
	}
}

func TestTransportFillsRing(t *testing.T) {
	var mu sync.Mutex
	var observed []byte

	conn := newChunkConn([]byte{0x55, 0xAA}, []byte{0x03, 0x00, 0x00, 0x01, 0x01, 0x04})
	tr := NewTransport(conn, WithLogger(newTestLogger()), WithReceiveObserver(func(b []byte) {
		mu.Lock()
		observed = append(observed, b...)
		mu.Unlock()
	}))
	tr.Start()
	tr.Start()
	waitDone(t, tr)

	assert.True(t, errors.Is(tr.Err(), io.EOF))
	assert.Equal(t, 8, tr.Buffered())

	mu.Lock()
	assert.Equal(t, []byte{0x55, 0xAA, 0x03, 0x00, 0x00, 0x01, 0x01, 0x04}, observed)
	mu.Unlock()

	// The engine framer reads straight from the transport
	frame, err := tuyamcu.NewFramer(0, newTestLogger(), nil).Next(tr)
	require.NoError(t, err)
	p, err := tuyamcu.Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, uint8(tuyamcu.CmdHeartbeat), p.Command())
	assert.Equal(t, 0, tr.Buffered())
}

func TestTransportOverflow(t *testing.T) {
	conn := newChunkConn(make([]byte, 10))
	tr := NewTransport(conn, WithLogger(newTestLogger()), WithRingSize(4))
	tr.Start()
	waitDone(t, tr)

	assert.Equal(t, 4, tr.Buffered())
	assert.Equal(t, uint64(6), tr.Dropped())
}

func TestTransportWriteAndBaud(t *testing.T) {
	var sent []byte
	conn := newChunkConn()
	tr := NewTransport(conn, WithLogger(newTestLogger()), WithWriteObserver(func(b []byte) {
		sent = append(sent, b...)
	}))

	n, err := tr.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, [][]byte{{1, 2, 3}}, conn.writes)
	assert.Equal(t, []byte{1, 2, 3}, sent)

	require.NoError(t, tr.SetBaudRate(115200))
	assert.Equal(t, 115200, conn.baud)
}

// ============================================================
// WebSocket bridge
// ============================================================

func newBridge(t *testing.T, handler func(*websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, pass, ok := r.BasicAuth(); ok && (user != "admin" || pass != "secret") {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		handler(c)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketConnection(t *testing.T) {
	url := newBridge(t, func(c *websocket.Conn) {
		_ = c.WriteMessage(websocket.TextMessage, []byte("bridge ready"))
		_ = c.WriteMessage(websocket.BinaryMessage, []byte{0x55, 0xAA, 0x03})
		_, msg, err := c.ReadMessage()
		if err == nil {
			_ = c.WriteMessage(websocket.BinaryMessage, msg)
		}
	})

	conn, err := OpenWebSocketConnection(context.Background(), url, "", "", false)
	require.NoError(t, err)
	defer conn.Close()

	// Text messages are skipped and partial reads are buffered
	buf := make([]byte, 2)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x55, 0xAA}, buf[:n])
	n, err = conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03}, buf[:n])

	_, err = conn.Write([]byte{0x01, 0x02})
	require.NoError(t, err)
	n, err = conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, buf[:n])

	assert.NoError(t, conn.SetBaudRate(9600))

	_, err = conn.Read(buf)
	assert.Error(t, err)
	_, err = conn.Read(buf)
	assert.True(t, errors.Is(err, ErrConnectionClosed))
}

func TestWebSocketBasicAuth(t *testing.T) {
	url := newBridge(t, func(*websocket.Conn) {})

	_, err := OpenWebSocketConnection(context.Background(), url, "admin", "wrong", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 401")

	conn, err := OpenWebSocketConnection(context.Background(), url, "admin", "secret", false)
	require.NoError(t, err)
	conn.Close()
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(context.Background(), Endpoint{})
	assert.True(t, errors.Is(err, ErrNoEndpoint))

	_, err = Open(context.Background(), Endpoint{URL: "http://example.com"})
	assert.ErrorContains(t, err, "unsupported URL scheme")
}

func TestEndpointString(t *testing.T) {
	assert.Equal(t, "Serial: /dev/ttyUSB0 @ 9600 baud", Endpoint{Port: "/dev/ttyUSB0", BaudRate: 9600}.String())
	assert.Equal(t, "WebSocket: ws://bridge/uart", Endpoint{URL: "ws://bridge/uart", Port: "/dev/ttyS0"}.String())
}
