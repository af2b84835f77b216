// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package uart

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"
)

// PasswordEnv names the environment variable holding the bridge password
const PasswordEnv = "TUYA_PASSWORD"

// ErrConnectionClosed is returned when reading from a closed WebSocket connection
var ErrConnectionClosed = errors.New("websocket connection closed")

// ErrNoEndpoint is returned by Open when neither a port nor a URL is given
var ErrNoEndpoint = errors.New("either --port or --url must be specified")

// Connection is a byte link to the MCU, either a local serial port or a
// serial-over-WebSocket bridge.
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
	// SetBaudRate changes the link speed. Bridges that cannot change it
	// return nil.
	SetBaudRate(baud int) error
}

// SerialConnection wraps a serial port
type SerialConnection struct {
	port serial.Port
}

func (s *SerialConnection) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialConnection) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialConnection) Close() error {
	return s.port.Close()
}

// SetBaudRate reconfigures the port with 8N1 framing
func (s *SerialConnection) SetBaudRate(baud int) error {
	return s.port.SetMode(serialMode(baud))
}

// WebSocketConnection carries raw UART bytes in binary WebSocket messages
type WebSocketConnection struct {
	conn      *websocket.Conn
	buf       []byte
	bufOffset int
	closed    bool
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	if w.closed {
		return 0, ErrConnectionClosed
	}

	if w.bufOffset < len(w.buf) {
		n := copy(p, w.buf[w.bufOffset:])
		w.bufOffset += n
		return n, nil
	}

	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.closed = true
			return 0, err
		}

		// Bridges send status text alongside the UART stream
		if messageType != websocket.BinaryMessage {
			continue
		}

		w.buf = data
		n := copy(p, w.buf)
		w.bufOffset = n
		return n, nil
	}
}

func (w *WebSocketConnection) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocketConnection) Close() error {
	return w.conn.Close()
}

// SetBaudRate is a no-op; the bridge owns the UART configuration
func (w *WebSocketConnection) SetBaudRate(int) error {
	return nil
}

func serialMode(baud int) *serial.Mode {
	return &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// OpenSerialConnection opens a serial port at baudRate, 8N1
func OpenSerialConnection(portName string, baudRate int) (*SerialConnection, error) {
	port, err := serial.Open(portName, serialMode(baudRate))
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	return &SerialConnection{port: port}, nil
}

// OpenWebSocketConnection dials a serial bridge with optional HTTP Basic auth
func OpenWebSocketConnection(ctx context.Context, wsURL, username, password string, skipSSLVerify bool) (*WebSocketConnection, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return &WebSocketConnection{conn: conn}, nil
}

// GetPassword retrieves the bridge password from TUYA_PASSWORD or prompts
// on the terminal
func GetPassword() (string, error) {
	if pw := os.Getenv(PasswordEnv); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Not a terminal, read a line instead
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// Endpoint selects the MCU link. URL takes precedence over Port.
type Endpoint struct {
	Port          string
	BaudRate      int
	URL           string
	Username      string
	SkipSSLVerify bool
}

// String describes the endpoint for log lines and the TUI header
func (e Endpoint) String() string {
	if e.URL != "" {
		return fmt.Sprintf("WebSocket: %s", e.URL)
	}
	return fmt.Sprintf("Serial: %s @ %d baud", e.Port, e.BaudRate)
}

// Open connects to the endpoint. A username prompts for the password
// through GetPassword.
func Open(ctx context.Context, ep Endpoint) (Connection, error) {
	if ep.URL != "" {
		password := ""
		if ep.Username != "" {
			var err error
			if password, err = GetPassword(); err != nil {
				return nil, err
			}
		}
		conn, err := OpenWebSocketConnection(ctx, ep.URL, ep.Username, password, ep.SkipSSLVerify)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}

	if ep.Port != "" {
		conn, err := OpenSerialConnection(ep.Port, ep.BaudRate)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}

	return nil, ErrNoEndpoint
}
