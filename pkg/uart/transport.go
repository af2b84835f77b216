// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package uart

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// Transport feeds a Connection into a RingBuffer from a reader goroutine
// and serializes writes. It satisfies tuyamcu.Transport.
type Transport struct {
	conn   Connection
	rx     *RingBuffer
	logger logrus.FieldLogger

	onReceive func([]byte)
	onWrite   func([]byte)

	wmu sync.Mutex

	once sync.Once
	done chan struct{}
	mu   sync.Mutex
	err  error
}

// TransportOption configures a Transport
type TransportOption func(*Transport)

// WithRingSize sets the receive buffer capacity
func WithRingSize(n int) TransportOption {
	return func(t *Transport) { t.rx = NewRingBuffer(n) }
}

// WithLogger sets the logger. Entries carry feature=UART.
func WithLogger(logger logrus.FieldLogger) TransportOption {
	return func(t *Transport) { t.logger = logger }
}

// WithReceiveObserver is called from the reader goroutine with every chunk
// read from the connection
func WithReceiveObserver(fn func([]byte)) TransportOption {
	return func(t *Transport) { t.onReceive = fn }
}

// WithWriteObserver is called with every chunk written successfully
func WithWriteObserver(fn func([]byte)) TransportOption {
	return func(t *Transport) { t.onWrite = fn }
}

// NewTransport wraps conn. Call Start to begin reading.
func NewTransport(conn Connection, opts ...TransportOption) *Transport {
	t := &Transport{
		conn: conn,
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.rx == nil {
		t.rx = NewRingBuffer(DefaultRingSize)
	}
	if t.logger == nil {
		t.logger = logrus.StandardLogger()
	}
	t.logger = t.logger.WithField("feature", "UART")
	return t
}

// Start launches the reader goroutine. It is safe to call more than once.
func (t *Transport) Start() {
	t.once.Do(func() { go t.readLoop() })
}

func (t *Transport) readLoop() {
	defer close(t.done)

	buf := make([]byte, 256)
	for {
		n, err := t.conn.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			before := t.rx.Dropped()
			t.rx.Write(chunk)
			if lost := t.rx.Dropped() - before; lost > 0 {
				t.logger.Warnf("receive buffer full, dropped %d bytes", lost)
			}
			if t.onReceive != nil {
				t.onReceive(append([]byte(nil), chunk...))
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.logger.Errorf("read failed: %v", err)
			}
			t.mu.Lock()
			t.err = err
			t.mu.Unlock()
			return
		}
	}
}

// Done is closed when the reader goroutine exits
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// Err returns the error that stopped the reader, if any
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Buffered implements tuyamcu.ByteSource
func (t *Transport) Buffered() int { return t.rx.Buffered() }

// PeekByte implements tuyamcu.ByteSource
func (t *Transport) PeekByte(offset int) byte { return t.rx.PeekByte(offset) }

// Consume implements tuyamcu.ByteSource
func (t *Transport) Consume(n int) { t.rx.Consume(n) }

// Dropped returns the number of received bytes lost to a full buffer
func (t *Transport) Dropped() uint64 { return t.rx.Dropped() }

// Write sends p to the MCU
func (t *Transport) Write(p []byte) (int, error) {
	t.wmu.Lock()
	defer t.wmu.Unlock()

	n, err := t.conn.Write(p)
	if err != nil {
		return n, fmt.Errorf("uart write: %w", err)
	}
	if t.onWrite != nil {
		t.onWrite(p[:n])
	}
	return n, nil
}

// SetBaudRate changes the link speed
func (t *Transport) SetBaudRate(baud int) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()

	if err := t.conn.SetBaudRate(baud); err != nil {
		return fmt.Errorf("uart baud %d: %w", baud, err)
	}
	t.logger.Debugf("baud rate set to %d", baud)
	return nil
}

// Close closes the connection, which stops the reader goroutine
func (t *Transport) Close() error {
	return t.conn.Close()
}
