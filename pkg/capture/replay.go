// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package capture

import (
	"errors"
	"io"
	"sync"
	"time"
)

// ErrClosed is returned by reads after Close
var ErrClosed = errors.New("replay closed")

// ReplayConnection plays back the RX records of a capture as a byte
// stream. Writes are accepted and kept for inspection. It satisfies
// uart.Connection.
type ReplayConnection struct {
	records []Record
	speed   float64

	next    int
	pending []byte
	start   time.Time

	closeOnce sync.Once
	closed    chan struct{}

	mu     sync.Mutex
	writes [][]byte
}

// NewReplayConnection replays records. speed scales the recorded timing;
// 0 replays as fast as the reader consumes.
func NewReplayConnection(records []Record, speed float64) *ReplayConnection {
	return &ReplayConnection{
		records: records,
		speed:   speed,
		closed:  make(chan struct{}),
	}
}

// Read blocks until the next RX record is due and returns its bytes. It
// returns io.EOF after the last record.
func (c *ReplayConnection) Read(p []byte) (int, error) {
	if len(c.pending) > 0 {
		n := copy(p, c.pending)
		c.pending = c.pending[n:]
		return n, nil
	}
	if c.start.IsZero() {
		c.start = time.Now()
	}

	for c.next < len(c.records) {
		rec := c.records[c.next]
		c.next++
		if rec.Dir != RX || len(rec.Data) == 0 {
			continue
		}
		if err := c.wait(rec.Offset); err != nil {
			return 0, err
		}
		n := copy(p, rec.Data)
		c.pending = rec.Data[n:]
		return n, nil
	}
	return 0, io.EOF
}

func (c *ReplayConnection) wait(offset time.Duration) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	if c.speed <= 0 {
		return nil
	}

	due := c.start.Add(time.Duration(float64(offset) / c.speed))
	d := time.Until(due)
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-c.closed:
		return ErrClosed
	}
}

// Write records p
func (c *ReplayConnection) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), p...))
	return len(p), nil
}

// Writes returns the chunks written so far
func (c *ReplayConnection) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

// SetBaudRate is a no-op
func (c *ReplayConnection) SetBaudRate(int) error {
	return nil
}

// Close stops a pending Read
func (c *ReplayConnection) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}
