// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package uart

import "sync"

// DefaultRingSize is the receive buffer size used by NewTransport
const DefaultRingSize = 1024

// RingBuffer is a fixed size receive buffer. One goroutine appends with
// Write while another drains it through the tuyamcu.ByteSource methods.
// Bytes that do not fit are dropped and counted.
type RingBuffer struct {
	mu      sync.Mutex
	buf     []byte
	head    int // index of the oldest byte
	size    int
	dropped uint64
}

// NewRingBuffer creates a ring buffer holding up to capacity bytes
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultRingSize
	}
	return &RingBuffer{buf: make([]byte, capacity)}
}

// Write appends p. It never fails; bytes beyond the free space are dropped.
func (r *RingBuffer) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, b := range p {
		if r.size == len(r.buf) {
			r.dropped++
			continue
		}
		r.buf[(r.head+r.size)%len(r.buf)] = b
		r.size++
	}
	return len(p), nil
}

// Buffered returns the number of bytes waiting
func (r *RingBuffer) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// PeekByte returns the byte at offset from the oldest byte. Offsets past
// the buffered data return 0.
func (r *RingBuffer) PeekByte(offset int) byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if offset < 0 || offset >= r.size {
		return 0
	}
	return r.buf[(r.head+offset)%len(r.buf)]
}

// Consume discards up to n bytes from the front
func (r *RingBuffer) Consume(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n = min(max(n, 0), r.size)
	r.head = (r.head + n) % len(r.buf)
	r.size -= n
}

// Cap returns the buffer capacity
func (r *RingBuffer) Cap() int {
	return len(r.buf)
}

// Dropped returns the number of bytes lost to overflow
func (r *RingBuffer) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Reset empties the buffer
func (r *RingBuffer) Reset() {
	r.mu.Lock()
	r.head = 0
	r.size = 0
	r.mu.Unlock()
}
