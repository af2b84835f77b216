// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package capture records raw UART traffic to a CBOR sequence file and
// plays it back.
//
// A capture file is a Header followed by Records, each encoded as one CBOR
// array. Records carry the offset from the start of the capture so replays
// can reproduce the original timing.
package capture

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Format identifies capture files
const Format = "tuyalink-capture"

// Version is the current capture format version
const Version = 1

// Direction of a captured chunk
type Direction uint8

const (
	// RX is MCU to module
	RX Direction = iota
	// TX is module to MCU
	TX
)

func (d Direction) String() string {
	switch d {
	case RX:
		return "RX"
	case TX:
		return "TX"
	default:
		return fmt.Sprintf("DIR(%d)", uint8(d))
	}
}

// encMode keeps sub-second precision in the header timestamp
var encMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("capture: cbor options: %v", err))
	}
	return em
}()

// ErrBadHeader is returned when a file does not start with a capture header
var ErrBadHeader = errors.New("not a capture file")

// Header opens every capture file
type Header struct {
	_        struct{} `cbor:",toarray"`
	Format   string
	Version  uint
	Started  time.Time
	Endpoint string
}

// Record is one chunk of traffic
type Record struct {
	_      struct{} `cbor:",toarray"`
	Offset time.Duration
	Dir    Direction
	Data   []byte
}

// Writer appends records to a capture. It is safe for concurrent use; the
// UART reader and the engine write from different goroutines.
type Writer struct {
	mu      sync.Mutex
	enc     *cbor.Encoder
	started time.Time
	now     func() time.Time
	count   int
}

// NewWriter writes a header for endpoint and returns a writer for records
func NewWriter(w io.Writer, endpoint string) (*Writer, error) {
	return newWriter(w, endpoint, time.Now)
}

func newWriter(w io.Writer, endpoint string, now func() time.Time) (*Writer, error) {
	cw := &Writer{
		enc:     encMode.NewEncoder(w),
		started: now(),
		now:     now,
	}
	h := Header{Format: Format, Version: Version, Started: cw.started, Endpoint: endpoint}
	if err := cw.enc.Encode(h); err != nil {
		return nil, fmt.Errorf("failed to write capture header: %w", err)
	}
	return cw, nil
}

// Write records one chunk
func (w *Writer) Write(dir Direction, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec := Record{Offset: w.now().Sub(w.started), Dir: dir, Data: data}
	if err := w.enc.Encode(rec); err != nil {
		return fmt.Errorf("failed to write capture record: %w", err)
	}
	w.count++
	return nil
}

// Count returns the number of records written
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Reader iterates a capture file
type Reader struct {
	dec    *cbor.Decoder
	header Header
}

// NewReader reads and checks the header
func NewReader(r io.Reader) (*Reader, error) {
	cr := &Reader{dec: cbor.NewDecoder(r)}
	if err := cr.dec.Decode(&cr.header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	if cr.header.Format != Format {
		return nil, fmt.Errorf("%w: format %q", ErrBadHeader, cr.header.Format)
	}
	if cr.header.Version > Version {
		return nil, fmt.Errorf("unsupported capture version %d", cr.header.Version)
	}
	return cr, nil
}

// Header returns the capture header
func (r *Reader) Header() Header {
	return r.header
}

// Next returns the next record, or io.EOF after the last one
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("failed to read capture record: %w", err)
	}
	return rec, nil
}

// ReadAll returns the remaining records
func (r *Reader) ReadAll() ([]Record, error) {
	var out []Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
