// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tuyamcu

import (
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ByteSource is a buffered inbound byte stream, typically a UART receive
// ring buffer.
type ByteSource interface {
	// Buffered returns the number of bytes available.
	Buffered() int
	// PeekByte returns the byte at offset without consuming it.
	PeekByte(offset int) byte
	// Consume discards n bytes from the front.
	Consume(n int)
}

// Framer extracts complete frames from a ByteSource, resynchronizing on the
// 0x55 0xAA marker after noise.
type Framer struct {
	maxFrameSize int
	logger       logrus.FieldLogger
	stats        *Statistics

	// bytes of an oversized frame still to be dropped
	skip int
}

// NewFramer creates a framer that rejects frames longer than maxFrameSize.
// A nil stats gets a private tracker.
func NewFramer(maxFrameSize int, logger logrus.FieldLogger, stats *Statistics) *Framer {
	if maxFrameSize < MinFrameSize {
		maxFrameSize = DefaultMaxFrameSize
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if stats == nil {
		stats = NewStatistics()
	}
	return &Framer{maxFrameSize: maxFrameSize, logger: logger, stats: stats}
}

// MaxFrameSize returns the largest frame the framer will emit
func (f *Framer) MaxFrameSize() int {
	return f.maxFrameSize
}

// Next returns the next complete frame from src, or nil when more data is
// needed. At most one frame is produced per call.
//
// An oversized frame is reported once with an error wrapping ErrOversized.
// Its bytes are dropped as they arrive, so a frame larger than the source's
// capacity cannot stall the stream.
func (f *Framer) Next(src ByteSource) ([]byte, error) {
	if f.skip > 0 {
		n := min(f.skip, src.Buffered())
		src.Consume(n)
		f.skip -= n
		if f.skip > 0 {
			return nil, nil
		}
	}

	if src.Buffered() < MinFrameSize {
		return nil, nil
	}

	var garbage []byte
	for src.Buffered() >= MinFrameSize {
		if src.PeekByte(0) == HeaderByte1 && src.PeekByte(1) == HeaderByte2 {
			break
		}
		garbage = append(garbage, src.PeekByte(0))
		src.Consume(1)
	}
	if len(garbage) > 0 {
		f.stats.GarbageBytes += uint64(len(garbage))
		f.logger.WithField("bytes", len(garbage)).Warnf("discarded garbage: % X", garbage)
	}

	if src.Buffered() < MinFrameSize {
		return nil, nil
	}

	payloadLen := int(binary.BigEndian.Uint16([]byte{src.PeekByte(4), src.PeekByte(5)}))
	total := payloadLen + MinFrameSize

	if total > f.maxFrameSize {
		n := min(total, src.Buffered())
		src.Consume(n)
		f.skip = total - n
		err := fmt.Errorf("%w: %d bytes (max %d)", ErrOversized, total, f.maxFrameSize)
		f.stats.Update(err)
		f.logger.Warnf("dropped oversized frame: %v", err)
		return nil, err
	}

	if src.Buffered() < total {
		return nil, nil
	}

	frame := make([]byte, total)
	for i := range frame {
		frame[i] = src.PeekByte(i)
	}
	src.Consume(total)

	return frame, nil
}
