// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tuyamcu

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Decode validates one complete frame and returns its packet.
// The returned error wraps ErrTruncated, ErrBadSync, ErrLengthMismatch or
// ErrChecksum.
func Decode(frame []byte) (*Packet, error) {
	if len(frame) < MinFrameSize {
		return nil, fmt.Errorf("%w: %d bytes (min %d)", ErrTruncated, len(frame), MinFrameSize)
	}

	if frame[0] != HeaderByte1 || frame[1] != HeaderByte2 {
		return nil, fmt.Errorf("%w: got 0x%02X 0x%02X", ErrBadSync, frame[0], frame[1])
	}

	expected := int(binary.BigEndian.Uint16(frame[4:6])) + MinFrameSize
	if expected != len(frame) {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrLengthMismatch, expected, len(frame))
	}

	last := len(frame) - 1
	calculated := CalculateChecksum(frame[:last])
	if calculated != frame[last] {
		return nil, fmt.Errorf("%w: expected 0x%02X, got 0x%02X", ErrChecksum, calculated, frame[last])
	}

	return &Packet{
		version:   frame[2],
		command:   frame[3],
		payload:   append([]byte(nil), frame[HeaderSize:last]...),
		checksum:  frame[last],
		timestamp: time.Now(),
	}, nil
}
