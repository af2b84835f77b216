// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tuyamcu

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// EncodeFrame builds a version 0 frame for transmission to the MCU.
// Payloads longer than MaxPayloadSize are cut to MaxPayloadSize; builders
// that accept user data check the size first.
func EncodeFrame(command uint8, payload []byte) []byte {
	return EncodeFrameVersion(VersionLowPower, command, payload)
}

// EncodeFrameVersion builds a frame with an explicit version byte.
func EncodeFrameVersion(version, command uint8, payload []byte) []byte {
	if len(payload) > MaxPayloadSize {
		payload = payload[:MaxPayloadSize]
	}

	frame := make([]byte, HeaderSize, len(payload)+MinFrameSize)
	frame[0] = HeaderByte1
	frame[1] = HeaderByte2
	frame[2] = version
	frame[3] = command
	binary.BigEndian.PutUint16(frame[4:6], uint16(len(payload)))
	frame = append(frame, payload...)

	return append(frame, CalculateChecksum(frame))
}

// Encode returns the wire bytes of the packet.
func (p *Packet) Encode() []byte {
	return EncodeFrameVersion(p.version, p.command, p.payload)
}

// EncodeWithChecksum appends the additive checksum to caller supplied bytes.
// The bytes are sent as-is; no header is added.
func EncodeWithChecksum(raw []byte) []byte {
	out := make([]byte, 0, len(raw)+1)
	out = append(out, raw...)
	return append(out, CalculateChecksum(raw))
}

// ParseHex decodes a hex string, ignoring whitespace and an optional 0x
// prefix.
func ParseHex(s string) ([]byte, error) {
	s = strings.Join(strings.Fields(s), "")
	if i := strings.IndexAny(s, "xX"); i >= 0 {
		s = s[i+1:]
	}
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd number of hex digits in %q", s)
	}
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return data, nil
}
