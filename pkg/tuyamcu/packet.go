// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tuyamcu

import "time"

// Packet represents a decoded TuyaMCU frame
type Packet struct {
	version   uint8
	command   uint8
	payload   []byte
	checksum  uint8
	timestamp time.Time
}

// NewPacket creates an outbound packet. Outbound frames always use version 0.
func NewPacket(command uint8, payload []byte) *Packet {
	return NewPacketWithVersion(VersionLowPower, command, payload)
}

// NewPacketWithVersion creates a packet with an explicit version byte, as an
// MCU would send it. The checksum is computed from the fields.
func NewPacketWithVersion(version, command uint8, payload []byte) *Packet {
	p := &Packet{
		version:   version,
		command:   command,
		payload:   append([]byte(nil), payload...),
		timestamp: time.Now(),
	}
	frame := p.Encode()
	p.checksum = frame[len(frame)-1]
	return p
}

// Version returns the protocol version byte
func (p *Packet) Version() uint8 {
	return p.version
}

// Command returns the command byte
func (p *Packet) Command() uint8 {
	return p.command
}

// Payload returns the payload bytes
func (p *Packet) Payload() []byte {
	return p.payload
}

// Length returns the payload length
func (p *Packet) Length() int {
	return len(p.payload)
}

// Checksum returns the frame checksum
func (p *Packet) Checksum() uint8 {
	return p.checksum
}

// Timestamp returns when the packet was decoded or created
func (p *Packet) Timestamp() time.Time {
	return p.timestamp
}

// IsLowPower reports whether the packet uses the version 0 dialect
func (p *Packet) IsLowPower() bool {
	return p.version == VersionLowPower
}
