// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package tuyamcu implements the TuyaMCU serial protocol spoken between a
// WiFi module and a Tuya companion MCU.
//
// Frames on the wire are:
//
//	0x55 0xAA | version | command | length (BE16) | payload | checksum
//
// where checksum is the low byte of the sum of every preceding byte.
// This package provides frame extraction from a byte stream, packet encoding
// and decoding, data point record parsing, and an Engine that drives the
// heartbeat/query handshake and maps data points onto local channels.
package tuyamcu

// Protocol framing bytes
const (
	HeaderByte1 = 0x55
	HeaderByte2 = 0xAA
)

// Frame size limits
const (
	HeaderSize          = 6 // sync(2) + version + command + length(2)
	MinFrameSize        = 7 // header + checksum
	MaxPayloadSize      = 0xFFFF
	DefaultMaxFrameSize = 256
)

// Protocol versions (payload dialects)
const (
	VersionLowPower = 0x00 // battery devices, record storage dialect
	VersionStandard = 0x03
)

// Command codes
const (
	CmdHeartbeat    = 0x00
	CmdQueryProduct = 0x01
	CmdMCUConf      = 0x02
	CmdWiFiState    = 0x03
	CmdWiFiReset    = 0x04
	CmdWiFiSelect   = 0x05 // real-time status in the low power dialect
	CmdSetDP        = 0x06
	CmdState        = 0x07
	CmdQueryState   = 0x08 // record storage status in the low power dialect
	CmdSetTime      = 0x1C
	CmdWeatherData  = 0x21
	CmdSetRSSI      = 0x24
)

// WiFi state codes reported to the MCU
const (
	WiFiStateSmartConfig  = 0x00
	WiFiStateAPConfig     = 0x01
	WiFiStateNotConnected = 0x02
	WiFiStateConnected    = 0x03
	WiFiStateCloud        = 0x04
	WiFiStateLowPower     = 0x05
)

// Handshake timing, counted in engine ticks
const (
	HeartbeatInterval     = 3
	MaxMissedHeartbeats   = 4
	WiFiStateRefreshTicks = 60
	MaxFramesPerTick      = 16
	DefaultTaskQueueSize  = 32
	DefaultBaudRate       = 9600
)

// SetTime payload layout
const (
	setTimePayloadSize = 8
	recordDateSize     = 7 // valid flag, yy, mm, dd, hh, mi, ss
	recordHeaderSize   = 4 // id, type, length(2)
)
