// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tuyamcu

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Command builder functions create outbound packets (module → MCU).

// NewHeartbeat creates a HEARTBEAT packet (0x00).
// The MCU answers with 0x00 after a restart and 0x01 afterwards.
func NewHeartbeat() *Packet {
	return NewPacket(CmdHeartbeat, nil)
}

// NewQueryProduct creates a QUERY_PRODUCT packet (0x01).
// The reply carries a JSON product descriptor such as {"p":"...","v":"1.0.0"}.
func NewQueryProduct() *Packet {
	return NewPacket(CmdQueryProduct, nil)
}

// NewMCUConfQuery creates an MCU_CONF packet (0x02) asking for the working mode.
func NewMCUConfQuery() *Packet {
	return NewPacket(CmdMCUConf, nil)
}

// NewWiFiState creates a WIFI_STATE packet (0x03) reporting the module's
// network state. See the WiFiState* constants.
func NewWiFiState(state uint8) *Packet {
	return NewPacket(CmdWiFiState, []byte{state})
}

// NewQueryState creates a QUERY_STATE packet (0x08).
// The MCU answers with STATE packets listing every data point.
func NewQueryState() *Packet {
	return NewPacket(CmdQueryState, nil)
}

// NewRSSI creates a SET_RSSI packet (0x24) carrying the signal strength as a
// signed byte.
func NewRSSI(rssi int) *Packet {
	return NewPacket(CmdSetRSSI, []byte{byte(int8(rssi))})
}

// NewSetTime creates a SET_TIME packet (0x1C) for t in UTC.
// When ok is false the MCU is sent an all zero payload (time unknown).
func NewSetTime(t time.Time, ok bool) *Packet {
	payload := make([]byte, setTimePayloadSize)
	if ok {
		t = t.UTC()
		// Tuya counts weekdays from Monday = 1 to Sunday = 7
		weekday := int(t.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		payload[0] = 0x01
		payload[1] = byte(t.Year() % 100)
		payload[2] = byte(t.Month())
		payload[3] = byte(t.Day())
		payload[4] = byte(t.Hour())
		payload[5] = byte(t.Minute())
		payload[6] = byte(t.Second())
		payload[7] = byte(weekday)
	}
	return NewPacket(CmdSetTime, payload)
}

// NewSetDPBool creates a SET_DP packet (0x06) for a bool data point.
func NewSetDPBool(id uint8, value bool) *Packet {
	var b byte
	if value {
		b = 1
	}
	return NewPacket(CmdSetDP, EncodeDataPoint(id, DPTypeBool, []byte{b}))
}

// NewSetDPValue creates a SET_DP packet for an integer data point (4 bytes BE).
func NewSetDPValue(id uint8, value int) *Packet {
	var v [4]byte
	binary.BigEndian.PutUint32(v[:], uint32(int32(value)))
	return NewPacket(CmdSetDP, EncodeDataPoint(id, DPTypeValue, v[:]))
}

// NewSetDPEnum creates a SET_DP packet for an enum data point (1 byte).
func NewSetDPEnum(id uint8, value int) *Packet {
	return NewPacket(CmdSetDP, EncodeDataPoint(id, DPTypeEnum, []byte{byte(value)}))
}

// NewSetDPString creates a SET_DP packet for a string data point.
func NewSetDPString(id uint8, s string) (*Packet, error) {
	if len(s) > MaxPayloadSize-recordHeaderSize {
		return nil, fmt.Errorf("%w: string of %d bytes", ErrPayloadTooLarge, len(s))
	}
	return NewPacket(CmdSetDP, EncodeDataPoint(id, DPTypeString, []byte(s))), nil
}

// NewSetDPRaw creates a SET_DP packet for a raw data point.
func NewSetDPRaw(id uint8, data []byte) (*Packet, error) {
	if len(data) > MaxPayloadSize-recordHeaderSize {
		return nil, fmt.Errorf("%w: raw value of %d bytes", ErrPayloadTooLarge, len(data))
	}
	return NewPacket(CmdSetDP, EncodeDataPoint(id, DPTypeRaw, data)), nil
}

// NewSetDataPoint creates a SET_DP packet for an integer valued data point
// of the given type. Bool and enum use one byte; value and bitmap use four.
func NewSetDataPoint(id uint8, dpType DataPointType, value int) (*Packet, error) {
	switch dpType {
	case DPTypeBool:
		return NewSetDPBool(id, value != 0), nil
	case DPTypeEnum:
		return NewSetDPEnum(id, value), nil
	case DPTypeValue:
		return NewSetDPValue(id, value), nil
	case DPTypeBitmap:
		var v [4]byte
		binary.BigEndian.PutUint32(v[:], uint32(int32(value)))
		return NewPacket(CmdSetDP, EncodeDataPoint(id, DPTypeBitmap, v[:])), nil
	default:
		return nil, fmt.Errorf("%w: %s for dpId %d", ErrUnsupportedType, dpType, id)
	}
}
