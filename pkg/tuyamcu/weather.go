// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tuyamcu

import (
	"encoding/binary"
	"fmt"
)

// Weather value type tags
const (
	weatherTypeInt    = 0x00
	weatherTypeString = 0x01
)

// WeatherField is one key/value tuple from a WeatherData payload.
type WeatherField struct {
	Valid    bool
	Key      string
	IsString bool
	Int      int
	Str      string
}

func (w WeatherField) String() string {
	if w.IsString {
		return fmt.Sprintf("%s=%q", w.Key, w.Str)
	}
	return fmt.Sprintf("%s=%d", w.Key, w.Int)
}

// ParseWeatherData decodes {valid, keyLen, key, type, valueLen, value}
// tuples. Integers of 1, 2 or 4 bytes are big-endian; other sizes decode as
// 0. Parsing stops with ErrRecordTruncated at the first incomplete tuple.
func ParseWeatherData(payload []byte) ([]WeatherField, error) {
	var fields []WeatherField
	rest := payload
	for len(rest) > 0 {
		if len(rest) < 2 {
			return fields, fmt.Errorf("%w: weather tuple header", ErrRecordTruncated)
		}
		valid := rest[0] != 0
		keyLen := int(rest[1])
		rest = rest[2:]

		// key, type tag and value length
		if len(rest) < keyLen+2 {
			return fields, fmt.Errorf("%w: weather key of %d bytes", ErrRecordTruncated, keyLen)
		}
		key := string(rest[:keyLen])
		typeTag := rest[keyLen]
		valLen := int(rest[keyLen+1])
		rest = rest[keyLen+2:]

		if len(rest) < valLen {
			return fields, fmt.Errorf("%w: weather value %q of %d bytes", ErrRecordTruncated, key, valLen)
		}
		value := rest[:valLen]
		rest = rest[valLen:]

		field := WeatherField{Valid: valid, Key: key}
		if typeTag == weatherTypeString {
			field.IsString = true
			field.Str = string(value)
		} else {
			switch len(value) {
			case 1:
				field.Int = int(value[0])
			case 2:
				field.Int = int(binary.BigEndian.Uint16(value))
			case 4:
				field.Int = int(int32(binary.BigEndian.Uint32(value)))
			}
		}
		fields = append(fields, field)
	}
	return fields, nil
}

// EncodeWeatherField builds one weather tuple, as an MCU would request it.
func EncodeWeatherField(f WeatherField) []byte {
	out := []byte{0, uint8(len(f.Key))}
	if f.Valid {
		out[0] = 1
	}
	out = append(out, f.Key...)
	if f.IsString {
		out = append(out, weatherTypeString, uint8(len(f.Str)))
		return append(out, f.Str...)
	}
	var v [4]byte
	binary.BigEndian.PutUint32(v[:], uint32(int32(f.Int)))
	out = append(out, weatherTypeInt, 4)
	return append(out, v[:]...)
}
