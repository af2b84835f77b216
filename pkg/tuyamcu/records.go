// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tuyamcu

import (
	"encoding/binary"
	"fmt"
	"time"
)

// DataPoint is one {id, type, length, value} record from a status payload.
type DataPoint struct {
	ID    uint8
	Type  DataPointType
	Value []byte
}

// Int returns the value as an unsigned integer for 1 and 4 byte records.
// Four byte values are big-endian and wrap like a 32-bit signed integer.
func (dp DataPoint) Int() (int, bool) {
	switch len(dp.Value) {
	case 1:
		return int(dp.Value[0]), true
	case 4:
		return int(int32(binary.BigEndian.Uint32(dp.Value))), true
	default:
		return 0, false
	}
}

// RecordDate is the timestamp prefix of a low power record storage payload.
// It is reported as sent by the MCU and never applied to a clock.
type RecordDate struct {
	Valid                bool
	Year, Month, Day     int
	Hour, Minute, Second int
}

// Time converts the date to a time in the 2000s, UTC.
func (d RecordDate) Time() time.Time {
	return time.Date(2000+d.Year, time.Month(d.Month), d.Day, d.Hour, d.Minute, d.Second, 0, time.UTC)
}

func (d RecordDate) String() string {
	return fmt.Sprintf("valid=%t 20%02d-%02d-%02d %02d:%02d:%02d",
		d.Valid, d.Year, d.Month, d.Day, d.Hour, d.Minute, d.Second)
}

// ParseDataPoints splits a status payload into records.
//
// Iteration continues while at least 4 bytes remain; a shorter tail is
// ignored. A record whose declared length runs past the end of the payload
// stops iteration: the records before it are returned along with an error
// wrapping ErrRecordTruncated.
func ParseDataPoints(payload []byte) ([]DataPoint, error) {
	var points []DataPoint
	rest := payload
	for len(rest) >= recordHeaderSize {
		id := rest[0]
		dpType := DataPointType(rest[1])
		length := int(binary.BigEndian.Uint16(rest[2:4]))
		rest = rest[recordHeaderSize:]

		if length > len(rest) {
			return points, fmt.Errorf("%w: dpId %d declares %d bytes, %d remain",
				ErrRecordTruncated, id, length, len(rest))
		}

		points = append(points, DataPoint{ID: id, Type: dpType, Value: rest[:length]})
		rest = rest[length:]
	}
	return points, nil
}

// ParseRecordStorage parses a low power dialect status payload. When
// withDate is set the records are preceded by a 7 byte timestamp.
func ParseRecordStorage(payload []byte, withDate bool) (*RecordDate, []DataPoint, error) {
	if !withDate {
		points, err := ParseDataPoints(payload)
		return nil, points, err
	}

	if len(payload) < recordDateSize {
		return nil, nil, fmt.Errorf("%w: %d bytes, timestamp needs %d", ErrRecordTruncated, len(payload), recordDateSize)
	}

	date := &RecordDate{
		Valid:  payload[0] != 0,
		Year:   int(payload[1]),
		Month:  int(payload[2]),
		Day:    int(payload[3]),
		Hour:   int(payload[4]),
		Minute: int(payload[5]),
		Second: int(payload[6]),
	}
	points, err := ParseDataPoints(payload[recordDateSize:])
	return date, points, err
}

// EncodeDataPoint builds one record. Used for SetDP payloads.
func EncodeDataPoint(id uint8, dpType DataPointType, value []byte) []byte {
	out := make([]byte, recordHeaderSize, recordHeaderSize+len(value))
	out[0] = id
	out[1] = uint8(dpType)
	binary.BigEndian.PutUint16(out[2:4], uint16(len(value)))
	return append(out, value...)
}
