// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tuyamcu

import (
	"fmt"
	"strconv"
	"strings"
)

// DataPointType is the declared value encoding of a data point.
type DataPointType uint8

// Wire data point types
const (
	DPTypeRaw    DataPointType = 0x00
	DPTypeBool   DataPointType = 0x01
	DPTypeValue  DataPointType = 0x02
	DPTypeString DataPointType = 0x03
	DPTypeEnum   DataPointType = 0x04
	DPTypeBitmap DataPointType = 0x05
)

// Vendor raw sub-formats. These never appear on the wire; they are bound
// locally to raw data points whose payload has a known fixed layout.
const (
	DPTypeRawDDS238            DataPointType = 200
	DPTypeRawTAC2121CVCP       DataPointType = 201
	DPTypeRawTAC2121CYesterday DataPointType = 202
	DPTypeRawTAC2121CLastMonth DataPointType = 203
)

var dataPointTypeNames = []struct {
	t     DataPointType
	name  string
	alias string
}{
	{DPTypeRaw, "raw", ""},
	{DPTypeBool, "bool", ""},
	{DPTypeValue, "val", "value"},
	{DPTypeString, "str", "string"},
	{DPTypeEnum, "enum", ""},
	{DPTypeBitmap, "bitmap", ""},
	{DPTypeRawDDS238, "RAW_DDS238", ""},
	{DPTypeRawTAC2121CVCP, "RAW_TAC2121C_VCP", ""},
	{DPTypeRawTAC2121CYesterday, "RAW_TAC2121C_Yesterday", ""},
	{DPTypeRawTAC2121CLastMonth, "RAW_TAC2121C_LastMonth", ""},
}

// String returns the name used by linkTuyaMCUOutputToChannel.
func (t DataPointType) String() string {
	for _, n := range dataPointTypeNames {
		if n.t == t {
			return n.name
		}
	}
	return fmt.Sprintf("type_%d", uint8(t))
}

// IsVendorRaw reports whether t is one of the vendor raw sub-formats.
func (t DataPointType) IsVendorRaw() bool {
	return t >= DPTypeRawDDS238 && t <= DPTypeRawTAC2121CLastMonth
}

// ParseDataPointType accepts a type name (case-insensitive) or an integer.
func ParseDataPointType(s string) (DataPointType, error) {
	s = strings.TrimSpace(s)
	for _, n := range dataPointTypeNames {
		if strings.EqualFold(s, n.name) || (n.alias != "" && strings.EqualFold(s, n.alias)) {
			return n.t, nil
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 || v > 0xFF {
		return 0, fmt.Errorf("%s is not a valid data point type", s)
	}
	return DataPointType(v), nil
}
