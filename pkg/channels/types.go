// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package channels provides the integer channel store that TuyaMCU data
// points are mapped onto.
//
// A channel is an index with an integer value and a semantic type. The type
// tells consumers how to interpret the value (a 0-100 dimmer, a voltage in
// tenths of a volt, and so on). The store notifies subscribers whenever a
// value actually changes.
package channels

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxChannels is the number of addressable channels.
const MaxChannels = 64

// Type is the semantic type of a channel.
type Type uint8

// Channel types
const (
	TypeDefault Type = iota
	TypeToggle
	TypeDimmer
	TypeDimmer256
	TypeDimmer1000
	TypeVoltageDiv10
	TypeCurrentDiv1000
	TypePower
	TypeFrequencyDiv100
	TypeTemperatureDiv10
	TypeHumidity
	TypeReadOnly
)

var typeNames = map[Type]string{
	TypeDefault:          "default",
	TypeToggle:           "toggle",
	TypeDimmer:           "dimmer",
	TypeDimmer256:        "dimmer256",
	TypeDimmer1000:       "dimmer1000",
	TypeVoltageDiv10:     "voltage_div10",
	TypeCurrentDiv1000:   "current_div1000",
	TypePower:            "power",
	TypeFrequencyDiv100:  "frequency_div100",
	TypeTemperatureDiv10: "temperature_div10",
	TypeHumidity:         "humidity",
	TypeReadOnly:         "readonly",
}

// String returns the configuration name of the type
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type_%d", uint8(t))
}

// ParseType parses a type name (case-insensitive) or its numeric value.
func ParseType(s string) (Type, error) {
	s = strings.TrimSpace(s)
	for t, name := range typeNames {
		if strings.EqualFold(name, s) {
			return t, nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil {
		if _, ok := typeNames[Type(n)]; ok {
			return Type(n), nil
		}
	}
	return TypeDefault, fmt.Errorf("unknown channel type %q", s)
}

// Scale returns the divisor used to present a raw channel value in its
// natural unit, or 1 when the value is used as-is.
func (t Type) Scale() int {
	switch t {
	case TypeVoltageDiv10, TypeTemperatureDiv10:
		return 10
	case TypeFrequencyDiv100:
		return 100
	case TypeCurrentDiv1000:
		return 1000
	default:
		return 1
	}
}

// FormatValue renders a channel value in its natural unit.
func (t Type) FormatValue(v int) string {
	switch t {
	case TypeVoltageDiv10:
		return fmt.Sprintf("%.1f V", float64(v)/10)
	case TypeCurrentDiv1000:
		return fmt.Sprintf("%.3f A", float64(v)/1000)
	case TypePower:
		return fmt.Sprintf("%d W", v)
	case TypeFrequencyDiv100:
		return fmt.Sprintf("%.2f Hz", float64(v)/100)
	case TypeTemperatureDiv10:
		return fmt.Sprintf("%.1f °C", float64(v)/10)
	case TypeHumidity:
		return fmt.Sprintf("%d %%", v)
	case TypeToggle:
		if v != 0 {
			return "ON"
		}
		return "OFF"
	case TypeDimmer:
		return fmt.Sprintf("%d/100", v)
	case TypeDimmer256:
		return fmt.Sprintf("%d/256", v)
	case TypeDimmer1000:
		return fmt.Sprintf("%d/1000", v)
	default:
		return strconv.Itoa(v)
	}
}
